package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/detect"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/notify"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/service"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/storage"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/store/sqlite"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/temporal"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/vision"
	"github.com/BrandonDHaskell/Argus/server/internal/config"
	"github.com/BrandonDHaskell/Argus/server/internal/db"
	"github.com/BrandonDHaskell/Argus/server/internal/grpcapi"
	"github.com/BrandonDHaskell/Argus/server/internal/httpapi"
	"github.com/BrandonDHaskell/Argus/server/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the gRPC health server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts.Config, opts.Logger)
		},
	}
}

func serve(parent context.Context, cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		return err
	}
	defer conn.Close()
	writer := db.NewWorker(conn)
	defer writer.Close()
	st := sqlite.New(conn, writer)

	// Analysis
	model := detect.NewHTTPModel(cfg.DetectorURL, seconds(cfg.DetectorTimeoutSeconds))
	detector := detect.NewDetector(model, logger.With("component", "detect")).
		WithTimeout(seconds(cfg.DetectorTimeoutSeconds))
	if err := detector.WarmUp(ctx); err != nil {
		logger.Warn("detector warm-up failed, frames fall back until it loads", "err", err)
	}

	analyzer, err := vision.NewAnalyzer(vision.Config{
		BaseURL:    cfg.VisionBaseURL,
		APIKey:     cfg.VisionAPIKey,
		Model:      cfg.VisionModel,
		MaxRetries: cfg.VisionMaxRetries,
		Timeout:    seconds(cfg.RemoteTimeoutSeconds),
	}, logger.With("component", "vision"))
	if err != nil {
		return err
	}
	if !cfg.VisionEnabled() {
		logger.Info("remote vision analyzer disabled")
	}

	// Default settings for assessments without their own row
	watcher, err := config.NewSettingsWatcher(cfg.DefaultSettingsPath)
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Watch(); err != nil {
		return err
	}
	watcher.OnChange(func(st types.Settings) {
		logger.Info("default settings reloaded",
			"max_violations", st.MaxViolationsBeforeTerminate,
			"temporal", st.EnableTemporalAnalysis,
		)
	})
	go func() {
		for {
			select {
			case err := <-watcher.Errors():
				logger.Warn("default settings reload rejected", "path", cfg.DefaultSettingsPath, "err", err)
			case <-ctx.Done():
				return
			}
		}
	}()

	notifier := notify.NewDispatcher(newNotifier(cfg, logger), logger.With("component", "notify"))

	windows := temporal.NewStore()
	m := metrics.New()
	m.RegisterGauge("argus_db_writer_pending", "Write transactions queued for the database worker", func() float64 {
		return float64(writer.Pending())
	})
	m.RegisterGauge("argus_temporal_sessions", "Sessions with an open temporal window", func() float64 {
		return float64(windows.Sessions())
	})

	deps := service.Dependencies{
		Store:    st,
		Detector: detector,
		Analyzer: analyzer,
		Objects:  newObjectStore(cfg, logger),
		Notifier: notifier,
		Windows:  windows,
		Metrics:  m,
		Logger:   logger,
	}
	proctor := service.NewProctorService(service.Config{
		FrameTimeout:    seconds(cfg.FrameTimeoutSeconds),
		RemoteTimeout:   seconds(cfg.RemoteTimeoutSeconds),
		DefaultSettings: watcher.Current,
	}, deps)
	faces := service.NewFaceService(deps)

	sweeper := service.NewWindowSweeper(windows, service.SweeperConfig{
		Idle:     time.Duration(cfg.WindowIdleMinutes) * time.Minute,
		Interval: seconds(cfg.SweepIntervalSeconds),
		OnEvict:  proctor.Forget,
	}, logger.With("component", "sweeper"))
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// Transport
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:  logger,
		Addr:    cfg.HTTPAddr,
		Proctor: proctor,
		Faces:   faces,
		Metrics: m,
		Ready:   conn.PingContext,
	})

	var health *grpcapi.Server
	if cfg.GRPCAddr != "" {
		health = grpcapi.NewServer(cfg.GRPCAddr, logger.With("component", "grpc"))
		go func() {
			if err := health.Start(); err != nil {
				logger.Error("grpc server error", "err", err)
				stop()
			}
		}()
		health.SetServing(true)
	}

	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr, "env", cfg.Env)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if health != nil {
		health.Shutdown(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	notifier.Wait()
	return nil
}

// newObjectStore chains the remote object service with the local evidence
// directory. Nil means evidence rows are kept without an image.
func newObjectStore(cfg config.Config, logger *slog.Logger) storage.Store {
	var stores []storage.Store
	if cfg.StorageURL != "" {
		stores = append(stores, storage.NewHTTPStore(cfg.StorageURL, cfg.StorageToken, 0))
	}
	if cfg.StorageDir != "" {
		stores = append(stores, storage.LocalStore{Root: cfg.StorageDir})
	}
	if len(stores) == 0 {
		return nil
	}
	return storage.NewFallback(logger.With("component", "storage"), stores...)
}

func newNotifier(cfg config.Config, logger *slog.Logger) notify.Notifier {
	if cfg.NotifyWebhookURL != "" {
		return notify.NewWebhookNotifier(cfg.NotifyWebhookURL)
	}
	return notify.LogNotifier{Logger: logger.With("component", "notify")}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
