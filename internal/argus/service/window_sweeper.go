package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/temporal"
)

// WindowSweeper periodically discards temporal windows of sessions that
// stopped sending frames without being closed (tab closed, network lost).
// It runs as a background goroutine and is stopped via its context or
// the Stop method.
//
// An idle timeout of 0 disables sweeping entirely.
type WindowSweeper struct {
	windows  *temporal.Store
	idle     time.Duration
	interval time.Duration
	onEvict  func(string)
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// SweeperConfig holds the parameters for NewWindowSweeper.
type SweeperConfig struct {
	// Idle is how long a window may go without a frame. 0 disables the
	// sweeper.
	Idle time.Duration

	// Interval is how often the sweeper runs. Defaults to 1 minute.
	Interval time.Duration

	// OnEvict, when set, is called for every dropped session.
	OnEvict func(sessionID string)
}

// NewWindowSweeper creates a sweeper but does not start it.
func NewWindowSweeper(w *temporal.Store, cfg SweeperConfig, logger *slog.Logger) *WindowSweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &WindowSweeper{
		windows:  w,
		idle:     cfg.Idle,
		interval: interval,
		onEvict:  cfg.OnEvict,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins the background loop. The loop exits when ctx is cancelled
// or Stop is called.
func (p *WindowSweeper) Start(ctx context.Context) {
	if p.idle <= 0 {
		p.logger.Info("window sweeper disabled (idle=0)")
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)

	p.logger.Info("window sweeper started", "idle", p.idle, "interval", p.interval)
}

// Stop signals the sweeper to exit and waits for it to finish.
func (p *WindowSweeper) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

func (p *WindowSweeper) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Sweep()
		}
	}
}

// Sweep runs one pass and returns how many windows were dropped.
func (p *WindowSweeper) Sweep() int {
	removed := p.windows.SweepIdle(p.idle)
	if p.onEvict != nil {
		for _, id := range removed {
			p.onEvict(id)
		}
	}
	if len(removed) > 0 {
		p.logger.Info("window sweep", "removed", len(removed), "remaining", p.windows.Sessions())
	}
	return len(removed)
}
