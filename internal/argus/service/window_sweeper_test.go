package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/service"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/temporal"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/types"
)

func TestWindowSweeper_DisabledWhenIdleZero(t *testing.T) {
	sw := service.NewWindowSweeper(temporal.NewStore(), service.SweeperConfig{}, silentLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sw.Start(ctx)
	// Stop should return immediately.
	sw.Stop()
}

func TestWindowSweeper_DropsIdleWindows(t *testing.T) {
	clk := newClock()
	ws := temporal.NewStore().WithClock(clk.Now)

	ws.Add("stale", 10, types.AnalysisResult{SubjectCount: 1})
	clk.Advance(10 * time.Minute)
	ws.Add("fresh", 10, types.AnalysisResult{SubjectCount: 1})

	var evicted []string
	sw := service.NewWindowSweeper(ws, service.SweeperConfig{
		Idle:    5 * time.Minute,
		OnEvict: func(id string) { evicted = append(evicted, id) },
	}, silentLogger())

	if n := sw.Sweep(); n != 1 {
		t.Fatalf("expected 1 window dropped, got %d", n)
	}
	if len(evicted) != 1 || evicted[0] != "stale" {
		t.Errorf("expected stale to be evicted, got %v", evicted)
	}
	if ws.Len("fresh") != 1 {
		t.Error("fresh window should survive")
	}
}

func TestWindowSweeper_StopIsIdempotent(t *testing.T) {
	sw := service.NewWindowSweeper(temporal.NewStore(), service.SweeperConfig{
		Idle:     time.Minute,
		Interval: 10 * time.Millisecond,
	}, silentLogger())

	ctx, cancel := context.WithCancel(context.Background())
	sw.Start(ctx)

	cancel()
	// Multiple stops should not panic.
	sw.Stop()
	sw.Stop()
}
