package payout

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/taskvine/taskvine/internal/metrics"
)

// Timer drives the payout processor.
type Timer struct {
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a payout processing timer.
func NewTimer(engine *Engine, interval time.Duration, logger *slog.Logger) *Timer {
	return &Timer{
		engine:   engine,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the processing loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeProcess(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeProcess(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in payout timer", "panic", fmt.Sprint(r))
		}
	}()

	start := time.Now()
	n, err := t.engine.ProcessDue(ctx)
	metrics.ObserveSweep("process_payouts", start)
	if err != nil {
		t.logger.Warn("payout run failed", "error", err)
		return
	}
	if n > 0 {
		t.logger.Info("payout run complete", "paid", n)
	}
}
