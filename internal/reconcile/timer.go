package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/taskvine/taskvine/internal/metrics"
)

// Timer runs the reconciliation sweep on an interval.
type Timer struct {
	sweeper  *Sweeper
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a reconciliation timer.
func NewTimer(sweeper *Sweeper, interval time.Duration, logger *slog.Logger) *Timer {
	return &Timer{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
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
			t.safeRun(ctx)
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

func (t *Timer) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in reconcile timer", "panic", fmt.Sprint(r))
		}
	}()

	start := time.Now()
	n, err := t.sweeper.Run(ctx)
	metrics.ObserveSweep("reconcile", start)
	if err != nil {
		t.logger.Warn("reconcile run failed", "error", err)
		return
	}
	if n > 0 {
		t.logger.Info("reconcile run repaired payments", "repaired", n)
	}
}
