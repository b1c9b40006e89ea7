package booking

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/taskvine/taskvine/internal/metrics"
)

// Timer drives the pending-expiry and auto-confirm sweeps.
type Timer struct {
	service             *Service
	expiryInterval      time.Duration
	autoConfirmInterval time.Duration
	logger              *slog.Logger
	stop                chan struct{}
	running             atomic.Bool
}

// NewTimer creates a booking lifecycle timer.
func NewTimer(service *Service, expiryInterval, autoConfirmInterval time.Duration, logger *slog.Logger) *Timer {
	return &Timer{
		service:             service,
		expiryInterval:      expiryInterval,
		autoConfirmInterval: autoConfirmInterval,
		logger:              logger,
		stop:                make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the sweep loops. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	expiry := time.NewTicker(t.expiryInterval)
	defer expiry.Stop()
	autoConfirm := time.NewTicker(t.autoConfirmInterval)
	defer autoConfirm.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-expiry.C:
			t.safeSweep(ctx, "expire_pending", func(ctx context.Context) (int, error) {
				return t.service.ExpireDue(ctx)
			})
		case <-autoConfirm.C:
			t.safeSweep(ctx, "auto_confirm", func(ctx context.Context) (int, error) {
				return t.service.AutoConfirmDue(ctx)
			})
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

func (t *Timer) safeSweep(ctx context.Context, name string, sweep func(context.Context) (int, error)) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in booking timer", "sweep", name, "panic", fmt.Sprint(r))
		}
	}()

	start := time.Now()
	n, err := sweep(ctx)
	metrics.ObserveSweep(name, start)
	if err != nil {
		t.logger.Warn("booking sweep failed", "sweep", name, "error", err)
		return
	}
	if n > 0 {
		t.logger.Info("booking sweep processed", "sweep", name, "count", n)
	}
}
