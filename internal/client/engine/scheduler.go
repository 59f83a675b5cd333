package engine

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/estisync/internal/common"
	"github.com/dmitrijs2005/estisync/internal/logging"
)

// Cycler runs one sync cycle. *Engine satisfies it.
type Cycler interface {
	RunCycle(ctx context.Context) (*Report, error)
}

// Scheduler coalesces sync requests: at most one cycle runs and at most one
// more is pending, however many times Trigger is called.
type Scheduler struct {
	cycler   Cycler
	interval time.Duration
	logger   logging.Logger
	signal   chan struct{}

	// OnCycle, when set, receives the result of every cycle.
	OnCycle func(*Report, error)
}

// NewScheduler builds a Scheduler. A positive interval also runs a cycle on
// every tick.
func NewScheduler(c Cycler, interval time.Duration, logger logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Scheduler{
		cycler:   c,
		interval: interval,
		logger:   logger,
		signal:   make(chan struct{}, 1),
	}
}

// Trigger requests a cycle without blocking.
func (s *Scheduler) Trigger() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Run serves requests until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if s.interval > 0 {
		t := time.NewTicker(s.interval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.signal:
		case <-tick:
		}
		s.runOnce(ctx)
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	rep, err := s.cycler.RunCycle(ctx)
	switch {
	case err == nil:
	case errors.Is(err, common.ErrSyncInProgress):
		s.logger.Debug(ctx, "sync skipped, engine busy")
	case errors.Is(err, common.ErrNotBootstrapped):
		s.logger.Debug(ctx, "sync skipped, not bootstrapped")
	case ctx.Err() != nil:
	default:
		s.logger.Warn(ctx, "sync cycle failed, will retry on next trigger", "error", err)
	}
	if s.OnCycle != nil {
		s.OnCycle(rep, err)
	}
}
