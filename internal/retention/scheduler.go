package retention

import (
	"context"
	"errors"
	"time"

	"vitalsync/internal/vital"
)

// Sweeper runs one retention sweep.
type Sweeper interface {
	Sweep(ctx context.Context) (*SweepResult, error)
}

// Scheduler runs sweeps periodically.
type Scheduler struct {
	sweeper    Sweeper
	interval   time.Duration
	runAtStart bool
	logger     vital.Logger
}

func NewScheduler(s Sweeper, interval time.Duration, runAtStart bool, logger vital.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Scheduler{sweeper: s, interval: interval, runAtStart: runAtStart, logger: logger}
}

// Run sweeps every interval until ctx is cancelled. A tick that arrives
// while a sweep is still running is skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("retention scheduler started", "interval", s.interval, "run_at_start", s.runAtStart)

	if s.runAtStart {
		s.runOnce(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention scheduler stopped")
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	_, err := s.sweeper.Sweep(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrSweepInProgress):
		s.logger.Warn("skipping sweep: previous sweep still running")
	case ctx.Err() != nil:
	default:
		s.logger.Error("retention sweep failed", "error", err)
	}
}
