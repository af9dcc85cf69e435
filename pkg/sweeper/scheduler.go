package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultExpirationInterval = 10 * time.Minute
	DefaultCleanupInterval    = 24 * time.Hour
)

// Schedule sets how often each sweep runs.
type Schedule struct {
	ExpirationInterval time.Duration
	CleanupInterval    time.Duration
}

// Run executes both sweeps once immediately and then on their intervals
// until ctx is done. Sweep errors are logged and do not stop the loop.
func (s *Sweeper) Run(ctx context.Context, schedule Schedule) error {
	if schedule.ExpirationInterval <= 0 {
		schedule.ExpirationInterval = DefaultExpirationInterval
	}
	if schedule.CleanupInterval <= 0 {
		schedule.CleanupInterval = DefaultCleanupInterval
	}

	expire := time.NewTicker(schedule.ExpirationInterval)
	defer expire.Stop()
	cleanup := time.NewTicker(schedule.CleanupInterval)
	defer cleanup.Stop()

	s.runExpire(ctx)
	s.runCleanup(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-expire.C:
			s.runExpire(ctx)
		case <-cleanup.C:
			s.runCleanup(ctx)
		}
	}
}

func (s *Sweeper) runExpire(ctx context.Context) {
	if _, err := s.ExpireJobs(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("expiration sweep failed", zap.Error(err))
	}
}

func (s *Sweeper) runCleanup(ctx context.Context) {
	if _, err := s.Cleanup(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("cleanup sweep failed", zap.Error(err))
	}
}
