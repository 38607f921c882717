// Package scheduler runs bulk recomputation on a fixed interval.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"siteline/internal/engine"
)

// Recomputer is the part of the engine the scheduler drives.
type Recomputer interface {
	RecomputeAll(ctx context.Context) ([]engine.RecomputeResult, error)
}

type Scheduler struct {
	Recomputer Recomputer
	Interval   time.Duration
	Logger     *zap.Logger
}

// Run recomputes immediately and then every Interval until ctx is done.
// A non-positive Interval runs once.
func (s Scheduler) Run(ctx context.Context) error {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s.tick(ctx, logger)
	if s.Interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx, logger)
		}
	}
}

func (s Scheduler) tick(ctx context.Context, logger *zap.Logger) {
	if _, err := s.Recomputer.RecomputeAll(ctx); err != nil {
		logger.Error("scheduled recompute failed", zap.Error(err))
	}
}
