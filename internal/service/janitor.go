package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Janitor runs a maintenance task on a fixed interval until its context ends.
type Janitor struct {
	name     string
	interval time.Duration
	task     func(ctx context.Context) error
	logger   *zap.Logger
}

// NewJanitor constructs a janitor. A non-positive interval disables it.
func NewJanitor(name string, interval time.Duration, task func(ctx context.Context) error, logger *zap.Logger) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{name: name, interval: interval, task: task, logger: logger}
}

// Run blocks until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	if j.interval <= 0 {
		return
	}
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.task(ctx); err != nil {
				j.logger.Warn("janitor task failed", zap.String("janitor", j.name), zap.Error(err))
			}
		}
	}
}

type sessionPurger interface {
	PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error)
}

// SessionPurgeTask deletes sessions that expired or were revoked more than retention ago.
func SessionPurgeTask(repo sessionPurger, retention time.Duration, logger *zap.Logger) func(ctx context.Context) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context) error {
		purged, err := repo.PurgeExpired(ctx, time.Now().UTC().Add(-retention))
		if err != nil {
			return err
		}
		if purged > 0 {
			logger.Info("purged sessions", zap.Int64("count", purged))
		}
		return nil
	}
}

type lockoutSweeper interface {
	Sweep(now, cutoff time.Time) int
}

// LockoutSweepTask drops idle in-memory lockout counters older than window.
func LockoutSweepTask(store lockoutSweeper, window time.Duration, logger *zap.Logger) func(ctx context.Context) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context) error {
		now := time.Now()
		if removed := store.Sweep(now, now.Add(-window)); removed > 0 {
			logger.Debug("swept lockout counters", zap.Int("count", removed))
		}
		return nil
	}
}
