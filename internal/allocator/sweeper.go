package allocator

import (
	"context"
	"fmt"
	"time"

	"pairwave/backend/internal/config"
	"pairwave/backend/internal/storage"

	"go.uber.org/zap"
)

// Sweeper periodically evicts waiting-pool entries older than the TTL so
// that abandoned searches never get matched. The claim transaction locks
// the rows it is pairing, so the sweep cannot race an in-flight match.
type Sweeper struct {
	store    storage.Storage
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewSweeper builds the sweep job with default TTL and interval when the
// arguments are non-positive.
func NewSweeper(store storage.Storage, ttl, interval time.Duration, logger *zap.Logger) *Sweeper {
	if ttl <= 0 {
		ttl = config.WaitingTTL
	}
	if interval <= 0 {
		interval = config.SweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		store:    store,
		ttl:      ttl,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

// Run sweeps on the configured interval until ctx ends.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("waiting pool sweep failed", zap.Error(err))
			}
		}
	}
}

// RunOnce evicts everything older than the TTL.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	cutoff := s.now().Add(-s.ttl)
	evicted, err := s.store.EvictWaitingBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("evict stale waiting entries: %w", err)
	}
	if evicted > 0 {
		s.logger.Info("evicted stale waiting entries", zap.Int64("count", evicted))
	}
	return nil
}
