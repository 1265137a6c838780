package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/jobkeeper/internal/store"
)

// DefaultRetention is how long finished job records are kept.
const DefaultRetention = 7 * 24 * time.Hour

// Sweeper deletes finished job records older than the retention window.
type Sweeper struct {
	store     store.Store
	retention time.Duration
	logger    *slog.Logger
}

// NewSweeper creates a sweeper. A non-positive retention disables purging.
func NewSweeper(st store.Store, retention time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: st, retention: retention, logger: logger}
}

// Sweep runs one purge pass and returns the number of deleted records.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	n, err := s.store.PurgeOlderThan(ctx, s.retention)
	if err != nil {
		return 0, fmt.Errorf("purge expired jobs: %w", err)
	}
	if n > 0 {
		s.logger.Info("purged expired jobs", "count", n, "retention", s.retention.String())
	}
	return n, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("retention sweep failed", "error", err)
			}
		}
	}
}
