// Package retention removes catalog items older than the retention window
// from stores that have no native expiry.
package retention

import (
	"context"
	"log/slog"
	"time"

	"storeglide_bot/internal/metrics"
)

// Purger deletes items created before a point in time.
type Purger interface {
	PurgeItems(ctx context.Context, before time.Time) (int64, error)
}

// Sweeper periodically purges expired items.
type Sweeper struct {
	store     Purger
	log       *slog.Logger
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

// New creates a Sweeper keeping items for retention and sweeping every interval.
func New(store Purger, log *slog.Logger, retention, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:     store,
		log:       log,
		retention: retention,
		interval:  interval,
		now:       time.Now,
	}
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep purges items older than the retention window and returns how many
// were removed.
func (s *Sweeper) Sweep(ctx context.Context) int64 {
	cutoff := s.now().UTC().Add(-s.retention)
	n, err := s.store.PurgeItems(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("purge items", "before", cutoff, "error", err)
		}
		return 0
	}
	if n > 0 {
		metrics.ItemsPurged.Add(float64(n))
		s.log.Info("purged expired items", "count", n, "before", cutoff)
	}
	return n
}
