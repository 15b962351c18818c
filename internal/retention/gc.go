package retention

import (
	"context"
	"log/slog"
	"time"
)

// Collector reclaims space left behind by expired or deleted records.
type Collector interface {
	RunGC() error
}

// RunGC calls c.RunGC every interval until ctx is cancelled.
func RunGC(ctx context.Context, c Collector, log *slog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.RunGC(); err != nil {
				log.Warn("value log gc", "error", err)
			}
		}
	}
}
