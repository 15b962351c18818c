// Package spider collects catalog items from the catalog site and hands them
// to the ingestion gate.
package spider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"storeglide_bot/internal/ingest"
	"storeglide_bot/internal/model"
)

// Source produces the current catalog listing.
type Source interface {
	Name() string
	Items(ctx context.Context) ([]model.Item, error)
}

// Ingester stores a batch of items.
type Ingester interface {
	IngestAll(ctx context.Context, items []model.Item, limit int) (ingest.Summary, error)
}

// Spider periodically reads every source and ingests what it finds.
type Spider struct {
	sources     []Source
	gate        Ingester
	log         *slog.Logger
	interval    time.Duration
	concurrency int
}

// New creates a Spider.
func New(gate Ingester, log *slog.Logger, interval time.Duration, concurrency int, sources ...Source) *Spider {
	return &Spider{
		sources:     sources,
		gate:        gate,
		log:         log,
		interval:    interval,
		concurrency: concurrency,
	}
}

// Run starts the spider loop, blocking until ctx is cancelled.
func (s *Spider) Run(ctx context.Context) {
	s.log.Info("spider started", "sources", len(s.sources), "interval", s.interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if _, err := s.RunCycle(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("spider cycle", "error", err)
		}
		timer.Reset(s.interval)
	}
}

// RunCycle reads all sources and ingests the combined items. A failing
// source does not stop the others.
func (s *Spider) RunCycle(ctx context.Context) (ingest.Summary, error) {
	var (
		items []model.Item
		errs  []error
	)
	for _, src := range s.sources {
		got, err := src.Items(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		s.log.Debug("source read", "source", src.Name(), "items", len(got))
		items = append(items, got...)
	}

	var sum ingest.Summary
	if len(items) > 0 {
		var err error
		sum, err = s.gate.IngestAll(ctx, items, s.concurrency)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return sum, errors.Join(errs...)
}
