// Package ingest is the entry point for catalog items coming from the spider.
// It validates items and inserts them into the catalog, treating an already
// known name as a normal outcome.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"storeglide_bot/internal/metrics"
	"storeglide_bot/internal/model"
	"storeglide_bot/internal/storage"
	"storeglide_bot/internal/supervisor"
)

// Result is the outcome of ingesting one item.
type Result int

const (
	Created Result = iota + 1
	Duplicate
)

func (r Result) String() string {
	switch r {
	case Created:
		return "created"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// ErrInvalid is returned for items missing a name, author or a valid link.
var ErrInvalid = errors.New("invalid item")

// Summary counts the outcomes of a batch.
type Summary struct {
	Created   int
	Duplicate int
	Invalid   int
	Failed    int
}

// Gate inserts items into the catalog.
type Gate struct {
	store    storage.Catalog
	validate *validator.Validate
	log      *slog.Logger
}

// New creates a Gate writing to store.
func New(store storage.Catalog, log *slog.Logger) *Gate {
	return &Gate{
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log,
	}
}

// Ingest inserts a single item. A name that is already stored yields
// Duplicate with a nil error.
func (g *Gate) Ingest(ctx context.Context, item model.Item) (Result, error) {
	item.Name = strings.TrimSpace(item.Name)
	item.Author = strings.TrimSpace(item.Author)
	item.Countries = strings.TrimSpace(item.Countries)
	item.Link = strings.TrimSpace(item.Link)

	if err := g.validate.Struct(item); err != nil {
		metrics.ItemsIngested.WithLabelValues(metrics.ResultInvalid).Inc()
		return 0, fmt.Errorf("%w %q: %v", ErrInvalid, item.Name, err)
	}

	err := g.store.CreateItem(ctx, &item)
	if errors.Is(err, storage.ErrDuplicate) {
		metrics.ItemsIngested.WithLabelValues(metrics.ResultDuplicate).Inc()
		return Duplicate, nil
	}
	if err != nil {
		metrics.ItemsIngested.WithLabelValues(metrics.ResultFailed).Inc()
		return 0, fmt.Errorf("ingest %q: %w", item.Name, err)
	}

	metrics.ItemsIngested.WithLabelValues(metrics.ResultCreated).Inc()
	g.log.Debug("item ingested", "name", item.Name, "author", item.Author)
	return Created, nil
}

// IngestAll inserts items concurrently, at most limit at a time. Every item
// is attempted; the returned error reports store failures, not duplicates
// or invalid items.
func (g *Gate) IngestAll(ctx context.Context, items []model.Item, limit int) (Summary, error) {
	var (
		mu       sync.Mutex
		sum      Summary
		firstErr error
	)

	var eg errgroup.Group
	if limit > 0 {
		eg.SetLimit(limit)
	}
	for _, it := range items {
		eg.Go(func() error {
			return supervisor.Catch("ingest", func() {
				res, err := g.Ingest(ctx, it)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case errors.Is(err, ErrInvalid):
					sum.Invalid++
					g.log.Warn("skip invalid item", "error", err)
				case err != nil:
					sum.Failed++
					if firstErr == nil {
						firstErr = err
					}
				case res == Created:
					sum.Created++
				case res == Duplicate:
					sum.Duplicate++
				}
			})
		})
	}
	supervisor.Rethrow(eg.Wait())

	g.log.Info("ingest done",
		"total", len(items),
		"created", sum.Created,
		"duplicate", sum.Duplicate,
		"invalid", sum.Invalid,
		"failed", sum.Failed,
	)

	if firstErr != nil {
		return sum, fmt.Errorf("%d of %d items failed: %w", sum.Failed, len(items), firstErr)
	}
	return sum, nil
}
