// Package notifier delivers newly ingested catalog items to the subscribers
// watching their authors.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"storeglide_bot/internal/bot"
	"storeglide_bot/internal/metrics"
	"storeglide_bot/internal/model"
	"storeglide_bot/internal/supervisor"
)

// Sender delivers a text message to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Store is the part of storage the engine needs.
type Store interface {
	ListPendingItems(ctx context.Context) ([]model.Item, error)
	ListWatchers(ctx context.Context, author string) ([]int64, error)
	MarkItemNotified(ctx context.Context, name string) (bool, error)
}

// Stats summarizes one cycle.
type Stats struct {
	Items   int
	Flipped int
	Sent    int
	Failed  int
}

// Engine periodically notifies subscribers about pending items.
type Engine struct {
	store       Store
	sender      Sender
	log         *slog.Logger
	interval    time.Duration
	concurrency int
}

// New creates an Engine. interval is the pause after each cycle and
// concurrency bounds parallel sends for one item.
func New(store Store, sender Sender, log *slog.Logger, interval time.Duration, concurrency int) *Engine {
	return &Engine{
		store:       store,
		sender:      sender,
		log:         log,
		interval:    interval,
		concurrency: concurrency,
	}
}

// Run starts the notification loop, blocking until ctx is cancelled.
// A failed cycle is logged and the loop waits the usual interval.
func (e *Engine) Run(ctx context.Context) {
	e.log.Info("notifier started", "interval", e.interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		stats, err := e.RunCycle(ctx)
		if err != nil && ctx.Err() == nil {
			e.log.Error("notification cycle", "error", err)
		} else if stats.Items > 0 {
			e.log.Info("notification cycle done",
				"items", stats.Items, "flipped", stats.Flipped, "sent", stats.Sent, "failed", stats.Failed)
		}

		timer.Reset(e.interval)
	}
}

// RunCycle notifies every pending item once. Each item is marked notified
// after a send has been attempted to every active watcher, whether or not
// the sends succeeded. A store error aborts the cycle and leaves the
// remaining items pending.
func (e *Engine) RunCycle(ctx context.Context) (Stats, error) {
	start := time.Now()
	defer func() { metrics.NotifyCycleDuration.Observe(time.Since(start).Seconds()) }()

	var stats Stats
	items, err := e.store.ListPendingItems(ctx)
	if err != nil {
		return stats, fmt.Errorf("list pending items: %w", err)
	}
	stats.Items = len(items)
	if len(items) == 0 {
		e.log.Debug("no pending items")
		return stats, nil
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		res, err := e.notifyItem(ctx, item)
		stats.Sent += res.sent
		stats.Failed += res.failed
		if err != nil {
			return stats, err
		}
		if res.flipped {
			stats.Flipped++
		}
	}
	return stats, nil
}

type itemResult struct {
	sent, failed int
	flipped      bool
}

func (e *Engine) notifyItem(ctx context.Context, item model.Item) (itemResult, error) {
	var res itemResult
	chatIDs, err := e.store.ListWatchers(ctx, item.Author)
	if err != nil {
		return res, fmt.Errorf("list watchers of %q: %w", item.Author, err)
	}
	e.log.Debug("new item", "name", item.Name, "author", item.Author, "watchers", len(chatIDs))

	text := bot.FormatNewItem(item)
	var ok, bad atomic.Int64

	var g errgroup.Group
	if e.concurrency > 0 {
		g.SetLimit(e.concurrency)
	}
	for _, chatID := range chatIDs {
		g.Go(func() error {
			return supervisor.Catch("notifier send", func() {
				if err := e.sender.Send(ctx, chatID, text); err != nil {
					bad.Add(1)
					metrics.MessagesSent.WithLabelValues("notifier", metrics.ResultFailed).Inc()
					e.log.Warn("send notification", "chat_id", chatID, "item", item.Name, "error", err)
					return
				}
				ok.Add(1)
				metrics.MessagesSent.WithLabelValues("notifier", metrics.ResultOK).Inc()
			})
		})
	}
	// A panicking send leaves the item pending and stops the process.
	supervisor.Rethrow(g.Wait())
	res.sent, res.failed = int(ok.Load()), int(bad.Load())

	// Shutdown interrupted the sends; keep the item pending for the next run.
	if err := ctx.Err(); err != nil {
		return res, err
	}

	res.flipped, err = e.store.MarkItemNotified(ctx, item.Name)
	if err != nil {
		return res, fmt.Errorf("mark %q notified: %w", item.Name, err)
	}
	if res.flipped {
		metrics.ItemsNotified.Inc()
	} else {
		e.log.Warn("item already notified", "name", item.Name)
	}
	return res, nil
}
