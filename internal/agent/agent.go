// Package agent runs the pool of workers that serve retrospective search
// requests from the task queue.
package agent

import (
	"context"
	"fmt"
	"iter"
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

// Store is the part of storage the workers need.
type Store interface {
	ClaimTask(ctx context.Context, typ model.TaskType) (*model.Task, error)
	LastWatch(ctx context.Context, chatID int64) (string, error)
	SearchItems(ctx context.Context, query string) iter.Seq2[model.Item, error]
}

// Pool is a fixed set of workers competing for tasks on a shared queue.
type Pool struct {
	store       Store
	sender      Sender
	log         *slog.Logger
	size        int
	poll        time.Duration
	concurrency int
}

// New creates a Pool of size workers, each polling the queue every poll.
func New(store Store, sender Sender, log *slog.Logger, size int, poll time.Duration, concurrency int) *Pool {
	return &Pool{
		store:       store,
		sender:      sender,
		log:         log,
		size:        size,
		poll:        poll,
		concurrency: concurrency,
	}
}

// Run starts the workers and blocks until ctx is cancelled and every worker
// has returned. A worker that panics stops its siblings, and Run re-panics
// with the resulting *supervisor.Fault.
func (p *Pool) Run(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for id := range p.size {
		g.Go(func() error {
			return supervisor.Catch("agent", func() {
				p.worker(gctx, id)
			})
		})
	}
	supervisor.Rethrow(g.Wait())
}

func (p *Pool) worker(ctx context.Context, id int) {
	log := p.log.With("agent_id", id)
	log.Info("agent started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("agent stopped")
			return
		case <-timer.C:
		}

		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			log.Error("agent poll", "error", err)
		}
		timer.Reset(p.poll)
	}
}

// Poll claims at most one task and serves it. It reports whether a task was
// claimed. A claimed task is removed from the queue even if serving it fails.
func (p *Pool) Poll(ctx context.Context) (bool, error) {
	task, err := p.store.ClaimTask(ctx, model.TaskRetroSearch)
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	if task == nil {
		return false, nil
	}

	log := p.log.With("task_id", task.ID, "chat_id", task.RequesterID)
	log.Info("task claimed")

	if err := p.serve(ctx, task, log); err != nil {
		metrics.TasksProcessed.WithLabelValues(metrics.ResultFailed).Inc()
		return true, fmt.Errorf("task %d: %w", task.ID, err)
	}
	metrics.TasksProcessed.WithLabelValues(metrics.ResultOK).Inc()
	log.Info("task done")
	return true, nil
}

func (p *Pool) serve(ctx context.Context, task *model.Task, log *slog.Logger) error {
	author, err := p.store.LastWatch(ctx, task.RequesterID)
	if err != nil {
		return fmt.Errorf("last watch: %w", err)
	}
	if author == "" {
		log.Info("requester watches no authors")
		return nil
	}

	// Collect first: sending while iterating would hold the store's read
	// cursor for the duration of the network calls.
	var items []model.Item
	for it, err := range p.store.SearchItems(ctx, author) {
		if err != nil {
			return err
		}
		items = append(items, it)
	}
	log.Debug("search done", "author", author, "found", len(items))

	if len(items) == 0 {
		p.send(ctx, task.RequesterID, bot.NothingFound, log)
		return nil
	}

	var failed atomic.Int64
	var g errgroup.Group
	if p.concurrency > 0 {
		g.SetLimit(p.concurrency)
	}
	for _, it := range items {
		g.Go(func() error {
			return supervisor.Catch("agent send", func() {
				if !p.send(ctx, task.RequesterID, bot.FormatNewItem(it), log) {
					failed.Add(1)
				}
			})
		})
	}
	supervisor.Rethrow(g.Wait())

	if n := failed.Load(); n > 0 {
		log.Warn("some results not delivered", "failed", n, "total", len(items))
	}
	return nil
}

func (p *Pool) send(ctx context.Context, chatID int64, text string, log *slog.Logger) bool {
	if err := p.sender.Send(ctx, chatID, text); err != nil {
		metrics.MessagesSent.WithLabelValues("agent", metrics.ResultFailed).Inc()
		log.Warn("send search result", "error", err)
		return false
	}
	metrics.MessagesSent.WithLabelValues("agent", metrics.ResultOK).Inc()
	return true
}
