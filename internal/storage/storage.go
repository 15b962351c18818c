// Package storage defines the persistence interface and its implementations.
//
// Every mutation that can race between processes or goroutines goes through
// a single atomic operation of the backend: a unique insert, a conditional
// update, or a claim that reads and removes a task in one step.
package storage

import (
	"context"
	"errors"
	"iter"
	"time"

	"storeglide_bot/internal/model"
)

var (
	// ErrDuplicate is returned when an insert collides with an existing
	// record: an item name, a subscriber chat ID or a watched author.
	ErrDuplicate = errors.New("duplicate entity")

	// ErrNotFound is returned when the addressed subscriber does not exist.
	ErrNotFound = errors.New("not found")
)

// Catalog stores ingested items.
type Catalog interface {
	// CreateItem inserts a new unnotified item. It returns ErrDuplicate
	// if an item with the same name already exists.
	CreateItem(ctx context.Context, item *model.Item) error
	// ListPendingItems returns every item not yet notified.
	ListPendingItems(ctx context.Context) ([]model.Item, error)
	// MarkItemNotified flips the notified flag of an item from false to
	// true and reports whether this call performed the flip.
	MarkItemNotified(ctx context.Context, name string) (bool, error)
	// SearchItems yields items whose author matches query, most relevant
	// first. No match yields nothing.
	SearchItems(ctx context.Context, query string) iter.Seq2[model.Item, error]
	// PurgeItems deletes items created before the given time.
	PurgeItems(ctx context.Context, before time.Time) (int64, error)
}

// Subscribers stores registered chats and their watched authors.
type Subscribers interface {
	CreateSubscriber(ctx context.Context, chatID int64) error
	GetSubscriber(ctx context.Context, chatID int64) (*model.Subscriber, error)
	SetSubscriberActive(ctx context.Context, chatID int64, active bool) error
	// AddWatch appends a normalized author to the subscriber's list.
	// It returns ErrDuplicate if the author is already watched.
	AddWatch(ctx context.Context, chatID int64, author string) error
	RemoveWatch(ctx context.Context, chatID int64, author string) (bool, error)
	// ListWatchers returns chat IDs of active subscribers watching author.
	ListWatchers(ctx context.Context, author string) ([]int64, error)
	// LastWatch returns the most recently added author, or "" if none.
	LastWatch(ctx context.Context, chatID int64) (string, error)
}

// Queue is a durable FIFO of tasks.
type Queue interface {
	// EnqueueTask appends a task and populates its ID and CreatedAt.
	EnqueueTask(ctx context.Context, task *model.Task) error
	// ClaimTask removes and returns the oldest task of the given type in
	// one atomic step. It returns nil when no such task is queued.
	ClaimTask(ctx context.Context, typ model.TaskType) (*model.Task, error)
}

// Storage is the interface for all persistence operations.
type Storage interface {
	Catalog
	Subscribers
	Queue

	Close() error
}
