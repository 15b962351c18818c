// Package model defines the domain types used across the application.
package model

import "time"

// Item is a catalog entry published by an author. Name is the dedup key.
type Item struct {
	Name      string `validate:"required"`
	Author    string `validate:"required"`
	Countries string
	Link      string `validate:"required,url"`
	CreatedAt time.Time
	Notified  bool
}

// Subscriber is a registered chat with an ordered list of watched authors.
type Subscriber struct {
	ChatID         int64
	Active         bool
	WatchedAuthors []string
	CreatedAt      time.Time
}

// LastWatched returns the most recently added author, or "" if none.
func (s *Subscriber) LastWatched() string {
	if len(s.WatchedAuthors) == 0 {
		return ""
	}
	return s.WatchedAuthors[len(s.WatchedAuthors)-1]
}

// TaskType defines the kind of work a queued task asks for.
type TaskType string

// Supported task types.
const (
	TaskRetroSearch TaskType = "rsearch"
)

// Task is an on-demand request waiting in the queue.
// ID is assigned by the store and grows with insertion order.
type Task struct {
	ID          int64
	Type        TaskType
	RequesterID int64
	CreatedAt   time.Time
}
