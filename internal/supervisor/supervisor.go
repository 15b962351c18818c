// Package supervisor runs the long-lived loops of a process and stops all of
// them together when one fails.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"storeglide_bot/internal/metrics"
)

// noticeTimeout bounds the admin notice sent after the loops have stopped.
const noticeTimeout = 10 * time.Second

// Sender delivers a text message to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Fault is returned by Run when a loop, or a goroutine it guarded with
// Catch, panicked.
type Fault struct {
	Loop  string
	Value any
	Stack []byte
}

func (f *Fault) Error() string {
	return fmt.Sprintf("loop %s panicked: %v", f.Loop, f.Value)
}

type loop struct {
	name string
	run  func(ctx context.Context)
}

// Supervisor owns a set of named loops. A loop returning early while the
// others are still running is treated like a fault.
type Supervisor struct {
	log    *slog.Logger
	sender Sender
	admins []int64

	loops []loop

	done chan struct{}
	once sync.Once
}

// New creates a Supervisor. When sender is not nil, admins receive a notice
// after a fault.
func New(log *slog.Logger, sender Sender, admins []int64) *Supervisor {
	return &Supervisor{log: log, sender: sender, admins: admins, done: make(chan struct{})}
}

// Go registers a loop. It must be called before Run.
func (s *Supervisor) Go(name string, run func(ctx context.Context)) {
	s.loops = append(s.loops, loop{name: name, run: run})
}

// Run starts every loop and blocks until all of them have returned. Loops
// stop when ctx is cancelled, Shutdown is called, or one of them fails.
// The returned error is a *Fault when a loop panicked.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range s.loops {
		g.Go(func() error {
			return s.runLoop(gctx, l)
		})
	}
	err := g.Wait()

	var fault *Fault
	if errors.As(err, &fault) {
		metrics.LoopFaults.WithLabelValues(fault.Loop).Inc()
		s.log.Error("loop fault, shutting down", "loop", fault.Loop, "error", fault.Value, "stack", string(fault.Stack))
		s.notifyAdmins(fmt.Sprintf("Fault: %v. Shutting down.", fault))
	} else if err != nil {
		s.log.Error("loop stopped, shutting down", "error", err)
		s.notifyAdmins(fmt.Sprintf("Fault: %v. Shutting down.", err))
	}
	return err
}

func (s *Supervisor) runLoop(ctx context.Context, l loop) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = asFault(l.name, r)
		}
	}()

	s.log.Debug("loop started", "loop", l.name)
	l.run(ctx)
	s.log.Debug("loop stopped", "loop", l.name)

	if ctx.Err() == nil {
		return fmt.Errorf("loop %s returned unexpectedly", l.name)
	}
	return nil
}

// Shutdown cancels all loops. Calls after the first one do nothing.
func (s *Supervisor) Shutdown() {
	s.once.Do(func() {
		s.log.Info("shutting down")
		close(s.done)
	})
}

func (s *Supervisor) notifyAdmins(text string) {
	if s.sender == nil || len(s.admins) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), noticeTimeout)
	defer cancel()
	NotifyAdmins(ctx, s.sender, s.log, s.admins, text)
}

// NotifyAdmins sends text to every admin chat. Failures are logged.
func NotifyAdmins(ctx context.Context, sender Sender, log *slog.Logger, admins []int64, text string) {
	for _, id := range admins {
		if err := sender.Send(ctx, id, text); err != nil {
			log.Warn("notify admin", "chat_id", id, "error", err)
		}
	}
}
