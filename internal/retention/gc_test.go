package retention

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type countingCollector struct {
	calls atomic.Int32
}

func (c *countingCollector) RunGC() error {
	c.calls.Add(1)
	return errors.New("nothing to do")
}

func TestRunGC(t *testing.T) {
	c := &countingCollector{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		RunGC(ctx, c, slog.New(slog.NewTextHandler(io.Discard, nil)), 5*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for c.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("gc was not called")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunGC did not return after cancel")
	}
}
