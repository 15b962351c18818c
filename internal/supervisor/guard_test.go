package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
)

func TestCatch(t *testing.T) {
	if err := Catch("quiet", func() {}); err != nil {
		t.Fatalf("Catch without panic: %v", err)
	}

	err := Catch("worker", func() { panic("boom") })
	var fault *Fault
	if !errors.As(err, &fault) {
		t.Fatalf("Catch error = %v, want *Fault", err)
	}
	if diff := cmp.Diff("worker", fault.Loop); diff != "" {
		t.Errorf("fault loop mismatch (-want +got):\n%s", diff)
	}
	if len(fault.Stack) == 0 {
		t.Error("fault stack is empty")
	}
}

func TestRethrowKeepsInnerFault(t *testing.T) {
	var g errgroup.Group
	g.Go(func() error {
		return Catch("send", func() { panic("boom") })
	})
	g.Go(func() error {
		return nil
	})

	// The outer Catch stands in for the loop boundary: the fault raised in a
	// nested goroutine arrives there unchanged.
	err := Catch("loop", func() { Rethrow(g.Wait()) })
	var fault *Fault
	if !errors.As(err, &fault) {
		t.Fatalf("error = %v, want *Fault", err)
	}
	if diff := cmp.Diff("send", fault.Loop); diff != "" {
		t.Errorf("fault loop mismatch (-want +got):\n%s", diff)
	}
}

func TestRethrowIgnoresPlainErrors(t *testing.T) {
	err := Catch("loop", func() {
		Rethrow(nil)
		Rethrow(errors.New("transient"))
	})
	if err != nil {
		t.Fatalf("plain errors must not panic: %v", err)
	}
}

func TestNestedPanicStopsRun(t *testing.T) {
	var stopped atomic.Int32
	s := New(discardLogger(), nil, nil)
	s.Go("healthy", blockingLoop(&stopped))
	s.Go("fanout", func(context.Context) {
		var g errgroup.Group
		g.Go(func() error {
			return Catch("fanout send", func() { panic("boom") })
		})
		Rethrow(g.Wait())
	})

	err := s.Run(context.Background())
	var fault *Fault
	if !errors.As(err, &fault) {
		t.Fatalf("Run error = %v, want *Fault", err)
	}
	if diff := cmp.Diff("fanout send", fault.Loop); diff != "" {
		t.Errorf("fault loop mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(int32(1), stopped.Load()); diff != "" {
		t.Errorf("healthy loop was not stopped (-want +got):\n%s", diff)
	}
}
