package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"storeglide_bot/internal/metrics"
)

type mockSender struct {
	mu   sync.Mutex
	sent map[int64][]string
	fail int64
}

func (m *mockSender) Send(_ context.Context, chatID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if chatID == m.fail {
		return errors.New("blocked")
	}
	if m.sent == nil {
		m.sent = make(map[int64][]string)
	}
	m.sent[chatID] = append(m.sent[chatID], text)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// blockingLoop returns a loop that waits for cancellation and records that
// it has stopped.
func blockingLoop(stopped *atomic.Int32) func(ctx context.Context) {
	return func(ctx context.Context) {
		<-ctx.Done()
		stopped.Add(1)
	}
}

func runAsync(t *testing.T, s *Supervisor, ctx context.Context) <-chan error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	return errc
}

func waitErr(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	var stopped atomic.Int32
	s := New(discardLogger(), nil, nil)
	s.Go("a", blockingLoop(&stopped))
	s.Go("b", blockingLoop(&stopped))

	ctx, cancel := context.WithCancel(context.Background())
	errc := runAsync(t, s, ctx)
	cancel()

	if err := waitErr(t, errc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff(int32(2), stopped.Load()); diff != "" {
		t.Errorf("stopped loops mismatch (-want +got):\n%s", diff)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	var stopped atomic.Int32
	s := New(discardLogger(), nil, nil)
	s.Go("a", blockingLoop(&stopped))

	errc := runAsync(t, s, context.Background())
	s.Shutdown()
	s.Shutdown()

	if err := waitErr(t, errc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	s.Shutdown()
	if diff := cmp.Diff(int32(1), stopped.Load()); diff != "" {
		t.Errorf("stopped loops mismatch (-want +got):\n%s", diff)
	}
}

func TestShutdownBeforeRun(t *testing.T) {
	var stopped atomic.Int32
	s := New(discardLogger(), nil, nil)
	s.Go("a", blockingLoop(&stopped))
	s.Shutdown()

	if err := waitErr(t, runAsync(t, s, context.Background())); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestPanicCancelsAllLoops(t *testing.T) {
	before := testutil.ToFloat64(metrics.LoopFaults.WithLabelValues("broken"))

	sender := &mockSender{fail: 2}
	var stopped atomic.Int32
	s := New(discardLogger(), sender, []int64{1, 2, 3})
	s.Go("healthy", blockingLoop(&stopped))
	s.Go("broken", func(context.Context) {
		panic("boom")
	})

	err := waitErr(t, runAsync(t, s, context.Background()))
	var fault *Fault
	if !errors.As(err, &fault) {
		t.Fatalf("Run error = %v, want *Fault", err)
	}
	if diff := cmp.Diff("broken", fault.Loop); diff != "" {
		t.Errorf("fault loop mismatch (-want +got):\n%s", diff)
	}
	if len(fault.Stack) == 0 {
		t.Error("fault stack is empty")
	}
	if diff := cmp.Diff(int32(1), stopped.Load()); diff != "" {
		t.Errorf("healthy loop was not stopped (-want +got):\n%s", diff)
	}

	notice := "Fault: loop broken panicked: boom. Shutting down."
	want := map[int64][]string{1: {notice}, 3: {notice}}
	if diff := cmp.Diff(want, sender.sent); diff != "" {
		t.Errorf("admin notices mismatch (-want +got):\n%s", diff)
	}

	got := testutil.ToFloat64(metrics.LoopFaults.WithLabelValues("broken"))
	if diff := cmp.Diff(before+1, got); diff != "" {
		t.Errorf("fault counter mismatch (-want +got):\n%s", diff)
	}
}

func TestEarlyReturnIsFault(t *testing.T) {
	var stopped atomic.Int32
	s := New(discardLogger(), nil, nil)
	s.Go("healthy", blockingLoop(&stopped))
	s.Go("quitter", func(context.Context) {})

	err := waitErr(t, runAsync(t, s, context.Background()))
	if err == nil {
		t.Fatal("expected error for a loop returning early")
	}
	if diff := cmp.Diff(int32(1), stopped.Load()); diff != "" {
		t.Errorf("healthy loop was not stopped (-want +got):\n%s", diff)
	}
}

func TestNotifyAdmins(t *testing.T) {
	sender := &mockSender{}
	NotifyAdmins(context.Background(), sender, discardLogger(), []int64{7, 8}, "hello")
	want := map[int64][]string{7: {"hello"}, 8: {"hello"}}
	if diff := cmp.Diff(want, sender.sent); diff != "" {
		t.Errorf("notices mismatch (-want +got):\n%s", diff)
	}
}
