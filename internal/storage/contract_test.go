package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"storeglide_bot/internal/model"
)

var ignoreItemTS = cmpopts.IgnoreFields(model.Item{}, "CreatedAt")

// runContractTests exercises the behaviour every backend must share.
func runContractTests(t *testing.T, newStore func(t *testing.T) Storage) {
	t.Run("item insert is unique by name", func(t *testing.T) {
		testItemDuplicate(t, newStore(t))
	})
	t.Run("concurrent inserts keep one item", func(t *testing.T) {
		testItemDuplicateConcurrent(t, newStore(t))
	})
	t.Run("mark notified flips once", func(t *testing.T) {
		testMarkNotified(t, newStore(t))
	})
	t.Run("search ranks exact author first", func(t *testing.T) {
		testSearch(t, newStore(t))
	})
	t.Run("subscriber lifecycle", func(t *testing.T) {
		testSubscriberLifecycle(t, newStore(t))
	})
	t.Run("watch list", func(t *testing.T) {
		testWatchList(t, newStore(t))
	})
	t.Run("watchers are active and case-normalized", func(t *testing.T) {
		testListWatchers(t, newStore(t))
	})
	t.Run("queue is FIFO", func(t *testing.T) {
		testQueueFIFO(t, newStore(t))
	})
	t.Run("concurrent claims hand out each task once", func(t *testing.T) {
		testQueueConcurrentClaims(t, newStore(t))
	})
}

func testItemDuplicate(t *testing.T, s Storage) {
	ctx := context.Background()

	first := &model.Item{Name: "X", Author: "acme", Countries: "US", Link: "http://x"}
	if err := s.CreateItem(ctx, first); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	second := &model.Item{Name: "X", Author: "other", Countries: "DE", Link: "http://y"}
	err := s.CreateItem(ctx, second)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second insert error = %v, want ErrDuplicate", err)
	}

	pending, err := s.ListPendingItems(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	want := []model.Item{{Name: "X", Author: "acme", Countries: "US", Link: "http://x"}}
	if diff := cmp.Diff(want, pending, ignoreItemTS); diff != "" {
		t.Errorf("pending items mismatch (-want +got):\n%s", diff)
	}
}

func testItemDuplicateConcurrent(t *testing.T, s Storage) {
	ctx := context.Background()
	const n = 10

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.CreateItem(ctx, &model.Item{Name: "race", Author: "acme", Link: "http://race"})
		}()
	}
	wg.Wait()

	var created, dups int
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrDuplicate):
			dups++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if diff := cmp.Diff([2]int{1, n - 1}, [2]int{created, dups}); diff != "" {
		t.Errorf("created/duplicate mismatch (-want +got):\n%s", diff)
	}
}

func testMarkNotified(t *testing.T, s Storage) {
	ctx := context.Background()
	for _, name := range []string{"a", "b"} {
		if err := s.CreateItem(ctx, &model.Item{Name: name, Author: "acme", Link: "http://" + name}); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	flipped, err := s.MarkItemNotified(ctx, "a")
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if !flipped {
		t.Error("first mark should flip")
	}
	flipped, err = s.MarkItemNotified(ctx, "a")
	if err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if flipped {
		t.Error("second mark should be a no-op")
	}
	flipped, err = s.MarkItemNotified(ctx, "missing")
	if err != nil {
		t.Fatalf("mark missing: %v", err)
	}
	if flipped {
		t.Error("marking a missing item should not flip")
	}

	pending, err := s.ListPendingItems(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	var names []string
	for _, it := range pending {
		names = append(names, it.Name)
	}
	if diff := cmp.Diff([]string{"b"}, names); diff != "" {
		t.Errorf("pending names mismatch (-want +got):\n%s", diff)
	}
}

func testSearch(t *testing.T, s Storage) {
	ctx := context.Background()
	items := []model.Item{
		{Name: "One", Author: "Acme", Link: "http://one"},
		{Name: "Two", Author: "Acme Games Ltd", Link: "http://two"},
		{Name: "Three", Author: "Other Studio", Link: "http://three"},
		{Name: "Four", Author: "Games Acme", Link: "http://four"},
	}
	for i := range items {
		if err := s.CreateItem(ctx, &items[i]); err != nil {
			t.Fatalf("create %s: %v", items[i].Name, err)
		}
	}

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "single word", query: "acme", want: []string{"One", "Four", "Two"}},
		{name: "phrase", query: "Acme Games", want: []string{"Two"}},
		{name: "quoted phrase", query: `"acme games"`, want: []string{"Two"}},
		{name: "no match", query: "nobody", want: nil},
		{name: "empty query", query: "  ", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for it, err := range s.SearchItems(ctx, tt.query) {
				if err != nil {
					t.Fatalf("search: %v", err)
				}
				got = append(got, it.Name)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("search %q mismatch (-want +got):\n%s", tt.query, diff)
			}
		})
	}

	t.Run("early stop", func(t *testing.T) {
		count := 0
		for _, err := range s.SearchItems(ctx, "acme") {
			if err != nil {
				t.Fatalf("search: %v", err)
			}
			count++
			break
		}
		if count != 1 {
			t.Errorf("got %d items before break, want 1", count)
		}
	})
}

func testSubscriberLifecycle(t *testing.T, s Storage) {
	ctx := context.Background()

	if err := s.CreateSubscriber(ctx, 42); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateSubscriber(ctx, 42); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second create error = %v, want ErrDuplicate", err)
	}

	got, err := s.GetSubscriber(ctx, 42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := &model.Subscriber{ChatID: 42, Active: true}
	opts := []cmp.Option{cmpopts.IgnoreFields(model.Subscriber{}, "CreatedAt"), cmpopts.EquateEmpty()}
	if diff := cmp.Diff(want, got, opts...); diff != "" {
		t.Errorf("subscriber mismatch (-want +got):\n%s", diff)
	}

	if err := s.SetSubscriberActive(ctx, 42, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	got, err = s.GetSubscriber(ctx, 42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Active {
		t.Error("subscriber should be inactive")
	}

	if err := s.SetSubscriberActive(ctx, 7, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("activate unknown error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetSubscriber(ctx, 7); !errors.Is(err, ErrNotFound) {
		t.Errorf("get unknown error = %v, want ErrNotFound", err)
	}
}

func testWatchList(t *testing.T, s Storage) {
	ctx := context.Background()
	if err := s.CreateSubscriber(ctx, 1); err != nil {
		t.Fatalf("create: %v", err)
	}

	last, err := s.LastWatch(ctx, 1)
	if err != nil {
		t.Fatalf("last watch: %v", err)
	}
	if last != "" {
		t.Errorf("last watch of empty list = %q, want empty", last)
	}

	for _, a := range []string{"Acme", "beta  Soft", "gamma"} {
		if err := s.AddWatch(ctx, 1, a); err != nil {
			t.Fatalf("add %q: %v", a, err)
		}
	}
	if err := s.AddWatch(ctx, 1, "ACME"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate add error = %v, want ErrDuplicate", err)
	}
	if err := s.AddWatch(ctx, 99, "acme"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("add for unknown subscriber error = %v, want ErrNotFound", err)
	}

	sub, err := s.GetSubscriber(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff([]string{"acme", "beta soft", "gamma"}, sub.WatchedAuthors); diff != "" {
		t.Errorf("watched authors mismatch (-want +got):\n%s", diff)
	}

	removed, err := s.RemoveWatch(ctx, 1, "Gamma")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !removed {
		t.Error("remove should report a deletion")
	}
	removed, err = s.RemoveWatch(ctx, 1, "gamma")
	if err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if removed {
		t.Error("second remove should report nothing deleted")
	}

	last, err = s.LastWatch(ctx, 1)
	if err != nil {
		t.Fatalf("last watch: %v", err)
	}
	if diff := cmp.Diff("beta soft", last); diff != "" {
		t.Errorf("last watch mismatch (-want +got):\n%s", diff)
	}
}

func testListWatchers(t *testing.T, s Storage) {
	ctx := context.Background()
	for _, id := range []int64{3, 1, 2} {
		if err := s.CreateSubscriber(ctx, id); err != nil {
			t.Fatalf("create %d: %v", id, err)
		}
	}
	mustWatch := func(id int64, author string) {
		t.Helper()
		if err := s.AddWatch(ctx, id, author); err != nil {
			t.Fatalf("add watch %d %q: %v", id, author, err)
		}
	}
	mustWatch(1, "acme")
	mustWatch(2, "Acme")
	mustWatch(3, "acme")
	mustWatch(3, "other")
	if err := s.SetSubscriberActive(ctx, 2, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	got, err := s.ListWatchers(ctx, "ACME")
	if err != nil {
		t.Fatalf("list watchers: %v", err)
	}
	if diff := cmp.Diff([]int64{1, 3}, got); diff != "" {
		t.Errorf("watchers mismatch (-want +got):\n%s", diff)
	}

	got, err = s.ListWatchers(ctx, "nobody")
	if err != nil {
		t.Fatalf("list watchers: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no watchers, got %v", got)
	}
}

func testQueueFIFO(t *testing.T, s Storage) {
	ctx := context.Background()

	for _, requester := range []int64{42, 7} {
		task := &model.Task{Type: model.TaskRetroSearch, RequesterID: requester}
		if err := s.EnqueueTask(ctx, task); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if task.ID == 0 {
			t.Fatal("expected non-zero task ID")
		}
	}

	var got []int64
	for range 2 {
		task, err := s.ClaimTask(ctx, model.TaskRetroSearch)
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if task == nil {
			t.Fatal("expected a task")
		}
		got = append(got, task.RequesterID)
	}
	if diff := cmp.Diff([]int64{42, 7}, got); diff != "" {
		t.Errorf("claim order mismatch (-want +got):\n%s", diff)
	}

	task, err := s.ClaimTask(ctx, model.TaskRetroSearch)
	if err != nil {
		t.Fatalf("claim empty: %v", err)
	}
	if task != nil {
		t.Errorf("expected empty queue, got %+v", task)
	}
}

func testQueueConcurrentClaims(t *testing.T, s Storage) {
	ctx := context.Background()
	const tasks, workers = 60, 8

	want := make(map[int64]bool, tasks)
	for i := range tasks {
		task := &model.Task{Type: model.TaskRetroSearch, RequesterID: int64(i)}
		if err := s.EnqueueTask(ctx, task); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		want[task.ID] = true
	}

	var mu sync.Mutex
	seen := make(map[int64]int, tasks)
	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := s.ClaimTask(ctx, model.TaskRetroSearch)
				if err != nil {
					errCh <- err
					return
				}
				if task == nil {
					return
				}
				mu.Lock()
				seen[task.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("claim: %v", err)
	}

	if len(seen) != tasks {
		t.Errorf("claimed %d distinct tasks, want %d", len(seen), tasks)
	}
	for id, n := range seen {
		if !want[id] {
			t.Errorf("claimed unknown task %d", id)
		}
		if n != 1 {
			t.Errorf("task %d claimed %d times", id, n)
		}
	}
}

func seedItems(t *testing.T, s Storage, created time.Time, names ...string) {
	t.Helper()
	for _, n := range names {
		it := &model.Item{Name: n, Author: "acme", Link: fmt.Sprintf("http://%s", n), CreatedAt: created}
		if err := s.CreateItem(context.Background(), it); err != nil {
			t.Fatalf("seed %s: %v", n, err)
		}
	}
}
