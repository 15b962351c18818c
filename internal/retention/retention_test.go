package retention

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"storeglide_bot/internal/model"
	"storeglide_bot/internal/storage"
)

func TestSweep(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	for name, age := range map[string]time.Duration{
		"expired": 121 * time.Hour,
		"edge":    119 * time.Hour,
		"fresh":   time.Hour,
	} {
		it := &model.Item{Name: name, Author: "acme", Link: "http://" + name, CreatedAt: now.Add(-age)}
		if err := store.CreateItem(ctx, it); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	s := New(store, slog.New(slog.NewTextHandler(io.Discard, nil)), 120*time.Hour, time.Minute)
	s.now = func() time.Time { return now }

	if diff := cmp.Diff(int64(1), s.Sweep(ctx)); diff != "" {
		t.Errorf("first sweep mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(int64(0), s.Sweep(ctx)); diff != "" {
		t.Errorf("second sweep mismatch (-want +got):\n%s", diff)
	}

	pending, err := store.ListPendingItems(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	var names []string
	for _, it := range pending {
		names = append(names, it.Name)
	}
	if len(names) != 2 {
		t.Errorf("remaining items = %v, want edge and fresh", names)
	}
}

func TestSweepStoreError(t *testing.T) {
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	_ = store.Close()

	s := New(store, slog.New(slog.NewTextHandler(io.Discard, nil)), time.Hour, time.Minute)
	if got := s.Sweep(context.Background()); got != 0 {
		t.Errorf("Sweep on closed store = %d, want 0", got)
	}
}
