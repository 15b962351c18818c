package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteContract(t *testing.T) {
	runContractTests(t, func(t *testing.T) Storage { return newTestDB(t) })
}

func TestSQLiteFileContract(t *testing.T) {
	runContractTests(t, func(t *testing.T) Storage {
		s, err := NewSQLite(filepath.Join(t.TempDir(), "bot.db"))
		if err != nil {
			t.Fatalf("new sqlite: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLitePurgeItems(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)

	now := time.Now().UTC()
	seedItems(t, s, now.Add(-6*24*time.Hour), "old-1", "old-2")
	seedItems(t, s, now.Add(-time.Hour), "fresh")

	n, err := s.PurgeItems(ctx, now.Add(-5*24*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if diff := cmp.Diff(int64(2), n); diff != "" {
		t.Errorf("purged count mismatch (-want +got):\n%s", diff)
	}

	pending, err := s.ListPendingItems(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	var names []string
	for _, it := range pending {
		names = append(names, it.Name)
	}
	if diff := cmp.Diff([]string{"fresh"}, names); diff != "" {
		t.Errorf("remaining items mismatch (-want +got):\n%s", diff)
	}

	// Purged rows must leave the search index too.
	var found int
	for _, err := range s.SearchItems(ctx, "acme") {
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		found++
	}
	if diff := cmp.Diff(1, found); diff != "" {
		t.Errorf("search hits after purge mismatch (-want +got):\n%s", diff)
	}

	// A purged name can be ingested again.
	seedItems(t, s, now, "old-1")
}

func TestSQLiteDSN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: ":memory:", want: ":memory:"},
		{in: "./data/bot.db", want: "./data/bot.db?_pragma=busy_timeout(5000)"},
		{in: "file:bot.db?cache=shared", want: "file:bot.db?cache=shared&_pragma=busy_timeout(5000)"},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, sqliteDSN(tt.in)); diff != "" {
			t.Errorf("sqliteDSN(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}
