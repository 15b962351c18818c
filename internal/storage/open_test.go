package storage

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"storeglide_bot/internal/config"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	tests := []struct {
		name      string
		cfg       config.Config
		wantSweep bool
		wantErr   bool
	}{
		{
			name:      "sqlite creates directory",
			cfg:       config.Config{StorageDriver: config.DriverSQLite, DatabasePath: filepath.Join(dir, "nested", "bot.db")},
			wantSweep: true,
		},
		{
			name: "badger",
			cfg:  config.Config{StorageDriver: config.DriverBadger, BadgerPath: filepath.Join(dir, "badger"), ItemRetention: time.Hour},
		},
		{
			name:    "unknown driver",
			cfg:     config.Config{StorageDriver: "mongo"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(ctx, &tt.cfg, log)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			t.Cleanup(func() { _ = s.Close() })

			if diff := cmp.Diff(tt.wantSweep, NeedsSweep(s)); diff != "" {
				t.Errorf("NeedsSweep mismatch (-want +got):\n%s", diff)
			}
			if err := s.CreateSubscriber(ctx, 1); err != nil {
				t.Errorf("store not usable: %v", err)
			}
		})
	}
}
