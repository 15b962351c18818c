package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"storeglide_bot/internal/config"
)

// Open connects to the backend selected by cfg.StorageDriver.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger) (Storage, error) {
	switch cfg.StorageDriver {
	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create data directory %s: %w", dir, err)
			}
		}
		return NewSQLite(cfg.DatabasePath)
	case config.DriverBadger:
		return NewBadger(BadgerConfig{
			Path:      cfg.BadgerPath,
			Retention: cfg.ItemRetention,
			Logger:    log.With("component", "badger"),
		})
	case config.DriverPostgres:
		return NewPostgres(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

// NeedsSweep reports whether expired items must be purged by a sweeper.
// Badger expires them on its own.
func NeedsSweep(s Storage) bool {
	_, ok := s.(*Badger)
	return !ok
}
