// Command notifier delivers new catalog items and serves retrospective searches.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"storeglide_bot/internal/app"
	"storeglide_bot/internal/config"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, config.ErrHelp) {
		return
	}
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := config.NewLogger(cfg.LogLevel)
	if err := run(cfg, log); err != nil {
		log.Error("notifier failed", "error", err)
		os.Exit(1)
	}
	log.Info("notifier stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	if err := cfg.RequireSharedStorage(); err != nil {
		return err
	}

	a, err := app.Open(context.Background(), cfg, log, true)
	if err != nil {
		return err
	}
	if err := a.AddNotifier(); err != nil {
		a.Close()
		return err
	}

	log.Info("starting notifier", "storage", cfg.StorageDriver)
	return a.Run(context.Background())
}
