// Command storeglide runs the bot, the spider, the notifier and the agents in one process.
// It is the only way to run on Badger storage, which one process locks.
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
		log.Error("storeglide failed", "error", err)
		os.Exit(1)
	}
	log.Info("storeglide stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	a, err := app.Open(context.Background(), cfg, log, true)
	if err != nil {
		return err
	}
	if err := a.AddBot(); err != nil {
		a.Close()
		return err
	}
	if err := a.AddSpider(); err != nil {
		a.Close()
		return err
	}
	if err := a.AddNotifier(); err != nil {
		a.Close()
		return err
	}

	log.Info("starting storeglide", "storage", cfg.StorageDriver)
	return a.Run(context.Background())
}
