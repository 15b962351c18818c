// Package app wires storage, Telegram and the background loops into a
// process. Every command builds an App and registers the parts it runs.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"storeglide_bot/internal/agent"
	"storeglide_bot/internal/bot"
	"storeglide_bot/internal/config"
	"storeglide_bot/internal/ingest"
	"storeglide_bot/internal/metrics"
	"storeglide_bot/internal/notifier"
	"storeglide_bot/internal/retention"
	"storeglide_bot/internal/spider"
	"storeglide_bot/internal/storage"
	"storeglide_bot/internal/supervisor"
)

const (
	gcInterval        = 10 * time.Minute
	ingestConcurrency = 8
)

// App holds the resources shared by the loops of one process.
type App struct {
	cfg   *config.Config
	log   *slog.Logger
	store storage.Storage

	api       *tgbotapi.BotAPI
	botSender *bot.Sender
	sender    supervisor.Sender

	sup       *supervisor.Supervisor
	closeOnce sync.Once
}

// Open opens storage and, when telegram is set, connects to the Bot API.
// The caller must call Run or Close.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger, telegram bool) (*App, error) {
	if telegram {
		if err := cfg.RequireToken(); err != nil {
			return nil, err
		}
	}

	store, err := storage.Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if !telegram {
		return newApp(cfg, log, store, nil), nil
	}

	client, err := cfg.HTTPClient(90 * time.Second)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	api, err := bot.NewAPI(cfg.TelegramBotToken, client)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	log.Info("authorized", "account", api.Self.UserName)

	sender := bot.NewSender(api, cfg.SendRate)
	a := newApp(cfg, log, store, sender)
	a.api = api
	a.botSender = sender
	return a, nil
}

func newApp(cfg *config.Config, log *slog.Logger, store storage.Storage, sender supervisor.Sender) *App {
	var admins []int64
	if sender != nil {
		admins = cfg.AdminChatIDs
	}
	return &App{
		cfg:    cfg,
		log:    log,
		store:  store,
		sender: sender,
		sup:    supervisor.New(log, sender, admins),
	}
}

// AddBot registers the Telegram command loop.
func (a *App) AddBot() error {
	if a.api == nil {
		return errors.New("bot needs a Telegram connection")
	}
	b := bot.New(a.api, a.botSender, a.store, a.cfg, a.log.With("component", "bot"))
	a.sup.Go("bot", b.Run)
	return nil
}

// AddNotifier registers the notification engine, the agent pool and the
// expiry loop matching the storage backend.
func (a *App) AddNotifier() error {
	if a.sender == nil {
		return errors.New("notifier needs a message sender")
	}
	engine := notifier.New(a.store, a.sender, a.log.With("component", "notifier"),
		a.cfg.NotifyInterval, a.cfg.SendConcurrency)
	pool := agent.New(a.store, a.sender, a.log.With("component", "agent"),
		a.cfg.AgentCount, a.cfg.AgentPollInterval, a.cfg.SendConcurrency)
	a.sup.Go("notifier", engine.Run)
	a.sup.Go("agents", pool.Run)

	if storage.NeedsSweep(a.store) {
		sweeper := retention.New(a.store, a.log.With("component", "retention"), a.cfg.ItemRetention, a.cfg.SweepInterval)
		a.sup.Go("retention", sweeper.Run)
	} else if c, ok := a.store.(retention.Collector); ok {
		a.sup.Go("gc", func(ctx context.Context) {
			retention.RunGC(ctx, c, a.log, gcInterval)
		})
	}
	return nil
}

// AddSpider registers the catalog spider with the page source and, if
// configured, the feed source.
func (a *App) AddSpider() error {
	client, err := a.cfg.HTTPClient(30 * time.Second)
	if err != nil {
		return err
	}
	fetcher := spider.NewFetcher(client, a.cfg.UserAgent)

	pages, err := spider.NewPageSource(fetcher, a.cfg.CatalogURL, a.cfg.CatalogPages, a.log)
	if err != nil {
		return fmt.Errorf("catalog pages: %w", err)
	}
	sources := []spider.Source{pages}
	if a.cfg.CatalogFeedURL != "" {
		sources = append(sources, spider.NewFeedSource(fetcher, a.cfg.CatalogFeedURL))
	}

	gate := ingest.New(a.store, a.log.With("component", "ingest"))
	sp := spider.New(gate, a.log.With("component", "spider"), a.cfg.SpiderInterval, ingestConcurrency, sources...)
	a.sup.Go("spider", sp.Run)
	return nil
}

// Run starts the registered loops and the metrics endpoint, and blocks
// until ctx is cancelled, a shutdown signal arrives, or a loop fails. The
// store is closed after every loop has returned.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	if a.cfg.MetricsAddr != "" {
		a.sup.Go("metrics", func(ctx context.Context) {
			if err := metrics.Serve(ctx, a.cfg.MetricsAddr, a.log); err != nil {
				a.log.Error("metrics server", "error", err)
			}
		})
	}

	sigCtx, stop := context.WithCancel(ctx)
	defer stop()
	go a.sup.ShutdownOnSignal(sigCtx, syscall.SIGINT, syscall.SIGTERM)

	return a.sup.Run(ctx)
}

// Close closes the store. It is safe to call more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if err := a.store.Close(); err != nil {
			a.log.Error("close storage", "error", err)
		}
	})
}
