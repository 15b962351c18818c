// Package config handles application configuration from flags, environment
// variables and an optional YAML credentials file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
)

// ErrHelp is returned by Load after the usage text has been printed.
var ErrHelp = errors.New("help requested")

type rawCfg struct {
	CredentialsFile string `long:"credentials-file" env:"CREDENTIALS_FILE" description:"YAML file with api_token, proxy_* and admins"`

	// Telegram
	TelegramBotToken string `long:"token" env:"TELEGRAM_BOT_TOKEN" description:"Telegram bot token"`
	ProxyURL         string `long:"proxy-url" env:"PROXY_URL" description:"Proxy for Telegram and catalog requests (socks5:// or http://)"`
	AllowedUsers     string `long:"allowed-users" env:"ALLOWED_USERS" description:"Comma-separated user IDs allowed to use the bot (empty allows everyone)"`
	AdminChatIDs     string `long:"admin-chat-ids" env:"ADMIN_CHAT_IDS" description:"Comma-separated chat IDs receiving fault notices"`

	// Storage
	StorageDriver string        `long:"storage-driver" env:"STORAGE_DRIVER" default:"sqlite" description:"Storage backend: sqlite, badger or postgres"`
	DatabasePath  string        `long:"db" env:"DATABASE_PATH" default:"./data/bot.db" description:"SQLite database path"`
	BadgerPath    string        `long:"badger-path" env:"BADGER_PATH" default:"./data/badger" description:"Badger data directory"`
	PostgresDSN   string        `long:"postgres-dsn" env:"POSTGRES_DSN" description:"PostgreSQL connection string"`
	ItemRetention time.Duration `long:"item-retention" env:"ITEM_RETENTION" default:"120h" description:"How long catalog items are kept"`
	SweepInterval time.Duration `long:"sweep-interval" env:"SWEEP_INTERVAL" default:"10m" description:"Retention sweep interval for SQL backends"`

	// Notifier
	NotifyInterval    time.Duration `long:"notify-interval" env:"NOTIFY_INTERVAL" default:"300s" description:"Pause between notification cycles"`
	AgentCount        int           `long:"agent-count" env:"AGENT_COUNT" default:"5" description:"Number of retrospective search agents"`
	AgentPollInterval time.Duration `long:"agent-poll-interval" env:"AGENT_POLL_INTERVAL" default:"300ms" description:"Pause between task queue polls"`
	SendRate          float64       `long:"send-rate" env:"SEND_RATE" default:"20" description:"Maximum outgoing messages per second"`
	SendConcurrency   int           `long:"send-concurrency" env:"SEND_CONCURRENCY" default:"10" description:"Maximum concurrent sends per fan-out"`

	// Spider
	CatalogURL     string        `long:"catalog-url" env:"CATALOG_URL" default:"https://store.storeglide.com/" description:"Catalog site URL"`
	CatalogPages   int           `long:"catalog-pages" env:"CATALOG_PAGES" default:"10" description:"Number of catalog pages scraped per cycle"`
	CatalogFeedURL string        `long:"catalog-feed-url" env:"CATALOG_FEED_URL" description:"Optional RSS/Atom feed of the catalog"`
	SpiderInterval time.Duration `long:"spider-interval" env:"SPIDER_INTERVAL" default:"300s" description:"Pause between spider cycles"`
	UserAgent      string        `long:"user-agent" env:"USER_AGENT" default:"StoreglideBot/1.0" description:"User agent for catalog requests"`

	// Ops
	LogLevel    string `long:"log-level" env:"LOG_LEVEL" default:"info" description:"Log level: debug, info, warn or error"`
	MetricsAddr string `long:"metrics-addr" env:"METRICS_ADDR" description:"Listen address for /metrics (disabled when empty)"`
}

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	ProxyURL         string `validate:"omitempty,url"`
	AllowedUsers     []int64
	AdminChatIDs     []int64

	StorageDriver string `validate:"oneof=sqlite badger postgres"`
	DatabasePath  string
	BadgerPath    string
	PostgresDSN   string `validate:"required_if=StorageDriver postgres"`
	ItemRetention time.Duration `validate:"gt=0"`
	SweepInterval time.Duration `validate:"gt=0"`

	NotifyInterval    time.Duration `validate:"gt=0"`
	AgentCount        int           `validate:"min=1"`
	AgentPollInterval time.Duration `validate:"gt=0"`
	SendRate          float64       `validate:"gt=0"`
	SendConcurrency   int           `validate:"min=1"`

	CatalogURL     string `validate:"required,url"`
	CatalogPages   int    `validate:"min=1"`
	CatalogFeedURL string `validate:"omitempty,url"`
	SpiderInterval time.Duration `validate:"gt=0"`
	UserAgent      string

	LogLevel    string `validate:"oneof=debug info warn error"`
	MetricsAddr string
}

type credentials struct {
	APIToken  string  `yaml:"api_token"`
	ProxyHost string  `yaml:"proxy_host"`
	ProxyPort int     `yaml:"proxy_port"`
	ProxyUser string  `yaml:"proxy_user"`
	ProxyPass string  `yaml:"proxy_pass"`
	Admins    []int64 `yaml:"admins"`
}

// Load parses command line arguments (without the program name) on top of
// environment variables. Values from the credentials file fill settings
// left empty by both.
func Load(args []string) (*Config, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			parser.WriteHelp(os.Stdout)
			return nil, ErrHelp
		}
		return nil, fmt.Errorf("parse configuration: %w", err)
	}

	allowedUsers, err := parseIDs(raw.AllowedUsers)
	if err != nil {
		return nil, fmt.Errorf("ALLOWED_USERS: %w", err)
	}
	adminChatIDs, err := parseIDs(raw.AdminChatIDs)
	if err != nil {
		return nil, fmt.Errorf("ADMIN_CHAT_IDS: %w", err)
	}

	cfg := &Config{
		TelegramBotToken:  raw.TelegramBotToken,
		ProxyURL:          raw.ProxyURL,
		AllowedUsers:      allowedUsers,
		AdminChatIDs:      adminChatIDs,
		StorageDriver:     strings.ToLower(raw.StorageDriver),
		DatabasePath:      raw.DatabasePath,
		BadgerPath:        raw.BadgerPath,
		PostgresDSN:       raw.PostgresDSN,
		ItemRetention:     raw.ItemRetention,
		SweepInterval:     raw.SweepInterval,
		NotifyInterval:    raw.NotifyInterval,
		AgentCount:        raw.AgentCount,
		AgentPollInterval: raw.AgentPollInterval,
		SendRate:          raw.SendRate,
		SendConcurrency:   raw.SendConcurrency,
		CatalogURL:        raw.CatalogURL,
		CatalogPages:      raw.CatalogPages,
		CatalogFeedURL:    raw.CatalogFeedURL,
		SpiderInterval:    raw.SpiderInterval,
		UserAgent:         raw.UserAgent,
		LogLevel:          strings.ToLower(raw.LogLevel),
		MetricsAddr:       raw.MetricsAddr,
	}

	if raw.CredentialsFile != "" {
		if err := cfg.mergeCredentials(raw.CredentialsFile); err != nil {
			return nil, err
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) mergeCredentials(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read credentials: %w", err)
	}
	var cr credentials
	if err := yaml.Unmarshal(data, &cr); err != nil {
		return fmt.Errorf("parse credentials %s: %w", path, err)
	}

	if c.TelegramBotToken == "" {
		c.TelegramBotToken = cr.APIToken
	}
	if c.ProxyURL == "" && cr.ProxyHost != "" {
		u := url.URL{
			Scheme: "socks5",
			Host:   net.JoinHostPort(cr.ProxyHost, strconv.Itoa(cr.ProxyPort)),
		}
		if cr.ProxyUser != "" {
			u.User = url.UserPassword(cr.ProxyUser, cr.ProxyPass)
		}
		c.ProxyURL = u.String()
	}
	if len(c.AdminChatIDs) == 0 {
		c.AdminChatIDs = cr.Admins
	}
	return nil
}

// RequireToken reports an error when no Telegram bot token is configured.
func (c *Config) RequireToken() error {
	if c.TelegramBotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	return nil
}

// RequireSharedStorage reports an error when the storage backend can only
// be opened by one process. Badger locks its directory, so the separate
// bot, spider and notifier commands cannot share it.
func (c *Config) RequireSharedStorage() error {
	if c.StorageDriver == DriverBadger {
		return fmt.Errorf("STORAGE_DRIVER=%s is locked by a single process: run cmd/storeglide, or use sqlite or postgres", DriverBadger)
	}
	return nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	return slices.Contains(c.AllowedUsers, userID)
}

// HTTPClient returns a client that routes requests through the configured
// proxy, if any.
func (c *Config) HTTPClient(timeout time.Duration) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if c.ProxyURL != "" {
		u, err := url.Parse(c.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	return &http.Client{Timeout: timeout, Transport: transport}, nil
}

// NewLogger builds the text logger used by every command.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ID %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
