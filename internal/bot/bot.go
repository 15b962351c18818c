// Package bot implements the Telegram command interface and the rate-limited
// message sender shared by the background workers.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"storeglide_bot/internal/config"
	"storeglide_bot/internal/storage"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// NewAPI connects to the Telegram Bot API using client for all requests.
func NewAPI(token string, client *http.Client) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return api, nil
}

// Bot is the Telegram bot that handles user commands.
type Bot struct {
	api    telegramAPI
	sender *Sender
	store  storage.Storage
	cfg    *config.Config
	log    *slog.Logger
}

// New creates a Bot on top of an API connection. Replies go through sender
// so they share its rate limit.
func New(api *tgbotapi.BotAPI, sender *Sender, store storage.Storage, cfg *config.Config, log *slog.Logger) *Bot {
	return &Bot{
		api:    api,
		sender: sender,
		store:  store,
		cfg:    cfg,
		log:    log,
	}
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("bot started")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				b.log.Warn("updates channel closed")
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if cb := update.CallbackQuery; cb != nil {
		if cb.Message == nil {
			return
		}
		if cb.From != nil && !b.cfg.IsUserAllowed(cb.From.ID) {
			b.reply(ctx, cb.Message.Chat.ID, "Access denied.")
			return
		}
		b.handleCallback(ctx, cb)
		return
	}
	msg := update.Message
	if msg == nil || !msg.IsCommand() {
		return
	}
	if msg.From != nil && !b.cfg.IsUserAllowed(msg.From.ID) {
		b.reply(ctx, msg.Chat.ID, "Access denied.")
		return
	}
	b.handleCommand(ctx, msg)
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.sender.Send(ctx, chatID, text); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) replyWithKeyboard(chatID int64, text string, markup tgbotapi.InlineKeyboardMarkup) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = markup
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send keyboard", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start", "help":
		b.reply(ctx, chatID, helpText)
	case "register":
		b.handleRegister(ctx, chatID)
	case "stop":
		b.handleStop(ctx, chatID)
	case "add":
		b.handleAdd(ctx, chatID, args)
	case "del":
		b.handleDel(ctx, chatID, args)
	case "list":
		b.handleList(ctx, chatID)
	case "search":
		b.handleSearch(ctx, chatID, args)
	default:
		b.reply(ctx, chatID, "Unknown command. Use /help for a list of commands.")
	}
}
