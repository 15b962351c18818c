package bot

import (
	"context"
	"errors"
	"fmt"
	"slices"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"storeglide_bot/internal/match"
	"storeglide_bot/internal/model"
	"storeglide_bot/internal/storage"
)

const notRegisteredText = "You are not registered. Use /register first."

func (b *Bot) handleRegister(ctx context.Context, chatID int64) {
	err := b.store.CreateSubscriber(ctx, chatID)
	if errors.Is(err, storage.ErrDuplicate) {
		err = b.store.SetSubscriberActive(ctx, chatID, true)
	}
	if err != nil {
		b.log.Error("register", "chat_id", chatID, "error", err)
		b.reply(ctx, chatID, "Failed to register, try again later.")
		return
	}
	b.log.Info("subscriber registered", "chat_id", chatID)
	b.reply(ctx, chatID, registeredText)
}

func (b *Bot) handleStop(ctx context.Context, chatID int64) {
	err := b.store.SetSubscriberActive(ctx, chatID, false)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(ctx, chatID, notRegisteredText)
		return
	}
	if err != nil {
		b.log.Error("stop", "chat_id", chatID, "error", err)
		b.reply(ctx, chatID, "Failed to stop notifications, try again later.")
		return
	}
	b.log.Info("subscriber stopped", "chat_id", chatID)
	b.reply(ctx, chatID, stoppedText)
}

func (b *Bot) handleAdd(ctx context.Context, chatID int64, args string) {
	if args == "" {
		b.reply(ctx, chatID, "Usage: /add <author>")
		return
	}
	if err := match.ValidateAuthor(args); err != nil {
		b.reply(ctx, chatID, fmt.Sprintf("Invalid author: %v", err))
		return
	}

	err := b.store.AddWatch(ctx, chatID, args)
	switch {
	case errors.Is(err, storage.ErrDuplicate):
		b.reply(ctx, chatID, fmt.Sprintf("%s already added", args))
		return
	case errors.Is(err, storage.ErrNotFound):
		b.reply(ctx, chatID, notRegisteredText)
		return
	case err != nil:
		b.log.Error("add watch", "chat_id", chatID, "author", args, "error", err)
		b.reply(ctx, chatID, "Failed to add author, try again later.")
		return
	}

	b.reply(ctx, chatID, "Done")
	b.replyWithKeyboard(chatID, "Want to start retrospective search?",
		tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Yes", callbackData(actionRetroSearch, 0)),
			),
		),
	)
}

func (b *Bot) handleDel(ctx context.Context, chatID int64, args string) {
	if args != "" {
		removed, err := b.store.RemoveWatch(ctx, chatID, args)
		if err != nil {
			b.log.Error("remove watch", "chat_id", chatID, "author", args, "error", err)
			b.reply(ctx, chatID, "Failed to delete author, try again later.")
			return
		}
		if !removed {
			b.reply(ctx, chatID, fmt.Sprintf("%s is not in your list", args))
			return
		}
		b.reply(ctx, chatID, "Done")
		return
	}

	authors, ok := b.sortedWatchList(ctx, chatID)
	if !ok {
		return
	}
	if len(authors) == 0 {
		b.reply(ctx, chatID, "Nothing to delete")
		return
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(authors))
	for i, a := range authors {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(a, callbackData(actionDelete, i)),
		))
	}
	b.replyWithKeyboard(chatID, "Choose an author to delete:", tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (b *Bot) handleList(ctx context.Context, chatID int64) {
	authors, ok := b.sortedWatchList(ctx, chatID)
	if !ok {
		return
	}
	b.reply(ctx, chatID, FormatWatchList(authors))
}

func (b *Bot) handleSearch(ctx context.Context, chatID int64, args string) {
	if args == "" {
		b.reply(ctx, chatID, "Usage: /search <author>")
		return
	}

	var items []model.Item
	for it, err := range b.store.SearchItems(ctx, args) {
		if err != nil {
			b.log.Error("search", "chat_id", chatID, "query", args, "error", err)
			b.reply(ctx, chatID, "Search failed, try again later.")
			return
		}
		items = append(items, it)
	}

	if len(items) == 0 {
		b.reply(ctx, chatID, NothingFound)
		return
	}
	for _, it := range items {
		b.reply(ctx, chatID, FormatFound(it))
	}
}

// sortedWatchList returns the subscriber's authors sorted by name; button
// indexes in /del refer to this order. It replies to the user and returns
// false when the list cannot be read.
func (b *Bot) sortedWatchList(ctx context.Context, chatID int64) ([]string, bool) {
	sub, err := b.store.GetSubscriber(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		b.reply(ctx, chatID, notRegisteredText)
		return nil, false
	}
	if err != nil {
		b.log.Error("get subscriber", "chat_id", chatID, "error", err)
		b.reply(ctx, chatID, "Failed to load your list, try again later.")
		return nil, false
	}
	authors := slices.Clone(sub.WatchedAuthors)
	slices.Sort(authors)
	return authors, true
}
