package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"storeglide_bot/internal/model"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	chatID := cb.Message.Chat.ID

	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, index, err := ParseCallbackData(cb.Data)
	if err != nil {
		b.log.Warn("callback", "chat_id", chatID, "error", err)
		return
	}

	b.log.Info("callback", "action", action, "index", index, "chat_id", chatID)

	switch action {
	case actionRetroSearch:
		b.handleRetroSearch(ctx, chatID, cb.Message.MessageID)
	case actionDelete:
		b.handleDeleteChoice(ctx, chatID, cb.Message.MessageID, index)
	}
}

func (b *Bot) handleRetroSearch(ctx context.Context, chatID int64, messageID int) {
	task := &model.Task{Type: model.TaskRetroSearch, RequesterID: chatID}
	if err := b.store.EnqueueTask(ctx, task); err != nil {
		b.log.Error("enqueue retro search", "chat_id", chatID, "error", err)
		b.reply(ctx, chatID, "Failed to start search, try again later.")
		return
	}
	b.log.Info("retro search queued", "chat_id", chatID, "task_id", task.ID)
	b.editText(chatID, messageID, "Searching...")
}

func (b *Bot) handleDeleteChoice(ctx context.Context, chatID int64, messageID, index int) {
	authors, ok := b.sortedWatchList(ctx, chatID)
	if !ok {
		return
	}
	if index >= len(authors) {
		b.reply(ctx, chatID, "Your list has changed, use /del again.")
		return
	}
	author := authors[index]

	b.editText(chatID, messageID, fmt.Sprintf("Your choice is:\n%s", author))
	if _, err := b.store.RemoveWatch(ctx, chatID, author); err != nil {
		b.log.Error("remove watch", "chat_id", chatID, "author", author, "error", err)
		b.reply(ctx, chatID, "Failed to delete author, try again later.")
		return
	}
	b.reply(ctx, chatID, "Deleted")
}

func (b *Bot) editText(chatID int64, messageID int, text string) {
	if _, err := b.api.Send(tgbotapi.NewEditMessageText(chatID, messageID, text)); err != nil {
		b.log.Error("edit message", "chat_id", chatID, "error", err)
	}
}
