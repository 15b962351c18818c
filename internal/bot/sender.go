package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

type messageAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender sends plain text messages, waiting on a shared limiter so the
// process stays under Telegram's global message rate.
type Sender struct {
	api     messageAPI
	limiter *rate.Limiter
}

// NewSender creates a Sender allowing perSecond messages with bursts of the
// same size.
func NewSender(api messageAPI, perSecond float64) *Sender {
	burst := max(int(perSecond), 1)
	return &Sender{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Send delivers text to chatID. It blocks while the rate limit is exhausted
// and returns early if ctx is cancelled.
func (s *Sender) Send(ctx context.Context, chatID int64, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("send to %d: %w", chatID, err)
	}
	return nil
}
