package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	tg "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Message is one outbound notification.
type Message struct {
	ChatID int64
	Text   string
	Silent bool
}

// Sender delivers a Message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// RateLimitError is returned by a Sender when the endpoint asked us to
// back off.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// TelegramSender sends through the Bot API.
type TelegramSender struct {
	bot *tg.Bot
}

// NewTelegramSender wraps bot.
func NewTelegramSender(bot *tg.Bot) *TelegramSender {
	return &TelegramSender{bot: bot}
}

func (s *TelegramSender) Send(ctx context.Context, msg Message) error {
	disable := true
	_, err := s.bot.SendMessage(ctx, &tg.SendMessageParams{
		ChatID:              msg.ChatID,
		Text:                msg.Text,
		ParseMode:           models.ParseModeHTML,
		DisableNotification: msg.Silent,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: &disable,
		},
	})
	if err == nil {
		return nil
	}
	var tooMany *tg.TooManyRequestsError
	if errors.As(err, &tooMany) {
		return &RateLimitError{RetryAfter: time.Duration(tooMany.RetryAfter) * time.Second}
	}
	return fmt.Errorf("telegram send to %d: %w", msg.ChatID, err)
}
