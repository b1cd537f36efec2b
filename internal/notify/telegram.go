// Package notify sends operator notifications to Telegram chats.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"courtbook/internal/clock"
	"courtbook/internal/events"
	"courtbook/internal/model"
)

// Sender is the part of the Telegram client the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// RetryConfig holds configuration for retry logic.
type RetryConfig struct {
	MaxRetries  int
	RetryDelays []time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  3,
		RetryDelays: []time.Duration{time.Second, 5 * time.Second, 30 * time.Second},
	}
}

// Notifier posts messages to every configured operator chat.
// A nil sender turns every method into a no-op.
type Notifier struct {
	sender  Sender
	chatIDs []int64
	retry   RetryConfig
	logger  zerolog.Logger
}

// NewBotAPI connects to Telegram with token.
func NewBotAPI(token string, debug bool) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	api.Debug = debug
	return api, nil
}

func New(sender Sender, chatIDs []int64, retry RetryConfig, logger *zerolog.Logger) *Notifier {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "notify").Logger()
	}
	return &Notifier{sender: sender, chatIDs: chatIDs, retry: retry, logger: l}
}

// Enabled reports whether messages are actually delivered.
func (n *Notifier) Enabled() bool {
	return n.sender != nil && len(n.chatIDs) > 0
}

// Subscribe wires the notifier to the event bus.
func (n *Notifier) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.BookingCreated, func(e events.Event) error {
		if e.Booking == nil || e.Booking.Status() != model.StatusPending {
			return nil
		}
		return n.BookingRequested(context.Background(), e.Booking)
	})
	bus.Subscribe(events.PropagationFailure, func(e events.Event) error {
		return n.PropagationFailed(context.Background(), e.Errors)
	})
}

// BookingRequested announces a new pending booking awaiting confirmation.
func (n *Notifier) BookingRequested(ctx context.Context, b *model.Booking) error {
	text := fmt.Sprintf("New booking request\nCourt %d, %s %s-%s\nOwner: %s\nID: %s",
		b.CourtID, clock.FormatDate(b.Date), model.FormatClock(b.Start), model.FormatClock(b.End), b.OwnerID, b.ID)
	if b.HoldExpiry != nil {
		text += "\nHold expires at " + b.HoldExpiry.Format("15:04")
	}
	return n.broadcast(ctx, text)
}

// PropagationFailed summarizes per-item failures of a batch pass.
func (n *Notifier) PropagationFailed(ctx context.Context, errs []model.ItemError) error {
	if len(errs) == 0 {
		return nil
	}

	const maxLines = 10
	var sb strings.Builder
	fmt.Fprintf(&sb, "Propagation finished with %d error(s)", len(errs))
	for i, e := range errs {
		if i == maxLines {
			fmt.Fprintf(&sb, "\n... and %d more", len(errs)-maxLines)
			break
		}
		sb.WriteString("\n- ")
		sb.WriteString(e.Error())
	}
	return n.broadcast(ctx, sb.String())
}

func (n *Notifier) broadcast(ctx context.Context, text string) error {
	if !n.Enabled() {
		return nil
	}

	var errs []error
	for _, chatID := range n.chatIDs {
		if err := n.sendWithRetry(ctx, tgbotapi.NewMessage(chatID, text)); err != nil {
			n.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to deliver notification")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) sendWithRetry(ctx context.Context, msg tgbotapi.MessageConfig) error {
	var lastErr error

	for attempt := 0; attempt <= n.retry.MaxRetries; attempt++ {
		_, err := n.sender.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err

		wait := n.delay(attempt)
		var tgErr *tgbotapi.Error
		if errors.As(err, &tgErr) {
			switch tgErr.Code {
			case 429:
				if tgErr.RetryAfter > 0 {
					wait = time.Duration(tgErr.RetryAfter) * time.Second
				}
			case 400, 403:
				return fmt.Errorf("telegram rejected message: %w", err)
			}
		}

		if attempt == n.retry.MaxRetries {
			break
		}
		n.logger.Debug().Err(err).Int("attempt", attempt+1).Dur("delay", wait).Msg("retrying notification")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (n *Notifier) delay(attempt int) time.Duration {
	if len(n.retry.RetryDelays) == 0 {
		return time.Second
	}
	if attempt >= len(n.retry.RetryDelays) {
		return n.retry.RetryDelays[len(n.retry.RetryDelays)-1]
	}
	return n.retry.RetryDelays[attempt]
}
