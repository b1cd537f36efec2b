package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtbook/internal/events"
	"courtbook/internal/model"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	errs []error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return tgbotapi.Message{}, err
		}
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

var fastRetry = RetryConfig{MaxRetries: 2, RetryDelays: []time.Duration{time.Millisecond}}

func pendingBooking() *model.Booking {
	start := time.Date(2024, 1, 8, 18, 0, 0, 0, time.UTC)
	hold := start.Add(-time.Hour)
	return &model.Booking{
		ID: "b1", CourtID: 2, Date: time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC),
		Start: start, End: start.Add(90 * time.Minute), OwnerID: "alice", HoldExpiry: &hold,
	}
}

func TestNotifier_BookingRequested(t *testing.T) {
	sender := &fakeSender{}
	n := New(sender, []int64{10, 20}, fastRetry, nil)

	require.NoError(t, n.BookingRequested(context.Background(), pendingBooking()))
	require.Len(t, sender.sent, 2)
	assert.Equal(t, int64(10), sender.sent[0].ChatID)
	assert.Contains(t, sender.sent[0].Text, "Court 2, 2024-01-08 18:00-19:30")
	assert.Contains(t, sender.sent[0].Text, "Hold expires at 17:00")
}

func TestNotifier_RetriesRateLimit(t *testing.T) {
	sender := &fakeSender{errs: []error{&tgbotapi.Error{Code: 429, Message: "Too Many Requests"}, nil}}
	n := New(sender, []int64{10}, fastRetry, nil)

	require.NoError(t, n.PropagationFailed(context.Background(), []model.ItemError{
		{Date: time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), RuleID: "r1", Err: model.ErrResourceConflict},
	}))
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].Text, "2024-01-08 rule r1")
}

func TestNotifier_GivesUp(t *testing.T) {
	boom := errors.New("network down")
	sender := &fakeSender{errs: []error{boom, boom, boom}}
	n := New(sender, []int64{10}, fastRetry, nil)

	err := n.BookingRequested(context.Background(), pendingBooking())
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, sender.sent)

	forbidden := &fakeSender{errs: []error{&tgbotapi.Error{Code: 403, Message: "bot was blocked"}}}
	err = New(forbidden, []int64{10}, fastRetry, nil).BookingRequested(context.Background(), pendingBooking())
	assert.Error(t, err)
	assert.Empty(t, forbidden.errs, "403 is not retried")
}

func TestNotifier_DisabledAndEvents(t *testing.T) {
	disabled := New(nil, []int64{10}, fastRetry, nil)
	assert.False(t, disabled.Enabled())
	assert.NoError(t, disabled.BookingRequested(context.Background(), pendingBooking()))

	sender := &fakeSender{}
	n := New(sender, []int64{10}, fastRetry, nil)
	bus := events.NewEventBus(nil)
	n.Subscribe(bus)

	confirmed := pendingBooking()
	confirmed.Confirmed = true
	bus.Publish(events.Event{Type: events.BookingCreated, Booking: confirmed})
	assert.Empty(t, sender.sent, "confirmed bookings need no operator action")

	bus.Publish(events.Event{Type: events.BookingCreated, Booking: pendingBooking()})
	assert.Len(t, sender.sent, 1)

	bus.Publish(events.Event{Type: events.PropagationFailure})
	assert.Len(t, sender.sent, 1, "empty error lists are not sent")
}
