package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"courtbook/internal/model"
)

func TestEventBus_PublishToSubscribers(t *testing.T) {
	bus := NewEventBus(nil)

	var got []string
	bus.Subscribe(BookingPresent, func(e Event) error {
		got = append(got, "first:"+e.Booking.ID)
		return errors.New("boom")
	})
	bus.Subscribe(BookingPresent, func(e Event) error {
		got = append(got, "second:"+e.Booking.ID)
		assert.False(t, e.CreatedAt.IsZero())
		return nil
	})
	bus.Subscribe(BookingCancelled, func(e Event) error {
		got = append(got, "cancelled")
		return nil
	})

	bus.Publish(Event{Type: BookingPresent, Booking: &model.Booking{ID: "b1"}})

	assert.Equal(t, []string{"first:b1", "second:b1"}, got)
}

func TestEventBus_NoSubscribers(t *testing.T) {
	bus := NewEventBus(nil)
	assert.NotPanics(t, func() {
		bus.Publish(Event{Type: PropagationFailure})
	})
}

func TestEventBus_HandlerPanicIsContained(t *testing.T) {
	bus := NewEventBus(nil)

	delivered := false
	bus.Subscribe(BookingPresent, func(e Event) error {
		panic("nil booking")
	})
	bus.Subscribe(BookingPresent, func(e Event) error {
		delivered = true
		return nil
	})

	assert.NotPanics(t, func() {
		bus.Publish(Event{Type: BookingPresent})
	})
	assert.True(t, delivered)
}
