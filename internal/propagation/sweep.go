package propagation

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"courtbook/internal/clock"
	"courtbook/internal/events"
	"courtbook/internal/metrics"
	"courtbook/internal/model"
)

// SweepStore is the slice of storage the sweeper needs.
type SweepStore interface {
	ListBookingsByDate(ctx context.Context, date time.Time) ([]model.Booking, error)
	MarkPresent(ctx context.Context, id string, now time.Time) (bool, error)
}

// Publisher receives lifecycle events.
type Publisher interface {
	Publish(event events.Event)
}

// SweepResult summarizes one completion sweep.
type SweepResult struct {
	Completed int
	Errors    []model.ItemError
}

// Sweeper marks today's ended bookings as present.
type Sweeper struct {
	store     SweepStore
	clock     clock.Clock
	publisher Publisher
	logger    zerolog.Logger
}

// NewSweeper creates a sweeper. publisher may be nil.
func NewSweeper(store SweepStore, clk clock.Clock, publisher Publisher, logger *zerolog.Logger) *Sweeper {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "sweeper").Logger()
	}
	return &Sweeper{store: store, clock: clk, publisher: publisher, logger: l}
}

// Sweep is safe to run repeatedly or concurrently: the store only flips rows
// that are still neither present nor cancelled.
func (s *Sweeper) Sweep(ctx context.Context) SweepResult {
	var res SweepResult

	now := s.clock.Now()
	today := clock.DateOf(now)

	bookings, err := s.store.ListBookingsByDate(ctx, today)
	if err != nil {
		res.Errors = append(res.Errors, model.ItemError{Date: today, Err: model.StorageError("list bookings", err)})
		return res
	}

	for i := range bookings {
		b := &bookings[i]
		if b.Cancelled || b.Present || b.End.After(now) {
			continue
		}

		changed, err := s.store.MarkPresent(ctx, b.ID, now)
		if err != nil {
			res.Errors = append(res.Errors, model.ItemError{Date: today, BookingID: b.ID, Err: model.StorageError("mark present", err)})
			continue
		}
		if !changed {
			continue
		}

		res.Completed++
		b.Present = true
		b.UpdatedAt = now
		if s.publisher != nil {
			s.publisher.Publish(events.Event{Type: events.BookingPresent, Booking: b, CreatedAt: now})
		}
	}

	metrics.AddSweepCompleted(res.Completed)
	if res.Completed > 0 {
		s.logger.Info().Int("completed", res.Completed).Str("date", clock.FormatDate(today)).Msg("completion sweep finished")
	}

	return res
}
