package service

import (
	"context"
	"time"

	"courtbook/internal/clock"
	"courtbook/internal/events"
	"courtbook/internal/model"
)

const chainTimeout = 10 * time.Second

// chainNextOccurrence books the same court and time LegacyChainDays after a
// one-off booking the owner attended. Rule bookings are left to propagation.
func (s *Service) chainNextOccurrence(event events.Event) error {
	b := event.Booking
	if b == nil || b.IsMaterialized() || s.opts.LegacyChainDays <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), chainTimeout)
	defer cancel()

	next := b.Date.AddDate(0, 0, s.opts.LegacyChainDays)
	nextStart := b.Start.AddDate(0, 0, s.opts.LegacyChainDays)

	existing, err := s.store.ListBookingsByDate(ctx, next)
	if err != nil {
		return model.StorageError("list bookings", err)
	}
	for i := range existing {
		e := &existing[i]
		if e.OwnerID == b.OwnerID && e.Start.Equal(nextStart) && !e.Cancelled {
			return nil
		}
	}

	created, err := s.createBooking(ctx, CreateBookingRequest{
		OwnerID:         b.OwnerID,
		Date:            next,
		StartTime:       model.FormatClock(nextStart),
		DurationMinutes: b.DurationMinutes,
		CourtID:         b.CourtID,
		Confirmed:       true,
		Comment:         b.Comment,
	}, "chain")
	if err != nil {
		s.logger.Warn().Err(err).
			Str("booking_id", b.ID).
			Str("date", clock.FormatDate(next)).
			Msg("next occurrence not booked")
		return nil
	}

	s.logger.Debug().Str("booking_id", b.ID).Str("next_id", created.ID).Msg("next occurrence booked")
	return nil
}
