package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"courtbook/internal/clock"
	"courtbook/internal/events"
	"courtbook/internal/lifecycle"
	"courtbook/internal/metrics"
	"courtbook/internal/model"
	"courtbook/internal/recurrence"
	"courtbook/internal/slots"
)

// CreateBookingRequest is a direct booking request.
type CreateBookingRequest struct {
	OwnerID         string
	Date            time.Time
	StartTime       string
	EndTime         string // optional, checked against StartTime + DurationMinutes
	DurationMinutes int
	CourtID         int // 0 picks the lowest free court
	Confirmed       bool
	Comment         string
}

// BookingUpdate is a partial edit. Nil fields are left unchanged.
type BookingUpdate struct {
	StartTime       *string
	DurationMinutes *int
	CourtID         *int
	Comment         *string
}

// Empty reports whether the update changes nothing.
func (u BookingUpdate) Empty() bool {
	return u.StartTime == nil && u.DurationMinutes == nil && u.CourtID == nil && u.Comment == nil
}

// CreateBooking validates the request, allocates a court and stores the booking.
func (s *Service) CreateBooking(ctx context.Context, req CreateBookingRequest) (*model.Booking, error) {
	return s.createBooking(ctx, req, "direct")
}

func (s *Service) createBooking(ctx context.Context, req CreateBookingRequest, source string) (*model.Booking, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, model.Invalid("owner_id", "is required")
	}
	if req.Date.IsZero() {
		return nil, model.Invalid("date", "is required")
	}
	if !s.durationAllowed(req.DurationMinutes) {
		return nil, model.Invalid("duration_minutes", "must be one of %v", s.opts.Durations)
	}

	date := clock.DateOf(req.Date)
	start, err := model.TimeOnDate(date, req.StartTime)
	if err != nil {
		return nil, model.Invalid("start_time", "%v", err)
	}
	if !slots.Aligned(start, s.opts.Tick) {
		return nil, model.Invalid("start_time", "must be on a %d-minute boundary", int(s.opts.Tick.Minutes()))
	}
	duration := time.Duration(req.DurationMinutes) * time.Minute
	end := start.Add(duration)
	if req.EndTime != "" && req.EndTime != model.FormatClock(end) {
		return nil, model.Invalid("end_time", "must equal start_time plus %d minutes", req.DurationMinutes)
	}
	if err := s.checkSpan(date, start, end); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if start.Before(now) {
		return nil, model.Invalid("start_time", "is in the past")
	}

	existing, err := s.occupants(ctx, date)
	if err != nil {
		return nil, err
	}

	detector := slots.NewDetector(existing, now, s.opts.Tick)
	court, err := s.allocator.Assign(detector, req.CourtID, start, duration, "")
	if err != nil {
		metrics.IncAllocationFailure(allocationReason(err))
		return nil, err
	}

	b := &model.Booking{
		ID:              s.newID(),
		CourtID:         court,
		Date:            date,
		Start:           start,
		End:             end,
		DurationMinutes: req.DurationMinutes,
		Confirmed:       req.Confirmed,
		Comment:         req.Comment,
		OwnerID:         req.OwnerID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if !b.Confirmed {
		hold := now.Add(s.opts.Hold)
		b.HoldExpiry = &hold
	}

	if err := s.store.InsertBooking(ctx, b); err != nil {
		return nil, model.StorageError("insert booking", err)
	}

	metrics.IncBookingCreated(string(b.Status()), source)
	s.logger.Info().
		Str("booking_id", b.ID).
		Str("date", clock.FormatDate(date)).
		Str("start", model.FormatClock(start)).
		Int("court", court).
		Str("status", string(b.Status())).
		Str("source", source).
		Msg("booking created")

	s.publish(events.Event{Type: events.BookingCreated, Booking: b})
	return b, nil
}

// GetBooking returns one booking.
func (s *Service) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	return s.store.GetBooking(ctx, id)
}

// Schedule reconciles and materializes date, then returns its bookings
// ordered by start time.
func (s *Service) Schedule(ctx context.Context, date time.Time) ([]model.Booking, error) {
	date = clock.DateOf(date)

	res, err := s.runner.RunDate(ctx, date)
	if err != nil {
		return nil, err
	}
	for _, itemErr := range res.Errors {
		s.logger.Warn().Err(itemErr).Str("date", clock.FormatDate(date)).Msg("lazy propagation item failed")
	}

	bookings, err := s.store.ListBookingsByDate(ctx, date)
	if err != nil {
		return nil, model.StorageError("list bookings", err)
	}
	return bookings, nil
}

// Availability lays the slot grid over date with the free courts per tick.
func (s *Service) Availability(ctx context.Context, date time.Time) ([]slots.Slot, error) {
	bookings, err := s.occupants(ctx, date)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	detector := slots.NewDetector(bookings, now, s.opts.Tick)
	return s.generator.GenerateSlots(clock.DateOf(date), s.opts.Hours, detector, now)
}

// DurationOptions lists the allowed durations bookable from startTime on date.
func (s *Service) DurationOptions(ctx context.Context, date time.Time, startTime string) ([]int, error) {
	start, err := model.TimeOnDate(clock.DateOf(date), startTime)
	if err != nil {
		return nil, model.Invalid("start", "%v", err)
	}
	grid, err := s.Availability(ctx, date)
	if err != nil {
		return nil, err
	}
	return slots.DurationOptions(grid, start, s.opts.Durations), nil
}

// Transition applies a {field, value} lifecycle command to a booking.
func (s *Service) Transition(ctx context.Context, id, field string, value bool, actor string) (*model.Booking, error) {
	action, err := lifecycle.ActionFor(field, value)
	if err != nil {
		return nil, err
	}
	return s.Apply(ctx, id, action, actor)
}

// Apply runs action against the booking and persists the result.
func (s *Service) Apply(ctx context.Context, id string, action lifecycle.Action, actor string) (*model.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	from := b.Status()
	if !s.machine.CanApply(from, action) {
		return nil, fmt.Errorf("booking %s: %s from %s: %w", id, action, from, model.ErrInvalidTransition)
	}

	now := s.clock.Now()
	if lifecycle.Reoccupies(action) {
		existing, err := s.occupants(ctx, b.Date)
		if err != nil {
			return nil, err
		}
		detector := slots.NewDetector(existing, now, s.opts.Tick)
		if !detector.IsCourtFree(b.CourtID, b.Start, b.Duration(), b.ID) {
			metrics.IncAllocationFailure("conflict")
			return nil, fmt.Errorf("%s booking %s on court %d: %w", action, id, b.CourtID, model.ErrResourceConflict)
		}
	}

	to, err := s.machine.Apply(b, action)
	if err != nil {
		return nil, err
	}
	b.UpdatedAt = now

	if err := s.store.UpdateBooking(ctx, b); err != nil {
		return nil, model.StorageError("update booking", err)
	}

	metrics.IncBookingTransition(string(action))
	s.record(ctx, model.Transition{
		BookingID: b.ID,
		Action:    string(action),
		From:      from,
		To:        to,
		Actor:     actor,
		CreatedAt: now,
	})

	switch action {
	case lifecycle.ActionMarkPresent:
		s.publish(events.Event{Type: events.BookingPresent, Booking: b})
	case lifecycle.ActionCancel, lifecycle.ActionMarkAbsent:
		s.publish(events.Event{Type: events.BookingCancelled, Booking: b})
	case lifecycle.ActionRestore:
		s.publish(events.Event{Type: events.BookingRestored, Booking: b})
	}

	return b, nil
}

// UpdateBooking edits time, court or comment. Time and court changes of an
// active booking are conflict-checked against its date, excluding itself.
func (s *Service) UpdateBooking(ctx context.Context, id string, upd BookingUpdate) (*model.Booking, error) {
	if upd.Empty() {
		return nil, model.Invalid("updates", "nothing to update")
	}

	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	start, minutes, court := b.Start, b.DurationMinutes, b.CourtID
	if upd.StartTime != nil {
		if start, err = model.TimeOnDate(b.Date, *upd.StartTime); err != nil {
			return nil, model.Invalid("start_time", "%v", err)
		}
		if !slots.Aligned(start, s.opts.Tick) {
			return nil, model.Invalid("start_time", "must be on a %d-minute boundary", int(s.opts.Tick.Minutes()))
		}
	}
	if upd.DurationMinutes != nil {
		minutes = *upd.DurationMinutes
		if !s.durationAllowed(minutes) {
			return nil, model.Invalid("duration_minutes", "must be one of %v", s.opts.Durations)
		}
	}
	if upd.CourtID != nil {
		court = *upd.CourtID
		if court < 1 || court > s.allocator.Courts() {
			return nil, model.Invalid("court_id", "must be between 1 and %d", s.allocator.Courts())
		}
	}

	now := s.clock.Now()
	duration := time.Duration(minutes) * time.Minute
	if err := s.checkSpan(b.Date, start, start.Add(duration)); err != nil {
		return nil, err
	}
	moved := !start.Equal(b.Start) || minutes != b.DurationMinutes || court != b.CourtID

	// Inactive bookings are checked again when confirm or restore puts them back.
	if moved && b.IsActive(now) {
		existing, err := s.occupants(ctx, b.Date)
		if err != nil {
			return nil, err
		}
		detector := slots.NewDetector(existing, now, s.opts.Tick)
		if court, err = s.allocator.Assign(detector, court, start, duration, b.ID); err != nil {
			metrics.IncAllocationFailure(allocationReason(err))
			return nil, err
		}
	}

	b.Start, b.End = start, start.Add(duration)
	b.DurationMinutes = minutes
	b.CourtID = court
	if upd.Comment != nil {
		b.Comment = *upd.Comment
	}
	b.UpdatedAt = now

	if err := s.store.UpdateBooking(ctx, b); err != nil {
		return nil, model.StorageError("update booking", err)
	}
	return b, nil
}

// checkSpan keeps [start, end) inside opening hours. Without configured hours
// the span must still end by midnight so it never leaves its own date.
func (s *Service) checkSpan(date, start, end time.Time) error {
	openAt, closeAt := date, date.AddDate(0, 0, 1)
	if s.opts.Hours.Open != "" {
		t, err := model.TimeOnDate(date, s.opts.Hours.Open)
		if err != nil {
			return fmt.Errorf("opening time: %w", err)
		}
		openAt = t
	}
	if s.opts.Hours.Close != "" {
		t, err := model.TimeOnDate(date, s.opts.Hours.Close)
		if err != nil {
			return fmt.Errorf("closing time: %w", err)
		}
		closeAt = t
	}

	if start.Before(openAt) {
		return model.Invalid("start_time", "must not be before %s", model.FormatClock(openAt))
	}
	if end.After(closeAt) {
		return model.Invalid("end_time", "must not be after %s", model.FormatClock(closeAt))
	}
	return nil
}

// occupants returns the bookings holding courts on date. Inside the rolling
// window the date is reconciled and materialized first. Past the window,
// occurrences of active rules are projected without being stored.
func (s *Service) occupants(ctx context.Context, date time.Time) ([]model.Booking, error) {
	date = clock.DateOf(date)
	from, to := s.runner.Window()
	inWindow := clock.DaysBetween(from, date) >= 0 && clock.DaysBetween(date, to) >= 0

	if inWindow {
		res, err := s.runner.RunDate(ctx, date)
		if err != nil {
			return nil, err
		}
		for _, itemErr := range res.Errors {
			s.logger.Warn().Err(itemErr).Str("date", clock.FormatDate(date)).Msg("lazy propagation item failed")
		}
	}

	existing, err := s.store.ListBookingsByDate(ctx, date)
	if err != nil {
		return nil, model.StorageError("list bookings", err)
	}
	if clock.DaysBetween(date, to) >= 0 {
		return existing, nil
	}

	rules, err := s.store.ListRules(ctx, true)
	if err != nil {
		return nil, model.StorageError("list rules", err)
	}
	return projectRules(existing, rules, date, s.clock.Now()), nil
}

// projectRules adds the occurrence of every applicable rule that has no
// booking of any status on date yet.
func projectRules(existing []model.Booking, rules []model.Rule, date, now time.Time) []model.Booking {
	present := make(map[string]bool, len(existing))
	for i := range existing {
		if existing[i].RuleID != "" {
			present[existing[i].RuleID] = true
		}
	}

	out := existing
	for i := range rules {
		r := &rules[i]
		if present[r.ID] || !recurrence.Applies(r, date) {
			continue
		}
		b, err := r.Materialize("rule:"+r.ID, date, now)
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out
}

func (s *Service) record(ctx context.Context, t model.Transition) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordTransition(ctx, t); err != nil {
		s.logger.Warn().Err(err).Str("booking_id", t.BookingID).Msg("failed to record transition")
	}
}

func allocationReason(err error) string {
	switch {
	case errors.Is(err, model.ErrResourceExhausted):
		return "exhausted"
	case errors.Is(err, model.ErrResourceConflict):
		return "conflict"
	case errors.Is(err, model.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
