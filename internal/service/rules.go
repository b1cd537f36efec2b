package service

import (
	"context"
	"fmt"
	"time"

	"courtbook/internal/clock"
	"courtbook/internal/lifecycle"
	"courtbook/internal/model"
	"courtbook/internal/propagation"
	"courtbook/internal/recurrence"
	"courtbook/internal/slots"
)

// MaxOccurrenceRangeDays bounds occurrence previews.
const MaxOccurrenceRangeDays = 366

// RuleRequest creates a recurrence rule.
type RuleRequest struct {
	CourtID         int
	StartDate       time.Time
	EndDate         *time.Time
	IntervalDays    int
	StartTime       string
	EndTime         string // optional, checked against StartTime + DurationMinutes
	DurationMinutes int
	Active          *bool // defaults to true
	OwnerID         string
	Comment         string
}

// RuleUpdate is a partial rule edit. Nil fields are left unchanged.
type RuleUpdate struct {
	CourtID         *int
	StartDate       *time.Time
	EndDate         *time.Time
	ClearEndDate    bool
	IntervalDays    *int
	StartTime       *string
	DurationMinutes *int
	Active          *bool
	Comment         *string
}

// CreateRule validates and stores a rule, creates its first occurrence and
// materializes it over the rolling window.
func (s *Service) CreateRule(ctx context.Context, req RuleRequest) (*model.Rule, propagation.Result, error) {
	now := s.clock.Now()
	r := &model.Rule{
		ID:              s.newID(),
		CourtID:         req.CourtID,
		StartDate:       clock.DateOf(req.StartDate),
		IntervalDays:    req.IntervalDays,
		StartTime:       req.StartTime,
		DurationMinutes: req.DurationMinutes,
		Active:          true,
		OwnerID:         req.OwnerID,
		Comment:         req.Comment,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.EndDate != nil {
		end := clock.DateOf(*req.EndDate)
		r.EndDate = &end
	}
	if req.Active != nil {
		r.Active = *req.Active
	}

	if err := s.validateRule(r); err != nil {
		return nil, propagation.Result{}, err
	}
	if req.EndTime != "" && req.EndTime != r.EndTime {
		return nil, propagation.Result{}, model.Invalid("end_time", "must equal start_time plus %d minutes", r.DurationMinutes)
	}

	today := clock.Today(s.clock)
	first, hasFirst := recurrence.NextOnOrAfter(r, today)

	if r.Active {
		if err := s.checkRuleConflicts(ctx, r, today); err != nil {
			return nil, propagation.Result{}, err
		}
		if hasFirst {
			if err := s.checkDateFree(ctx, r, first); err != nil {
				return nil, propagation.Result{}, err
			}
		}
	}

	if err := s.store.InsertRule(ctx, r); err != nil {
		return nil, propagation.Result{}, model.StorageError("insert rule", err)
	}

	var res propagation.Result
	if r.Active && hasFirst {
		res = s.materializeRule(ctx, r, today, first)
	}

	s.logger.Info().
		Str("rule_id", r.ID).
		Int("court", r.CourtID).
		Str("start_date", clock.FormatDate(r.StartDate)).
		Int("interval_days", r.IntervalDays).
		Int("created", res.BookingsCreated).
		Int("errors", len(res.Errors)).
		Msg("rule created")

	return r, res, nil
}

// GetRule returns one rule.
func (s *Service) GetRule(ctx context.Context, id string) (*model.Rule, error) {
	return s.store.GetRule(ctx, id)
}

// ListRules returns every rule, inactive ones included.
func (s *Service) ListRules(ctx context.Context) ([]model.Rule, error) {
	rules, err := s.store.ListRules(ctx, false)
	if err != nil {
		return nil, model.StorageError("list rules", err)
	}
	return rules, nil
}

// UpdateRule edits a rule and carries the change to its future bookings:
// occurrences that no longer apply are cancelled, the rest are moved to the
// new court and time when free. Deactivating a rule stops materialization
// but leaves existing bookings alone.
func (s *Service) UpdateRule(ctx context.Context, id string, upd RuleUpdate) (*model.Rule, propagation.Result, error) {
	current, err := s.store.GetRule(ctx, id)
	if err != nil {
		return nil, propagation.Result{}, err
	}
	old := *current
	r := *current

	if upd.CourtID != nil {
		r.CourtID = *upd.CourtID
	}
	if upd.StartDate != nil {
		r.StartDate = clock.DateOf(*upd.StartDate)
	}
	if upd.ClearEndDate {
		r.EndDate = nil
	} else if upd.EndDate != nil {
		end := clock.DateOf(*upd.EndDate)
		r.EndDate = &end
	}
	if upd.IntervalDays != nil {
		r.IntervalDays = *upd.IntervalDays
	}
	if upd.StartTime != nil {
		r.StartTime = *upd.StartTime
	}
	if upd.DurationMinutes != nil {
		r.DurationMinutes = *upd.DurationMinutes
	}
	if upd.Active != nil {
		r.Active = *upd.Active
	}
	if upd.Comment != nil {
		r.Comment = *upd.Comment
	}

	if err := s.validateRule(&r); err != nil {
		return nil, propagation.Result{}, err
	}

	today := clock.Today(s.clock)
	if r.Active {
		if err := s.checkRuleConflicts(ctx, &r, today); err != nil {
			return nil, propagation.Result{}, err
		}
	}

	now := s.clock.Now()
	r.UpdatedAt = now
	if err := s.store.UpdateRule(ctx, &r); err != nil {
		return nil, propagation.Result{}, model.StorageError("update rule", err)
	}

	res := s.cascadeRule(ctx, &old, &r, today)
	if r.Active {
		_, to := s.runner.Window()
		ensured := s.engine.Ensure(ctx, []model.Rule{r}, today, to)
		res.DatesProcessed += ensured.DatesProcessed
		res.BookingsCreated += ensured.BookingsCreated
		res.Errors = append(res.Errors, ensured.Errors...)
	}

	s.logger.Info().
		Str("rule_id", r.ID).
		Bool("active", r.Active).
		Int("created", res.BookingsCreated).
		Int("errors", len(res.Errors)).
		Msg("rule updated")

	return &r, res, nil
}

// DeleteRule removes the rule together with every booking it produced.
func (s *Service) DeleteRule(ctx context.Context, id string) (int, error) {
	if _, err := s.store.GetRule(ctx, id); err != nil {
		return 0, err
	}

	removed, err := s.store.DeleteBookingsByRule(ctx, id)
	if err != nil {
		return 0, model.StorageError("delete rule bookings", err)
	}
	if err := s.store.DeleteRule(ctx, id); err != nil {
		return removed, model.StorageError("delete rule", err)
	}

	s.logger.Info().Str("rule_id", id).Int("bookings_removed", removed).Msg("rule deleted")
	return removed, nil
}

// RuleOccurrences previews the rule's dates in [from, to].
func (s *Service) RuleOccurrences(ctx context.Context, id string, from, to time.Time) ([]time.Time, error) {
	if to.Before(from) {
		return nil, model.Invalid("to", "must not be before from")
	}
	if clock.DaysBetween(from, to) > MaxOccurrenceRangeDays {
		return nil, model.Invalid("to", "range exceeds %d days", MaxOccurrenceRangeDays)
	}

	r, err := s.store.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	return recurrence.Occurrences(r, from, to)
}

func (s *Service) validateRule(r *model.Rule) error {
	if err := recurrence.Validate(r); err != nil {
		return err
	}
	if r.CourtID < 1 || r.CourtID > s.allocator.Courts() {
		return model.Invalid("court_id", "must be between 1 and %d", s.allocator.Courts())
	}
	if !s.durationAllowed(r.DurationMinutes) {
		return model.Invalid("duration_minutes", "must be one of %v", s.opts.Durations)
	}

	start, end, err := r.SlotOn(r.StartDate)
	if err != nil {
		return model.Invalid("start_time", "%v", err)
	}
	if !slots.Aligned(start, s.opts.Tick) {
		return model.Invalid("start_time", "must be on a %d-minute boundary", int(s.opts.Tick.Minutes()))
	}
	if err := s.checkSpan(clock.DateOf(r.StartDate), start, end); err != nil {
		return err
	}
	r.EndTime = model.FormatClock(end)
	return nil
}

// checkRuleConflicts rejects r when another active rule on the same court
// occupies an overlapping time on a date both rules share.
func (s *Service) checkRuleConflicts(ctx context.Context, r *model.Rule, from time.Time) error {
	rules, err := s.store.ListRules(ctx, true)
	if err != nil {
		return model.StorageError("list rules", err)
	}

	for i := range rules {
		other := &rules[i]
		if other.ID == r.ID || other.CourtID != r.CourtID {
			continue
		}
		date, ok := recurrence.FirstCommonDate(r, other, from)
		if !ok {
			continue
		}
		aStart, aEnd, err := r.SlotOn(date)
		if err != nil {
			return model.Invalid("start_time", "%v", err)
		}
		bStart, bEnd, err := other.SlotOn(date)
		if err != nil {
			continue
		}
		if model.Overlaps(aStart, aEnd, bStart, bEnd) {
			return fmt.Errorf("overlaps rule %s on %s: %w", other.ID, clock.FormatDate(date), model.ErrResourceConflict)
		}
	}
	return nil
}

// checkDateFree rejects r when its court is taken on date by a booking of another origin.
func (s *Service) checkDateFree(ctx context.Context, r *model.Rule, date time.Time) error {
	existing, err := s.store.ListBookingsByDate(ctx, date)
	if err != nil {
		return model.StorageError("list bookings", err)
	}

	others := make([]model.Booking, 0, len(existing))
	for _, b := range existing {
		if b.RuleID != r.ID {
			others = append(others, b)
		}
	}

	start, end, err := r.SlotOn(date)
	if err != nil {
		return model.Invalid("start_time", "%v", err)
	}
	detector := slots.NewDetector(others, s.clock.Now(), s.opts.Tick)
	if !detector.IsCourtFree(r.CourtID, start, end.Sub(start), "") {
		return fmt.Errorf("court %d on %s at %s: %w", r.CourtID, clock.FormatDate(date), r.StartTime, model.ErrResourceConflict)
	}
	return nil
}

// materializeRule creates the first occurrence, even past the horizon, then
// fills the rolling window.
func (s *Service) materializeRule(ctx context.Context, r *model.Rule, today, first time.Time) propagation.Result {
	rules := []model.Rule{*r}
	_, to := s.runner.Window()

	res := s.engine.Ensure(ctx, rules, today, to)
	if first.After(to) {
		extra := s.engine.Ensure(ctx, rules, first, first)
		res.DatesProcessed += extra.DatesProcessed
		res.BookingsCreated += extra.BookingsCreated
		res.Errors = append(res.Errors, extra.Errors...)
	}
	return res
}

// cascadeRule carries a rule edit to its bookings from today on.
func (s *Service) cascadeRule(ctx context.Context, old, r *model.Rule, today time.Time) propagation.Result {
	var res propagation.Result

	bookings, err := s.store.ListBookingsByRule(ctx, r.ID, today)
	if err != nil {
		res.Errors = append(res.Errors, model.ItemError{Date: today, RuleID: r.ID, Err: model.StorageError("list rule bookings", err)})
		return res
	}

	slotChanged := old.CourtID != r.CourtID || old.StartTime != r.StartTime || old.DurationMinutes != r.DurationMinutes
	now := s.clock.Now()

	for i := range bookings {
		b := &bookings[i]
		if b.Cancelled || b.Present || b.Start.Before(now) {
			continue
		}

		if !recurrence.Applies(r, b.Date) {
			if _, err := s.Apply(ctx, b.ID, lifecycle.ActionCancel, "rule-update"); err != nil {
				res.Errors = append(res.Errors, model.ItemError{Date: b.Date, RuleID: r.ID, BookingID: b.ID, Err: err})
			}
			continue
		}

		if !slotChanged && b.Comment == r.Comment {
			continue
		}
		if err := s.moveRuleBooking(ctx, b, r, now); err != nil {
			res.Errors = append(res.Errors, model.ItemError{Date: b.Date, RuleID: r.ID, BookingID: b.ID, Err: err})
		}
	}
	return res
}

func (s *Service) moveRuleBooking(ctx context.Context, b *model.Booking, r *model.Rule, now time.Time) error {
	start, end, err := r.SlotOn(b.Date)
	if err != nil {
		return err
	}

	if r.CourtID != b.CourtID || !start.Equal(b.Start) || !end.Equal(b.End) {
		existing, err := s.store.ListBookingsByDate(ctx, b.Date)
		if err != nil {
			return model.StorageError("list bookings", err)
		}
		detector := slots.NewDetector(existing, now, s.opts.Tick)
		if !detector.IsCourtFree(r.CourtID, start, end.Sub(start), b.ID) {
			return fmt.Errorf("court %d at %s: %w", r.CourtID, model.FormatClock(start), model.ErrResourceConflict)
		}
	}

	b.CourtID = r.CourtID
	b.Start, b.End = start, end
	b.DurationMinutes = r.DurationMinutes
	b.Comment = r.Comment
	b.UpdatedAt = now
	if err := s.store.UpdateBooking(ctx, b); err != nil {
		return model.StorageError("update booking", err)
	}
	return nil
}
