// Package propagation materializes recurring rules into dated bookings and
// keeps the resulting booking set tidy.
package propagation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"courtbook/internal/clock"
	"courtbook/internal/metrics"
	"courtbook/internal/model"
	"courtbook/internal/recurrence"
	"courtbook/internal/slots"
)

// BookingStore is the slice of storage the engine needs.
type BookingStore interface {
	ListBookingsByDate(ctx context.Context, date time.Time) ([]model.Booking, error)
	InsertBookings(ctx context.Context, batch []model.Booking) error
}

// Result summarizes one pass over a window.
type Result struct {
	DatesProcessed    int
	BookingsCreated   int
	DuplicatesRemoved int
	MaterializedWiped int
	Errors            []model.ItemError
}

func (r *Result) merge(other Result) {
	r.DatesProcessed += other.DatesProcessed
	r.BookingsCreated += other.BookingsCreated
	r.DuplicatesRemoved += other.DuplicatesRemoved
	r.MaterializedWiped += other.MaterializedWiped
	r.Errors = append(r.Errors, other.Errors...)
}

// Engine walks a date window and creates the missing (date, rule) bookings.
// The existence check is read-then-write and gives idempotency for
// sequential runs only; concurrent runs may duplicate, which the
// Reconciler repairs.
type Engine struct {
	bookings BookingStore
	clock    clock.Clock
	tick     time.Duration
	newID    func() string
	logger   zerolog.Logger
}

// NewEngine creates an engine over store.
func NewEngine(store BookingStore, clk clock.Clock, tick time.Duration, logger *zerolog.Logger) *Engine {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "propagation").Logger()
	}
	return &Engine{
		bookings: store,
		clock:    clk,
		tick:     tick,
		newID:    uuid.NewString,
		logger:   l,
	}
}

// Ensure processes every date in [from, to] ascending. Failures are recorded
// per item and never stop the pass; only context cancellation does.
func (e *Engine) Ensure(ctx context.Context, rules []model.Rule, from, to time.Time) Result {
	var res Result

	active := make([]model.Rule, 0, len(rules))
	for _, r := range rules {
		if r.Active {
			active = append(active, r)
		}
	}

	for date := clock.DateOf(from); !date.After(to); date = date.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			res.Errors = append(res.Errors, model.ItemError{Date: date, Err: err})
			break
		}

		created, errs := e.ensureDate(ctx, active, date)
		res.DatesProcessed++
		res.BookingsCreated += created
		res.Errors = append(res.Errors, errs...)
	}

	metrics.AddPropagationCreated(res.BookingsCreated)
	metrics.AddPropagationErrors(len(res.Errors))

	e.logger.Debug().
		Str("from", clock.FormatDate(from)).
		Str("to", clock.FormatDate(to)).
		Int("dates", res.DatesProcessed).
		Int("created", res.BookingsCreated).
		Int("errors", len(res.Errors)).
		Msg("ensure pass finished")

	return res
}

func (e *Engine) ensureDate(ctx context.Context, rules []model.Rule, date time.Time) (int, []model.ItemError) {
	applicable := make([]model.Rule, 0, len(rules))
	for i := range rules {
		if recurrence.Applies(&rules[i], date) {
			applicable = append(applicable, rules[i])
		}
	}
	if len(applicable) == 0 {
		return 0, nil
	}

	existing, err := e.bookings.ListBookingsByDate(ctx, date)
	if err != nil {
		return 0, []model.ItemError{{Date: date, Err: model.StorageError("list bookings", err)}}
	}

	// Any row for (date, rule) counts, cancelled ones included.
	materialized := make(map[string]bool, len(existing))
	for _, b := range existing {
		if b.RuleID != "" {
			materialized[b.RuleID] = true
		}
	}

	now := e.clock.Now()
	var (
		batch []model.Booking
		errs  []model.ItemError
	)

	for i := range applicable {
		rule := &applicable[i]
		if materialized[rule.ID] {
			continue
		}

		b, err := rule.Materialize(e.newID(), date, now)
		if err != nil {
			errs = append(errs, model.ItemError{Date: date, RuleID: rule.ID, Err: fmt.Errorf("materialize: %w", err)})
			continue
		}

		detector := slots.NewDetector(append(existing, batch...), now, e.tick)
		if !detector.IsCourtFree(b.CourtID, b.Start, b.Duration(), "") {
			errs = append(errs, model.ItemError{
				Date:   date,
				RuleID: rule.ID,
				Err:    fmt.Errorf("court %d at %s: %w", b.CourtID, model.FormatClock(b.Start), model.ErrResourceConflict),
			})
			continue
		}

		batch = append(batch, b)
		materialized[rule.ID] = true
	}

	if len(batch) == 0 {
		return 0, errs
	}

	if err := e.bookings.InsertBookings(ctx, batch); err != nil {
		for _, b := range batch {
			errs = append(errs, model.ItemError{Date: date, RuleID: b.RuleID, Err: model.StorageError("insert bookings", err)})
		}
		e.logger.Warn().Err(err).Str("date", clock.FormatDate(date)).Int("batch", len(batch)).Msg("batch insert failed")
		return 0, errs
	}

	return len(batch), errs
}
