package propagation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"courtbook/internal/clock"
	"courtbook/internal/metrics"
	"courtbook/internal/model"
)

// Store is everything a full regeneration pass touches.
type Store interface {
	BookingStore
	DedupeStore
	ListRules(ctx context.Context, activeOnly bool) ([]model.Rule, error)
	DeleteMaterializedInRange(ctx context.Context, from, to time.Time) (int, error)
}

// Options tune a Run.
type Options struct {
	// WipeFirst deletes every materialized booking in the window before
	// regenerating, cancelled occurrences included.
	WipeFirst bool
	Trigger   string
}

// Runner combines dedupe and ensure over a window.
type Runner struct {
	store      Store
	engine     *Engine
	reconciler *Reconciler
	clock      clock.Clock
	horizon    int
	logger     zerolog.Logger
}

// NewRunner creates a runner keeping [today, today+horizonDays] populated.
func NewRunner(store Store, engine *Engine, reconciler *Reconciler, clk clock.Clock, horizonDays int, logger *zerolog.Logger) *Runner {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "runner").Logger()
	}
	return &Runner{
		store:      store,
		engine:     engine,
		reconciler: reconciler,
		clock:      clk,
		horizon:    horizonDays,
		logger:     l,
	}
}

// Window returns the rolling propagation window for the current day.
func (r *Runner) Window() (time.Time, time.Time) {
	today := clock.Today(r.clock)
	return today, today.AddDate(0, 0, r.horizon)
}

// RunHorizon runs over the rolling window.
func (r *Runner) RunHorizon(ctx context.Context, opts Options) (Result, error) {
	from, to := r.Window()
	return r.Run(ctx, from, to, opts)
}

// Run dedupes every date in [from, to], optionally wipes materialized
// bookings, then ensures all active rules. Only a failure to load rules
// aborts; everything else is recorded per item.
func (r *Runner) Run(ctx context.Context, from, to time.Time, opts Options) (Result, error) {
	if to.Before(from) {
		return Result{}, model.Invalid("to", "must not be before from")
	}

	trigger := opts.Trigger
	if trigger == "" {
		trigger = "manual"
	}
	metrics.IncPropagationRun(trigger)

	rules, err := r.store.ListRules(ctx, true)
	if err != nil {
		return Result{}, model.StorageError("list rules", err)
	}

	var res Result
	for date := clock.DateOf(from); !date.After(to); date = date.AddDate(0, 0, 1) {
		d := r.reconciler.Dedupe(ctx, date)
		res.DuplicatesRemoved += d.DuplicatesRemoved
		res.Errors = append(res.Errors, d.Errors...)
	}

	if opts.WipeFirst {
		wiped, err := r.store.DeleteMaterializedInRange(ctx, from, to)
		if err != nil {
			res.Errors = append(res.Errors, model.ItemError{Date: from, Err: model.StorageError("wipe materialized", err)})
		}
		res.MaterializedWiped = wiped
	}

	res.merge(r.engine.Ensure(ctx, rules, from, to))

	event := r.logger.Info()
	if len(res.Errors) > 0 {
		event = r.logger.Warn()
	}
	event.
		Str("trigger", trigger).
		Str("from", clock.FormatDate(from)).
		Str("to", clock.FormatDate(to)).
		Bool("wipe_first", opts.WipeFirst).
		Int("dates", res.DatesProcessed).
		Int("created", res.BookingsCreated).
		Int("duplicates_removed", res.DuplicatesRemoved).
		Int("errors", len(res.Errors)).
		Msg("propagation run finished")

	return res, nil
}

// RunDate dedupes a single date and, unless it lies in the past, ensures it.
func (r *Runner) RunDate(ctx context.Context, date time.Time) (Result, error) {
	res := r.reconciler.Dedupe(ctx, date)

	if clock.DaysBetween(clock.Today(r.clock), date) < 0 {
		return res, nil
	}

	rules, err := r.store.ListRules(ctx, true)
	if err != nil {
		return res, fmt.Errorf("ensure %s: %w", clock.FormatDate(date), model.StorageError("list rules", err))
	}

	ensured := r.engine.Ensure(ctx, rules, date, date)
	res.BookingsCreated += ensured.BookingsCreated
	res.Errors = append(res.Errors, ensured.Errors...)
	return res, nil
}
