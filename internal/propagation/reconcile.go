package propagation

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"courtbook/internal/clock"
	"courtbook/internal/metrics"
	"courtbook/internal/model"
)

// DedupeStore is the slice of storage the reconciler needs.
type DedupeStore interface {
	ListBookingsByDate(ctx context.Context, date time.Time) ([]model.Booking, error)
	DeleteBooking(ctx context.Context, id string) error
}

// Reconciler collapses duplicate (date, rule) materializations to one row.
type Reconciler struct {
	store  DedupeStore
	logger zerolog.Logger
}

// NewReconciler creates a reconciler over store.
func NewReconciler(store DedupeStore, logger *zerolog.Logger) *Reconciler {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "reconcile").Logger()
	}
	return &Reconciler{store: store, logger: l}
}

// Dedupe keeps the first non-cancelled booking of each rule group on date,
// or the oldest one when all are cancelled, and deletes the rest.
func (r *Reconciler) Dedupe(ctx context.Context, date time.Time) Result {
	res := Result{DatesProcessed: 1}

	bookings, err := r.store.ListBookingsByDate(ctx, date)
	if err != nil {
		res.Errors = append(res.Errors, model.ItemError{Date: date, Err: model.StorageError("list bookings", err)})
		return res
	}

	sort.SliceStable(bookings, func(i, j int) bool {
		return bookings[i].CreatedAt.Before(bookings[j].CreatedAt)
	})

	groups := make(map[string][]model.Booking)
	var order []string
	for _, b := range bookings {
		if b.RuleID == "" {
			continue
		}
		if _, ok := groups[b.RuleID]; !ok {
			order = append(order, b.RuleID)
		}
		groups[b.RuleID] = append(groups[b.RuleID], b)
	}

	for _, ruleID := range order {
		group := groups[ruleID]
		if len(group) < 2 {
			continue
		}

		keep := 0
		for i, b := range group {
			if !b.Cancelled {
				keep = i
				break
			}
		}

		for i, b := range group {
			if i == keep {
				continue
			}
			if err := r.store.DeleteBooking(ctx, b.ID); err != nil {
				res.Errors = append(res.Errors, model.ItemError{
					Date:      date,
					RuleID:    ruleID,
					BookingID: b.ID,
					Err:       model.StorageError("delete duplicate", err),
				})
				continue
			}
			res.DuplicatesRemoved++
		}

		r.logger.Info().
			Str("date", clock.FormatDate(date)).
			Str("rule_id", ruleID).
			Str("kept", group[keep].ID).
			Int("group", len(group)).
			Msg("collapsed duplicate materializations")
	}

	metrics.AddDedupeRemoved(res.DuplicatesRemoved)
	return res
}
