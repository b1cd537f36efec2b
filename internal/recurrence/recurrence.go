// Package recurrence evaluates fixed-interval recurrence rules against calendar dates.
package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"courtbook/internal/clock"
	"courtbook/internal/model"
)

// Validate checks the shape of a rule's recurrence fields.
func Validate(r *model.Rule) error {
	if r.StartDate.IsZero() {
		return model.Invalid("start_date", "is required")
	}
	if r.IntervalDays < 1 {
		return model.Invalid("interval_days", "must be at least 1")
	}
	if r.EndDate != nil && clock.DaysBetween(r.StartDate, *r.EndDate) < 0 {
		return model.Invalid("end_date", "must not be before start_date")
	}
	return nil
}

// Applies reports whether date is one of the rule's occurrence dates.
func Applies(r *model.Rule, date time.Time) bool {
	if r.IntervalDays < 1 {
		return false
	}
	diff := clock.DaysBetween(r.StartDate, date)
	if diff < 0 {
		return false
	}
	if r.EndDate != nil && clock.DaysBetween(*r.EndDate, date) > 0 {
		return false
	}
	return diff%r.IntervalDays == 0
}

func toRRule(r *model.Rule) (*rrule.RRule, error) {
	opt := rrule.ROption{
		Freq:     rrule.DAILY,
		Interval: r.IntervalDays,
		Dtstart:  clock.DateOf(r.StartDate),
	}
	if r.EndDate != nil {
		opt.Until = clock.DateOf(r.EndDate.In(r.StartDate.Location()))
	}
	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("build rrule for %s: %w", r.ID, err)
	}
	return rule, nil
}

// Occurrences lists the rule's dates inside [from, to], both ends inclusive.
func Occurrences(r *model.Rule, from, to time.Time) ([]time.Time, error) {
	if err := Validate(r); err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, nil
	}

	rule, err := toRRule(r)
	if err != nil {
		return nil, err
	}

	loc := r.StartDate.Location()
	times := rule.Between(clock.DateOf(from.In(loc)), clock.DateOf(to.In(loc)), true)
	out := make([]time.Time, 0, len(times))
	for _, t := range times {
		out = append(out, clock.DateOf(t.In(loc)))
	}
	return out, nil
}

// NextOnOrAfter returns the first occurrence date not before date.
func NextOnOrAfter(r *model.Rule, date time.Time) (time.Time, bool) {
	if Validate(r) != nil {
		return time.Time{}, false
	}
	rule, err := toRRule(r)
	if err != nil {
		return time.Time{}, false
	}
	next := rule.After(clock.DateOf(date.In(r.StartDate.Location())), true)
	if next.IsZero() {
		return time.Time{}, false
	}
	return clock.DateOf(next), true
}

// FirstCommonDate returns the earliest date not before from on which both rules occur.
func FirstCommonDate(a, b *model.Rule, from time.Time) (time.Time, bool) {
	if a.IntervalDays < 1 || b.IntervalDays < 1 {
		return time.Time{}, false
	}

	start := clock.DateOf(from.In(a.StartDate.Location()))
	for _, s := range []time.Time{a.StartDate, b.StartDate} {
		if clock.DaysBetween(start, s) > 0 {
			start = clock.DateOf(s.In(a.StartDate.Location()))
		}
	}

	cursor, ok := nextApplicable(a, start)
	if !ok {
		return time.Time{}, false
	}

	// After lcm(a, b) days the pattern of coincidences repeats.
	steps := lcm(a.IntervalDays, b.IntervalDays) / a.IntervalDays
	for i := 0; i <= steps; i++ {
		if !Applies(a, cursor) {
			return time.Time{}, false
		}
		if Applies(b, cursor) {
			return cursor, true
		}
		cursor = cursor.AddDate(0, 0, a.IntervalDays)
	}

	return time.Time{}, false
}

func nextApplicable(r *model.Rule, date time.Time) (time.Time, bool) {
	diff := clock.DaysBetween(r.StartDate, date)
	if diff < 0 {
		diff = 0
	}
	if rem := diff % r.IntervalDays; rem != 0 {
		diff += r.IntervalDays - rem
	}
	next := clock.DateOf(r.StartDate).AddDate(0, 0, diff)
	if r.EndDate != nil && clock.DaysBetween(*r.EndDate, next) > 0 {
		return time.Time{}, false
	}
	return next, true
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	return a / gcd(a, b) * b
}
