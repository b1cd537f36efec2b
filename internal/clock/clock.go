// Package clock supplies the current instant in the business's fixed local offset.
package clock

import (
	"fmt"
	"sync"
	"time"
)

// Clock returns the current instant.
type Clock interface {
	Now() time.Time
}

// Zone builds a fixed-offset location from an hour offset, e.g. -3 for UTC-3.
func Zone(offsetHours int) *time.Location {
	if offsetHours == 0 {
		return time.FixedZone("UTC", 0)
	}
	return time.FixedZone(fmt.Sprintf("UTC%+d", offsetHours), offsetHours*60*60)
}

// System reads the wall clock and converts it into the business zone.
type System struct {
	loc *time.Location
}

// NewSystem returns a wall clock bound to loc. A nil loc means UTC.
func NewSystem(loc *time.Location) *System {
	if loc == nil {
		loc = time.UTC
	}
	return &System{loc: loc}
}

func (s *System) Now() time.Time {
	return time.Now().In(s.loc)
}

// Location returns the business zone.
func (s *System) Location() *time.Location {
	return s.loc
}

// Fixed is a controllable clock for tests and replays.
type Fixed struct {
	mu      sync.Mutex
	current time.Time
}

// NewFixed returns a clock frozen at t.
func NewFixed(t time.Time) *Fixed {
	return &Fixed{current: t}
}

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Set moves the clock to t.
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	f.current = t
	f.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new instant.
func (f *Fixed) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
	return f.current
}

// Today returns midnight of the clock's current date in the clock's zone.
func Today(c Clock) time.Time {
	return DateOf(c.Now())
}

// DateOf truncates t to midnight in t's own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DaysBetween returns the whole number of calendar days from a to b.
// Both values are reduced to their calendar date first, so the result is
// independent of the time of day.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

// ParseDate parses YYYY-MM-DD as midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", s, loc)
}

// FormatDate renders t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format("2006-01-02")
}
