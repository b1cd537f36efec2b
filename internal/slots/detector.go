// Package slots answers court occupancy questions for a single date.
package slots

import (
	"time"

	"courtbook/internal/model"
)

// DefaultTick is the booking grid granularity.
const DefaultTick = 30 * time.Minute

// Detector checks candidate spans against one date's booking set.
// Activity of pending holds is evaluated at the detector's instant.
type Detector struct {
	bookings []model.Booking
	now      time.Time
	tick     time.Duration
}

// NewDetector builds a detector over bookings as observed at now.
func NewDetector(bookings []model.Booking, now time.Time, tick time.Duration) *Detector {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Detector{bookings: bookings, now: now, tick: tick}
}

// Conflicts returns the active bookings on court overlapping [start, start+duration).
func (d *Detector) Conflicts(court int, start time.Time, duration time.Duration, excludeID string) []model.Booking {
	end := start.Add(duration)
	var out []model.Booking
	for i := range d.bookings {
		b := &d.bookings[i]
		if b.CourtID != court || (excludeID != "" && b.ID == excludeID) {
			continue
		}
		if !b.IsActive(d.now) {
			continue
		}
		if model.Overlaps(start, end, b.Start, b.End) {
			out = append(out, *b)
		}
	}
	return out
}

// IsCourtFree reports whether court has no active booking overlapping the span.
func (d *Detector) IsCourtFree(court int, start time.Time, duration time.Duration, excludeID string) bool {
	_, busy := d.OccupiedCourts(start, duration, excludeID)[court]
	return !busy
}

// OccupiedCourts collects every court that is busy at any tick of the span.
func (d *Detector) OccupiedCourts(start time.Time, duration time.Duration, excludeID string) map[int]struct{} {
	occupied := make(map[int]struct{})
	end := start.Add(duration)

	for cursor := start; cursor.Before(end); cursor = cursor.Add(d.tick) {
		tickEnd := cursor.Add(d.tick)
		if tickEnd.After(end) {
			tickEnd = end
		}
		for i := range d.bookings {
			b := &d.bookings[i]
			if excludeID != "" && b.ID == excludeID {
				continue
			}
			if _, seen := occupied[b.CourtID]; seen {
				continue
			}
			if b.IsActive(d.now) && model.Overlaps(cursor, tickEnd, b.Start, b.End) {
				occupied[b.CourtID] = struct{}{}
			}
		}
	}

	return occupied
}

// Aligned reports whether t sits on the tick grid counted from midnight of its day.
func Aligned(t time.Time, tick time.Duration) bool {
	if tick <= 0 {
		tick = DefaultTick
	}
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return t.Sub(midnight)%tick == 0
}
