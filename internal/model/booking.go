package model

import "time"

// Status is derived from the booking flags, never stored directly.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusPresent   Status = "present"
	StatusCancelled Status = "cancelled"
)

// Booking is a single dated reservation of one court.
type Booking struct {
	ID              string     `json:"id"`
	CourtID         int        `json:"court_id"`
	Date            time.Time  `json:"date"`
	Start           time.Time  `json:"start"`
	End             time.Time  `json:"end"`
	DurationMinutes int        `json:"duration_minutes"`
	Confirmed       bool       `json:"confirmed"`
	Present         bool       `json:"present"`
	Cancelled       bool       `json:"cancelled"`
	HoldExpiry      *time.Time `json:"hold_expiry,omitempty"`
	RuleID          string     `json:"rule_id,omitempty"`
	Comment         string     `json:"comment"`
	OwnerID         string     `json:"owner_id"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Status maps the flag set onto a lifecycle state.
func (b *Booking) Status() Status {
	switch {
	case b.Cancelled:
		return StatusCancelled
	case b.Present:
		return StatusPresent
	case b.Confirmed:
		return StatusConfirmed
	default:
		return StatusPending
	}
}

// Duration returns the booked span.
func (b *Booking) Duration() time.Duration {
	return b.End.Sub(b.Start)
}

// IsMaterialized reports whether the booking was generated from a recurrence rule.
func (b *Booking) IsMaterialized() bool {
	return b.RuleID != ""
}

// HoldExpired reports whether a pending hold has lapsed at now.
func (b *Booking) HoldExpired(now time.Time) bool {
	return b.HoldExpiry != nil && !now.Before(*b.HoldExpiry)
}

// IsActive reports whether the booking occupies its court at now:
// confirmed, present, or pending with an unexpired hold.
func (b *Booking) IsActive(now time.Time) bool {
	if b.Cancelled {
		return false
	}
	if b.Confirmed || b.Present {
		return true
	}
	return b.HoldExpiry != nil && now.Before(*b.HoldExpiry)
}

// OverlapsWith uses half-open [Start, End) semantics.
func (b *Booking) OverlapsWith(other *Booking) bool {
	return Overlaps(b.Start, b.End, other.Start, other.End)
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
