package model

import "time"

// Rule is a recurring reservation template projected onto future dates.
type Rule struct {
	ID              string     `json:"id"`
	CourtID         int        `json:"court_id"`
	StartDate       time.Time  `json:"start_date"`
	EndDate         *time.Time `json:"end_date,omitempty"`
	IntervalDays    int        `json:"interval_days"`
	StartTime       string     `json:"start_time"` // "18:00"
	EndTime         string     `json:"end_time"`   // "19:30"
	DurationMinutes int        `json:"duration_minutes"`
	Active          bool       `json:"active"`
	OwnerID         string     `json:"owner_id"`
	Comment         string     `json:"comment"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// SlotOn returns the rule's start and end instants on date.
func (r *Rule) SlotOn(date time.Time) (time.Time, time.Time, error) {
	start, err := TimeOnDate(date, r.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.Add(time.Duration(r.DurationMinutes) * time.Minute), nil
}

// Materialize builds the confirmed booking this rule produces on date.
func (r *Rule) Materialize(id string, date, now time.Time) (Booking, error) {
	start, end, err := r.SlotOn(date)
	if err != nil {
		return Booking{}, err
	}
	return Booking{
		ID:              id,
		CourtID:         r.CourtID,
		Date:            date,
		Start:           start,
		End:             end,
		DurationMinutes: r.DurationMinutes,
		Confirmed:       true,
		RuleID:          r.ID,
		Comment:         r.Comment,
		OwnerID:         r.OwnerID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}
