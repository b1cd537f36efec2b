package api

import (
	"time"

	"courtbook/internal/clock"
	"courtbook/internal/model"
	"courtbook/internal/propagation"
	"courtbook/internal/slots"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateBookingRequest is the body of POST /bookings.
type CreateBookingRequest struct {
	OwnerID         string `json:"ownerId"`
	Date            string `json:"date"`                 // Format: YYYY-MM-DD
	StartTime       string `json:"startTime"`            // Format: HH:MM
	EndTime         string `json:"endTime,omitempty"`    // Format: HH:MM
	DurationMinutes int    `json:"durationMinutes"`      // 60, 90 or 120 by default
	CourtID         int    `json:"courtId,omitempty"`    // 0 picks the lowest free court
	ResourceID      int    `json:"resourceId,omitempty"` // Alternative to courtId
	Confirmed       bool   `json:"confirmed,omitempty"`
	Comment         string `json:"comment,omitempty"`
}

// PatchBookingRequest is the body of PATCH /bookings: either a lifecycle
// {field, value} pair or a set of updates.
type PatchBookingRequest struct {
	ID      string          `json:"id"`
	Field   string          `json:"field,omitempty"`
	Value   *bool           `json:"value,omitempty"`
	Updates *BookingUpdates `json:"updates,omitempty"`
}

// BookingUpdates are the editable booking fields.
type BookingUpdates struct {
	StartTime       *string `json:"startTime,omitempty"`
	DurationMinutes *int    `json:"durationMinutes,omitempty"`
	CourtID         *int    `json:"courtId,omitempty"`
	Comment         *string `json:"comment,omitempty"`
}

// BookingResponse represents a booking in API responses.
type BookingResponse struct {
	ID              string     `json:"id"`
	CourtID         int        `json:"courtId"`
	Date            string     `json:"date"`
	StartTime       string     `json:"startTime"`
	EndTime         string     `json:"endTime"`
	DurationMinutes int        `json:"durationMinutes"`
	Status          string     `json:"status"`
	Confirmed       bool       `json:"confirmed"`
	Present         bool       `json:"present"`
	Cancelled       bool       `json:"cancelled"`
	HoldExpiry      *time.Time `json:"holdExpiry,omitempty"`
	RuleID          string     `json:"ruleId,omitempty"`
	OwnerID         string     `json:"ownerId"`
	Comment         string     `json:"comment"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// RuleRequest is the body of POST and PATCH /recurring-rules.
type RuleRequest struct {
	ID              string  `json:"id,omitempty"` // PATCH only
	CourtID         *int    `json:"courtId,omitempty"`
	StartDate       *string `json:"startDate,omitempty"`
	EndDate         *string `json:"endDate,omitempty"` // "" clears on PATCH
	IntervalDays    *int    `json:"intervalDays,omitempty"`
	StartTime       *string `json:"startTime,omitempty"`
	EndTime         *string `json:"endTime,omitempty"`
	DurationMinutes *int    `json:"durationMinutes,omitempty"`
	Active          *bool   `json:"active,omitempty"`
	OwnerID         *string `json:"ownerId,omitempty"`
	Comment         *string `json:"comment,omitempty"`
}

// RuleResponse represents a recurrence rule in API responses.
type RuleResponse struct {
	ID              string    `json:"id"`
	CourtID         int       `json:"courtId"`
	StartDate       string    `json:"startDate"`
	EndDate         string    `json:"endDate,omitempty"`
	IntervalDays    int       `json:"intervalDays"`
	StartTime       string    `json:"startTime"`
	EndTime         string    `json:"endTime"`
	DurationMinutes int       `json:"durationMinutes"`
	Active          bool      `json:"active"`
	OwnerID         string    `json:"ownerId"`
	Comment         string    `json:"comment"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// RuleChangeResponse is returned by rule writes.
type RuleChangeResponse struct {
	Rule        RuleResponse        `json:"rule"`
	Propagation PropagationResponse `json:"propagation"`
}

// OccurrencesResponse lists preview dates of a rule.
type OccurrencesResponse struct {
	RuleID string   `json:"ruleId"`
	Dates  []string `json:"dates"`
}

// ItemErrorResponse is one failed item of a batch job.
type ItemErrorResponse struct {
	Date      string `json:"date"`
	RuleID    string `json:"ruleId,omitempty"`
	BookingID string `json:"bookingId,omitempty"`
	Error     string `json:"error"`
}

// PropagationResponse summarizes a propagation pass.
type PropagationResponse struct {
	DatesProcessed    int                 `json:"datesProcessed"`
	BookingsCreated   int                 `json:"bookingsCreated"`
	DuplicatesRemoved int                 `json:"duplicatesRemoved"`
	MaterializedWiped int                 `json:"materializedWiped,omitempty"`
	Errors            []ItemErrorResponse `json:"errors"`
}

// SweepResponse summarizes a completion sweep.
type SweepResponse struct {
	Completed int                 `json:"completed"`
	Errors    []ItemErrorResponse `json:"errors"`
}

// AvailabilityResponse is the slot grid of one date.
type AvailabilityResponse struct {
	Date      string           `json:"date"`
	Slots     []slots.SlotInfo `json:"slots"`
	Durations []int            `json:"durations,omitempty"` // only when start is given
}

func toBookingResponse(b *model.Booking) BookingResponse {
	return BookingResponse{
		ID:              b.ID,
		CourtID:         b.CourtID,
		Date:            clock.FormatDate(b.Date),
		StartTime:       model.FormatClock(b.Start),
		EndTime:         model.FormatClock(b.End),
		DurationMinutes: b.DurationMinutes,
		Status:          string(b.Status()),
		Confirmed:       b.Confirmed,
		Present:         b.Present,
		Cancelled:       b.Cancelled,
		HoldExpiry:      b.HoldExpiry,
		RuleID:          b.RuleID,
		OwnerID:         b.OwnerID,
		Comment:         b.Comment,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

func toRuleResponse(r *model.Rule) RuleResponse {
	resp := RuleResponse{
		ID:              r.ID,
		CourtID:         r.CourtID,
		StartDate:       clock.FormatDate(r.StartDate),
		IntervalDays:    r.IntervalDays,
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		DurationMinutes: r.DurationMinutes,
		Active:          r.Active,
		OwnerID:         r.OwnerID,
		Comment:         r.Comment,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.EndDate != nil {
		resp.EndDate = clock.FormatDate(*r.EndDate)
	}
	return resp
}

func toItemErrors(errs []model.ItemError) []ItemErrorResponse {
	out := make([]ItemErrorResponse, 0, len(errs))
	for _, e := range errs {
		out = append(out, ItemErrorResponse{
			Date:      clock.FormatDate(e.Date),
			RuleID:    e.RuleID,
			BookingID: e.BookingID,
			Error:     e.Err.Error(),
		})
	}
	return out
}

func toPropagationResponse(res propagation.Result) PropagationResponse {
	return PropagationResponse{
		DatesProcessed:    res.DatesProcessed,
		BookingsCreated:   res.BookingsCreated,
		DuplicatesRemoved: res.DuplicatesRemoved,
		MaterializedWiped: res.MaterializedWiped,
		Errors:            toItemErrors(res.Errors),
	}
}
