package model

import "time"

// Transition is one recorded lifecycle change of a booking.
type Transition struct {
	BookingID string    `json:"booking_id"`
	Action    string    `json:"action"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}
