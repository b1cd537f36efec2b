package api

import (
	"net/http"
	"time"

	"courtbook/internal/clock"
	"courtbook/internal/model"
	"courtbook/internal/service"
	"courtbook/internal/slots"
)

// handleBookings dispatches /bookings by method.
// GET and PATCH require the operator role; POST is public and rate limited.
func (s *HTTPServer) handleBookings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if s.isOperator(w, r) {
			s.listBookings(w, r)
		}
	case http.MethodPost:
		s.createBooking(w, r)
	case http.MethodPatch:
		if s.isOperator(w, r) {
			s.patchBooking(w, r)
		}
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// listBookings returns a date's bookings after reconciling and materializing it.
// GET /bookings?date=YYYY-MM-DD
func (s *HTTPServer) listBookings(w http.ResponseWriter, r *http.Request) {
	date, err := s.parseDate(r.URL.Query().Get("date"), "date")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	bookings, err := s.service.Schedule(r.Context(), date)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	resp := make([]BookingResponse, 0, len(bookings))
	for i := range bookings {
		resp = append(resp, toBookingResponse(&bookings[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// createBooking books a court.
// POST /bookings
func (s *HTTPServer) createBooking(w http.ResponseWriter, r *http.Request) {
	if !s.allowBooking(r) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}

	var req CreateBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	if req.OwnerID == "" || req.Date == "" || req.StartTime == "" || req.DurationMinutes == 0 {
		writeError(w, http.StatusBadRequest, "ownerId, date, startTime and durationMinutes are required")
		return
	}
	date, err := s.parseDate(req.Date, "date")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	court := req.CourtID
	if court == 0 {
		court = req.ResourceID
	}

	b, err := s.service.CreateBooking(r.Context(), service.CreateBookingRequest{
		OwnerID:         req.OwnerID,
		Date:            date,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		DurationMinutes: req.DurationMinutes,
		CourtID:         court,
		Confirmed:       req.Confirmed,
		Comment:         req.Comment,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toBookingResponse(b))
}

// patchBooking applies a lifecycle transition or an edit.
// PATCH /bookings
func (s *HTTPServer) patchBooking(w http.ResponseWriter, r *http.Request) {
	var req PatchBookingRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	var (
		b   *model.Booking
		err error
	)
	switch {
	case req.Field != "" && req.Updates != nil:
		writeError(w, http.StatusBadRequest, "send either field/value or updates, not both")
		return
	case req.Field != "":
		if req.Value == nil {
			writeError(w, http.StatusBadRequest, "value is required")
			return
		}
		b, err = s.service.Transition(r.Context(), req.ID, req.Field, *req.Value, "api")
	case req.Updates != nil:
		b, err = s.service.UpdateBooking(r.Context(), req.ID, service.BookingUpdate{
			StartTime:       req.Updates.StartTime,
			DurationMinutes: req.Updates.DurationMinutes,
			CourtID:         req.Updates.CourtID,
			Comment:         req.Updates.Comment,
		})
	default:
		writeError(w, http.StatusBadRequest, "field/value or updates is required")
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

// handleAvailability returns the slot grid of a date.
// GET /availability?date=YYYY-MM-DD&start=HH:MM
func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	date, err := s.parseDate(r.URL.Query().Get("date"), "date")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	grid, err := s.service.Availability(r.Context(), date)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	resp := AvailabilityResponse{Date: clock.FormatDate(date), Slots: slots.ToSlotInfo(grid)}

	if start := r.URL.Query().Get("start"); start != "" {
		if resp.Durations, err = s.service.DurationOptions(r.Context(), date, start); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) parseDate(value, field string) (time.Time, error) {
	if value == "" {
		return time.Time{}, model.Invalid(field, "is required")
	}
	date, err := clock.ParseDate(value, s.service.Location())
	if err != nil {
		return time.Time{}, model.Invalid(field, "invalid format; expected YYYY-MM-DD")
	}
	return date, nil
}
