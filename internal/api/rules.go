package api

import (
	"net/http"
	"time"

	"courtbook/internal/clock"
	"courtbook/internal/service"
)

// handleRules serves CRUD for recurrence rules.
// GET /recurring-rules[?id=], POST, PATCH, DELETE /recurring-rules?id=
func (s *HTTPServer) handleRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.getRules(w, r)
	case http.MethodPost:
		s.createRule(w, r)
	case http.MethodPatch:
		s.patchRule(w, r)
	case http.MethodDelete:
		s.deleteRule(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) getRules(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("id"); id != "" {
		rule, err := s.service.GetRule(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toRuleResponse(rule))
		return
	}

	rules, err := s.service.ListRules(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	resp := make([]RuleResponse, 0, len(rules))
	for i := range rules {
		resp = append(resp, toRuleResponse(&rules[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) createRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if req.CourtID == nil || req.StartDate == nil || req.IntervalDays == nil || req.StartTime == nil || req.DurationMinutes == nil {
		writeError(w, http.StatusBadRequest, "courtId, startDate, intervalDays, startTime and durationMinutes are required")
		return
	}

	startDate, err := s.parseDate(*req.StartDate, "startDate")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	in := service.RuleRequest{
		CourtID:         *req.CourtID,
		StartDate:       startDate,
		IntervalDays:    *req.IntervalDays,
		StartTime:       *req.StartTime,
		DurationMinutes: *req.DurationMinutes,
		Active:          req.Active,
		OwnerID:         deref(req.OwnerID),
		Comment:         deref(req.Comment),
		EndTime:         deref(req.EndTime),
	}
	if req.EndDate != nil && *req.EndDate != "" {
		end, err := s.parseDate(*req.EndDate, "endDate")
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		in.EndDate = &end
	}

	rule, res, err := s.service.CreateRule(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, RuleChangeResponse{
		Rule:        toRuleResponse(rule),
		Propagation: toPropagationResponse(res),
	})
}

func (s *HTTPServer) patchRule(w http.ResponseWriter, r *http.Request) {
	var req RuleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if req.OwnerID != nil || req.EndTime != nil {
		writeError(w, http.StatusBadRequest, "ownerId and endTime cannot be changed")
		return
	}

	upd := service.RuleUpdate{
		CourtID:         req.CourtID,
		IntervalDays:    req.IntervalDays,
		StartTime:       req.StartTime,
		DurationMinutes: req.DurationMinutes,
		Active:          req.Active,
		Comment:         req.Comment,
	}
	if req.StartDate != nil {
		start, err := s.parseDate(*req.StartDate, "startDate")
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		upd.StartDate = &start
	}
	if req.EndDate != nil {
		if *req.EndDate == "" {
			upd.ClearEndDate = true
		} else {
			end, err := s.parseDate(*req.EndDate, "endDate")
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			upd.EndDate = &end
		}
	}

	rule, res, err := s.service.UpdateRule(r.Context(), req.ID, upd)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, RuleChangeResponse{
		Rule:        toRuleResponse(rule),
		Propagation: toPropagationResponse(res),
	})
}

func (s *HTTPServer) deleteRule(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	removed, err := s.service.DeleteRule(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "bookingsRemoved": removed})
}

// handleOccurrences previews a rule's dates.
// GET /recurring-rules/occurrences?id=&from=YYYY-MM-DD&to=YYYY-MM-DD
func (s *HTTPServer) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	id := q.Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	from, err := s.parseDate(q.Get("from"), "from")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	to, err := s.parseDate(q.Get("to"), "to")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	dates, err := s.service.RuleOccurrences(r.Context(), id, from, to)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, OccurrencesResponse{RuleID: id, Dates: formatDates(dates)})
}

func formatDates(dates []time.Time) []string {
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, clock.FormatDate(d))
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
