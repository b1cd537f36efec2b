package api

import (
	"bytes"
	"fmt"
	"net/http"

	"courtbook/internal/propagation"
	"courtbook/internal/report"
)

// MaxExportDaysRange is the widest range an export may cover.
const MaxExportDaysRange = 92

// handlePropagationRun regenerates the rolling window.
// POST /propagation/run[?wipe=true]
func (s *HTTPServer) handlePropagationRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	opts := propagation.Options{
		WipeFirst: r.URL.Query().Get("wipe") == "true",
		Trigger:   "api",
	}
	res, err := s.service.RunPropagation(r.Context(), opts)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPropagationResponse(res))
}

// handleSweep marks today's finished bookings present.
// POST /completion/sweep
func (s *HTTPServer) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed; use POST")
		return
	}

	res := s.service.Sweep(r.Context())
	writeJSON(w, http.StatusOK, SweepResponse{Completed: res.Completed, Errors: toItemErrors(res.Errors)})
}

// handleExport streams an XLSX report.
// GET /bookings/export?from=YYYY-MM-DD&to=YYYY-MM-DD
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.exporter == nil {
		writeError(w, http.StatusNotImplemented, "export is not configured")
		return
	}

	from, err := s.parseDate(r.URL.Query().Get("from"), "from")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	to, err := s.parseDate(r.URL.Query().Get("to"), "to")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "from must be before or equal to to")
		return
	}
	if to.Sub(from).Hours()/24 > MaxExportDaysRange {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("date range exceeds maximum of %d days", MaxExportDaysRange))
		return
	}

	var buf bytes.Buffer
	if err := s.exporter.WriteBookings(r.Context(), &buf, from, to); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename(from, to)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
