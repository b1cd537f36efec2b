// Package api serves the booking engine over JSON HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"courtbook/internal/config"
	"courtbook/internal/model"
	"courtbook/internal/ratelimit"
	"courtbook/internal/report"
	"courtbook/internal/service"
)

// HTTPServer exposes bookings, rules and the propagation jobs.
type HTTPServer struct {
	service  *service.Service
	exporter *report.Exporter
	admin    AdminValidator
	limiter  ratelimit.Limiter
	logger   zerolog.Logger
	server   *http.Server
}

// NewHTTPServer builds the server and its routes. limiter may be nil to
// disable rate limiting of booking requests.
func NewHTTPServer(
	cfg config.ServerConfig,
	svc *service.Service,
	exporter *report.Exporter,
	admin AdminValidator,
	limiter ratelimit.Limiter,
	logger *zerolog.Logger,
) *HTTPServer {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "api").Logger()
	}

	s := &HTTPServer{
		service:  svc,
		exporter: exporter,
		admin:    admin,
		limiter:  limiter,
		logger:   l,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/bookings", s.handleBookings)
	mux.HandleFunc("/bookings/export", s.requireOperator(s.handleExport))
	mux.HandleFunc("/availability", s.handleAvailability)
	mux.HandleFunc("/recurring-rules", s.requireOperator(s.handleRules))
	mux.HandleFunc("/recurring-rules/occurrences", s.requireOperator(s.handleOccurrences))
	mux.HandleFunc("/propagation/run", s.requireOperator(s.handlePropagationRun))
	mux.HandleFunc("/completion/sweep", s.requireOperator(s.handleSweep))

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.accessLog(mux),
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeServiceError maps engine errors onto HTTP statuses.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrResourceConflict),
		errors.Is(err, model.ErrResourceExhausted),
		errors.Is(err, model.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, v any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return model.Invalid("", "invalid JSON body")
	}
	return nil
}
