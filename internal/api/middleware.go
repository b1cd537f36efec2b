package api

import (
	"net"
	"net/http"
	"strings"
	"time"

	"courtbook/internal/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *HTTPServer) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		metrics.IncHTTP(routeLabel(r.URL.Path), rec.status)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

var knownRoutes = map[string]bool{
	"/bookings":                    true,
	"/bookings/export":             true,
	"/availability":                true,
	"/recurring-rules":             true,
	"/recurring-rules/occurrences": true,
	"/propagation/run":             true,
	"/completion/sweep":            true,
}

func routeLabel(path string) string {
	if knownRoutes[path] {
		return path
	}
	return "other"
}

// allowBooking applies the per-client limit to booking requests.
// Limiter errors let the request through.
func (s *HTTPServer) allowBooking(r *http.Request) bool {
	if s.limiter == nil {
		return true
	}
	allowed, err := s.limiter.Allow(r.Context(), "booking:"+clientIP(r))
	if err != nil {
		s.logger.Warn().Err(err).Msg("rate limiter unavailable")
		return true
	}
	return allowed
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
