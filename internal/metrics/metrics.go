package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	bookingCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courtbook",
			Name:      "booking_created_total",
			Help:      "Count of bookings created by status and source.",
		},
		[]string{"status", "source"},
	)

	bookingTransition = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courtbook",
			Name:      "booking_transition_total",
			Help:      "Count of lifecycle actions applied to bookings.",
		},
		[]string{"action"},
	)

	allocationFailure = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courtbook",
			Name:      "allocation_failure_total",
			Help:      "Count of rejected allocations by reason.",
		},
		[]string{"reason"},
	)

	propagationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courtbook",
			Name:      "propagation_runs_total",
			Help:      "Count of propagation passes by trigger.",
		},
		[]string{"trigger"},
	)

	propagationCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "courtbook",
			Name:      "propagation_bookings_created_total",
			Help:      "Count of bookings materialized from recurring rules.",
		},
	)

	propagationErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "courtbook",
			Name:      "propagation_item_errors_total",
			Help:      "Count of per-item failures recorded by batch passes.",
		},
	)

	dedupeRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "courtbook",
			Name:      "dedupe_removed_total",
			Help:      "Count of duplicate materializations removed.",
		},
	)

	sweepCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "courtbook",
			Name:      "sweep_completed_total",
			Help:      "Count of bookings marked present by the completion sweeper.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courtbook",
			Name:      "http_requests_total",
			Help:      "Count of HTTP requests by route and status code.",
		},
		[]string{"route", "code"},
	)

	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courtbook",
			Name:      "rate_limited_total",
			Help:      "Count of requests rejected by the rate limiter by backend.",
		},
		[]string{"backend"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			bookingCreated,
			bookingTransition,
			allocationFailure,
			propagationRuns,
			propagationCreated,
			propagationErrors,
			dedupeRemoved,
			sweepCompleted,
			httpRequests,
			rateLimited,
		)
	})
}

func IncBookingCreated(status, source string) {
	bookingCreated.WithLabelValues(status, source).Inc()
}

func IncBookingTransition(action string) {
	bookingTransition.WithLabelValues(action).Inc()
}

func IncAllocationFailure(reason string) {
	allocationFailure.WithLabelValues(reason).Inc()
}

func IncPropagationRun(trigger string) {
	propagationRuns.WithLabelValues(trigger).Inc()
}

func AddPropagationCreated(n int) {
	propagationCreated.Add(float64(n))
}

func AddPropagationErrors(n int) {
	propagationErrors.Add(float64(n))
}

func AddDedupeRemoved(n int) {
	dedupeRemoved.Add(float64(n))
}

func AddSweepCompleted(n int) {
	sweepCompleted.Add(float64(n))
}

func IncHTTP(route string, code int) {
	httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func IncRateLimited(backend string) {
	rateLimited.WithLabelValues(backend).Inc()
}
