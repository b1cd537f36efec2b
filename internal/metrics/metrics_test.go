package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegisterIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
	})
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(propagationCreated)
	AddPropagationCreated(3)
	assert.Equal(t, before+3, testutil.ToFloat64(propagationCreated))

	IncHTTP("/bookings", 201)
	assert.Equal(t, float64(1), testutil.ToFloat64(httpRequests.WithLabelValues("/bookings", "201")))

	IncBookingCreated("pending", "request")
	assert.Equal(t, float64(1), testutil.ToFloat64(bookingCreated.WithLabelValues("pending", "request")))
}
