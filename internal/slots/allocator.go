package slots

import (
	"fmt"
	"time"

	"courtbook/internal/model"
)

// Allocator picks a court for a new booking. It never writes.
type Allocator struct {
	courts int
}

// NewAllocator creates an allocator over courts numbered 1..courts.
func NewAllocator(courts int) *Allocator {
	if courts <= 0 {
		courts = 1
	}
	return &Allocator{courts: courts}
}

// Courts returns the number of managed courts.
func (a *Allocator) Courts() int {
	return a.courts
}

// Assign validates requested (when > 0) or picks the lowest free court.
func (a *Allocator) Assign(d *Detector, requested int, start time.Time, duration time.Duration, excludeID string) (int, error) {
	if requested < 0 || requested > a.courts {
		return 0, model.Invalid("court_id", "must be between 1 and %d", a.courts)
	}

	occupied := d.OccupiedCourts(start, duration, excludeID)

	if requested > 0 {
		if _, busy := occupied[requested]; busy {
			return 0, fmt.Errorf("court %d at %s: %w", requested, start.Format("2006-01-02 15:04"), model.ErrResourceConflict)
		}
		return requested, nil
	}

	for court := 1; court <= a.courts; court++ {
		if _, busy := occupied[court]; !busy {
			return court, nil
		}
	}

	return 0, fmt.Errorf("%s for %s: %w", start.Format("2006-01-02 15:04"), duration, model.ErrResourceExhausted)
}
