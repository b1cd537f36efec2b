package slots

import (
	"fmt"
	"time"

	"courtbook/internal/model"
)

// Slot is one grid tick with the courts still free in it.
type Slot struct {
	StartTime  time.Time
	EndTime    time.Time
	FreeCourts []int
}

// Available reports whether at least one court is free.
func (s Slot) Available() bool {
	return len(s.FreeCourts) > 0
}

// SlotInfo is a simplified representation for clients.
type SlotInfo struct {
	Start      string `json:"start"` // "10:00"
	End        string `json:"end"`   // "10:30"
	FreeCourts []int  `json:"freeCourts"`
	Available  bool   `json:"available"`
}

// Hours are the opening hours of a day.
type Hours struct {
	Open  string // "08:00"
	Close string // "23:00"
}

// Generator lays the tick grid over a day and marks court availability.
type Generator struct {
	allocator *Allocator
	tick      time.Duration
}

// NewGenerator creates a new slot generator.
func NewGenerator(allocator *Allocator, tick time.Duration) *Generator {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Generator{allocator: allocator, tick: tick}
}

// GenerateSlots lists every tick between opening and closing on date.
// Ticks that started before now have no free courts.
func (g *Generator) GenerateSlots(date time.Time, hours Hours, d *Detector, now time.Time) ([]Slot, error) {
	startTime, err := model.TimeOnDate(date, hours.Open)
	if err != nil {
		return nil, fmt.Errorf("parse open time: %w", err)
	}

	endTime, err := model.TimeOnDate(date, hours.Close)
	if err != nil {
		return nil, fmt.Errorf("parse close time: %w", err)
	}

	var slots []Slot
	for cursor := startTime; !cursor.Add(g.tick).After(endTime); cursor = cursor.Add(g.tick) {
		slot := Slot{StartTime: cursor, EndTime: cursor.Add(g.tick)}

		if !cursor.Before(now) {
			occupied := d.OccupiedCourts(cursor, g.tick, "")
			for court := 1; court <= g.allocator.Courts(); court++ {
				if _, busy := occupied[court]; !busy {
					slot.FreeCourts = append(slot.FreeCourts, court)
				}
			}
		}

		slots = append(slots, slot)
	}

	return slots, nil
}

// ToSlotInfo converts slots to SlotInfo.
func ToSlotInfo(slots []Slot) []SlotInfo {
	result := make([]SlotInfo, len(slots))
	for i, s := range slots {
		free := s.FreeCourts
		if free == nil {
			free = []int{}
		}
		result[i] = SlotInfo{
			Start:      model.FormatClock(s.StartTime),
			End:        model.FormatClock(s.EndTime),
			FreeCourts: free,
			Available:  s.Available(),
		}
	}
	return result
}

// DurationOptions returns the allowed durations bookable from startTime on at least one court.
func DurationOptions(slots []Slot, startTime time.Time, allowed []int) []int {
	startIdx := -1
	for i, s := range slots {
		if s.StartTime.Equal(startTime) {
			startIdx = i
			break
		}
	}
	if startIdx < 0 || !slots[startIdx].Available() {
		return nil
	}

	var options []int
	for _, minutes := range allowed {
		end := startTime.Add(time.Duration(minutes) * time.Minute)
		if courtFreeThrough(slots[startIdx:], end) {
			options = append(options, minutes)
		}
	}
	return options
}

// courtFreeThrough reports whether one court stays free from the first slot until end.
func courtFreeThrough(slots []Slot, end time.Time) bool {
	candidates := make(map[int]bool, len(slots[0].FreeCourts))
	for _, c := range slots[0].FreeCourts {
		candidates[c] = true
	}

	covered := slots[0].StartTime
	for _, s := range slots {
		if !s.StartTime.Before(end) {
			break
		}
		if !s.StartTime.Equal(covered) {
			return false
		}
		free := make(map[int]bool, len(s.FreeCourts))
		for _, c := range s.FreeCourts {
			free[c] = true
		}
		for c := range candidates {
			if !free[c] {
				delete(candidates, c)
			}
		}
		if len(candidates) == 0 {
			return false
		}
		covered = s.EndTime
	}

	return !covered.Before(end)
}
