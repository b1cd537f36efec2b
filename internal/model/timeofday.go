package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOnDate combines an "HH:MM" clock label with date's calendar day and location.
func TimeOnDate(date time.Time, clock string) (time.Time, error) {
	hour, minute, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, date.Location()), nil
}

// ParseClock splits an "HH:MM" label.
func ParseClock(clock string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(clock), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time format: %q", clock)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", clock)
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", clock)
	}

	return hour, minute, nil
}

// FormatClock renders t as "HH:MM".
func FormatClock(t time.Time) string {
	return t.Format("15:04")
}
