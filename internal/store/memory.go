// Package store keeps bookings and rules in process memory.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"courtbook/internal/clock"
	"courtbook/internal/model"
)

type bookingRow struct {
	seq     int64
	booking model.Booking
}

// Memory is a map-backed store with the same row semantics as the SQLite one.
type Memory struct {
	mu          sync.RWMutex
	seq         int64
	bookings    map[string]*bookingRow
	rules       map[string]model.Rule
	transitions []model.Transition
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		bookings: make(map[string]*bookingRow),
		rules:    make(map[string]model.Rule),
	}
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *Memory) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", id, model.ErrNotFound)
	}
	b := row.booking
	return &b, nil
}

func (m *Memory) ListBookingsByDate(ctx context.Context, date time.Time) ([]model.Booking, error) {
	day := clock.FormatDate(date)
	return m.filter(func(b *model.Booking) bool {
		return clock.FormatDate(b.Date) == day
	}), nil
}

func (m *Memory) ListBookingsInRange(ctx context.Context, from, to time.Time) ([]model.Booking, error) {
	lo, hi := clock.FormatDate(from), clock.FormatDate(to)
	return m.filter(func(b *model.Booking) bool {
		d := clock.FormatDate(b.Date)
		return d >= lo && d <= hi
	}), nil
}

func (m *Memory) ListBookingsByRule(ctx context.Context, ruleID string, from time.Time) ([]model.Booking, error) {
	lo := clock.FormatDate(from)
	return m.filter(func(b *model.Booking) bool {
		return b.RuleID == ruleID && clock.FormatDate(b.Date) >= lo
	}), nil
}

func (m *Memory) InsertBooking(ctx context.Context, b *model.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(*b)
}

// InsertBookings adds the whole batch or nothing.
func (m *Memory) InsertBookings(ctx context.Context, batch []model.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range batch {
		if _, exists := m.bookings[b.ID]; exists {
			return fmt.Errorf("insert booking %s: duplicate id", b.ID)
		}
	}
	for _, b := range batch {
		if err := m.insertLocked(b); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) insertLocked(b model.Booking) error {
	if _, exists := m.bookings[b.ID]; exists {
		return fmt.Errorf("insert booking %s: duplicate id", b.ID)
	}
	m.seq++
	m.bookings[b.ID] = &bookingRow{seq: m.seq, booking: b}
	return nil
}

func (m *Memory) UpdateBooking(ctx context.Context, b *model.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.bookings[b.ID]
	if !ok {
		return fmt.Errorf("booking %s: %w", b.ID, model.ErrNotFound)
	}
	row.booking = *b
	return nil
}

func (m *Memory) DeleteBooking(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bookings[id]; !ok {
		return fmt.Errorf("booking %s: %w", id, model.ErrNotFound)
	}
	delete(m.bookings, id)
	return nil
}

func (m *Memory) DeleteBookingsByRule(ctx context.Context, ruleID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, row := range m.bookings {
		if row.booking.RuleID == ruleID {
			delete(m.bookings, id)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) DeleteMaterializedInRange(ctx context.Context, from, to time.Time) (int, error) {
	lo, hi := clock.FormatDate(from), clock.FormatDate(to)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, row := range m.bookings {
		d := clock.FormatDate(row.booking.Date)
		if row.booking.RuleID != "" && d >= lo && d <= hi {
			delete(m.bookings, id)
			removed++
		}
	}
	return removed, nil
}

// MarkPresent sets present only while the row is neither present nor cancelled.
func (m *Memory) MarkPresent(ctx context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.bookings[id]
	if !ok || row.booking.Present || row.booking.Cancelled {
		return false, nil
	}
	row.booking.Present = true
	row.booking.UpdatedAt = now
	return true, nil
}

func (m *Memory) GetRule(ctx context.Context, id string) (*model.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rules[id]
	if !ok {
		return nil, fmt.Errorf("rule %s: %w", id, model.ErrNotFound)
	}
	return &r, nil
}

func (m *Memory) ListRules(ctx context.Context, activeOnly bool) ([]model.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Rule, 0, len(m.rules))
	for _, r := range m.rules {
		if activeOnly && !r.Active {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) InsertRule(ctx context.Context, r *model.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rules[r.ID]; exists {
		return fmt.Errorf("insert rule %s: duplicate id", r.ID)
	}
	m.rules[r.ID] = *r
	return nil
}

func (m *Memory) UpdateRule(ctx context.Context, r *model.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rules[r.ID]; !ok {
		return fmt.Errorf("rule %s: %w", r.ID, model.ErrNotFound)
	}
	m.rules[r.ID] = *r
	return nil
}

func (m *Memory) DeleteRule(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rules[id]; !ok {
		return fmt.Errorf("rule %s: %w", id, model.ErrNotFound)
	}
	delete(m.rules, id)
	return nil
}

func (m *Memory) RecordTransition(ctx context.Context, t model.Transition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, t)
	return nil
}

// ListTransitions returns changes recorded in [from, to) in insertion order.
func (m *Memory) ListTransitions(ctx context.Context, from, to time.Time) ([]model.Transition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Transition
	for _, t := range m.transitions {
		if !t.CreatedAt.Before(from) && t.CreatedAt.Before(to) {
			out = append(out, t)
		}
	}
	return out, nil
}

// filter returns copies ordered by date, start time, then insertion order.
func (m *Memory) filter(keep func(b *model.Booking) bool) []model.Booking {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := make([]*bookingRow, 0)
	for _, row := range m.bookings {
		if keep(&row.booking) {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i].booking, rows[j].booking
		if da, db := clock.FormatDate(a.Date), clock.FormatDate(b.Date); da != db {
			return da < db
		}
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return rows[i].seq < rows[j].seq
	})

	out := make([]model.Booking, len(rows))
	for i, row := range rows {
		out[i] = row.booking
	}
	return out
}
