package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtbook/internal/model"
)

func booking(id string, day, hour int, ruleID string) model.Booking {
	date := time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC)
	start := date.Add(time.Duration(hour) * time.Hour)
	return model.Booking{
		ID: id, CourtID: 1, Date: date, Start: start, End: start.Add(time.Hour),
		DurationMinutes: 60, Confirmed: true, RuleID: ruleID,
	}
}

func TestMemory_Bookings(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.InsertBookings(ctx, []model.Booking{
		booking("late", 2, 18, "r1"),
		booking("early", 2, 9, ""),
		booking("other-day", 3, 9, "r1"),
	}))

	list, err := m.ListBookingsByDate(ctx, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "early", list[0].ID)
	assert.Equal(t, "late", list[1].ID)

	byRule, err := m.ListBookingsByRule(ctx, "r1", time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, byRule, 1)
	assert.Equal(t, "other-day", byRule[0].ID)

	// A batch with a duplicate id inserts nothing.
	err = m.InsertBookings(ctx, []model.Booking{booking("new", 4, 9, ""), booking("late", 4, 10, "")})
	assert.Error(t, err)
	_, err = m.GetBooking(ctx, "new")
	assert.ErrorIs(t, err, model.ErrNotFound)

	ok, err := m.MarkPresent(ctx, "early", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = m.MarkPresent(ctx, "early", time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "second mark is a no-op")

	wiped, err := m.DeleteMaterializedInRange(ctx, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, wiped)

	removed, err := m.DeleteBookingsByRule(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.ErrorIs(t, m.DeleteBooking(ctx, "late"), model.ErrNotFound)
	assert.ErrorIs(t, m.UpdateBooking(ctx, &model.Booking{ID: "missing"}), model.ErrNotFound)
}

func TestMemory_Rules(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, m.InsertRule(ctx, &model.Rule{ID: "b", Active: true, CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, m.InsertRule(ctx, &model.Rule{ID: "a", Active: false, CreatedAt: base}))
	assert.Error(t, m.InsertRule(ctx, &model.Rule{ID: "a"}))

	all, err := m.ListRules(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)

	active, err := m.ListRules(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "b", active[0].ID)

	require.NoError(t, m.DeleteRule(ctx, "a"))
	_, err = m.GetRule(ctx, "a")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestMemory_Transitions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, m.RecordTransition(ctx, model.Transition{BookingID: "b1", Action: "cancel", CreatedAt: at}))
	require.NoError(t, m.RecordTransition(ctx, model.Transition{BookingID: "b1", Action: "restore", CreatedAt: at.Add(time.Hour)}))

	list, err := m.ListTransitions(ctx, at, at.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "cancel", list[0].Action)
}
