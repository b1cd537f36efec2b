package propagation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtbook/internal/clock"
	"courtbook/internal/events"
	"courtbook/internal/model"
	"courtbook/internal/slots"
	"courtbook/internal/store"
)

var loc = clock.Zone(-3)

func date(m time.Month, d int) time.Time {
	return time.Date(2024, m, d, 0, 0, 0, 0, loc)
}

func weeklyRule(id string, court int) model.Rule {
	return model.Rule{
		ID:              id,
		CourtID:         court,
		StartDate:       date(1, 1),
		IntervalDays:    7,
		StartTime:       "18:00",
		EndTime:         "19:30",
		DurationMinutes: 90,
		Active:          true,
	}
}

func newEngine(st BookingStore, clk clock.Clock) *Engine {
	return NewEngine(st, clk, slots.DefaultTick, nil)
}

func bookingDates(t *testing.T, st *store.Memory, from, to time.Time) []string {
	t.Helper()
	all, err := st.ListBookingsInRange(context.Background(), from, to)
	require.NoError(t, err)
	out := make([]string, 0, len(all))
	for _, b := range all {
		out = append(out, clock.FormatDate(b.Date))
	}
	return out
}

func TestEnsure_WeeklyScenario(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	clk := clock.NewFixed(time.Date(2024, 1, 1, 8, 0, 0, 0, loc))
	engine := newEngine(st, clk)

	res := engine.Ensure(ctx, []model.Rule{weeklyRule("r1", 1)}, date(1, 1), date(1, 22))

	assert.Equal(t, 22, res.DatesProcessed)
	assert.Equal(t, 4, res.BookingsCreated)
	assert.Empty(t, res.Errors)
	assert.Equal(t, []string{"2024-01-01", "2024-01-08", "2024-01-15", "2024-01-22"}, bookingDates(t, st, date(1, 1), date(1, 31)))

	all, err := st.ListBookingsInRange(ctx, date(1, 1), date(1, 31))
	require.NoError(t, err)
	for _, b := range all {
		assert.Equal(t, "r1", b.RuleID)
		assert.Equal(t, model.StatusConfirmed, b.Status())
		assert.Equal(t, "18:00", model.FormatClock(b.Start))
		assert.Equal(t, "19:30", model.FormatClock(b.End))
	}
}

func TestEnsure_Idempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	engine := newEngine(st, clock.NewFixed(time.Date(2024, 1, 1, 8, 0, 0, 0, loc)))
	rules := []model.Rule{weeklyRule("r1", 1), weeklyRule("r2", 2)}

	first := engine.Ensure(ctx, rules, date(1, 1), date(1, 16))
	require.Equal(t, 6, first.BookingsCreated)
	before, err := st.ListBookingsInRange(ctx, date(1, 1), date(1, 31))
	require.NoError(t, err)

	second := engine.Ensure(ctx, rules, date(1, 1), date(1, 16))
	assert.Equal(t, 0, second.BookingsCreated)
	assert.Empty(t, second.Errors)

	after, err := st.ListBookingsInRange(ctx, date(1, 1), date(1, 31))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestEnsure_StickyCancellation(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	engine := newEngine(st, clock.NewFixed(time.Date(2024, 1, 1, 8, 0, 0, 0, loc)))
	rules := []model.Rule{weeklyRule("r1", 1)}

	engine.Ensure(ctx, rules, date(1, 1), date(1, 22))

	onEighth, err := st.ListBookingsByDate(ctx, date(1, 8))
	require.NoError(t, err)
	require.Len(t, onEighth, 1)
	onEighth[0].Cancelled = true
	require.NoError(t, st.UpdateBooking(ctx, &onEighth[0]))

	res := engine.Ensure(ctx, rules, date(1, 1), date(1, 22))
	assert.Equal(t, 0, res.BookingsCreated)

	onEighth, err = st.ListBookingsByDate(ctx, date(1, 8))
	require.NoError(t, err)
	require.Len(t, onEighth, 1)
	assert.True(t, onEighth[0].Cancelled)
}

func TestEnsure_SkipsInactiveRules(t *testing.T) {
	st := store.NewMemory()
	engine := newEngine(st, clock.NewFixed(time.Date(2024, 1, 1, 8, 0, 0, 0, loc)))
	r := weeklyRule("r1", 1)
	r.Active = false

	res := engine.Ensure(context.Background(), []model.Rule{r}, date(1, 1), date(1, 22))
	assert.Equal(t, 0, res.BookingsCreated)
	assert.Empty(t, bookingDates(t, st, date(1, 1), date(1, 31)))
}

func TestEnsure_NeverDoubleBooks(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	engine := newEngine(st, clock.NewFixed(time.Date(2024, 1, 1, 8, 0, 0, 0, loc)))

	start := time.Date(2024, 1, 8, 18, 30, 0, 0, loc)
	require.NoError(t, st.InsertBooking(ctx, &model.Booking{
		ID: "manual", CourtID: 1, Date: date(1, 8), Start: start, End: start.Add(time.Hour),
		DurationMinutes: 60, Confirmed: true,
	}))

	// r2 shares court and time with r1, so it loses on every date.
	rules := []model.Rule{weeklyRule("r1", 1), weeklyRule("r2", 1)}
	res := engine.Ensure(ctx, rules, date(1, 1), date(1, 15))

	assert.Equal(t, 2, res.BookingsCreated)
	require.Len(t, res.Errors, 4)
	for _, e := range res.Errors {
		assert.True(t, errors.Is(e, model.ErrResourceConflict))
	}

	onEighth, err := st.ListBookingsByDate(ctx, date(1, 8))
	require.NoError(t, err)
	require.Len(t, onEighth, 1)
	assert.Equal(t, "manual", onEighth[0].ID)
}

type failingInsertStore struct {
	*store.Memory
	failOn string
}

func (f *failingInsertStore) InsertBookings(ctx context.Context, batch []model.Booking) error {
	if len(batch) > 0 && clock.FormatDate(batch[0].Date) == f.failOn {
		return errors.New("disk I/O error")
	}
	return f.Memory.InsertBookings(ctx, batch)
}

func TestEnsure_BestEffortOnInsertFailure(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	st := &failingInsertStore{Memory: mem, failOn: "2024-01-08"}
	engine := newEngine(st, clock.NewFixed(time.Date(2024, 1, 1, 8, 0, 0, 0, loc)))

	res := engine.Ensure(ctx, []model.Rule{weeklyRule("r1", 1), weeklyRule("r2", 2)}, date(1, 1), date(1, 22))

	assert.Equal(t, 22, res.DatesProcessed)
	assert.Equal(t, 6, res.BookingsCreated)
	require.Len(t, res.Errors, 2)
	for _, e := range res.Errors {
		assert.True(t, errors.Is(e, model.ErrStorage))
		assert.Equal(t, "2024-01-08", clock.FormatDate(e.Date))
	}
	assert.Equal(t, []string{"2024-01-01", "2024-01-01", "2024-01-15", "2024-01-15", "2024-01-22", "2024-01-22"},
		bookingDates(t, mem, date(1, 1), date(1, 31)))
}

func TestEnsure_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st := store.NewMemory()
	res := newEngine(st, clock.NewFixed(time.Date(2024, 1, 1, 8, 0, 0, 0, loc))).
		Ensure(ctx, []model.Rule{weeklyRule("r1", 1)}, date(1, 1), date(1, 22))

	assert.Equal(t, 0, res.DatesProcessed)
	require.Len(t, res.Errors, 1)
	assert.True(t, errors.Is(res.Errors[0], context.Canceled))
}

func materialized(id, ruleID string, created time.Time, cancelled bool) *model.Booking {
	start := time.Date(2024, 1, 8, 18, 0, 0, 0, loc)
	return &model.Booking{
		ID: id, CourtID: 1, Date: date(1, 8), Start: start, End: start.Add(90 * time.Minute),
		DurationMinutes: 90, Confirmed: true, Cancelled: cancelled, RuleID: ruleID, CreatedAt: created,
	}
}

func TestDedupe(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, loc)

	for _, b := range []*model.Booking{
		materialized("a1", "ra", base.Add(1*time.Minute), true),
		materialized("a2", "ra", base.Add(2*time.Minute), false),
		materialized("a3", "ra", base.Add(3*time.Minute), false),
		materialized("b1", "rb", base.Add(1*time.Minute), true),
		materialized("b2", "rb", base.Add(2*time.Minute), true),
		materialized("c1", "rc", base, false),
		{ID: "manual-1", CourtID: 2, Date: date(1, 8), Confirmed: true},
		{ID: "manual-2", CourtID: 2, Date: date(1, 8), Confirmed: true},
	} {
		require.NoError(t, st.InsertBooking(ctx, b))
	}

	res := NewReconciler(st, nil).Dedupe(ctx, date(1, 8))
	assert.Equal(t, 3, res.DuplicatesRemoved)
	assert.Empty(t, res.Errors)

	left, err := st.ListBookingsByDate(ctx, date(1, 8))
	require.NoError(t, err)
	ids := make(map[string]bool)
	perRule := make(map[string]int)
	for _, b := range left {
		ids[b.ID] = true
		if b.RuleID != "" {
			perRule[b.RuleID]++
		}
	}
	assert.True(t, ids["a2"], "first non-cancelled wins")
	assert.True(t, ids["b1"], "oldest wins when all cancelled")
	assert.True(t, ids["c1"])
	assert.True(t, ids["manual-1"] && ids["manual-2"], "bookings without a rule are untouched")
	for ruleID, n := range perRule {
		assert.Equal(t, 1, n, ruleID)
	}

	again := NewReconciler(st, nil).Dedupe(ctx, date(1, 8))
	assert.Equal(t, 0, again.DuplicatesRemoved)
}

type recordingPublisher struct {
	events []events.Event
}

func (p *recordingPublisher) Publish(e events.Event) {
	p.events = append(p.events, e)
}

func TestSweeper(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	clk := clock.NewFixed(time.Date(2024, 1, 8, 12, 0, 0, 0, loc))
	at := func(h int) time.Time { return time.Date(2024, 1, 8, h, 0, 0, 0, loc) }

	for _, b := range []*model.Booking{
		{ID: "ended", CourtID: 1, Date: date(1, 8), Start: at(9), End: at(10), Confirmed: true},
		{ID: "ends-now", CourtID: 2, Date: date(1, 8), Start: at(11), End: at(12), Confirmed: true},
		{ID: "running", CourtID: 1, Date: date(1, 8), Start: at(11), End: at(13), Confirmed: true},
		{ID: "cancelled", CourtID: 3, Date: date(1, 8), Start: at(9), End: at(10), Confirmed: true, Cancelled: true},
		{ID: "yesterday", CourtID: 1, Date: date(1, 7), Start: at(9).AddDate(0, 0, -1), End: at(10).AddDate(0, 0, -1), Confirmed: true},
	} {
		require.NoError(t, st.InsertBooking(ctx, b))
	}

	pub := &recordingPublisher{}
	sweeper := NewSweeper(st, clk, pub, nil)

	res := sweeper.Sweep(ctx)
	assert.Equal(t, 2, res.Completed)
	assert.Empty(t, res.Errors)
	require.Len(t, pub.events, 2)
	assert.Equal(t, events.BookingPresent, pub.events[0].Type)

	for id, want := range map[string]bool{"ended": true, "ends-now": true, "running": false, "cancelled": false, "yesterday": false} {
		b, err := st.GetBooking(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, b.Present, id)
	}

	again := sweeper.Sweep(ctx)
	assert.Equal(t, 0, again.Completed)
	assert.Len(t, pub.events, 2)
}

func newRunner(st *store.Memory, clk clock.Clock) *Runner {
	return NewRunner(st, newEngine(st, clk), NewReconciler(st, nil), clk, 15, nil)
}

func TestRunner_HorizonWithDedupe(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	clk := clock.NewFixed(time.Date(2024, 1, 1, 8, 0, 0, 0, loc))
	require.NoError(t, st.InsertRule(ctx, &model.Rule{
		ID: "ra", CourtID: 1, StartDate: date(1, 1), IntervalDays: 7,
		StartTime: "18:00", EndTime: "19:30", DurationMinutes: 90, Active: true,
	}))

	base := time.Date(2023, 12, 31, 0, 0, 0, 0, loc)
	require.NoError(t, st.InsertBooking(ctx, materialized("d1", "ra", base, false)))
	require.NoError(t, st.InsertBooking(ctx, materialized("d2", "ra", base.Add(time.Minute), false)))

	runner := newRunner(st, clk)
	from, to := runner.Window()
	assert.Equal(t, "2024-01-01", clock.FormatDate(from))
	assert.Equal(t, "2024-01-16", clock.FormatDate(to))

	res, err := runner.RunHorizon(ctx, Options{Trigger: "test"})
	require.NoError(t, err)
	assert.Equal(t, 16, res.DatesProcessed)
	assert.Equal(t, 1, res.DuplicatesRemoved)
	assert.Equal(t, 2, res.BookingsCreated)
	assert.Equal(t, []string{"2024-01-01", "2024-01-08", "2024-01-15"}, bookingDates(t, st, from, to))
}

func TestRunner_WipeFirstRegeneratesCancelled(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	clk := clock.NewFixed(time.Date(2024, 1, 1, 8, 0, 0, 0, loc))
	rule := weeklyRule("r1", 1)
	require.NoError(t, st.InsertRule(ctx, &rule))

	runner := newRunner(st, clk)
	_, err := runner.RunHorizon(ctx, Options{})
	require.NoError(t, err)

	onEighth, err := st.ListBookingsByDate(ctx, date(1, 8))
	require.NoError(t, err)
	onEighth[0].Cancelled = true
	require.NoError(t, st.UpdateBooking(ctx, &onEighth[0]))

	res, err := runner.RunHorizon(ctx, Options{WipeFirst: true})
	require.NoError(t, err)
	assert.Equal(t, 3, res.MaterializedWiped)
	assert.Equal(t, 3, res.BookingsCreated)

	onEighth, err = st.ListBookingsByDate(ctx, date(1, 8))
	require.NoError(t, err)
	require.Len(t, onEighth, 1)
	assert.False(t, onEighth[0].Cancelled)
}

func TestRunner_RunDate(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	clk := clock.NewFixed(time.Date(2024, 1, 10, 8, 0, 0, 0, loc))
	rule := weeklyRule("r1", 1)
	require.NoError(t, st.InsertRule(ctx, &rule))
	runner := newRunner(st, clk)

	res, err := runner.RunDate(ctx, date(1, 8))
	require.NoError(t, err)
	assert.Equal(t, 0, res.BookingsCreated, "past dates are not materialized lazily")

	res, err = runner.RunDate(ctx, date(1, 15))
	require.NoError(t, err)
	assert.Equal(t, 1, res.BookingsCreated)

	res, err = runner.RunDate(ctx, date(1, 16))
	require.NoError(t, err)
	assert.Equal(t, 0, res.BookingsCreated)

	_, err = runner.Run(ctx, date(1, 16), date(1, 15), Options{})
	assert.True(t, errors.Is(err, model.ErrValidation))
}
