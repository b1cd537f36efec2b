package report

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"courtbook/internal/model"
	"courtbook/internal/store"
)

func TestExporter_WriteBookings(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	day := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	start := day.Add(18 * time.Hour)

	require.NoError(t, st.InsertBooking(ctx, &model.Booking{
		ID: "b1", CourtID: 2, Date: day, Start: start, End: start.Add(90 * time.Minute),
		DurationMinutes: 90, Confirmed: true, RuleID: "r1", OwnerID: "club",
	}))
	require.NoError(t, st.InsertBooking(ctx, &model.Booking{
		ID: "outside", CourtID: 1, Date: day.AddDate(0, 1, 0), Start: start, End: start.Add(time.Hour),
		DurationMinutes: 60, Confirmed: true,
	}))
	require.NoError(t, st.InsertRule(ctx, &model.Rule{
		ID: "r1", CourtID: 2, StartDate: day, IntervalDays: 7, StartTime: "18:00", EndTime: "19:30",
		DurationMinutes: 90, Active: true,
	}))

	require.NoError(t, st.RecordTransition(ctx, model.Transition{
		BookingID: "b1", Action: "confirm", From: model.StatusPending, To: model.StatusConfirmed,
		Actor: "api", CreatedAt: day.Add(9 * time.Hour),
	}))

	var buf bytes.Buffer
	require.NoError(t, NewExporter(st).WriteBookings(ctx, &buf, day, day.AddDate(0, 0, 6)))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Bookings", "Recurring rules", "Transitions"}, f.GetSheetList())

	rows, err := f.GetRows("Bookings")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Date", rows[0][0])
	assert.Equal(t, []string{"2024-01-08", "18:00", "19:30", "2", "90", "confirmed", "club", "r1", "", "b1"}, rows[1])

	ruleRows, err := f.GetRows("Recurring rules")
	require.NoError(t, err)
	require.Len(t, ruleRows, 2)
	assert.Equal(t, "r1", ruleRows[1][0])
	assert.Equal(t, "7", ruleRows[1][4])

	transitionRows, err := f.GetRows("Transitions")
	require.NoError(t, err)
	require.Len(t, transitionRows, 2)
	assert.Equal(t, []string{"2024-01-08 09:00:00", "b1", "confirm", "pending", "confirmed", "api"}, transitionRows[1])
}

func TestFilename(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "bookings_2024-01-01_2024-01-31.xlsx", Filename(from, from.AddDate(0, 0, 30)))
}

func TestExcelizeWriter_NoSheet(t *testing.T) {
	w := NewExcelizeWriter()
	defer w.Close()
	assert.Error(t, w.WriteHeader([]string{"a"}))
	assert.Error(t, w.WriteRow([]any{1}))
}
