package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"courtbook/internal/clock"
	"courtbook/internal/model"
)

// Source supplies the rows of a report.
type Source interface {
	ListBookingsInRange(ctx context.Context, from, to time.Time) ([]model.Booking, error)
	ListRules(ctx context.Context, activeOnly bool) ([]model.Rule, error)
	ListTransitions(ctx context.Context, from, to time.Time) ([]model.Transition, error)
}

// Exporter builds booking workbooks.
type Exporter struct {
	source    Source
	newWriter func() ExcelWriter
}

func NewExporter(source Source) *Exporter {
	return &Exporter{
		source:    source,
		newWriter: func() ExcelWriter { return NewExcelizeWriter() },
	}
}

// Filename names the workbook for a date range.
func Filename(from, to time.Time) string {
	return fmt.Sprintf("bookings_%s_%s.xlsx", clock.FormatDate(from), clock.FormatDate(to))
}

var bookingColumns = []string{
	"Date", "Start", "End", "Court", "Minutes", "Status", "Owner", "Rule", "Comment", "ID",
}

var ruleColumns = []string{
	"ID", "Court", "Start date", "End date", "Interval days", "Start", "End", "Minutes", "Active", "Owner", "Comment",
}

var transitionColumns = []string{"Time", "Booking", "Action", "From", "To", "Actor"}

// WriteBookings renders bookings in [from, to], all rules and the
// lifecycle changes made during those days to w.
func (e *Exporter) WriteBookings(ctx context.Context, w io.Writer, from, to time.Time) error {
	bookings, err := e.source.ListBookingsInRange(ctx, from, to)
	if err != nil {
		return fmt.Errorf("load bookings: %w", err)
	}
	rules, err := e.source.ListRules(ctx, false)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	transitions, err := e.source.ListTransitions(ctx, from, to.AddDate(0, 0, 1))
	if err != nil {
		return fmt.Errorf("load transitions: %w", err)
	}

	xw := e.newWriter()
	defer xw.Close()

	if err := xw.AddSheet("Bookings"); err != nil {
		return err
	}
	if err := xw.WriteHeader(bookingColumns); err != nil {
		return err
	}
	for i := range bookings {
		b := &bookings[i]
		row := []any{
			clock.FormatDate(b.Date),
			model.FormatClock(b.Start),
			model.FormatClock(b.End),
			b.CourtID,
			b.DurationMinutes,
			string(b.Status()),
			b.OwnerID,
			b.RuleID,
			b.Comment,
			b.ID,
		}
		if err := xw.WriteRow(row); err != nil {
			return fmt.Errorf("write booking %s: %w", b.ID, err)
		}
	}

	if err := xw.AddSheet("Recurring rules"); err != nil {
		return err
	}
	if err := xw.WriteHeader(ruleColumns); err != nil {
		return err
	}
	for i := range rules {
		r := &rules[i]
		end := ""
		if r.EndDate != nil {
			end = clock.FormatDate(*r.EndDate)
		}
		row := []any{
			r.ID, r.CourtID, clock.FormatDate(r.StartDate), end, r.IntervalDays,
			r.StartTime, r.EndTime, r.DurationMinutes, r.Active, r.OwnerID, r.Comment,
		}
		if err := xw.WriteRow(row); err != nil {
			return fmt.Errorf("write rule %s: %w", r.ID, err)
		}
	}

	if err := xw.AddSheet("Transitions"); err != nil {
		return err
	}
	if err := xw.WriteHeader(transitionColumns); err != nil {
		return err
	}
	for _, t := range transitions {
		row := []any{
			t.CreatedAt.In(from.Location()).Format("2006-01-02 15:04:05"),
			t.BookingID, t.Action, string(t.From), string(t.To), t.Actor,
		}
		if err := xw.WriteRow(row); err != nil {
			return fmt.Errorf("write transition %s: %w", t.BookingID, err)
		}
	}

	return xw.Save(w)
}
