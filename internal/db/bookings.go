package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"courtbook/internal/model"
)

const bookingColumns = `id, court_id, date, start_time, duration_minutes, confirmed, present, cancelled,
	hold_expiry, rule_id, comment, owner_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (db *DB) scanBooking(row rowScanner) (model.Booking, error) {
	var (
		b                             model.Booking
		date, start                   string
		hold, ruleID                  sql.NullString
		createdAt, updatedAt          string
		confirmed, present, cancelled bool
	)

	if err := row.Scan(&b.ID, &b.CourtID, &date, &start, &b.DurationMinutes, &confirmed, &present, &cancelled,
		&hold, &ruleID, &b.Comment, &b.OwnerID, &createdAt, &updatedAt); err != nil {
		return model.Booking{}, err
	}

	day, err := db.parseDate(date)
	if err != nil {
		return model.Booking{}, fmt.Errorf("booking %s date: %w", b.ID, err)
	}
	b.Date = day
	if b.Start, err = model.TimeOnDate(day, start); err != nil {
		return model.Booking{}, fmt.Errorf("booking %s start: %w", b.ID, err)
	}
	b.End = b.Start.Add(time.Duration(b.DurationMinutes) * time.Minute)
	b.Confirmed, b.Present, b.Cancelled = confirmed, present, cancelled
	b.RuleID = ruleID.String

	if hold.Valid {
		t, err := db.parseStamp(hold.String)
		if err != nil {
			return model.Booking{}, fmt.Errorf("booking %s hold: %w", b.ID, err)
		}
		b.HoldExpiry = &t
	}
	if b.CreatedAt, err = db.parseStamp(createdAt); err != nil {
		return model.Booking{}, fmt.Errorf("booking %s created_at: %w", b.ID, err)
	}
	if b.UpdatedAt, err = db.parseStamp(updatedAt); err != nil {
		return model.Booking{}, fmt.Errorf("booking %s updated_at: %w", b.ID, err)
	}

	return b, nil
}

func (db *DB) queryBookings(ctx context.Context, op, query string, args ...any) ([]model.Booking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, model.StorageError(op, err)
	}
	defer rows.Close()

	var out []model.Booking
	for rows.Next() {
		b, err := db.scanBooking(rows)
		if err != nil {
			return nil, model.StorageError(op, err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, model.StorageError(op, err)
	}
	return out, nil
}

func (db *DB) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := db.scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, model.StorageError("get booking", err)
	}
	return &b, nil
}

// ListBookingsByDate returns the date's bookings by start time, then creation order.
func (db *DB) ListBookingsByDate(ctx context.Context, date time.Time) ([]model.Booking, error) {
	return db.queryBookings(ctx, "list bookings by date",
		`SELECT `+bookingColumns+` FROM bookings WHERE date = ?
		ORDER BY start_time, created_at, rowid`, formatDate(date))
}

func (db *DB) ListBookingsInRange(ctx context.Context, from, to time.Time) ([]model.Booking, error) {
	return db.queryBookings(ctx, "list bookings in range",
		`SELECT `+bookingColumns+` FROM bookings WHERE date >= ? AND date <= ?
		ORDER BY date, start_time, created_at, rowid`, formatDate(from), formatDate(to))
}

func (db *DB) ListBookingsByRule(ctx context.Context, ruleID string, from time.Time) ([]model.Booking, error) {
	return db.queryBookings(ctx, "list bookings by rule",
		`SELECT `+bookingColumns+` FROM bookings WHERE rule_id = ? AND date >= ?
		ORDER BY date, start_time, created_at, rowid`, ruleID, formatDate(from))
}

const insertBookingSQL = `INSERT INTO bookings (id, court_id, date, start_time, end_time, duration_minutes,
	confirmed, present, cancelled, hold_expiry, rule_id, comment, owner_id, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func bookingArgs(b *model.Booking) []any {
	var hold sql.NullString
	if b.HoldExpiry != nil {
		hold = sql.NullString{String: formatStamp(*b.HoldExpiry), Valid: true}
	}
	return []any{
		b.ID, b.CourtID, formatDate(b.Date), b.Start.Format(clockLayout), b.End.Format(clockLayout), b.DurationMinutes,
		boolInt(b.Confirmed), boolInt(b.Present), boolInt(b.Cancelled), hold, nullString(b.RuleID),
		b.Comment, b.OwnerID, formatStamp(b.CreatedAt), formatStamp(b.UpdatedAt),
	}
}

func (db *DB) InsertBooking(ctx context.Context, b *model.Booking) error {
	if _, err := db.ExecContext(ctx, insertBookingSQL, bookingArgs(b)...); err != nil {
		return model.StorageError("insert booking", err)
	}
	return nil
}

// InsertBookings writes the batch in one transaction.
func (db *DB) InsertBookings(ctx context.Context, batch []model.Booking) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return model.StorageError("begin batch", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertBookingSQL)
	if err != nil {
		return model.StorageError("prepare batch", err)
	}
	defer stmt.Close()

	for i := range batch {
		if _, err := stmt.ExecContext(ctx, bookingArgs(&batch[i])...); err != nil {
			return model.StorageError("insert batch", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.StorageError("commit batch", err)
	}
	return nil
}

func (db *DB) UpdateBooking(ctx context.Context, b *model.Booking) error {
	var hold sql.NullString
	if b.HoldExpiry != nil {
		hold = sql.NullString{String: formatStamp(*b.HoldExpiry), Valid: true}
	}

	res, err := db.ExecContext(ctx, `UPDATE bookings SET court_id = ?, date = ?, start_time = ?, end_time = ?,
		duration_minutes = ?, confirmed = ?, present = ?, cancelled = ?, hold_expiry = ?, rule_id = ?,
		comment = ?, owner_id = ?, updated_at = ? WHERE id = ?`,
		b.CourtID, formatDate(b.Date), b.Start.Format(clockLayout), b.End.Format(clockLayout), b.DurationMinutes,
		boolInt(b.Confirmed), boolInt(b.Present), boolInt(b.Cancelled), hold, nullString(b.RuleID),
		b.Comment, b.OwnerID, formatStamp(b.UpdatedAt), b.ID)
	if err != nil {
		return model.StorageError("update booking", err)
	}
	return expectAffected(res, "booking", b.ID)
}

func (db *DB) DeleteBooking(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, id)
	if err != nil {
		return model.StorageError("delete booking", err)
	}
	return expectAffected(res, "booking", id)
}

func (db *DB) DeleteBookingsByRule(ctx context.Context, ruleID string) (int, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM bookings WHERE rule_id = ?`, ruleID)
	if err != nil {
		return 0, model.StorageError("delete rule bookings", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (db *DB) DeleteMaterializedInRange(ctx context.Context, from, to time.Time) (int, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM bookings WHERE rule_id IS NOT NULL AND date >= ? AND date <= ?`,
		formatDate(from), formatDate(to))
	if err != nil {
		return 0, model.StorageError("wipe materialized", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// MarkPresent flips present only on rows still neither present nor cancelled.
func (db *DB) MarkPresent(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE bookings SET present = 1, updated_at = ? WHERE id = ? AND present = 0 AND cancelled = 0`,
		formatStamp(now), id)
	if err != nil {
		return false, model.StorageError("mark present", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, model.StorageError("mark present", err)
	}
	return n > 0, nil
}

func expectAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return model.StorageError("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, model.ErrNotFound)
	}
	return nil
}
