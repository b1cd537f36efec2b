package db

import (
	"context"
	"fmt"
	"time"

	"courtbook/internal/model"
)

// RecordTransition appends a lifecycle change to the audit trail.
func (db *DB) RecordTransition(ctx context.Context, t model.Transition) error {
	_, err := db.ExecContext(ctx, `INSERT INTO booking_transitions (booking_id, action, from_status, to_status, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`, t.BookingID, t.Action, string(t.From), string(t.To), t.Actor, formatStamp(t.CreatedAt))
	if err != nil {
		return model.StorageError("record transition", err)
	}
	return nil
}

// ListTransitions returns the audit trail of changes made in [from, to).
func (db *DB) ListTransitions(ctx context.Context, from, to time.Time) ([]model.Transition, error) {
	rows, err := db.QueryContext(ctx, `SELECT booking_id, action, from_status, to_status, actor, created_at
		FROM booking_transitions WHERE created_at >= ? AND created_at < ? ORDER BY id`,
		formatStamp(from), formatStamp(to))
	if err != nil {
		return nil, model.StorageError("list transitions", err)
	}
	defer rows.Close()

	var out []model.Transition
	for rows.Next() {
		var (
			t          model.Transition
			fromS, toS string
			createdAt  string
		)
		if err := rows.Scan(&t.BookingID, &t.Action, &fromS, &toS, &t.Actor, &createdAt); err != nil {
			return nil, model.StorageError("list transitions", err)
		}
		t.From, t.To = model.Status(fromS), model.Status(toS)
		if t.CreatedAt, err = db.parseStamp(createdAt); err != nil {
			return nil, fmt.Errorf("transition %s: %w", t.BookingID, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
