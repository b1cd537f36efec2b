package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"courtbook/internal/model"
)

const ruleColumns = `id, court_id, start_date, end_date, interval_days, start_time, end_time,
	duration_minutes, active, owner_id, comment, created_at, updated_at`

func (db *DB) scanRule(row rowScanner) (model.Rule, error) {
	var (
		r                    model.Rule
		startDate            string
		endDate              sql.NullString
		createdAt, updatedAt string
	)

	if err := row.Scan(&r.ID, &r.CourtID, &startDate, &endDate, &r.IntervalDays, &r.StartTime, &r.EndTime,
		&r.DurationMinutes, &r.Active, &r.OwnerID, &r.Comment, &createdAt, &updatedAt); err != nil {
		return model.Rule{}, err
	}

	var err error
	if r.StartDate, err = db.parseDate(startDate); err != nil {
		return model.Rule{}, fmt.Errorf("rule %s start_date: %w", r.ID, err)
	}
	if endDate.Valid {
		end, err := db.parseDate(endDate.String)
		if err != nil {
			return model.Rule{}, fmt.Errorf("rule %s end_date: %w", r.ID, err)
		}
		r.EndDate = &end
	}
	if r.CreatedAt, err = db.parseStamp(createdAt); err != nil {
		return model.Rule{}, fmt.Errorf("rule %s created_at: %w", r.ID, err)
	}
	if r.UpdatedAt, err = db.parseStamp(updatedAt); err != nil {
		return model.Rule{}, fmt.Errorf("rule %s updated_at: %w", r.ID, err)
	}
	return r, nil
}

func (db *DB) GetRule(ctx context.Context, id string) (*model.Rule, error) {
	row := db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM recurring_rules WHERE id = ?`, id)
	r, err := db.scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, model.StorageError("get rule", err)
	}
	return &r, nil
}

func (db *DB) ListRules(ctx context.Context, activeOnly bool) ([]model.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM recurring_rules`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY created_at, id`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, model.StorageError("list rules", err)
	}
	defer rows.Close()

	var out []model.Rule
	for rows.Next() {
		r, err := db.scanRule(rows)
		if err != nil {
			return nil, model.StorageError("list rules", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, model.StorageError("list rules", err)
	}
	return out, nil
}

func ruleEndDate(r *model.Rule) sql.NullString {
	if r.EndDate == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatDate(*r.EndDate), Valid: true}
}

func (db *DB) InsertRule(ctx context.Context, r *model.Rule) error {
	_, err := db.ExecContext(ctx, `INSERT INTO recurring_rules (id, court_id, start_date, end_date, interval_days,
		start_time, end_time, duration_minutes, active, owner_id, comment, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CourtID, formatDate(r.StartDate), ruleEndDate(r), r.IntervalDays, r.StartTime, r.EndTime,
		r.DurationMinutes, boolInt(r.Active), r.OwnerID, r.Comment, formatStamp(r.CreatedAt), formatStamp(r.UpdatedAt))
	if err != nil {
		return model.StorageError("insert rule", err)
	}
	return nil
}

func (db *DB) UpdateRule(ctx context.Context, r *model.Rule) error {
	res, err := db.ExecContext(ctx, `UPDATE recurring_rules SET court_id = ?, start_date = ?, end_date = ?,
		interval_days = ?, start_time = ?, end_time = ?, duration_minutes = ?, active = ?, owner_id = ?,
		comment = ?, updated_at = ? WHERE id = ?`,
		r.CourtID, formatDate(r.StartDate), ruleEndDate(r), r.IntervalDays, r.StartTime, r.EndTime,
		r.DurationMinutes, boolInt(r.Active), r.OwnerID, r.Comment, formatStamp(r.UpdatedAt), r.ID)
	if err != nil {
		return model.StorageError("update rule", err)
	}
	return expectAffected(res, "rule", r.ID)
}

func (db *DB) DeleteRule(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM recurring_rules WHERE id = ?`, id)
	if err != nil {
		return model.StorageError("delete rule", err)
	}
	return expectAffected(res, "rule", id)
}
