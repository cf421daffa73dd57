package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/loyaltyportal/internal/model"
)

// activityLimit caps how many entries ListBySession returns.
const activityLimit = 100

type ActivityStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewActivityStore(db *sql.DB) *ActivityStore {
	return &ActivityStore{db: db, now: time.Now}
}

func scanActivity(scanner interface{ Scan(...any) error }) (*model.Activity, error) {
	var a model.Activity
	var createdAt string
	if err := scanner.Scan(&a.ID, &a.SessionID, &a.Kind, &a.MembershipNumber, &a.Detail, &a.Outcome, &createdAt); err != nil {
		return nil, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	a.CreatedAt = t
	return &a, nil
}

const activityCols = `id, session_id, kind, membership_number, detail, outcome, created_at`

func (s *ActivityStore) Record(sessionID int64, kind, membershipNumber, detail, outcome string) (*model.Activity, error) {
	result, err := s.db.Exec(
		`INSERT INTO activity_log (session_id, kind, membership_number, detail, outcome, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, kind, membershipNumber, detail, outcome, formatTime(s.now()),
	)
	if err != nil {
		return nil, fmt.Errorf("insert activity: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+activityCols+` FROM activity_log WHERE id = ?`, id)
	return scanActivity(row)
}

// ListBySession returns the session's most recent entries, newest first.
func (s *ActivityStore) ListBySession(sessionID int64) ([]model.Activity, error) {
	rows, err := s.db.Query(
		`SELECT `+activityCols+` FROM activity_log WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, activityLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var out []model.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes entries recorded before now minus age.
func (s *ActivityStore) DeleteOlderThan(age time.Duration) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM activity_log WHERE created_at < ?`, formatTime(s.now().Add(-age)))
	if err != nil {
		return 0, fmt.Errorf("delete old activity: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
