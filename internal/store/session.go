package store

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dukerupert/loyaltyportal/internal/model"
)

// SessionTTL is how long an unused portal session survives.
const SessionTTL = 30 * 24 * time.Hour

// timeLayout sorts lexically, so range comparisons work on the TEXT columns.
const timeLayout = "2006-01-02 15:04:05"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.ParseInLocation(timeLayout, s, time.UTC)
}

type SessionStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db, now: time.Now}
}

func scanSession(scanner interface{ Scan(...any) error }) (*model.PortalSession, error) {
	var s model.PortalSession
	var expiresAt, lastSeen, createdAt string
	if err := scanner.Scan(&s.ID, &s.Token, &s.MembershipNumber, &expiresAt, &lastSeen, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if s.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	if s.LastSeenAt, err = parseTime(lastSeen); err != nil {
		return nil, fmt.Errorf("parse last_seen_at: %w", err)
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &s, nil
}

const sessionCols = `id, token, membership_number, expires_at, last_seen_at, created_at`

// Create generates a new session with a crypto-random token.
func (s *SessionStore) Create() (*model.PortalSession, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	token := hex.EncodeToString(tokenBytes)
	now := s.now()

	result, err := s.db.Exec(
		`INSERT INTO portal_sessions (token, expires_at, last_seen_at, created_at) VALUES (?, ?, ?, ?)`,
		token, formatTime(now.Add(SessionTTL)), formatTime(now), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	row := s.db.QueryRow(`SELECT `+sessionCols+` FROM portal_sessions WHERE id = ?`, id)
	return scanSession(row)
}

// GetByToken returns the session for the given token, or nil if expired or not found.
func (s *SessionStore) GetByToken(token string) (*model.PortalSession, error) {
	row := s.db.QueryRow(
		`SELECT `+sessionCols+` FROM portal_sessions WHERE token = ? AND expires_at > ?`,
		token, formatTime(s.now()),
	)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session by token: %w", err)
	}
	return sess, nil
}

// Touch slides the session's expiry forward.
func (s *SessionStore) Touch(id int64) error {
	now := s.now()
	_, err := s.db.Exec(
		`UPDATE portal_sessions SET last_seen_at = ?, expires_at = ? WHERE id = ?`,
		formatTime(now), formatTime(now.Add(SessionTTL)), id,
	)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// SetMember records the member most recently logged in through the session.
func (s *SessionStore) SetMember(id int64, membershipNumber string) error {
	_, err := s.db.Exec(`UPDATE portal_sessions SET membership_number = ? WHERE id = ?`, membershipNumber, id)
	if err != nil {
		return fmt.Errorf("set session member: %w", err)
	}
	return nil
}

func (s *SessionStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM portal_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SessionStore) DeleteExpired() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM portal_sessions WHERE expires_at <= ?`, formatTime(s.now()))
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}
