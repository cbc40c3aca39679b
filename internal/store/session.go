package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dukerupert/kidquest/internal/model"
	"github.com/google/uuid"
)

type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func scanSession(scanner interface{ Scan(...any) error }) (*model.Session, error) {
	var sess model.Session
	var revokedAt sql.NullTime
	err := scanner.Scan(&sess.ID, &sess.UserID, &sess.ExpiresAt, &revokedAt, &sess.CreatedAt)
	if err != nil {
		return nil, err
	}
	if revokedAt.Valid {
		sess.RevokedAt = &revokedAt.Time
	}
	return &sess, nil
}

const sessionCols = `id, user_id, expires_at, revoked_at, created_at`

// Create starts a session for userID that lasts ttl.
func (s *SessionStore) Create(ctx context.Context, userID string, ttl time.Duration) (*model.Session, error) {
	id := uuid.NewString()
	expiresAt := time.Now().UTC().Add(ttl)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, expires_at) VALUES (?, ?, ?)`,
		id, userID, expiresAt,
	)
	if err != nil {
		return nil, sqlErr("insert session", err)
	}
	return s.GetByID(ctx, id)
}

func (s *SessionStore) GetByID(ctx context.Context, id string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, sqlErr("get session", err)
	}
	return sess, nil
}

// GetActive returns the session if it exists, is not revoked and has not
// expired; otherwise nil.
func (s *SessionStore) GetActive(ctx context.Context, id string) (*model.Session, error) {
	sess, err := s.GetByID(ctx, id)
	if err != nil || sess == nil {
		return nil, err
	}
	if sess.RevokedAt != nil || !time.Now().Before(sess.ExpiresAt) {
		return nil, nil
	}
	return sess, nil
}

// Revoke marks the session as ended. Revoking twice keeps the first time.
func (s *SessionStore) Revoke(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return sqlErr("revoke session", err)
	}
	return nil
}

func (s *SessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= ? OR revoked_at IS NOT NULL`,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, sqlErr("delete expired sessions", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, sqlErr("rows affected", err)
	}
	return count, nil
}
