package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/dukerupert/kidquest/internal/model"
)

// CodeTTL is how long a phone verification code stays valid.
const CodeTTL = 10 * time.Minute

// ErrCodeUsed is returned by MarkUsed when another caller consumed the code
// first.
var ErrCodeUsed = errors.New("verification code already used")

type VerificationStore struct {
	db *sql.DB
}

func NewVerificationStore(db *sql.DB) *VerificationStore {
	return &VerificationStore{db: db}
}

func scanVerificationCode(scanner interface{ Scan(...any) error }) (*model.VerificationCode, error) {
	var vc model.VerificationCode
	var usedAt sql.NullTime
	err := scanner.Scan(&vc.ID, &vc.Phone, &vc.Code, &vc.ExpiresAt, &usedAt, &vc.Attempts, &vc.CreatedAt)
	if err != nil {
		return nil, err
	}
	if usedAt.Valid {
		vc.UsedAt = &usedAt.Time
	}
	return &vc, nil
}

const verificationCols = `id, phone, code, expires_at, used_at, attempts, created_at`

// Create stores code for phone. Previous pending codes for the phone are
// invalidated first.
func (s *VerificationStore) Create(ctx context.Context, phone, code string) (*model.VerificationCode, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE verification_codes SET used_at = ? WHERE phone = ? AND used_at IS NULL`,
		now, phone,
	)
	if err != nil {
		return nil, sqlErr("invalidate previous codes", err)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO verification_codes (phone, code, expires_at) VALUES (?, ?, ?)`,
		phone, code, now.Add(CodeTTL),
	)
	if err != nil {
		return nil, sqlErr("insert verification code", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, sqlErr("last insert id", err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+verificationCols+` FROM verification_codes WHERE id = ?`, id)
	vc, err := scanVerificationCode(row)
	if err != nil {
		return nil, sqlErr("get verification code", err)
	}
	return vc, nil
}

// GetPending returns the newest unused, unexpired code for phone, or nil.
func (s *VerificationStore) GetPending(ctx context.Context, phone string) (*model.VerificationCode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+verificationCols+` FROM verification_codes
		 WHERE phone = ? AND used_at IS NULL ORDER BY id DESC LIMIT 1`,
		phone,
	)
	vc, err := scanVerificationCode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, sqlErr("get pending code", err)
	}
	if !time.Now().Before(vc.ExpiresAt) {
		return nil, nil
	}
	return vc, nil
}

// IncrementAttempts increments the attempt count and returns the new value.
func (s *VerificationStore) IncrementAttempts(ctx context.Context, id int64) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx,
		`UPDATE verification_codes SET attempts = attempts + 1 WHERE id = ? RETURNING attempts`,
		id,
	).Scan(&attempts)
	if err != nil {
		return 0, sqlErr("increment attempts", err)
	}
	return attempts, nil
}

// MarkUsed consumes the code. Only one caller can consume a given code;
// the rest get ErrCodeUsed.
func (s *VerificationStore) MarkUsed(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE verification_codes SET used_at = ? WHERE id = ? AND used_at IS NULL`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return sqlErr("mark code used", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return sqlErr("rows affected", err)
	}
	if n == 0 {
		return ErrCodeUsed
	}
	return nil
}

func (s *VerificationStore) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM verification_codes WHERE expires_at <= ? OR used_at IS NOT NULL`,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, sqlErr("delete expired codes", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, sqlErr("rows affected", err)
	}
	return count, nil
}
