package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/dukerupert/kidquest/internal/model"
	"github.com/google/uuid"
)

type AccountStore struct {
	db *sql.DB
}

func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

func scanAccount(scanner interface{ Scan(...any) error }) (*model.Account, error) {
	var a model.Account
	var email, phone sql.NullString
	err := scanner.Scan(&a.ID, &a.Provider, &email, &phone, &a.PasswordHash, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Email = email.String
	a.Phone = phone.String
	return &a, nil
}

const accountCols = `id, provider, email, phone, password_hash, created_at`

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Create inserts an account with a generated id. An email that is already
// registered fails with model.ErrEmailTaken.
func (s *AccountStore) Create(ctx context.Context, provider, email, phone, passwordHash string) (*model.Account, error) {
	if email != "" {
		existing, err := s.GetByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, model.ErrEmailTaken
		}
	}

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (id, provider, email, phone, password_hash) VALUES (?, ?, ?, ?, ?)`,
		id, provider, nullString(email), nullString(phone), passwordHash,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: accounts.email") {
			return nil, model.ErrEmailTaken
		}
		return nil, sqlErr("insert account", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID returns nil when no account has the id.
func (s *AccountStore) GetByID(ctx context.Context, id string) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, sqlErr("get account", err)
	}
	return a, nil
}

func (s *AccountStore) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE email = ?`, email)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, sqlErr("get account by email", err)
	}
	return a, nil
}

func (s *AccountStore) GetByPhone(ctx context.Context, phone string) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountCols+` FROM accounts WHERE phone = ?`, phone)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, sqlErr("get account by phone", err)
	}
	return a, nil
}
