package store

import (
	"context"
	"errors"
	"testing"

	"github.com/dukerupert/kidquest/internal/database"
	"github.com/dukerupert/kidquest/internal/model"
)

func setupAccountTestDB(t *testing.T) *AccountStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAccountStore(db)
}

func TestAccountCreate(t *testing.T) {
	as := setupAccountTestDB(t)
	ctx := context.Background()

	a, err := as.Create(ctx, model.ProviderPassword, "alice@example.com", "", "hash")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if len(a.ID) != 36 {
		t.Errorf("id = %q, want a uuid", a.ID)
	}
	if a.Email != "alice@example.com" {
		t.Errorf("email = %q, want alice@example.com", a.Email)
	}
	if a.PasswordHash != "hash" {
		t.Errorf("password hash = %q, want hash", a.PasswordHash)
	}

	got, err := as.GetByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if got == nil || got.ID != a.ID {
		t.Errorf("got %+v, want id %s", got, a.ID)
	}
}

func TestAccountCreateEmailTaken(t *testing.T) {
	as := setupAccountTestDB(t)
	ctx := context.Background()

	as.Create(ctx, model.ProviderPassword, "alice@example.com", "", "hash")
	_, err := as.Create(ctx, model.ProviderPassword, "alice@example.com", "", "other")
	if !errors.Is(err, model.ErrEmailTaken) {
		t.Errorf("err = %v, want ErrEmailTaken", err)
	}
}

func TestAccountAnonymousHaveNoEmail(t *testing.T) {
	as := setupAccountTestDB(t)
	ctx := context.Background()

	// NULL emails do not collide on the unique index
	a, err := as.Create(ctx, model.ProviderAnonymous, "", "", "")
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	b, err := as.Create(ctx, model.ProviderAnonymous, "", "", "")
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if a.ID == b.ID {
		t.Error("expected distinct ids")
	}
	if a.Email != "" {
		t.Errorf("email = %q, want empty", a.Email)
	}
}

func TestAccountGetByPhone(t *testing.T) {
	as := setupAccountTestDB(t)
	ctx := context.Background()

	created, _ := as.Create(ctx, model.ProviderPhone, "", "+4712345678", "")
	got, err := as.GetByPhone(ctx, "+4712345678")
	if err != nil {
		t.Fatalf("get by phone: %v", err)
	}
	if got == nil || got.ID != created.ID {
		t.Errorf("got %+v, want id %s", got, created.ID)
	}

	missing, err := as.GetByPhone(ctx, "+4700000000")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unknown phone")
	}
}
