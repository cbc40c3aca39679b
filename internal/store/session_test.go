package store

import (
	"context"
	"testing"
	"time"

	"github.com/dukerupert/kidquest/internal/database"
	"github.com/dukerupert/kidquest/internal/model"
)

func setupSessionTestDB(t *testing.T) (*SessionStore, *AccountStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSessionStore(db), NewAccountStore(db)
}

func TestSessionCreate(t *testing.T) {
	ss, as := setupSessionTestDB(t)
	ctx := context.Background()

	a, err := as.Create(ctx, model.ProviderAnonymous, "", "", "")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	sess, err := ss.Create(ctx, a.ID, time.Hour)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if sess.ID == "" {
		t.Error("expected non-empty id")
	}
	if sess.UserID != a.ID {
		t.Errorf("user_id = %q, want %q", sess.UserID, a.ID)
	}
	if d := time.Until(sess.ExpiresAt); d < 59*time.Minute || d > time.Hour {
		t.Errorf("expires in %v, want about 1h", d)
	}

	active, err := ss.GetActive(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active == nil {
		t.Fatal("expected active session")
	}
}

func TestSessionRevoke(t *testing.T) {
	ss, as := setupSessionTestDB(t)
	ctx := context.Background()

	a, _ := as.Create(ctx, model.ProviderAnonymous, "", "", "")
	sess, _ := ss.Create(ctx, a.ID, time.Hour)

	if err := ss.Revoke(ctx, sess.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	active, err := ss.GetActive(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active != nil {
		t.Error("expected revoked session to be inactive")
	}

	row, _ := ss.GetByID(ctx, sess.ID)
	if row == nil || row.RevokedAt == nil {
		t.Error("expected revoked_at to be recorded")
	}
}

func TestSessionExpired(t *testing.T) {
	ss, as := setupSessionTestDB(t)
	ctx := context.Background()

	a, _ := as.Create(ctx, model.ProviderAnonymous, "", "", "")
	sess, _ := ss.Create(ctx, a.ID, -time.Minute)

	active, err := ss.GetActive(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active != nil {
		t.Error("expected expired session to be inactive")
	}

	n, err := ss.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d sessions, want 1", n)
	}
}

func TestSessionGetActiveUnknown(t *testing.T) {
	ss, _ := setupSessionTestDB(t)

	sess, err := ss.GetActive(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if sess != nil {
		t.Error("expected nil for unknown session")
	}
}
