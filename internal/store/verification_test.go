package store

import (
	"context"
	"errors"
	"testing"

	"github.com/dukerupert/kidquest/internal/database"
)

func setupVerificationTestDB(t *testing.T) *VerificationStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewVerificationStore(db)
}

func TestVerificationCreate(t *testing.T) {
	vs := setupVerificationTestDB(t)
	ctx := context.Background()

	vc, err := vs.Create(ctx, "+4712345678", "123456")
	if err != nil {
		t.Fatalf("create code: %v", err)
	}
	if vc.Code != "123456" {
		t.Errorf("code = %q, want 123456", vc.Code)
	}
	if vc.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", vc.Attempts)
	}

	pending, err := vs.GetPending(ctx, "+4712345678")
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if pending == nil || pending.ID != vc.ID {
		t.Errorf("pending = %+v, want id %d", pending, vc.ID)
	}
}

func TestVerificationCreateInvalidatesPrevious(t *testing.T) {
	vs := setupVerificationTestDB(t)
	ctx := context.Background()

	first, _ := vs.Create(ctx, "+4712345678", "111111")
	second, _ := vs.Create(ctx, "+4712345678", "222222")

	pending, _ := vs.GetPending(ctx, "+4712345678")
	if pending == nil || pending.ID != second.ID {
		t.Fatalf("pending = %+v, want the second code", pending)
	}
	if pending.ID == first.ID {
		t.Error("first code still pending")
	}
}

func TestVerificationAttemptsAndUse(t *testing.T) {
	vs := setupVerificationTestDB(t)
	ctx := context.Background()

	vc, _ := vs.Create(ctx, "+4712345678", "123456")
	for want := 1; want <= 3; want++ {
		got, err := vs.IncrementAttempts(ctx, vc.ID)
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if got != want {
			t.Errorf("attempts = %d, want %d", got, want)
		}
	}

	if err := vs.MarkUsed(ctx, vc.ID); err != nil {
		t.Fatalf("mark used: %v", err)
	}
	if err := vs.MarkUsed(ctx, vc.ID); !errors.Is(err, ErrCodeUsed) {
		t.Errorf("second mark used err = %v, want ErrCodeUsed", err)
	}
	pending, _ := vs.GetPending(ctx, "+4712345678")
	if pending != nil {
		t.Error("expected no pending code after use")
	}

	n, err := vs.DeleteExpired(ctx)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d codes, want 1", n)
	}
}
