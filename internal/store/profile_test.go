package store

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"

	"github.com/dukerupert/kidquest/internal/database"
	"github.com/dukerupert/kidquest/internal/docstore"
	"github.com/dukerupert/kidquest/internal/model"
)

func setupProfileTestDB(t *testing.T) (*ProfileStore, *docstore.SQLStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	docs := docstore.NewSQLStore(db)
	return NewProfileStore(docs, "test", rand.New(rand.NewPCG(7, 7))), docs
}

func strPtr(s string) *string { return &s }

func TestProfileCreateDefault(t *testing.T) {
	ps, _ := setupProfileTestDB(t)
	ctx := context.Background()

	p, err := ps.CreateDefault(ctx, "alice")
	if err != nil {
		t.Fatalf("create default: %v", err)
	}
	if p.UserID != "alice" {
		t.Errorf("user id = %q, want alice", p.UserID)
	}
	if p.Username == "" {
		t.Error("expected generated username")
	}
	if !slices.Contains(Avatars, p.AvatarURL) {
		t.Errorf("avatar %q not in candidate set", p.AvatarURL)
	}
	if p.Coins != 0 || len(p.CompletedTasks) != 0 || len(p.FriendsList) != 0 {
		t.Errorf("expected fresh profile, got %+v", p)
	}

	if _, err := ps.CreateDefault(ctx, "alice"); !errors.Is(err, model.ErrConflict) {
		t.Errorf("second create err = %v, want ErrConflict", err)
	}
}

func TestProfileDefaultsAreSeeded(t *testing.T) {
	a, _ := setupProfileTestDB(t)
	b, _ := setupProfileTestDB(t)
	ctx := context.Background()

	pa, _ := a.CreateDefault(ctx, "u1")
	pb, _ := b.CreateDefault(ctx, "u1")
	if pa.Username != pb.Username || pa.AvatarURL != pb.AvatarURL {
		t.Errorf("same seed gave %q/%q and %q/%q", pa.Username, pa.AvatarURL, pb.Username, pb.AvatarURL)
	}
}

func TestProfileEnsure(t *testing.T) {
	ps, _ := setupProfileTestDB(t)
	ctx := context.Background()

	first, err := ps.Ensure(ctx, "alice")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	second, err := ps.Ensure(ctx, "alice")
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if first.Username != second.Username {
		t.Errorf("profile regenerated: %q then %q", first.Username, second.Username)
	}
}

func TestProfileGetNotFound(t *testing.T) {
	ps, _ := setupProfileTestDB(t)

	_, err := ps.Get(context.Background(), "ghost")
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if name := ps.DisplayName(context.Background(), "ghost"); name != PlaceholderName {
		t.Errorf("display name = %q, want %q", name, PlaceholderName)
	}
}

func TestProfileUpdate(t *testing.T) {
	ps, _ := setupProfileTestDB(t)
	ctx := context.Background()
	orig, _ := ps.CreateDefault(ctx, "alice")

	p, err := ps.Update(ctx, "alice", model.ProfileUpdate{Username: strPtr("  Ali  "), Location: strPtr("Oslo")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if p.Username != "Ali" {
		t.Errorf("username = %q, want Ali", p.Username)
	}
	if p.Location != "Oslo" {
		t.Errorf("location = %q, want Oslo", p.Location)
	}
	if p.AvatarURL != orig.AvatarURL {
		t.Errorf("avatar changed to %q", p.AvatarURL)
	}
}

func TestProfileUpdateValidation(t *testing.T) {
	ps, _ := setupProfileTestDB(t)
	ctx := context.Background()
	ps.CreateDefault(ctx, "alice")

	tests := []struct {
		name string
		upd  model.ProfileUpdate
	}{
		{"blank username", model.ProfileUpdate{Username: strPtr("   ")}},
		{"long username", model.ProfileUpdate{Username: strPtr(strings.Repeat("x", 33))}},
		{"unknown avatar", model.ProfileUpdate{AvatarURL: strPtr("https://evil.example/a.png")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ps.Update(ctx, "alice", tt.upd)
			if !errors.Is(err, model.ErrInvalidProfile) {
				t.Errorf("err = %v, want ErrInvalidProfile", err)
			}
		})
	}
}

func TestProfileUpdateMissing(t *testing.T) {
	ps, _ := setupProfileTestDB(t)

	_, err := ps.Update(context.Background(), "ghost", model.ProfileUpdate{Location: strPtr("Oslo")})
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestProfileAddCompletedTask(t *testing.T) {
	ps, _ := setupProfileTestDB(t)
	ctx := context.Background()
	ps.CreateDefault(ctx, "alice")

	p, err := ps.AddCompletedTask(ctx, "alice", "space:t1", 10)
	if err != nil {
		t.Fatalf("add task: %v", err)
	}
	if p.Coins != 10 {
		t.Errorf("coins = %d, want 10", p.Coins)
	}

	// second completion of the same task is a no-op
	p, err = ps.AddCompletedTask(ctx, "alice", "space:t1", 10)
	if err != nil {
		t.Fatalf("add task again: %v", err)
	}
	if p.Coins != 10 {
		t.Errorf("coins after repeat = %d, want 10", p.Coins)
	}
	if len(p.CompletedTasks) != 1 {
		t.Errorf("completed = %v, want one entry", p.CompletedTasks)
	}

	p, _ = ps.AddCompletedTask(ctx, "alice", "ocean:t2", 15)
	if p.Coins != 25 {
		t.Errorf("coins = %d, want 25", p.Coins)
	}

	if _, err := ps.AddCompletedTask(ctx, "alice", "ocean:t3", -5); !errors.Is(err, model.ErrInvalidProfile) {
		t.Errorf("negative coins err = %v, want ErrInvalidProfile", err)
	}
}

func TestProfileFriends(t *testing.T) {
	ps, _ := setupProfileTestDB(t)
	ctx := context.Background()
	ps.CreateDefault(ctx, "alice")
	ps.CreateDefault(ctx, "bob")

	p, err := ps.AddFriend(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("add friend: %v", err)
	}
	if !p.HasFriend("bob") {
		t.Errorf("friends = %v, want bob", p.FriendsList)
	}

	p, _ = ps.AddFriend(ctx, "alice", "bob")
	if len(p.FriendsList) != 1 {
		t.Errorf("friends = %v, want no duplicate", p.FriendsList)
	}

	if _, err := ps.AddFriend(ctx, "alice", "alice"); !errors.Is(err, model.ErrSelfFriend) {
		t.Errorf("self friend err = %v, want ErrSelfFriend", err)
	}
	if _, err := ps.AddFriend(ctx, "alice", "ghost"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("unknown friend err = %v, want ErrNotFound", err)
	}

	p, err = ps.RemoveFriend(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("remove friend: %v", err)
	}
	if len(p.FriendsList) != 0 {
		t.Errorf("friends = %v, want empty", p.FriendsList)
	}
	if _, err := ps.RemoveFriend(ctx, "alice", "bob"); err != nil {
		t.Errorf("second remove: %v", err)
	}
}

// conflictingStore makes the first n updates fail as if another writer won.
type conflictingStore struct {
	docstore.Store
	failures int
	calls    int
}

func (c *conflictingStore) Update(ctx context.Context, collection, id string, fields docstore.Fields, opts ...docstore.UpdateOption) (*docstore.Document, error) {
	c.calls++
	if c.calls <= c.failures {
		return nil, docstore.ErrConflict
	}
	return c.Store.Update(ctx, collection, id, fields, opts...)
}

func TestProfileRetriesConflicts(t *testing.T) {
	_, docs := setupProfileTestDB(t)
	ctx := context.Background()

	flaky := &conflictingStore{Store: docs, failures: 2}
	ps := NewProfileStore(flaky, "test", rand.New(rand.NewPCG(1, 1)))
	ps.CreateDefault(ctx, "alice")

	p, err := ps.AddCompletedTask(ctx, "alice", "dino:t1", 5)
	if err != nil {
		t.Fatalf("add task: %v", err)
	}
	if p.Coins != 5 {
		t.Errorf("coins = %d, want 5", p.Coins)
	}
	if flaky.calls != 3 {
		t.Errorf("update calls = %d, want 3", flaky.calls)
	}

	flaky.calls, flaky.failures = 0, 3
	if _, err := ps.AddCompletedTask(ctx, "alice", "dino:t2", 5); !errors.Is(err, model.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict after retries", err)
	}
}

func TestProfileLeaderboard(t *testing.T) {
	ps, _ := setupProfileTestDB(t)
	ctx := context.Background()

	for _, u := range []struct {
		id, name string
		coins    int
	}{
		{"u1", "Zed", 30},
		{"u2", "Amy", 50},
		{"u3", "Bea", 30},
		{"u4", "Cal", 0},
	} {
		ps.CreateDefault(ctx, u.id)
		ps.Update(ctx, u.id, model.ProfileUpdate{Username: strPtr(u.name)})
		if u.coins > 0 {
			ps.AddCompletedTask(ctx, u.id, "space:t1", u.coins)
		}
	}

	board, err := ps.Leaderboard(ctx, 3)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board) != 3 {
		t.Fatalf("got %d entries, want 3", len(board))
	}
	want := []string{"Amy", "Bea", "Zed"}
	for i, name := range want {
		if board[i].Username != name {
			t.Errorf("rank %d = %s, want %s", i+1, board[i].Username, name)
		}
		if board[i].Rank != i+1 {
			t.Errorf("entry %d rank = %d", i, board[i].Rank)
		}
	}
	if board[0].TasksCompleted != 1 {
		t.Errorf("tasks completed = %d, want 1", board[0].TasksCompleted)
	}
}
