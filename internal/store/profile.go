package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dukerupert/kidquest/internal/docstore"
	"github.com/dukerupert/kidquest/internal/model"
)

// PlaceholderName is shown for players whose profile cannot be loaded.
const PlaceholderName = "Mystery Player"

const (
	maxUsernameLen     = 32
	maxLocationLen     = 64
	maxProfileAttempts = 3
	defaultBoardSize   = 10
	maxBoardSize       = 100
)

// Avatars is the fixed set of avatar images a profile may use.
var Avatars = []string{
	"/avatars/astronaut.png",
	"/avatars/diver.png",
	"/avatars/explorer.png",
	"/avatars/dino-rider.png",
	"/avatars/caped-hero.png",
	"/avatars/robot.png",
	"/avatars/unicorn.png",
	"/avatars/dragon.png",
}

var (
	nameAdjectives = []string{"Brave", "Swift", "Mighty", "Clever", "Sparkly", "Cosmic", "Jolly", "Fearless", "Super", "Lucky"}
	nameHeroes     = []string{"Comet", "Falcon", "Tiger", "Rocket", "Wizard", "Ranger", "Knight", "Dolphin", "Phoenix", "Panda"}
)

// ProfileStore persists user profiles in the "users" collection, keyed by user id.
type ProfileStore struct {
	docs       docstore.Store
	collection string
	now        func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewProfileStore creates a store whose default names and avatars are drawn
// from rng.
func NewProfileStore(docs docstore.Store, appID string, rng *rand.Rand) *ProfileStore {
	return &ProfileStore{
		docs:       docs,
		collection: docstore.Collection(appID, "users"),
		now:        time.Now,
		rng:        rng,
	}
}

func decodeProfile(d *docstore.Document) (*model.UserProfile, error) {
	var p model.UserProfile
	if err := d.Decode(&p); err != nil {
		return nil, err
	}
	p.UserID = d.ID
	p.Version = d.Version
	if p.CompletedTasks == nil {
		p.CompletedTasks = []string{}
	}
	if p.FriendsList == nil {
		p.FriendsList = []string{}
	}
	return &p, nil
}

func (s *ProfileStore) Get(ctx context.Context, userID string) (*model.UserProfile, error) {
	doc, err := s.docs.Get(ctx, s.collection, userID)
	if err != nil {
		return nil, docErr("get profile "+userID, err)
	}
	return decodeProfile(doc)
}

// DisplayName returns the username for userID, or PlaceholderName when the
// profile is missing or unreadable.
func (s *ProfileStore) DisplayName(ctx context.Context, userID string) string {
	p, err := s.Get(ctx, userID)
	if err != nil || p.Username == "" {
		return PlaceholderName
	}
	return p.Username
}

// randomIdentity picks a generated username and an avatar.
func (s *ProfileStore) randomIdentity() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	adj := nameAdjectives[s.rng.IntN(len(nameAdjectives))]
	hero := nameHeroes[s.rng.IntN(len(nameHeroes))]
	num := 10 + s.rng.IntN(90)
	avatar := Avatars[s.rng.IntN(len(Avatars))]
	return fmt.Sprintf("%s%s%02d", adj, hero, num), avatar
}

// CreateDefault stores a new profile with a generated name and avatar. It
// fails with model.ErrConflict if the user already has a profile.
func (s *ProfileStore) CreateDefault(ctx context.Context, userID string) (*model.UserProfile, error) {
	name, avatar := s.randomIdentity()
	doc, err := s.docs.Create(ctx, s.collection, userID, docstore.Fields{
		"username":       name,
		"avatarUrl":      avatar,
		"coins":          0,
		"location":       "",
		"completedTasks": []string{},
		"friendsList":    []string{},
		"createdAt":      s.now().UnixMilli(),
	})
	if err != nil {
		return nil, docErr("create profile "+userID, err)
	}
	return decodeProfile(doc)
}

// Ensure returns the user's profile, creating the default one on first sight.
func (s *ProfileStore) Ensure(ctx context.Context, userID string) (*model.UserProfile, error) {
	p, err := s.Get(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}
	p, err = s.CreateDefault(ctx, userID)
	if errors.Is(err, model.ErrConflict) {
		// another request created it first
		return s.Get(ctx, userID)
	}
	return p, err
}

// modify runs a read-modify-write on the profile, retrying on version
// conflicts. fn returns the fields to write, or nil when nothing changes.
func (s *ProfileStore) modify(ctx context.Context, op, userID string, fn func(p *model.UserProfile) (docstore.Fields, error)) (*model.UserProfile, error) {
	for attempt := 1; ; attempt++ {
		p, err := s.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		fields, err := fn(p)
		if err != nil {
			return nil, err
		}
		if fields == nil {
			return p, nil
		}
		doc, err := s.docs.Update(ctx, s.collection, userID, fields, docstore.IfVersion(p.Version))
		if errors.Is(err, docstore.ErrConflict) && attempt < maxProfileAttempts {
			continue
		}
		if err != nil {
			return nil, docErr(op, err)
		}
		return decodeProfile(doc)
	}
}

// Update applies the non-nil fields of upd.
func (s *ProfileStore) Update(ctx context.Context, userID string, upd model.ProfileUpdate) (*model.UserProfile, error) {
	fields := docstore.Fields{}
	if upd.Username != nil {
		name := strings.TrimSpace(*upd.Username)
		if name == "" || utf8.RuneCountInString(name) > maxUsernameLen {
			return nil, fmt.Errorf("username must be 1 to %d characters: %w", maxUsernameLen, model.ErrInvalidProfile)
		}
		fields["username"] = name
	}
	if upd.AvatarURL != nil {
		if !slices.Contains(Avatars, *upd.AvatarURL) {
			return nil, fmt.Errorf("unknown avatar %q: %w", *upd.AvatarURL, model.ErrInvalidProfile)
		}
		fields["avatarUrl"] = *upd.AvatarURL
	}
	if upd.Location != nil {
		loc := strings.TrimSpace(*upd.Location)
		if utf8.RuneCountInString(loc) > maxLocationLen {
			return nil, fmt.Errorf("location must be at most %d characters: %w", maxLocationLen, model.ErrInvalidProfile)
		}
		fields["location"] = loc
	}
	return s.modify(ctx, "update profile "+userID, userID, func(p *model.UserProfile) (docstore.Fields, error) {
		if len(fields) == 0 {
			return nil, nil
		}
		return fields, nil
	})
}

// AddCompletedTask records taskID and credits coinsEarned in one write.
// Recording an already completed task changes nothing.
func (s *ProfileStore) AddCompletedTask(ctx context.Context, userID, taskID string, coinsEarned int) (*model.UserProfile, error) {
	if coinsEarned < 0 {
		return nil, fmt.Errorf("coins earned must not be negative: %w", model.ErrInvalidProfile)
	}
	return s.modify(ctx, "add completed task", userID, func(p *model.UserProfile) (docstore.Fields, error) {
		if p.HasCompleted(taskID) {
			return nil, nil
		}
		return docstore.Fields{
			"completedTasks": append(slices.Clone(p.CompletedTasks), taskID),
			"coins":          p.Coins + coinsEarned,
		}, nil
	})
}

func (s *ProfileStore) AddFriend(ctx context.Context, userID, friendID string) (*model.UserProfile, error) {
	if userID == friendID {
		return nil, model.ErrSelfFriend
	}
	if _, err := s.Get(ctx, friendID); err != nil {
		return nil, err
	}
	return s.modify(ctx, "add friend", userID, func(p *model.UserProfile) (docstore.Fields, error) {
		if p.HasFriend(friendID) {
			return nil, nil
		}
		return docstore.Fields{"friendsList": append(slices.Clone(p.FriendsList), friendID)}, nil
	})
}

func (s *ProfileStore) RemoveFriend(ctx context.Context, userID, friendID string) (*model.UserProfile, error) {
	return s.modify(ctx, "remove friend", userID, func(p *model.UserProfile) (docstore.Fields, error) {
		if !p.HasFriend(friendID) {
			return nil, nil
		}
		friends := slices.DeleteFunc(slices.Clone(p.FriendsList), func(id string) bool { return id == friendID })
		return docstore.Fields{"friendsList": friends}, nil
	})
}

// Leaderboard ranks profiles by coins, highest first, then by username.
func (s *ProfileStore) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = defaultBoardSize
	}
	if limit > maxBoardSize {
		limit = maxBoardSize
	}

	docs, err := s.docs.List(ctx, s.collection)
	if err != nil {
		return nil, docErr("list profiles", err)
	}
	profiles := make([]*model.UserProfile, 0, len(docs))
	for i := range docs {
		p, err := decodeProfile(&docs[i])
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}

	sort.SliceStable(profiles, func(i, j int) bool {
		if profiles[i].Coins != profiles[j].Coins {
			return profiles[i].Coins > profiles[j].Coins
		}
		return profiles[i].Username < profiles[j].Username
	})

	if len(profiles) > limit {
		profiles = profiles[:limit]
	}
	entries := make([]model.LeaderboardEntry, len(profiles))
	for i, p := range profiles {
		entries[i] = model.LeaderboardEntry{
			Rank:           i + 1,
			UserID:         p.UserID,
			Username:       p.Username,
			AvatarURL:      p.AvatarURL,
			Coins:          p.Coins,
			TasksCompleted: len(p.CompletedTasks),
		}
	}
	return entries, nil
}
