package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dukerupert/kidquest/internal/docstore"
	"github.com/dukerupert/kidquest/internal/model"
)

// Room document fields that may change after creation.
const (
	FieldPlayer2ID        = "player2Id"
	FieldStatus           = "status"
	FieldMessages         = "messages"
	FieldCurrentChallenge = "currentChallenge"
)

// RoomStore persists rooms in the "rooms" collection.
type RoomStore struct {
	docs       docstore.Store
	collection string
	profiles   *ProfileStore
	now        func() time.Time
}

func NewRoomStore(docs docstore.Store, appID string, profiles *ProfileStore) *RoomStore {
	return &RoomStore{
		docs:       docs,
		collection: docstore.Collection(appID, "rooms"),
		profiles:   profiles,
		now:        time.Now,
	}
}

func decodeRoom(d *docstore.Document) (*model.Room, error) {
	var r model.Room
	if err := d.Decode(&r); err != nil {
		return nil, err
	}
	r.ID = d.ID
	r.Version = d.Version
	if r.Messages == nil {
		r.Messages = []model.Message{}
	}
	return &r, nil
}

func (s *RoomStore) Create(ctx context.Context, creatorID string) (*model.Room, error) {
	doc, err := s.docs.Insert(ctx, s.collection, docstore.Fields{
		"player1Id":           creatorID,
		FieldPlayer2ID:        nil,
		FieldStatus:           model.RoomWaiting,
		"createdAt":           s.now().UnixMilli(),
		FieldMessages:         []model.Message{},
		FieldCurrentChallenge: nil,
	})
	if err != nil {
		return nil, docErr("create room", err)
	}
	return decodeRoom(doc)
}

func (s *RoomStore) Get(ctx context.Context, id string) (*model.Room, error) {
	doc, err := s.docs.Get(ctx, s.collection, id)
	if err != nil {
		return nil, docErr("get room "+id, err)
	}
	return decodeRoom(doc)
}

// ListForUser returns the rooms userID plays in, newest first, each with the
// opponent's display name.
func (s *RoomStore) ListForUser(ctx context.Context, userID string) ([]model.RoomSummary, error) {
	seen := map[string]bool{}
	var rooms []*model.Room
	for _, field := range []string{"player1Id", FieldPlayer2ID} {
		docs, err := s.docs.Query(ctx, s.collection, field, userID)
		if err != nil {
			return nil, docErr("list rooms by "+field, err)
		}
		for i := range docs {
			if seen[docs[i].ID] {
				continue
			}
			r, err := decodeRoom(&docs[i])
			if err != nil {
				return nil, err
			}
			seen[r.ID] = true
			rooms = append(rooms, r)
		}
	}

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt != rooms[j].CreatedAt {
			return rooms[i].CreatedAt > rooms[j].CreatedAt
		}
		return rooms[i].ID < rooms[j].ID
	})

	names := map[string]string{}
	summaries := make([]model.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		sum := model.RoomSummary{Room: *r, OpponentID: r.Opponent(userID)}
		if sum.OpponentID != "" {
			name, ok := names[sum.OpponentID]
			if !ok {
				name = s.profiles.DisplayName(ctx, sum.OpponentID)
				names[sum.OpponentID] = name
			}
			sum.OpponentName = name
		}
		summaries = append(summaries, sum)
	}
	return summaries, nil
}

// Join seats joinerID as player2. joined is false when joinerID already
// plays in the room, in which case nothing is written.
func (s *RoomStore) Join(ctx context.Context, id, joinerID string) (r *model.Room, joined bool, err error) {
	r, err = s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if r.IsParticipant(joinerID) {
		return r, false, nil
	}
	if r.Player2ID != nil {
		return nil, false, model.ErrRoomFull
	}
	if r.Status == model.RoomCompleted {
		return nil, false, model.ErrRoomClosed
	}
	r.Player2ID = &joinerID
	saved, err := s.Save(ctx, r, FieldPlayer2ID)
	if err != nil {
		return nil, false, err
	}
	return saved, true, nil
}

// Save writes the named fields of r, provided nobody else wrote the room
// since r was read. The returned room carries the new version.
func (s *RoomStore) Save(ctx context.Context, r *model.Room, fields ...string) (*model.Room, error) {
	all := docstore.Fields{
		FieldPlayer2ID:        r.Player2ID,
		FieldStatus:           r.Status,
		FieldMessages:         r.Messages,
		FieldCurrentChallenge: r.CurrentChallenge,
	}
	changed := docstore.Fields{}
	for _, f := range fields {
		v, ok := all[f]
		if !ok {
			return nil, fmt.Errorf("save room: field %q is not writable", f)
		}
		changed[f] = v
	}
	if len(changed) == 0 {
		return r, nil
	}

	doc, err := s.docs.Update(ctx, s.collection, r.ID, changed, docstore.IfVersion(r.Version))
	if err != nil {
		return nil, docErr("save room "+r.ID, err)
	}
	return decodeRoom(doc)
}
