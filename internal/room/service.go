package room

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/kidquest/internal/catalog"
	"github.com/dukerupert/kidquest/internal/model"
	"github.com/dukerupert/kidquest/internal/push"
	"github.com/dukerupert/kidquest/internal/websocket"
)

// Repository stores rooms. Save must fail with model.ErrConflict when the
// room changed since it was read.
type Repository interface {
	Create(ctx context.Context, creatorID string) (*model.Room, error)
	Get(ctx context.Context, id string) (*model.Room, error)
	ListForUser(ctx context.Context, userID string) ([]model.RoomSummary, error)
	Join(ctx context.Context, id, joinerID string) (*model.Room, bool, error)
	Save(ctx context.Context, r *model.Room, fields ...string) (*model.Room, error)
}

// Names resolves a player's display name.
type Names interface {
	DisplayName(ctx context.Context, userID string) string
}

// Publisher delivers realtime messages to subscribed clients.
type Publisher interface {
	Publish(msg websocket.Message, topics ...string)
}

// Notifier pushes a notification to a user's devices.
type Notifier interface {
	NotifyUser(ctx context.Context, userID string, payload push.Payload) int
}

// Service runs room operations on behalf of a signed-in player.
type Service struct {
	rooms  Repository
	names  Names
	events Publisher
	notify Notifier
	logger *slog.Logger
	now    func() time.Time
}

func NewService(rooms Repository, names Names, events Publisher, notify Notifier, logger *slog.Logger) *Service {
	return &Service{
		rooms:  rooms,
		names:  names,
		events: events,
		notify: notify,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Service) Create(ctx context.Context, userID string) (*model.Room, error) {
	r, err := s.rooms.Create(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("room created", "room_id", r.ID, "user_id", userID)
	s.publish(r, "created")
	return r, nil
}

// Get returns any room by id. Rooms are readable before joining so a player
// can look at an invite.
func (s *Service) Get(ctx context.Context, roomID string) (*model.Room, error) {
	return s.rooms.Get(ctx, roomID)
}

func (s *Service) List(ctx context.Context, userID string) ([]model.RoomSummary, error) {
	return s.rooms.ListForUser(ctx, userID)
}

func (s *Service) Join(ctx context.Context, userID, roomID string) (*model.Room, error) {
	r, joined, err := s.rooms.Join(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if !joined {
		return r, nil
	}

	s.logger.Info("room joined", "room_id", r.ID, "user_id", userID)
	s.publish(r, "joined")
	s.notify.NotifyUser(ctx, r.Player1ID, push.Payload{
		Title: "A friend joined!",
		Body:  s.names.DisplayName(ctx, userID) + " joined your room.",
		URL:   "/rooms/" + r.ID,
		Tag:   model.NotifTagRoomJoin,
	})
	return r, nil
}

// Propose starts a challenge on a catalog task. expectedVersion, when
// non-zero, must match the stored room version.
func (s *Service) Propose(ctx context.Context, userID, roomID string, expectedVersion int64, themeID, taskID string) (*model.Room, error) {
	r, err := s.mutate(ctx, roomID, expectedVersion, "challenge_proposed", func(r *model.Room) ([]string, error) {
		return Propose(r, userID, themeID, taskID, s.now())
	})
	if err != nil {
		return nil, err
	}

	c := r.CurrentChallenge
	task, _ := catalog.FindTask(c.ThemeID, c.TaskID)
	s.notify.NotifyUser(ctx, c.ChallengedID, push.Payload{
		Title: "New challenge!",
		Body:  fmt.Sprintf("%s challenged you to %s", s.names.DisplayName(ctx, userID), task.Title),
		URL:   "/rooms/" + r.ID,
		Tag:   model.NotifTagChallenge,
	})
	return r, nil
}

func (s *Service) Accept(ctx context.Context, userID, roomID string, expectedVersion int64) (*model.Room, error) {
	return s.mutate(ctx, roomID, expectedVersion, "challenge_accepted", func(r *model.Room) ([]string, error) {
		return Accept(r, userID)
	})
}

func (s *Service) Reject(ctx context.Context, userID, roomID string, expectedVersion int64) (*model.Room, error) {
	return s.mutate(ctx, roomID, expectedVersion, "challenge_rejected", func(r *model.Room) ([]string, error) {
		return Reject(r, userID)
	})
}

// Complete settles the accepted challenge; winnerID nil records a draw.
func (s *Service) Complete(ctx context.Context, userID, roomID string, expectedVersion int64, winnerID *string) (*model.Room, error) {
	return s.mutate(ctx, roomID, expectedVersion, "challenge_completed", func(r *model.Room) ([]string, error) {
		return Complete(r, userID, winnerID)
	})
}

func (s *Service) Close(ctx context.Context, userID, roomID string, expectedVersion int64) (*model.Room, error) {
	return s.mutate(ctx, roomID, expectedVersion, "closed", func(r *model.Room) ([]string, error) {
		return Close(r, userID)
	})
}

func (s *Service) PostMessage(ctx context.Context, userID, roomID string, expectedVersion int64, text string) (*model.Room, error) {
	return s.mutate(ctx, roomID, expectedVersion, "message_posted", func(r *model.Room) ([]string, error) {
		return PostMessage(r, userID, text, s.now())
	})
}

// mutate reads the room, applies rule and writes the changed fields
// conditional on the version that was read.
func (s *Service) mutate(ctx context.Context, roomID string, expectedVersion int64, action string, rule func(*model.Room) ([]string, error)) (*model.Room, error) {
	r, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if expectedVersion != 0 && r.Version != expectedVersion {
		return nil, fmt.Errorf("room %s is at version %d, not %d: %w", roomID, r.Version, expectedVersion, model.ErrConflict)
	}

	fields, err := rule(r)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return r, nil
	}

	saved, err := s.rooms.Save(ctx, r, fields...)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("room updated", "room_id", saved.ID, "action", action, "version", saved.Version)
	s.publish(saved, action)
	return saved, nil
}

func (s *Service) publish(r *model.Room, action string) {
	topics := []string{websocket.RoomTopic(r.ID), websocket.UserTopic(r.Player1ID)}
	if r.Player2ID != nil {
		topics = append(topics, websocket.UserTopic(*r.Player2ID))
	}
	s.events.Publish(websocket.NewMessage("room", action, r.ID, map[string]any{
		"version": r.Version,
		"status":  r.Status,
	}), topics...)
}
