package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/kidquest/internal/auth"
	"github.com/dukerupert/kidquest/internal/model"
	"github.com/dukerupert/kidquest/internal/websocket"
)

// RoomReader looks up a room by id.
type RoomReader interface {
	Get(ctx context.Context, roomID string) (*model.Room, error)
}

type RealtimeHandler struct {
	hub     *websocket.Hub
	rooms   RoomReader
	origins []string
	logger  *slog.Logger
}

func NewRealtimeHandler(hub *websocket.Hub, rooms RoomReader, origins []string, logger *slog.Logger) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, rooms: rooms, origins: origins, logger: logger}
}

// Serve handles GET /ws?room={id}. The connection always hears about the
// user's own rooms and profile, plus every requested room the user plays in.
func (h *RealtimeHandler) Serve(w http.ResponseWriter, r *http.Request) {
	topics, err := h.topics(r)
	if err != nil {
		writeError(w, h.logger, "websocket topics", err)
		return
	}
	websocket.Serve(h.hub, w, r, topics, h.origins)
}

func (h *RealtimeHandler) topics(r *http.Request) ([]string, error) {
	userID := auth.UserID(r.Context())
	topics := []string{websocket.UserTopic(userID)}
	seen := map[string]bool{}
	for _, id := range r.URL.Query()["room"] {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		rm, err := h.rooms.Get(r.Context(), id)
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if rm.IsParticipant(userID) {
			topics = append(topics, websocket.RoomTopic(id))
		}
	}
	return topics, nil
}
