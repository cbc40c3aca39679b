package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/kidquest/internal/auth"
	"github.com/dukerupert/kidquest/internal/catalog"
	"github.com/dukerupert/kidquest/internal/model"
	"github.com/dukerupert/kidquest/internal/room"
	"github.com/dukerupert/kidquest/internal/store"
	"github.com/dukerupert/kidquest/internal/websocket"
)

type ProfileHandler struct {
	profiles *store.ProfileStore
	events   room.Publisher
	logger   *slog.Logger
}

func NewProfileHandler(ps *store.ProfileStore, events room.Publisher, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{profiles: ps, events: events, logger: logger}
}

func (h *ProfileHandler) changed(p *model.UserProfile) {
	h.events.Publish(websocket.NewMessage("profile", "updated", p.UserID, map[string]any{
		"coins":   p.Coins,
		"version": p.Version,
	}), websocket.UserTopic(p.UserID))
}

// Me handles GET /api/me
func (h *ProfileHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.Ensure(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, "get own profile", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpdateMe handles PATCH /api/me
func (h *ProfileHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var upd model.ProfileUpdate
	if err := decodeJSON(w, r, &upd); err != nil {
		writeError(w, h.logger, "update profile", err)
		return
	}
	p, err := h.profiles.Update(r.Context(), auth.UserID(r.Context()), upd)
	if err != nil {
		writeError(w, h.logger, "update profile", err)
		return
	}
	h.changed(p)
	writeJSON(w, http.StatusOK, p)
}

type completeTaskRequest struct {
	ThemeID string `json:"themeId"`
	TaskID  string `json:"taskId"`
}

// CompleteTask handles POST /api/me/tasks. Completing a task twice awards
// its coins once.
func (h *ProfileHandler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	var req completeTaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, "complete task", err)
		return
	}
	task, ok := catalog.FindTask(req.ThemeID, req.TaskID)
	if !ok {
		writeError(w, h.logger, "complete task", model.ErrUnknownTask)
		return
	}
	userID := auth.UserID(r.Context())
	p, err := h.profiles.AddCompletedTask(r.Context(), userID, catalog.Key(req.ThemeID, req.TaskID), task.Coins)
	if err != nil {
		writeError(w, h.logger, "complete task", err)
		return
	}
	h.logger.Info("task completed", "user_id", userID, "task", catalog.Key(req.ThemeID, req.TaskID), "coins", p.Coins)
	h.changed(p)
	writeJSON(w, http.StatusOK, p)
}

// AddFriend handles PUT /api/me/friends/{id}
func (h *ProfileHandler) AddFriend(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.AddFriend(r.Context(), auth.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, "add friend", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// RemoveFriend handles DELETE /api/me/friends/{id}
func (h *ProfileHandler) RemoveFriend(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.RemoveFriend(r.Context(), auth.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, "remove friend", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Get handles GET /api/profiles/{id}
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, "get profile", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Leaderboard handles GET /api/leaderboard?limit=N
func (h *ProfileHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive number"})
			return
		}
		limit = n
	}
	entries, err := h.profiles.Leaderboard(r.Context(), limit)
	if err != nil {
		writeError(w, h.logger, "leaderboard", err)
		return
	}
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
