package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/kidquest/internal/auth"
	"github.com/dukerupert/kidquest/internal/model"
	"github.com/dukerupert/kidquest/internal/room"
)

// RoomHandler serves the challenge room API. Mutations honor If-Match with
// the room version the client last saw and reply with the new version as
// ETag.
type RoomHandler struct {
	svc    *room.Service
	logger *slog.Logger
}

func NewRoomHandler(svc *room.Service, logger *slog.Logger) *RoomHandler {
	return &RoomHandler{svc: svc, logger: logger}
}

func (h *RoomHandler) writeRoom(w http.ResponseWriter, status int, rm *model.Room) {
	setETag(w, rm.Version)
	writeJSON(w, status, rm)
}

// List handles GET /api/rooms
func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.svc.List(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, "list rooms", err)
		return
	}
	if rooms == nil {
		rooms = []model.RoomSummary{}
	}
	writeJSON(w, http.StatusOK, rooms)
}

// Create handles POST /api/rooms
func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	rm, err := h.svc.Create(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, "create room", err)
		return
	}
	h.writeRoom(w, http.StatusCreated, rm)
}

// Get handles GET /api/rooms/{id}
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	rm, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, "get room", err)
		return
	}
	h.writeRoom(w, http.StatusOK, rm)
}

// Join handles POST /api/rooms/{id}/join
func (h *RoomHandler) Join(w http.ResponseWriter, r *http.Request) {
	rm, err := h.svc.Join(r.Context(), auth.UserID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, "join room", err)
		return
	}
	h.writeRoom(w, http.StatusOK, rm)
}

type messageRequest struct {
	Text string `json:"text"`
}

// PostMessage handles POST /api/rooms/{id}/messages
func (h *RoomHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	h.mutate(w, r, "post message", &req, func(userID, roomID string, version int64) (*model.Room, error) {
		return h.svc.PostMessage(r.Context(), userID, roomID, version, req.Text)
	})
}

type proposeRequest struct {
	ThemeID string `json:"themeId"`
	TaskID  string `json:"taskId"`
}

// Propose handles POST /api/rooms/{id}/challenge
func (h *RoomHandler) Propose(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	h.mutate(w, r, "propose challenge", &req, func(userID, roomID string, version int64) (*model.Room, error) {
		return h.svc.Propose(r.Context(), userID, roomID, version, req.ThemeID, req.TaskID)
	})
}

// Accept handles POST /api/rooms/{id}/challenge/accept
func (h *RoomHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "accept challenge", nil, func(userID, roomID string, version int64) (*model.Room, error) {
		return h.svc.Accept(r.Context(), userID, roomID, version)
	})
}

// Reject handles POST /api/rooms/{id}/challenge/reject
func (h *RoomHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "reject challenge", nil, func(userID, roomID string, version int64) (*model.Room, error) {
		return h.svc.Reject(r.Context(), userID, roomID, version)
	})
}

type completeRequest struct {
	WinnerID *string `json:"winnerId"`
}

// Complete handles POST /api/rooms/{id}/challenge/complete. A null or
// missing winnerId records a draw.
func (h *RoomHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	h.mutate(w, r, "complete challenge", &req, func(userID, roomID string, version int64) (*model.Room, error) {
		return h.svc.Complete(r.Context(), userID, roomID, version, req.WinnerID)
	})
}

// Close handles POST /api/rooms/{id}/close
func (h *RoomHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "close room", nil, func(userID, roomID string, version int64) (*model.Room, error) {
		return h.svc.Close(r.Context(), userID, roomID, version)
	})
}

// mutate decodes body (when non-nil) and the If-Match version, then runs op.
func (h *RoomHandler) mutate(w http.ResponseWriter, r *http.Request, name string, body any, op func(userID, roomID string, version int64) (*model.Room, error)) {
	version, err := expectedVersion(r)
	if err != nil {
		writeError(w, h.logger, name, err)
		return
	}
	if body != nil {
		if err := decodeJSON(w, r, body); err != nil {
			writeError(w, h.logger, name, err)
			return
		}
	}
	rm, err := op(auth.UserID(r.Context()), r.PathValue("id"), version)
	if err != nil {
		writeError(w, h.logger, name, err)
		return
	}
	h.writeRoom(w, http.StatusOK, rm)
}
