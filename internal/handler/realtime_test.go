package handler

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/kidquest/internal/auth"
	"github.com/dukerupert/kidquest/internal/model"
	"github.com/dukerupert/kidquest/internal/websocket"
)

type roomMap map[string]*model.Room

func (m roomMap) Get(_ context.Context, id string) (*model.Room, error) {
	if id == "broken" {
		return nil, model.ErrStoreUnavailable
	}
	r, ok := m[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return r, nil
}

func TestRealtimeTopics(t *testing.T) {
	bob := "bob"
	rooms := roomMap{
		"mine":   {ID: "mine", Player1ID: "alice"},
		"joined": {ID: "joined", Player1ID: "bob", Player2ID: &[]string{"alice"}[0]},
		"theirs": {ID: "theirs", Player1ID: "carol", Player2ID: &bob},
	}
	h := NewRealtimeHandler(websocket.NewHub(discard), rooms, nil, discard)

	r := httptest.NewRequest("GET", "/ws?room=mine&room=theirs&room=joined&room=gone&room=mine", nil)
	r = r.WithContext(auth.WithAuth(r.Context(), auth.AuthContext{UserID: "alice"}))

	topics, err := h.topics(r)
	require.NoError(t, err)
	assert.Equal(t, []string{"user:alice", "room:mine", "room:joined"}, topics)
}

func TestRealtimeTopicsStoreDown(t *testing.T) {
	h := NewRealtimeHandler(websocket.NewHub(discard), roomMap{}, nil, discard)

	r := httptest.NewRequest("GET", "/ws?room=broken", nil)
	r = r.WithContext(auth.WithAuth(r.Context(), auth.AuthContext{UserID: "alice"}))

	_, err := h.topics(r)
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
}
