// Package room implements the two-player challenge room: who may propose,
// answer and settle a challenge, and how the room moves between states.
package room

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dukerupert/kidquest/internal/catalog"
	"github.com/dukerupert/kidquest/internal/model"
	"github.com/dukerupert/kidquest/internal/store"
)

// MaxMessageLen is the longest chat message, in characters, after trimming.
const MaxMessageLen = 500

// The rule functions below validate a mutation against r, apply it in place
// and return the names of the fields they changed. On error r is untouched.

// Propose makes actor challenge the other player on a catalog task.
func Propose(r *model.Room, actor, themeID, taskID string, now time.Time) ([]string, error) {
	if r.Status == model.RoomCompleted {
		return nil, model.ErrRoomClosed
	}
	if !r.IsParticipant(actor) {
		return nil, model.ErrInvalidChallenger
	}
	opponent := r.Opponent(actor)
	if opponent == "" {
		return nil, model.ErrOpponentMissing
	}
	if _, ok := catalog.FindTask(themeID, taskID); !ok {
		return nil, model.ErrUnknownTask
	}
	if c := r.CurrentChallenge; c != nil && !c.Status.Terminal() {
		return nil, model.ErrChallengeInProgress
	}

	r.CurrentChallenge = &model.Challenge{
		ThemeID:      themeID,
		TaskID:       taskID,
		ChallengerID: actor,
		ChallengedID: opponent,
		Status:       model.ChallengePending,
		SuggestedAt:  now.UnixMilli(),
	}
	fields := []string{store.FieldCurrentChallenge}
	if r.Status == model.RoomWaiting {
		r.Status = model.RoomActive
		fields = append(fields, store.FieldStatus)
	}
	return fields, nil
}

// Accept lets the challenged player take the pending challenge.
func Accept(r *model.Room, actor string) ([]string, error) {
	return respond(r, actor, model.ChallengeAccepted)
}

// Reject lets the challenged player turn the pending challenge down.
func Reject(r *model.Room, actor string) ([]string, error) {
	return respond(r, actor, model.ChallengeRejected)
}

func respond(r *model.Room, actor string, to model.ChallengeStatus) ([]string, error) {
	if r.Status == model.RoomCompleted {
		return nil, model.ErrRoomClosed
	}
	c := r.CurrentChallenge
	if c == nil {
		return nil, model.ErrNoChallenge
	}
	if actor != c.ChallengedID {
		return nil, model.ErrUnauthorized
	}
	if c.Status != model.ChallengePending {
		return nil, model.ErrInvalidTransition
	}

	next := *c
	next.Status = to
	r.CurrentChallenge = &next
	return []string{store.FieldCurrentChallenge}, nil
}

// Complete settles an accepted challenge. A nil winner records a draw.
func Complete(r *model.Room, actor string, winnerID *string) ([]string, error) {
	if r.Status == model.RoomCompleted {
		return nil, model.ErrRoomClosed
	}
	c := r.CurrentChallenge
	if c == nil {
		return nil, model.ErrNoChallenge
	}
	if !r.IsParticipant(actor) {
		return nil, model.ErrUnauthorized
	}
	if c.Status != model.ChallengeAccepted {
		return nil, model.ErrInvalidTransition
	}
	if winnerID != nil && *winnerID != c.ChallengerID && *winnerID != c.ChallengedID {
		return nil, model.ErrInvalidWinner
	}

	next := *c
	next.Status = model.ChallengeCompleted
	if winnerID != nil {
		w := *winnerID
		next.WinnerID = &w
	}
	r.CurrentChallenge = &next
	return []string{store.FieldCurrentChallenge}, nil
}

// Close ends the room for both players. Closing a closed room changes nothing.
func Close(r *model.Room, actor string) ([]string, error) {
	if !r.IsParticipant(actor) {
		return nil, model.ErrUnauthorized
	}
	if r.Status == model.RoomCompleted {
		return nil, nil
	}
	r.Status = model.RoomCompleted
	return []string{store.FieldStatus}, nil
}

// PostMessage appends a chat message from actor.
func PostMessage(r *model.Room, actor, text string, now time.Time) ([]string, error) {
	if r.Status == model.RoomCompleted {
		return nil, model.ErrRoomClosed
	}
	if !r.IsParticipant(actor) {
		return nil, model.ErrUnauthorized
	}
	text = strings.TrimSpace(text)
	if text == "" || utf8.RuneCountInString(text) > MaxMessageLen {
		return nil, model.ErrInvalidMessage
	}

	msgs := make([]model.Message, len(r.Messages), len(r.Messages)+1)
	copy(msgs, r.Messages)
	r.Messages = append(msgs, model.Message{
		SenderID:  actor,
		Text:      text,
		Timestamp: now.UnixMilli(),
	})
	return []string{store.FieldMessages}, nil
}
