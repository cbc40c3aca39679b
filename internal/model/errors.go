package model

import "errors"

// Lookup and store failures.
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("document was modified concurrently")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Room rule violations.
var (
	ErrRoomFull            = errors.New("room already has two players")
	ErrRoomClosed          = errors.New("room is closed")
	ErrUnauthorized        = errors.New("not allowed for this player")
	ErrInvalidChallenger   = errors.New("challenger is not in this room")
	ErrInvalidWinner       = errors.New("winner must be one of the room players")
	ErrOpponentMissing     = errors.New("waiting for a second player")
	ErrChallengeInProgress = errors.New("a challenge is already in progress")
	ErrNoChallenge         = errors.New("room has no challenge")
	ErrInvalidTransition   = errors.New("challenge cannot change to that status")
	ErrUnknownTask         = errors.New("unknown theme or task")
	ErrInvalidMessage      = errors.New("message must be 1 to 500 characters")
)

// Profile and account violations.
var (
	ErrSelfFriend         = errors.New("cannot add yourself as a friend")
	ErrInvalidProfile     = errors.New("invalid profile fields")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidInput       = errors.New("invalid input")
)
