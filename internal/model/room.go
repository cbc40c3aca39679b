package model

// RoomStatus is the lifecycle state of a challenge room.
type RoomStatus string

const (
	RoomWaiting   RoomStatus = "waiting"
	RoomActive    RoomStatus = "active"
	RoomCompleted RoomStatus = "completed"
)

// ChallengeStatus is the state of the room's current challenge.
type ChallengeStatus string

const (
	ChallengePending   ChallengeStatus = "pending"
	ChallengeAccepted  ChallengeStatus = "accepted"
	ChallengeRejected  ChallengeStatus = "rejected"
	ChallengeCompleted ChallengeStatus = "completed"
)

// Terminal reports whether no further transition is possible for this challenge.
func (s ChallengeStatus) Terminal() bool {
	return s == ChallengeRejected || s == ChallengeCompleted
}

// Room is a two-player challenge session. Timestamps are epoch milliseconds.
type Room struct {
	ID               string     `json:"id"`
	Player1ID        string     `json:"player1Id"`
	Player2ID        *string    `json:"player2Id"`
	Status           RoomStatus `json:"status"`
	CreatedAt        int64      `json:"createdAt"`
	Messages         []Message  `json:"messages"`
	CurrentChallenge *Challenge `json:"currentChallenge"`
	Version          int64      `json:"version"`
}

type Message struct {
	SenderID  string `json:"senderId"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

type Challenge struct {
	ThemeID      string          `json:"themeId"`
	TaskID       string          `json:"taskId"`
	ChallengerID string          `json:"challengerId"`
	ChallengedID string          `json:"challengedId"`
	Status       ChallengeStatus `json:"status"`
	WinnerID     *string         `json:"winnerId"`
	SuggestedAt  int64           `json:"suggestedAt"`
}

// IsParticipant reports whether userID is player1 or player2.
func (r *Room) IsParticipant(userID string) bool {
	if userID == "" {
		return false
	}
	if r.Player1ID == userID {
		return true
	}
	return r.Player2ID != nil && *r.Player2ID == userID
}

// Opponent returns the other participant's id, or "" when there is none yet.
func (r *Room) Opponent(userID string) string {
	if r.Player1ID == userID {
		if r.Player2ID == nil {
			return ""
		}
		return *r.Player2ID
	}
	if r.Player2ID != nil && *r.Player2ID == userID {
		return r.Player1ID
	}
	return ""
}

// RoomSummary is a room as listed for one of its players.
type RoomSummary struct {
	Room
	OpponentID   string `json:"opponentId"`
	OpponentName string `json:"opponentName"`
}
