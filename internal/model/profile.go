package model

import "slices"

// UserProfile is a player's gamification record, keyed by user id.
type UserProfile struct {
	UserID         string   `json:"userId"`
	Username       string   `json:"username"`
	AvatarURL      string   `json:"avatarUrl"`
	Coins          int      `json:"coins"`
	Location       string   `json:"location"`
	CompletedTasks []string `json:"completedTasks"`
	FriendsList    []string `json:"friendsList"`
	CreatedAt      int64    `json:"createdAt"`
	Version        int64    `json:"version"`
}

func (p *UserProfile) HasCompleted(taskID string) bool {
	return slices.Contains(p.CompletedTasks, taskID)
}

func (p *UserProfile) HasFriend(userID string) bool {
	return slices.Contains(p.FriendsList, userID)
}

// ProfileUpdate holds the user-editable profile fields. Nil fields are left untouched.
type ProfileUpdate struct {
	Username  *string `json:"username"`
	AvatarURL *string `json:"avatarUrl"`
	Location  *string `json:"location"`
}

func (u ProfileUpdate) Empty() bool {
	return u.Username == nil && u.AvatarURL == nil && u.Location == nil
}

type LeaderboardEntry struct {
	Rank           int    `json:"rank"`
	UserID         string `json:"userId"`
	Username       string `json:"username"`
	AvatarURL      string `json:"avatarUrl"`
	Coins          int    `json:"coins"`
	TasksCompleted int    `json:"tasksCompleted"`
}
