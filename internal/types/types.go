package types

import (
	"time"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	AvatarUrl    string    `json:"avatar_url,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Room struct {
	Id          int       `json:"id"`
	Name        string    `json:"name"`
	ExternalId  string    `json:"external_id"`
	Description string    `json:"description"`
	OwnerId     int       `json:"owner_id"`
	IsPrivate   bool      `json:"is_private"`
	Members     []User    `json:"members,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// PresenceStatus is a user's live status within a room.
type PresenceStatus string

const (
	StatusStudying PresenceStatus = "studying"
	StatusBreak    PresenceStatus = "break"
	StatusIdle     PresenceStatus = "idle"
)

func (s PresenceStatus) Valid() bool {
	switch s {
	case StatusStudying, StatusBreak, StatusIdle:
		return true
	}
	return false
}

type PresenceEntry struct {
	User     User           `json:"user"`
	Status   PresenceStatus `json:"status"`
	JoinedAt time.Time      `json:"joined_at"`
}

type Message struct {
	Id        int              `json:"id"`
	RoomId    string           `json:"room_id"`
	UserId    int              `json:"user_id"`
	Username  string           `json:"username"`
	Content   string           `json:"content"`
	Deleted   bool             `json:"deleted,omitempty"`
	Pinned    bool             `json:"pinned,omitempty"`
	Reactions map[string][]int `json:"reactions,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}
