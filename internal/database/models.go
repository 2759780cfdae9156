package database

import "time"

type User struct {
	Id           int
	Username     string
	EmailAddress string
	AvatarUrl    string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Room struct {
	Id          int
	ExternalId  string
	Name        string
	Description string
	OwnerId     int
	IsPrivate   bool
	MemberIds   []int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Message struct {
	Id        int
	RoomId    int
	UserId    int
	Username  string
	Content   string
	Deleted   bool
	Pinned    bool
	Reactions map[string][]int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	AvatarUrl    string
	PasswordHash string
}

type CreateRoomParams struct {
	Name        string
	Description string
	ExternalId  string
	OwnerId     int
	IsPrivate   bool
	MemberIds   []int
}

type CreateMessageParams struct {
	RoomId  int
	UserId  int
	Content string
}
