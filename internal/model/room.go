package model

import "time"

type RoomStatus string

const (
	RoomStatusOpen   RoomStatus = "open"
	RoomStatusClosed RoomStatus = "closed"
)

// ChatRoom is one support conversation between a customer and (optionally)
// an assigned admin. A customer has at most one open room at a time; closed
// rooms stay as history and are never reopened.
type ChatRoom struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	AdminID       *string    `json:"admin_id,omitempty"`
	Status        RoomStatus `json:"status"`
	LastMessageAt time.Time  `json:"last_message_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

// RoomView is a room enriched for the admin dashboard.
type RoomView struct {
	Room        ChatRoom    `json:"room"`
	User        UserPublic  `json:"user"`
	Admin       *UserPublic `json:"admin,omitempty"`
	UnreadCount int         `json:"unread_count"`
}
