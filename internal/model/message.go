package model

import "time"

// ChatMessage is one entry in a room's append-only message log. Rows are
// created once by Send and only ever mutated by mark-as-read.
type ChatMessage struct {
	ID         string      `json:"id"`
	ChatRoomID string      `json:"chat_room_id"`
	SenderID   string      `json:"sender_id"`
	Message    string      `json:"message"`
	IsRead     bool        `json:"is_read"`
	CreatedAt  time.Time   `json:"created_at"`
	Sender     *UserPublic `json:"sender,omitempty"`
}
