package ws

import "github.com/supportchat/internal/model"

type EventType string

const (
	// Client -> server.
	EventSubscribe   EventType = "subscribe"
	EventUnsubscribe EventType = "unsubscribe"
	EventSend        EventType = "send"
	EventRead        EventType = "read"

	// Server -> client.
	EventMessage    EventType = "message"
	EventSubscribed EventType = "subscribed"
	EventMsgRead    EventType = "message_read"
	EventError      EventType = "error"
)

// IncomingMessage is what the client sends over the socket. A client views
// one room at a time: subscribe switches rooms, unsubscribe detaches.
type IncomingMessage struct {
	Type    EventType `json:"type"`
	RoomID  string    `json:"room_id,omitempty"`
	Message string    `json:"message,omitempty"`
}

// OutgoingMessage is what the server pushes. Payload uses typed structs to
// avoid map[string]any allocations on the hot path.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// SubscribedPayload acknowledges a room subscription; the client fetches
// history after this and de-duplicates live messages by id.
type SubscribedPayload struct {
	RoomID string `json:"room_id"`
}

// ReadPayload tells other viewers of the room who caught up.
type ReadPayload struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

// MessagePayload wraps a delivered chat message.
type MessagePayload = model.ChatMessage
