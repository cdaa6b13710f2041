package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/supportchat/internal/fanout"
	"github.com/supportchat/internal/identity"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
)

// defaultListLimit bounds a full-history load. Per-room support volume stays
// far under this; a real pagination pass would thread limit/offset through
// the handlers.
const defaultListLimit = 1000

// MessageService persists and lists a room's messages, tracks read state,
// and re-broadcasts each insert on the room's fanout topic. The message row
// is authoritative; the activity bump and the broadcast are best-effort.
type MessageService struct {
	msgs   MessageStore
	rooms  RoomStore
	dir    identity.Directory
	broker fanout.Broker
}

func NewMessageService(msgs MessageStore, rooms RoomStore, dir identity.Directory, broker fanout.Broker) *MessageService {
	return &MessageService{msgs: msgs, rooms: rooms, dir: dir, broker: broker}
}

// Send validates and stores one message, bumps the room's activity
// timestamp, and publishes the stored row to the room topic. Closed rooms
// reject sends: closed history is immutable.
func (s *MessageService) Send(ctx context.Context, roomID, senderID, body string) (*model.ChatMessage, error) {
	if roomID == "" || senderID == "" {
		return nil, ErrMissingID
	}
	if strings.TrimSpace(body) == "" {
		return nil, ErrEmptyMessage
	}

	room, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Status == model.RoomStatusClosed {
		return nil, ErrRoomClosed
	}

	now := time.Now().UTC()
	m := &model.ChatMessage{
		ID:         uuid.New().String(),
		ChatRoomID: roomID,
		SenderID:   senderID,
		Message:    body,
		IsRead:     false,
		CreatedAt:  now,
	}
	if err := s.msgs.Create(ctx, m); err != nil {
		return nil, err
	}

	// The row exists from here on; the bump and the broadcast must not fail
	// the send.
	if err := s.rooms.TouchLastMessage(ctx, roomID, now); err != nil {
		logger.Errorf("msgService.Send touch room=%s: %v", roomID, err)
	}

	sender := identity.LookupOrFallback(ctx, s.dir, senderID)
	m.Sender = &sender

	if err := s.broker.Publish(ctx, roomID, m); err != nil {
		logger.Errorf("msgService.Send publish room=%s: %v", roomID, err)
	}
	return m, nil
}

// ListMessages is the full-history load a client does on room open, oldest
// first. Live updates layer on top via the fanout topic.
func (s *MessageService) ListMessages(ctx context.Context, roomID string) ([]model.ChatMessage, error) {
	if roomID == "" {
		return nil, ErrMissingID
	}
	if _, err := s.rooms.GetByID(ctx, roomID); err != nil {
		return nil, err
	}
	return s.msgs.ListByRoom(ctx, roomID, defaultListLimit, 0)
}

// MarkAsRead flags the room's messages from other senders as read.
// Idempotent.
func (s *MessageService) MarkAsRead(ctx context.Context, roomID, readerID string) error {
	if roomID == "" || readerID == "" {
		return ErrMissingID
	}
	if _, err := s.rooms.GetByID(ctx, roomID); err != nil {
		return err
	}
	return s.msgs.MarkAsRead(ctx, roomID, readerID)
}

// UnreadCount counts unread messages from other senders; the filter matches
// MarkAsRead so a read-then-count always lands on zero.
func (s *MessageService) UnreadCount(ctx context.Context, roomID, readerID string) (int, error) {
	if roomID == "" || readerID == "" {
		return 0, ErrMissingID
	}
	if _, err := s.rooms.GetByID(ctx, roomID); err != nil {
		return 0, err
	}
	return s.msgs.UnreadCount(ctx, roomID, readerID)
}
