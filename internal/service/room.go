package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/supportchat/internal/identity"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/repository"
)

// RoomStore is the persistence surface RoomService needs. Implemented by
// repository.RoomRepository; tests substitute fakes.
type RoomStore interface {
	Create(ctx context.Context, c *model.ChatRoom) error
	GetByID(ctx context.Context, id string) (*model.ChatRoom, error)
	FindOpenByUser(ctx context.Context, userID string) (*model.ChatRoom, error)
	AssignAdmin(ctx context.Context, roomID, adminID string) error
	Close(ctx context.Context, roomID string) error
	TouchLastMessage(ctx context.Context, roomID string, t time.Time) error
	ListAll(ctx context.Context) ([]model.ChatRoom, error)
}

// MessageStore is the persistence surface for messages.
type MessageStore interface {
	Create(ctx context.Context, m *model.ChatMessage) error
	ListByRoom(ctx context.Context, roomID string, limit, offset int) ([]model.ChatMessage, error)
	MarkAsRead(ctx context.Context, roomID, readerID string) error
	UnreadCount(ctx context.Context, roomID, readerID string) (int, error)
}

// RoomService drives room lifecycle: open on first contact, optional admin
// assignment, terminal close. The at-most-one-open-room-per-user invariant
// is held by the store's partial unique index; a lost creation race resolves
// by re-fetching the winner.
type RoomService struct {
	rooms RoomStore
	msgs  MessageStore
	dir   identity.Directory
	authz identity.Authorizer
}

func NewRoomService(rooms RoomStore, msgs MessageStore, dir identity.Directory, authz identity.Authorizer) *RoomService {
	return &RoomService{rooms: rooms, msgs: msgs, dir: dir, authz: authz}
}

func (s *RoomService) requireAdmin(ctx context.Context, callerID string) error {
	if callerID == "" {
		return ErrPermissionDenied
	}
	ok, err := s.authz.IsAdmin(ctx, callerID)
	if err != nil {
		return fmt.Errorf("roomService admin check: %w", err)
	}
	if !ok {
		return ErrPermissionDenied
	}
	return nil
}

// GetOrCreateRoom returns the user's open room, creating one on first
// contact. A store-level lookup failure propagates; it never silently turns
// into a fresh room.
func (s *RoomService) GetOrCreateRoom(ctx context.Context, userID string) (*model.ChatRoom, error) {
	if userID == "" {
		return nil, ErrMissingID
	}
	room, err := s.rooms.FindOpenByUser(ctx, userID)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	return s.createOpenRoom(ctx, userID, nil)
}

// CreateRoomForUser is the admin-initiated variant. An existing open room is
// returned unchanged; its assignment is not overwritten.
func (s *RoomService) CreateRoomForUser(ctx context.Context, adminID, userID string) (*model.ChatRoom, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, ErrMissingID
	}
	room, err := s.rooms.FindOpenByUser(ctx, userID)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	return s.createOpenRoom(ctx, userID, &adminID)
}

func (s *RoomService) createOpenRoom(ctx context.Context, userID string, adminID *string) (*model.ChatRoom, error) {
	now := time.Now().UTC()
	room := &model.ChatRoom{
		ID:            uuid.New().String(),
		UserID:        userID,
		AdminID:       adminID,
		Status:        model.RoomStatusOpen,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	err := s.rooms.Create(ctx, room)
	if err == nil {
		return room, nil
	}
	if errors.Is(err, repository.ErrDuplicateOpenRoom) {
		// Lost the creation race: someone opened the room between our lookup
		// and insert. The winner's row is the room.
		return s.rooms.FindOpenByUser(ctx, userID)
	}
	return nil, err
}

// AssignAdmin sets the room's assigned admin and returns the updated room.
func (s *RoomService) AssignAdmin(ctx context.Context, callerID, roomID, adminID string) (*model.ChatRoom, error) {
	if err := s.requireAdmin(ctx, callerID); err != nil {
		return nil, err
	}
	if roomID == "" || adminID == "" {
		return nil, ErrMissingID
	}
	if err := s.rooms.AssignAdmin(ctx, roomID, adminID); err != nil {
		return nil, err
	}
	return s.rooms.GetByID(ctx, roomID)
}

// CloseRoom moves the room to its terminal state. There is no reopen; the
// user's next contact gets a fresh room.
func (s *RoomService) CloseRoom(ctx context.Context, callerID, roomID string) (*model.ChatRoom, error) {
	if err := s.requireAdmin(ctx, callerID); err != nil {
		return nil, err
	}
	if roomID == "" {
		return nil, ErrMissingID
	}
	if err := s.rooms.Close(ctx, roomID); err != nil {
		return nil, err
	}
	return s.rooms.GetByID(ctx, roomID)
}

// ListRooms returns every room for the admin dashboard, newest activity
// first, with customer/admin identity and the caller's unread badge count.
// Identity lookups degrade to the raw id; unread counts degrade to zero.
func (s *RoomService) ListRooms(ctx context.Context, callerID string) ([]model.RoomView, error) {
	if err := s.requireAdmin(ctx, callerID); err != nil {
		return nil, err
	}
	rooms, err := s.rooms.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]model.RoomView, 0, len(rooms))
	for i := range rooms {
		view := model.RoomView{
			Room: rooms[i],
			User: identity.LookupOrFallback(ctx, s.dir, rooms[i].UserID),
		}
		if rooms[i].AdminID != nil {
			admin := identity.LookupOrFallback(ctx, s.dir, *rooms[i].AdminID)
			view.Admin = &admin
		}
		count, err := s.msgs.UnreadCount(ctx, rooms[i].ID, callerID)
		if err != nil {
			logger.Errorf("roomService.ListRooms unread room=%s: %v", rooms[i].ID, err)
		} else {
			view.UnreadCount = count
		}
		views = append(views, view)
	}
	return views, nil
}
