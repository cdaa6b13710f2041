package service

import (
	"context"
	"sync"
	"time"

	"github.com/supportchat/internal/fanout"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/repository"
)

// fakeRoomStore keeps rooms in a map and enforces the same one-open-room
// constraint the database index does.
type fakeRoomStore struct {
	mu    sync.Mutex
	rooms map[string]*model.ChatRoom

	createErr  error
	findErr    error
	touchErr   error
	touchCalls int
}

func newFakeRoomStore() *fakeRoomStore {
	return &fakeRoomStore{rooms: make(map[string]*model.ChatRoom)}
}

func (f *fakeRoomStore) Create(ctx context.Context, c *model.ChatRoom) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, r := range f.rooms {
		if r.UserID == c.UserID && r.Status == model.RoomStatusOpen && c.Status == model.RoomStatusOpen {
			return repository.ErrDuplicateOpenRoom
		}
	}
	cp := *c
	f.rooms[c.ID] = &cp
	return nil
}

func (f *fakeRoomStore) GetByID(ctx context.Context, id string) (*model.ChatRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRoomStore) FindOpenByUser(ctx context.Context, userID string) (*model.ChatRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, r := range f.rooms {
		if r.UserID == userID && r.Status == model.RoomStatusOpen {
			cp := *r
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeRoomStore) AssignAdmin(ctx context.Context, roomID, adminID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[roomID]
	if !ok {
		return repository.ErrNotFound
	}
	r.AdminID = &adminID
	return nil
}

func (f *fakeRoomStore) Close(ctx context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rooms[roomID]
	if !ok {
		return repository.ErrNotFound
	}
	r.Status = model.RoomStatusClosed
	return nil
}

func (f *fakeRoomStore) TouchLastMessage(ctx context.Context, roomID string, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touchCalls++
	if f.touchErr != nil {
		return f.touchErr
	}
	r, ok := f.rooms[roomID]
	if !ok {
		return repository.ErrNotFound
	}
	r.LastMessageAt = t
	return nil
}

func (f *fakeRoomStore) ListAll(ctx context.Context) ([]model.ChatRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.ChatRoom, 0, len(f.rooms))
	for _, r := range f.rooms {
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeRoomStore) put(r *model.ChatRoom) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	f.rooms[r.ID] = &cp
}

type fakeMessageStore struct {
	mu       sync.Mutex
	messages []model.ChatMessage

	createErr error
	unreadErr error
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{}
}

func (f *fakeMessageStore) Create(ctx context.Context, m *model.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.messages = append(f.messages, *m)
	return nil
}

func (f *fakeMessageStore) ListByRoom(ctx context.Context, roomID string, limit, offset int) ([]model.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ChatMessage
	for _, m := range f.messages {
		if m.ChatRoomID == roomID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMessageStore) MarkAsRead(ctx context.Context, roomID, readerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.messages {
		if f.messages[i].ChatRoomID == roomID && f.messages[i].SenderID != readerID {
			f.messages[i].IsRead = true
		}
	}
	return nil
}

func (f *fakeMessageStore) UnreadCount(ctx context.Context, roomID, readerID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unreadErr != nil {
		return 0, f.unreadErr
	}
	count := 0
	for _, m := range f.messages {
		if m.ChatRoomID == roomID && m.SenderID != readerID && !m.IsRead {
			count++
		}
	}
	return count, nil
}

// fakeDirectory resolves ids it knows and reports ErrNotFound for the rest.
type fakeDirectory struct {
	users map[string]model.UserPublic
}

func (f *fakeDirectory) Lookup(ctx context.Context, id string) (*model.UserPublic, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

type fakeAuthorizer struct {
	admins map[string]bool
	err    error
}

func (f *fakeAuthorizer) IsAdmin(ctx context.Context, userID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.admins[userID], nil
}

type fakeBroker struct {
	mu        sync.Mutex
	published []*model.ChatMessage
	err       error
}

func (f *fakeBroker) Publish(ctx context.Context, roomID string, m *model.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, m)
	return nil
}

func (f *fakeBroker) Subscribe(ctx context.Context, roomID string, fn fanout.Handler) (fanout.Subscription, error) {
	return nopSubscription{}, nil
}

func (f *fakeBroker) Close() error { return nil }

type nopSubscription struct{}

func (nopSubscription) Unsubscribe() {}

func (f *fakeBroker) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}
