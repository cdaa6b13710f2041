package service

import (
	"context"
	"errors"
	"testing"

	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/repository"
)

func newRoomService(rooms *fakeRoomStore, msgs *fakeMessageStore, admins map[string]bool) *RoomService {
	dir := &fakeDirectory{users: map[string]model.UserPublic{
		"customer-1": {ID: "customer-1", DisplayName: "Customer One"},
		"admin-1":    {ID: "admin-1", DisplayName: "Admin One"},
	}}
	return NewRoomService(rooms, msgs, dir, &fakeAuthorizer{admins: admins})
}

func TestGetOrCreateRoomCreatesOnFirstContact(t *testing.T) {
	rooms := newFakeRoomStore()
	svc := newRoomService(rooms, newFakeMessageStore(), nil)

	room, err := svc.GetOrCreateRoom(context.Background(), "customer-1")
	if err != nil {
		t.Fatalf("GetOrCreateRoom: %v", err)
	}
	if room.UserID != "customer-1" {
		t.Errorf("UserID = %q, want customer-1", room.UserID)
	}
	if room.Status != model.RoomStatusOpen {
		t.Errorf("Status = %q, want open", room.Status)
	}
	if room.AdminID != nil {
		t.Errorf("AdminID = %v, want nil on self-service open", *room.AdminID)
	}
	if room.ID == "" {
		t.Error("room id not assigned")
	}
}

func TestGetOrCreateRoomIsIdempotent(t *testing.T) {
	rooms := newFakeRoomStore()
	svc := newRoomService(rooms, newFakeMessageStore(), nil)

	first, err := svc.GetOrCreateRoom(context.Background(), "customer-1")
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := svc.GetOrCreateRoom(context.Background(), "customer-1")
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("second call created a new room: %q vs %q", first.ID, second.ID)
	}
}

func TestGetOrCreateRoomAfterCloseOpensFresh(t *testing.T) {
	rooms := newFakeRoomStore()
	svc := newRoomService(rooms, newFakeMessageStore(), map[string]bool{"admin-1": true})

	first, err := svc.GetOrCreateRoom(context.Background(), "customer-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := svc.CloseRoom(context.Background(), "admin-1", first.ID); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := svc.GetOrCreateRoom(context.Background(), "customer-1")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if second.ID == first.ID {
		t.Error("closed room was reused instead of opening a fresh one")
	}
	if second.Status != model.RoomStatusOpen {
		t.Errorf("Status = %q, want open", second.Status)
	}
}

func TestGetOrCreateRoomMissingID(t *testing.T) {
	svc := newRoomService(newFakeRoomStore(), newFakeMessageStore(), nil)
	if _, err := svc.GetOrCreateRoom(context.Background(), ""); !errors.Is(err, ErrMissingID) {
		t.Errorf("err = %v, want ErrMissingID", err)
	}
}

func TestGetOrCreateRoomPropagatesStoreError(t *testing.T) {
	rooms := newFakeRoomStore()
	storeErr := errors.New("connection reset")
	rooms.findErr = storeErr
	svc := newRoomService(rooms, newFakeMessageStore(), nil)

	_, err := svc.GetOrCreateRoom(context.Background(), "customer-1")
	if !errors.Is(err, storeErr) {
		t.Errorf("err = %v, want wrapped store error", err)
	}
	if len(rooms.rooms) != 0 {
		t.Error("lookup failure must not create a room")
	}
}

func TestCreateRoomRecoversFromLostRace(t *testing.T) {
	rooms := newFakeRoomStore()
	svc := newRoomService(rooms, newFakeMessageStore(), nil)

	// Another request wins the insert between our lookup and create. The
	// fake's uniqueness check makes Create fail with the duplicate sentinel.
	winner := &model.ChatRoom{ID: "winner", UserID: "customer-1", Status: model.RoomStatusOpen}
	rooms.put(winner)
	room, err := svc.createOpenRoom(context.Background(), "customer-1", nil)
	if err != nil {
		t.Fatalf("createOpenRoom: %v", err)
	}
	if room.ID != "winner" {
		t.Errorf("room.ID = %q, want the race winner's room", room.ID)
	}
}

func TestCreateRoomForUserRequiresAdmin(t *testing.T) {
	svc := newRoomService(newFakeRoomStore(), newFakeMessageStore(), map[string]bool{"admin-1": true})

	if _, err := svc.CreateRoomForUser(context.Background(), "customer-1", "customer-2"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("non-admin: err = %v, want ErrPermissionDenied", err)
	}
	if _, err := svc.CreateRoomForUser(context.Background(), "", "customer-2"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("anonymous: err = %v, want ErrPermissionDenied", err)
	}

	room, err := svc.CreateRoomForUser(context.Background(), "admin-1", "customer-2")
	if err != nil {
		t.Fatalf("admin: %v", err)
	}
	if room.AdminID == nil || *room.AdminID != "admin-1" {
		t.Errorf("AdminID = %v, want admin-1", room.AdminID)
	}
}

func TestCreateRoomForUserKeepsExistingAssignment(t *testing.T) {
	rooms := newFakeRoomStore()
	svc := newRoomService(rooms, newFakeMessageStore(), map[string]bool{"admin-1": true, "admin-2": true})

	first, err := svc.CreateRoomForUser(context.Background(), "admin-1", "customer-1")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := svc.CreateRoomForUser(context.Background(), "admin-2", "customer-1")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected the existing open room, got a new one")
	}
	if second.AdminID == nil || *second.AdminID != "admin-1" {
		t.Errorf("AdminID = %v, want the original admin-1 untouched", second.AdminID)
	}
}

func TestAssignAdmin(t *testing.T) {
	rooms := newFakeRoomStore()
	svc := newRoomService(rooms, newFakeMessageStore(), map[string]bool{"admin-1": true})

	room, err := svc.GetOrCreateRoom(context.Background(), "customer-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	updated, err := svc.AssignAdmin(context.Background(), "admin-1", room.ID, "admin-1")
	if err != nil {
		t.Fatalf("AssignAdmin: %v", err)
	}
	if updated.AdminID == nil || *updated.AdminID != "admin-1" {
		t.Errorf("AdminID = %v, want admin-1", updated.AdminID)
	}

	if _, err := svc.AssignAdmin(context.Background(), "customer-1", room.ID, "admin-1"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("non-admin assign: err = %v, want ErrPermissionDenied", err)
	}
	if _, err := svc.AssignAdmin(context.Background(), "admin-1", "no-such-room", "admin-1"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("missing room: err = %v, want ErrNotFound", err)
	}
}

func TestCloseRoomRequiresAdmin(t *testing.T) {
	rooms := newFakeRoomStore()
	svc := newRoomService(rooms, newFakeMessageStore(), map[string]bool{"admin-1": true})

	room, err := svc.GetOrCreateRoom(context.Background(), "customer-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := svc.CloseRoom(context.Background(), "customer-1", room.ID); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("customer close: err = %v, want ErrPermissionDenied", err)
	}

	closed, err := svc.CloseRoom(context.Background(), "admin-1", room.ID)
	if err != nil {
		t.Fatalf("CloseRoom: %v", err)
	}
	if closed.Status != model.RoomStatusClosed {
		t.Errorf("Status = %q, want closed", closed.Status)
	}
}

func TestListRoomsEnrichesViews(t *testing.T) {
	rooms := newFakeRoomStore()
	msgs := newFakeMessageStore()
	svc := newRoomService(rooms, msgs, map[string]bool{"admin-1": true})
	msgSvc := NewMessageService(msgs, rooms, &fakeDirectory{users: nil}, &fakeBroker{})

	room, err := svc.GetOrCreateRoom(context.Background(), "customer-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := msgSvc.Send(context.Background(), room.ID, "customer-1", "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}

	views, err := svc.ListRooms(context.Background(), "admin-1")
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("len(views) = %d, want 1", len(views))
	}
	v := views[0]
	if v.User.DisplayName != "Customer One" {
		t.Errorf("User.DisplayName = %q, want resolved profile", v.User.DisplayName)
	}
	if v.UnreadCount != 1 {
		t.Errorf("UnreadCount = %d, want 1 for the admin caller", v.UnreadCount)
	}

	if _, err := svc.ListRooms(context.Background(), "customer-1"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("customer list: err = %v, want ErrPermissionDenied", err)
	}
}

func TestListRoomsUnknownUserFallsBackToID(t *testing.T) {
	rooms := newFakeRoomStore()
	svc := newRoomService(rooms, newFakeMessageStore(), map[string]bool{"admin-1": true})

	if _, err := svc.GetOrCreateRoom(context.Background(), "ghost-user"); err != nil {
		t.Fatalf("open: %v", err)
	}
	views, err := svc.ListRooms(context.Background(), "admin-1")
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	if views[0].User.DisplayName != "ghost-user" {
		t.Errorf("DisplayName = %q, want the raw id fallback", views[0].User.DisplayName)
	}
}
