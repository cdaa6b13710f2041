package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/supportchat/internal/identity"
	"github.com/supportchat/internal/middleware"
	"github.com/supportchat/internal/service"
)

type MessageHandler struct {
	msgSvc *service.MessageService
	rooms  service.RoomStore
	authz  identity.Authorizer
}

func NewMessageHandler(msgSvc *service.MessageService, rooms service.RoomStore, authz identity.Authorizer) *MessageHandler {
	return &MessageHandler{msgSvc: msgSvc, rooms: rooms, authz: authz}
}

// canAccess reports whether the caller may touch the room: its customer and
// any admin.
func (h *MessageHandler) canAccess(r *http.Request, roomID, userID string) (bool, error) {
	room, err := h.rooms.GetByID(r.Context(), roomID)
	if err != nil {
		return false, err
	}
	if room.UserID == userID {
		return true, nil
	}
	return h.authz.IsAdmin(r.Context(), userID)
}

// ListMessages returns the room's full history, oldest first.
func (h *MessageHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())

	ok, err := h.canAccess(r, roomID, userID)
	if err != nil {
		writeServiceError(w, "messages list access", err)
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "not a room participant")
		return
	}

	messages, err := h.msgSvc.ListMessages(r.Context(), roomID)
	if err != nil {
		writeServiceError(w, "messages list", err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// Send stores one message in the room and broadcasts it to live subscribers.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())

	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ok, err := h.canAccess(r, roomID, userID)
	if err != nil {
		writeServiceError(w, "message send access", err)
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "not a room participant")
		return
	}

	msg, err := h.msgSvc.Send(r.Context(), roomID, userID, req.Message)
	if err != nil {
		writeServiceError(w, "message send", err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// MarkAsRead flags the room's messages from other senders as read.
func (h *MessageHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())

	ok, err := h.canAccess(r, roomID, userID)
	if err != nil {
		writeServiceError(w, "mark read access", err)
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "not a room participant")
		return
	}

	if err := h.msgSvc.MarkAsRead(r.Context(), roomID, userID); err != nil {
		writeServiceError(w, "mark read", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// UnreadCount returns the caller's unread badge count for the room.
func (h *MessageHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())

	ok, err := h.canAccess(r, roomID, userID)
	if err != nil {
		writeServiceError(w, "unread access", err)
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "not a room participant")
		return
	}

	count, err := h.msgSvc.UnreadCount(r.Context(), roomID, userID)
	if err != nil {
		writeServiceError(w, "unread count", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread_count": count})
}
