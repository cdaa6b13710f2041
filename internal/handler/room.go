package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/supportchat/internal/middleware"
	"github.com/supportchat/internal/service"
)

type RoomHandler struct {
	roomSvc *service.RoomService
}

func NewRoomHandler(roomSvc *service.RoomService) *RoomHandler {
	return &RoomHandler{roomSvc: roomSvc}
}

// GetOrCreate returns the caller's open support room, opening one on first
// contact.
func (h *RoomHandler) GetOrCreate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	room, err := h.roomSvc.GetOrCreateRoom(r.Context(), userID)
	if err != nil {
		writeServiceError(w, "room get_or_create", err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// ListRooms returns every room for the admin dashboard, newest activity first.
func (h *RoomHandler) ListRooms(w http.ResponseWriter, r *http.Request) {
	callerID := middleware.GetUserID(r.Context())

	views, err := h.roomSvc.ListRooms(r.Context(), callerID)
	if err != nil {
		writeServiceError(w, "room list", err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// CreateForUser opens a room on a customer's behalf (admin action).
func (h *RoomHandler) CreateForUser(w http.ResponseWriter, r *http.Request) {
	callerID := middleware.GetUserID(r.Context())

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	room, err := h.roomSvc.CreateRoomForUser(r.Context(), callerID, req.UserID)
	if err != nil {
		writeServiceError(w, "room create_for_user", err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

// AssignAdmin hands the room to a specific admin.
func (h *RoomHandler) AssignAdmin(w http.ResponseWriter, r *http.Request) {
	callerID := middleware.GetUserID(r.Context())
	roomID := chi.URLParam(r, "id")

	var req struct {
		AdminID string `json:"admin_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	room, err := h.roomSvc.AssignAdmin(r.Context(), callerID, roomID, req.AdminID)
	if err != nil {
		writeServiceError(w, "room assign", err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// CloseRoom moves the room to its terminal closed state.
func (h *RoomHandler) CloseRoom(w http.ResponseWriter, r *http.Request) {
	callerID := middleware.GetUserID(r.Context())
	roomID := chi.URLParam(r, "id")

	room, err := h.roomSvc.CloseRoom(r.Context(), callerID, roomID)
	if err != nil {
		writeServiceError(w, "room close", err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}
