package handler

import (
	"net/http"

	"github.com/supportchat/internal/identity"
	"github.com/supportchat/internal/middleware"
	"github.com/supportchat/internal/model"
	"github.com/supportchat/internal/repository"
)

type UserHandler struct {
	users *repository.UserRepository
	authz identity.Authorizer
}

func NewUserHandler(users *repository.UserRepository, authz identity.Authorizer) *UserHandler {
	return &UserHandler{users: users, authz: authz}
}

// GetMe returns the caller's profile.
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		writeServiceError(w, "user me", err)
		return
	}
	writeJSON(w, http.StatusOK, user.ToPublic())
}

// ListUsers returns registered users for the admin room-creation picker.
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	callerID := middleware.GetUserID(r.Context())

	isAdmin, err := h.authz.IsAdmin(r.Context(), callerID)
	if err != nil {
		writeServiceError(w, "users list admin check", err)
		return
	}
	if !isAdmin {
		writeError(w, http.StatusForbidden, "permission denied")
		return
	}

	limit := queryInt(r, "limit", 200)
	if limit > 1000 {
		limit = 1000
	}
	users, err := h.users.ListAll(r.Context(), limit)
	if err != nil {
		writeServiceError(w, "users list", err)
		return
	}

	public := make([]model.UserPublic, 0, len(users))
	for i := range users {
		public = append(public, users[i].ToPublic())
	}
	writeJSON(w, http.StatusOK, public)
}
