package handler

import "net/http"

// UserHandler exposes the caller's anonymous identifier.
type UserHandler struct{}

// NewUserHandler creates a UserHandler.
func NewUserHandler() *UserHandler { return &UserHandler{} }

// GetUser returns {"user_id": ...}.
// GET /api/user
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID(r)})
}
