package handler

import (
	"net/http"

	"github.com/youtoss/ledger/internal/domain"
	"github.com/youtoss/ledger/internal/service"
)

// AdminHandler handles provisioning endpoints guarded by the admin key.
type AdminHandler struct {
	users *service.UserService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(users *service.UserService) *AdminHandler {
	return &AdminHandler{users: users}
}

// CreateUser creates a user and returns its first API key.
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.users.CreateUser(r.Context(), req)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, resp)
}
