package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/youtoss/ledger/internal/domain"
	"github.com/youtoss/ledger/internal/identity"
	"github.com/youtoss/ledger/internal/service"
)

// APIKeyHandler handles API key endpoints of the signed-in user.
type APIKeyHandler struct {
	users *service.UserService
}

// NewAPIKeyHandler creates a new APIKeyHandler.
func NewAPIKeyHandler(users *service.UserService) *APIKeyHandler {
	return &APIKeyHandler{users: users}
}

// Create creates a new API key.
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.UserIDFromContext(r.Context())
	if !ok {
		handleError(w, domain.NotAuthenticated("CreateAPIKey", domain.ReasonSignedOut))
		return
	}

	var req domain.CreateAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.users.CreateAPIKey(r.Context(), userID, req.Name)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, resp)
}

// List lists the caller's API keys (without the actual key values).
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.UserIDFromContext(r.Context())
	if !ok {
		handleError(w, domain.NotAuthenticated("ListAPIKeys", domain.ReasonSignedOut))
		return
	}

	keys, err := h.users.ListAPIKeys(r.Context(), userID)
	if err != nil {
		handleError(w, err)
		return
	}
	if keys == nil {
		keys = []*domain.APIKey{}
	}

	respondJSON(w, http.StatusOK, keys)
}

// Delete deletes one of the caller's API keys.
func (h *APIKeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.UserIDFromContext(r.Context())
	if !ok {
		handleError(w, domain.NotAuthenticated("DeleteAPIKey", domain.ReasonSignedOut))
		return
	}

	if err := h.users.DeleteAPIKey(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
