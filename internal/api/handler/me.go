package handler

import (
	"net/http"

	"github.com/youtoss/ledger/internal/domain"
	"github.com/youtoss/ledger/internal/service"
)

// MeHandler handles endpoints about the signed-in user.
type MeHandler struct {
	client *service.Client
}

// NewMeHandler creates a new MeHandler.
func NewMeHandler(client *service.Client) *MeHandler {
	return &MeHandler{client: client}
}

// Get returns the signed-in user.
func (h *MeHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.client.Me(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

// SetHomeGroup selects the caller's home group.
func (h *MeHandler) SetHomeGroup(w http.ResponseWriter, r *http.Request) {
	var req domain.SetHomeGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.client.SetHomeGroup(r.Context(), req.GroupName)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

// Sessions returns the caller's net in every session they played.
func (h *MeHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.client.ListMySessions(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	if sessions == nil {
		sessions = []domain.PlayerSessionSummary{}
	}

	respondJSON(w, http.StatusOK, sessions)
}

// ActiveSession returns the active session of the caller's home group.
func (h *MeHandler) ActiveSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.client.GetActiveSession(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	SetSessionETag(w, s)
	respondJSON(w, http.StatusOK, s)
}
