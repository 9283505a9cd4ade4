package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/youtoss/ledger/internal/domain"
	"github.com/youtoss/ledger/internal/service"
)

// GroupHandler handles group endpoints.
type GroupHandler struct {
	client *service.Client
}

// NewGroupHandler creates a new GroupHandler.
func NewGroupHandler(client *service.Client) *GroupHandler {
	return &GroupHandler{client: client}
}

// Create creates a new group hosted by the caller.
func (h *GroupHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	group, err := h.client.CreateGroup(r.Context(), req.Name, req.Passcode)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, group)
}

// Join joins an existing group with its passcode.
func (h *GroupHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req domain.JoinGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	group, err := h.client.JoinGroup(r.Context(), req.Name, req.Passcode)
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, group)
}

// List lists the caller's memberships with their scores.
func (h *GroupHandler) List(w http.ResponseWriter, r *http.Request) {
	memberships, err := h.client.ListGroupsForUser(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, memberships)
}

// Members returns the group leaderboard.
func (h *GroupHandler) Members(w http.ResponseWriter, r *http.Request) {
	members, err := h.client.ListMembers(r.Context(), chi.URLParam(r, "groupID"))
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, members)
}

// Score returns the caller's score in the group.
func (h *GroupHandler) Score(w http.ResponseWriter, r *http.Request) {
	score, err := h.client.GetScore(r.Context(), chi.URLParam(r, "groupID"))
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, score)
}

// Sessions returns the group's session history, newest first.
func (h *GroupHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.client.ListGroupSessions(r.Context(), chi.URLParam(r, "groupID"))
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, sessions)
}

// ActiveSession returns the group's active session.
func (h *GroupHandler) ActiveSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.client.GetGroupActiveSession(r.Context(), chi.URLParam(r, "groupID"))
	if err != nil {
		handleError(w, err)
		return
	}

	SetSessionETag(w, s)
	respondJSON(w, http.StatusOK, s)
}
