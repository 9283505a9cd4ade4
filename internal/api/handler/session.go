package handler

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/youtoss/ledger/internal/domain"
	"github.com/youtoss/ledger/internal/service"
)

// SessionHandler handles session endpoints.
type SessionHandler struct {
	client *service.Client
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(client *service.Client) *SessionHandler {
	return &SessionHandler{client: client}
}

// Start starts a session.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req domain.StartSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s, err := h.client.StartSession(r.Context(), req.GroupName, req.Players)
	if err != nil {
		handleError(w, err)
		return
	}

	SetSessionETag(w, s)
	respondJSON(w, http.StatusCreated, s)
}

// Get gets a session by ID.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.client.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, err)
		return
	}

	SetSessionETag(w, s)
	respondJSON(w, http.StatusOK, s)
}

// AddPlayers seats players with a zero buy-in.
func (h *SessionHandler) AddPlayers(w http.ResponseWriter, r *http.Request) {
	var req domain.AddPlayersRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s, err := h.client.AddPlayers(r.Context(), chi.URLParam(r, "id"), req.Usernames)
	h.respondSession(w, s, err)
}

// UpdateBuyIn sets one player's total buy-in.
func (h *SessionHandler) UpdateBuyIn(w http.ResponseWriter, r *http.Request) {
	username, req, ok := playerAmount(w, r)
	if !ok {
		return
	}

	s, err := h.client.UpdateBuyIn(r.Context(), chi.URLParam(r, "id"), username, req.Amount)
	h.respondSession(w, s, err)
}

// UpdateCashOut sets one player's cash-out.
func (h *SessionHandler) UpdateCashOut(w http.ResponseWriter, r *http.Request) {
	username, req, ok := playerAmount(w, r)
	if !ok {
		return
	}

	s, err := h.client.UpdateCashOut(r.Context(), chi.URLParam(r, "id"), username, req.Amount)
	h.respondSession(w, s, err)
}

// RecordBadBeat appends a bad beat.
func (h *SessionHandler) RecordBadBeat(w http.ResponseWriter, r *http.Request) {
	var req domain.BadBeat
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	s, err := h.client.RecordBadBeat(r.Context(), chi.URLParam(r, "id"), req)
	h.respondSession(w, s, err)
}

// End ends a session and reconciles scores. An If-Match header makes the
// request fail with 412 when the session changed since it was read.
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req domain.EndSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if r.Header.Get("If-Match") != "" {
		current, err := h.client.GetSession(r.Context(), id)
		if err != nil {
			handleError(w, err)
			return
		}
		if !CheckSessionIfMatch(r, current) {
			RespondPreconditionFailed(w, "session", current.ID, current.Version)
			return
		}
	}

	result, err := h.client.EndSession(r.Context(), id, req.CashOuts)
	if err != nil {
		handleError(w, err)
		return
	}

	SetSessionETag(w, result.Session)
	respondJSON(w, http.StatusOK, result)
}

// Reconcile re-runs score reconciliation of an ended session.
func (h *SessionHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	result, err := h.client.Reconcile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (h *SessionHandler) respondSession(w http.ResponseWriter, s *domain.Session, err error) {
	if err != nil {
		handleError(w, err)
		return
	}
	SetSessionETag(w, s)
	respondJSON(w, http.StatusOK, s)
}

func playerAmount(w http.ResponseWriter, r *http.Request) (string, domain.AmountRequest, bool) {
	var req domain.AmountRequest
	username, err := url.PathUnescape(chi.URLParam(r, "username"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid username")
		return "", req, false
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return "", req, false
	}
	return username, req, true
}
