package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/youtoss/ledger/internal/auth"
	"github.com/youtoss/ledger/internal/domain"
	"github.com/youtoss/ledger/internal/service"
)

// OIDCExchanger is the part of the OIDC provider the login flow needs.
type OIDCExchanger interface {
	AuthCodeURL(state, nonce string) string
	Exchange(ctx context.Context, code, nonce string) (*auth.OIDCClaims, error)
}

// AuthHandler handles the OIDC login flow. A successful login returns a
// bearer token for the API.
type AuthHandler struct {
	provider OIDCExchanger
	state    *auth.StateStore
	tokens   *auth.TokenManager
	users    *service.UserService
}

// NewAuthHandler creates a new AuthHandler. A nil provider disables login.
func NewAuthHandler(provider OIDCExchanger, state *auth.StateStore, tokens *auth.TokenManager, users *service.UserService) *AuthHandler {
	return &AuthHandler{provider: provider, state: state, tokens: tokens, users: users}
}

func (h *AuthHandler) enabled(w http.ResponseWriter) bool {
	if h.provider == nil || h.state == nil {
		respondStandardError(w, http.StatusNotFound, domain.ErrCodeResourceNotFound,
			"OIDC authentication is not enabled", "", nil)
		return false
	}
	return true
}

// Login redirects to the OIDC provider.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}

	stateData, err := h.state.Generate(w)
	if err != nil {
		slog.Error("failed to generate oidc state", "error", err)
		respondStandardError(w, http.StatusInternalServerError, domain.ErrCodeInternalError,
			"failed to initiate login", "", nil)
		return
	}

	http.Redirect(w, r, h.provider.AuthCodeURL(stateData.State, stateData.Nonce), http.StatusSeeOther)
}

// Callback completes the OIDC login and issues an API token.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}
	ctx := r.Context()
	q := r.URL.Query()

	if errParam := q.Get("error"); errParam != "" {
		desc := q.Get("error_description")
		if desc == "" {
			desc = errParam
		}
		slog.Warn("oidc provider returned error", "error", errParam, "description", desc)
		respondStandardError(w, http.StatusUnauthorized, domain.ErrCodeNotAuthenticated, desc, domain.ReasonBadCredential, nil)
		return
	}

	code := q.Get("code")
	if code == "" {
		respondError(w, http.StatusBadRequest, "no authorization code received")
		return
	}

	stateData, err := h.state.Validate(r, q.Get("state"))
	if err != nil {
		slog.Warn("oidc state validation failed", "error", err)
		respondError(w, http.StatusBadRequest, "invalid state parameter")
		return
	}
	h.state.Clear(w)

	claims, err := h.provider.Exchange(ctx, code, stateData.Nonce)
	if err != nil {
		slog.Warn("oidc token exchange failed", "error", err)
		respondStandardError(w, http.StatusUnauthorized, domain.ErrCodeNotAuthenticated,
			"failed to complete authentication", domain.ReasonBadCredential, nil)
		return
	}

	user, err := h.users.LoginOIDC(ctx, claims)
	if err != nil {
		handleError(w, err)
		return
	}

	token, expiresAt, err := h.tokens.Generate(user)
	if err != nil {
		slog.Error("failed to sign token", "user_id", user.ID, "error", err)
		respondStandardError(w, http.StatusInternalServerError, domain.ErrCodeInternalError,
			"failed to issue token", "", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	respondJSON(w, http.StatusOK, &domain.TokenResponse{Token: token, ExpiresAt: expiresAt, User: user})
}
