package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/youtoss/ledger/internal/auth"
	"github.com/youtoss/ledger/internal/domain"
	"github.com/youtoss/ledger/internal/identity"
)

type contextKey string

const APIKeyContextKey contextKey = "api_key"

// KeyAuthenticator resolves a presented API key to its stored record.
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, key string) (*domain.APIKey, error)
}

// Auth creates authentication middleware. A bearer credential is either an
// API key or a token issued after OIDC login. Browsers cannot set headers on
// websocket upgrades, so the access_token query parameter is accepted too.
func Auth(keys KeyAuthenticator, tokens *auth.TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential, ok := bearer(r)
			if !ok {
				unauthorized(w, "missing or malformed authorization header")
				return
			}

			ctx := r.Context()

			if auth.IsAPIKey(credential) {
				storedKey, err := keys.Authenticate(ctx, credential)
				if err != nil {
					if errors.Is(err, domain.ErrNotAuthenticated) {
						unauthorized(w, "invalid API key")
						return
					}
					slog.Error("api key lookup failed", "error", err)
					writeError(w, http.StatusServiceUnavailable, domain.ErrCodeRemoteFailure, "authentication unavailable", "")
					return
				}
				ctx = context.WithValue(ctx, APIKeyContextKey, storedKey)
				ctx = identity.WithUser(ctx, storedKey.UserID)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			claims, err := tokens.Validate(credential)
			if err != nil {
				unauthorized(w, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(identity.WithUser(ctx, claims.UserID)))
		})
	}
}

// AdminKey guards provisioning routes. An empty key disables them.
func AdminKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				writeError(w, http.StatusForbidden, domain.ErrCodeForbidden, "admin API is disabled", "")
				return
			}
			credential, ok := bearer(r)
			if !ok || !auth.ConstantTimeCompare(credential, key) {
				writeError(w, http.StatusForbidden, domain.ErrCodeForbidden, "admin key required", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearer(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		credential, ok := strings.CutPrefix(header, "Bearer ")
		return credential, ok && credential != ""
	}
	credential := r.URL.Query().Get("access_token")
	return credential, credential != ""
}

func unauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, domain.ErrCodeNotAuthenticated, message, domain.ReasonBadCredential)
}

func writeError(w http.ResponseWriter, status int, code, message string, reason domain.Reason) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&domain.StandardErrorResponse{
		Error: domain.StandardError{Code: code, Message: message, Reason: reason},
	})
}

// GetAPIKeyFromContext retrieves the API key from the request context. It is
// nil for token-authenticated requests.
func GetAPIKeyFromContext(ctx context.Context) *domain.APIKey {
	key, _ := ctx.Value(APIKeyContextKey).(*domain.APIKey)
	return key
}
