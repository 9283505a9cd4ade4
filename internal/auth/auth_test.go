package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/youtoss/ledger/internal/domain"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestTokenManager_RoundTrip(t *testing.T) {
	m := NewTokenManager(testSecret, time.Hour)
	user := &domain.User{ID: "u1", Username: "Alice"}

	token, expiresAt, err := m.Generate(user)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if time.Until(expiresAt) <= 59*time.Minute {
		t.Errorf("Unexpected expiry %v", expiresAt)
	}

	claims, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.UserID != "u1" || claims.Username != "Alice" {
		t.Errorf("Unexpected claims %+v", claims)
	}
}

func TestTokenManager_Rejects(t *testing.T) {
	m := NewTokenManager(testSecret, time.Hour)
	good, _, _ := m.Generate(&domain.User{ID: "u1", Username: "Alice"})

	expired := NewTokenManager(testSecret, time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _, _ := expired.Generate(&domain.User{ID: "u1", Username: "Alice"})

	other, _, _ := NewTokenManager(strings.Repeat("x", 32), time.Hour).Generate(&domain.User{ID: "u1"})

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: "u1"})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrMissingToken},
		{"garbage", "not-a-jwt", ErrInvalidToken},
		{"tampered", good + "x", ErrInvalidToken},
		{"expired", old, ErrInvalidToken},
		{"wrong secret", other, ErrInvalidToken},
		{"alg none", unsigned, ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Validate(tt.token); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestGenerateAPIKey(t *testing.T) {
	key, hash, prefix, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey failed: %v", err)
	}
	if !IsAPIKey(key) || len(key) != len(APIKeyPrefix)+64 {
		t.Errorf("Unexpected key %q", key)
	}
	if !strings.HasPrefix(key, prefix) || len(prefix) != len(APIKeyPrefix)+8 {
		t.Errorf("Unexpected prefix %q", prefix)
	}
	if hash != HashAPIKey(key) || hash == key {
		t.Error("Hash does not match key")
	}

	again, _, _, _ := GenerateAPIKey()
	if again == key {
		t.Error("Expected distinct keys")
	}
	if IsAPIKey("eyJhbGciOiJIUzI1NiJ9.e30.sig") {
		t.Error("A JWT must not look like an API key")
	}
}

func TestValidateClaims(t *testing.T) {
	tests := []struct {
		name    string
		claims  OIDCClaims
		domains []string
		wantErr bool
	}{
		{"no restriction", OIDCClaims{Subject: "s"}, nil, false},
		{"missing subject", OIDCClaims{Email: "a@example.com"}, nil, true},
		{"allowed domain", OIDCClaims{Subject: "s", Email: "a@Example.com"}, []string{"example.com"}, false},
		{"other domain", OIDCClaims{Subject: "s", Email: "a@evil.com"}, []string{"example.com"}, true},
		{"bad email", OIDCClaims{Subject: "s", Email: "nobody"}, []string{"example.com"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateClaims(&tt.claims, tt.domains)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateClaims() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOIDCClaims_Username(t *testing.T) {
	tests := []struct {
		claims OIDCClaims
		want   string
	}{
		{OIDCClaims{PreferredUsername: "ace", Name: "Alice A", Email: "alice@example.com"}, "ace"},
		{OIDCClaims{Name: " Alice A ", Email: "alice@example.com"}, "Alice A"},
		{OIDCClaims{Email: "alice@example.com"}, "alice"},
		{OIDCClaims{}, "player"},
		{OIDCClaims{Name: strings.Repeat("n", 80)}, strings.Repeat("n", 48)},
	}
	for _, tt := range tests {
		if got := tt.claims.Username(); got != tt.want {
			t.Errorf("Username() = %q, want %q", got, tt.want)
		}
	}
}

func TestStateStore(t *testing.T) {
	ss, err := NewStateStore([]byte(testSecret), false)
	if err != nil {
		t.Fatalf("NewStateStore failed: %v", err)
	}

	rec := httptest.NewRecorder()
	data, err := ss.Generate(rec)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != StateCookieName || !cookies[0].HttpOnly {
		t.Fatalf("Unexpected cookies %+v", cookies)
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/callback", nil)
	req.AddCookie(cookies[0])

	got, err := ss.Validate(req, data.State)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if got.Nonce != data.Nonce {
		t.Errorf("Expected nonce %q, got %q", data.Nonce, got.Nonce)
	}

	if _, err := ss.Validate(req, "forged"); !errors.Is(err, ErrStateMismatch) {
		t.Errorf("Expected ErrStateMismatch, got %v", err)
	}

	ss.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, err := ss.Validate(req, data.State); err == nil {
		t.Error("Expected an expired state to fail")
	}

	if _, err := NewStateStore([]byte("short"), false); err == nil {
		t.Error("Expected a short key to be rejected")
	}
}
