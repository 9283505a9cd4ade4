package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	// StateCookieName holds the encrypted OIDC state between login and
	// callback.
	StateCookieName = "ledger_oidc_state"
	// StateCookieMaxAge is how long a login may take, in seconds.
	StateCookieMaxAge = 5 * 60
)

var ErrStateMismatch = errors.New("oidc state mismatch")

// StateStore keeps the OIDC state and nonce in an AES-GCM sealed cookie so
// the server holds no login state.
type StateStore struct {
	aead   cipher.AEAD
	secure bool
	now    func() time.Time
}

// StateData is the sealed cookie payload.
type StateData struct {
	State     string    `json:"state"`
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewStateStore creates a StateStore. key must be 32 bytes.
func NewStateStore(key []byte, secure bool) (*StateStore, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("state store key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &StateStore{aead: aead, secure: secure, now: time.Now}, nil
}

// Generate creates a state/nonce pair and sets it as a sealed cookie.
func (ss *StateStore) Generate(w http.ResponseWriter) (*StateData, error) {
	state, err := GenerateSecureString(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}
	nonce, err := GenerateSecureString(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	data := &StateData{
		State:     state,
		Nonce:     nonce,
		ExpiresAt: ss.now().Add(StateCookieMaxAge * time.Second),
	}
	sealed, err := ss.seal(data)
	if err != nil {
		return nil, err
	}
	ss.setCookie(w, sealed, StateCookieMaxAge)
	return data, nil
}

// Validate opens the cookie on r and checks it against the state echoed
// back by the provider.
func (ss *StateStore) Validate(r *http.Request, state string) (*StateData, error) {
	cookie, err := r.Cookie(StateCookieName)
	if err != nil {
		return nil, fmt.Errorf("state cookie not found: %w", err)
	}
	data, err := ss.open(cookie.Value)
	if err != nil {
		return nil, err
	}
	if ss.now().After(data.ExpiresAt) {
		return nil, fmt.Errorf("state expired")
	}
	if !ConstantTimeCompare(data.State, state) {
		return nil, ErrStateMismatch
	}
	return data, nil
}

// Clear removes the state cookie.
func (ss *StateStore) Clear(w http.ResponseWriter) {
	ss.setCookie(w, "", -1)
}

func (ss *StateStore) seal(data *StateData) (string, error) {
	plaintext, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}
	nonce := make([]byte, ss.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(ss.aead.Seal(nonce, nonce, plaintext, nil)), nil
}

func (ss *StateStore) open(value string) (*StateData, error) {
	ciphertext, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	if len(ciphertext) < ss.aead.NonceSize() {
		return nil, fmt.Errorf("invalid state data")
	}
	nonce, ciphertext := ciphertext[:ss.aead.NonceSize()], ciphertext[ss.aead.NonceSize():]
	plaintext, err := ss.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt state: %w", err)
	}

	var data StateData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &data, nil
}

func (ss *StateStore) setCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    value,
		Path:     "/auth",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   ss.secure,
	})
}
