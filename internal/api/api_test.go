package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/youtoss/ledger/internal/api"
	"github.com/youtoss/ledger/internal/api/handler"
	"github.com/youtoss/ledger/internal/auth"
	"github.com/youtoss/ledger/internal/changefeed"
	"github.com/youtoss/ledger/internal/domain"
	"github.com/youtoss/ledger/internal/identity"
	"github.com/youtoss/ledger/internal/metrics"
	"github.com/youtoss/ledger/internal/service"
	"github.com/youtoss/ledger/internal/storage/memory"
	"github.com/youtoss/ledger/pkg/logging"
)

const (
	adminKey  = "test-admin-key"
	jwtSecret = "0123456789abcdef0123456789abcdef"
	passcode  = "river-rat"
)

// testServer creates a test server with in-memory storage
type testServer struct {
	handler http.Handler
	tokens  *auth.TokenManager
	oidc    *fakeOIDC
}

type fakeOIDC struct {
	claims *auth.OIDCClaims
	nonce  string
}

func (f *fakeOIDC) AuthCodeURL(state, nonce string) string {
	return "https://id.example.com/authorize?state=" + url.QueryEscape(state)
}

func (f *fakeOIDC) Exchange(_ context.Context, code, nonce string) (*auth.OIDCClaims, error) {
	f.nonce = nonce
	return f.claims, nil
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := logging.New(io.Discard, slog.LevelError)
	broker := changefeed.NewBroker(context.Background(), logger)
	t.Cleanup(broker.Close)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store := changefeed.Wrap(memory.New(), broker)
	policy := service.RetryPolicy{MaxRetries: 5, Base: time.Millisecond}
	scores := service.NewScoreStore(store, policy, m)
	ledger := service.NewLedger(store, service.NewReconciler(scores, 4, m), policy, m, logger)
	groups := service.NewGroupService(store, 4, logger)
	users := service.NewUserService(store, logger)
	client := service.NewClient(service.ClientDeps{
		Identity: identity.NewContextProvider(store),
		Store:    store,
		Ledger:   ledger,
		Scores:   scores,
		Groups:   groups,
		Feed:     broker,
		Metrics:  m,
		Logger:   logger,
	})

	state, err := auth.NewStateStore([]byte(jwtSecret), false)
	if err != nil {
		t.Fatalf("NewStateStore failed: %v", err)
	}
	tokens := auth.NewTokenManager(jwtSecret, time.Hour)
	oidc := &fakeOIDC{claims: &auth.OIDCClaims{Subject: "sub-9", Email: "carol@example.com", PreferredUsername: "carol"}}

	return &testServer{
		handler: api.NewRouter(api.Deps{
			Client:            client,
			Users:             users,
			Tokens:            tokens,
			AdminKey:          adminKey,
			OIDC:              oidc,
			State:             state,
			Metrics:           m,
			Gatherer:          reg,
			Logger:            logger,
			WatchWriteTimeout: time.Second,
		}),
		tokens: tokens,
		oidc:   oidc,
	}
}

func (ts *testServer) request(method, path string, body any, credential string, headers ...string) *httptest.ResponseRecorder {
	var reqBody io.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewReader(jsonBytes)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

// createUser provisions a user through the admin API and returns their key.
func (ts *testServer) createUser(t *testing.T, username string) string {
	t.Helper()
	rr := ts.request("POST", "/api/v1/admin/users", domain.CreateUserRequest{Username: username}, adminKey)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201 creating %s, got %d: %s", username, rr.Code, rr.Body.String())
	}
	var resp domain.CreateUserResponse
	decode(t, rr, &resp)
	return resp.APIKey.Key
}

// homeGame creates "Home Game" hosted by host and joins the others.
func (ts *testServer) homeGame(t *testing.T, host string, others ...string) *domain.Group {
	t.Helper()
	rr := ts.request("POST", "/api/v1/groups", domain.CreateGroupRequest{Name: "Home Game", Passcode: passcode}, host)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201 creating group, got %d: %s", rr.Code, rr.Body.String())
	}
	var group domain.Group
	decode(t, rr, &group)
	for _, key := range others {
		rr := ts.request("POST", "/api/v1/groups/join", domain.JoinGroupRequest{Name: "Home Game", Passcode: passcode}, key)
		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status 200 joining group, got %d: %s", rr.Code, rr.Body.String())
		}
	}
	return &group
}

func (ts *testServer) startSession(t *testing.T, key string, players map[string]decimal.Decimal) *domain.Session {
	t.Helper()
	rr := ts.request("POST", "/api/v1/sessions", domain.StartSessionRequest{GroupName: "Home Game", Players: players}, key)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201 starting session, got %d: %s", rr.Code, rr.Body.String())
	}
	var s domain.Session
	decode(t, rr, &s)
	return &s
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rr.Body.String(), err)
	}
}

func errorOf(t *testing.T, rr *httptest.ResponseRecorder) domain.StandardError {
	t.Helper()
	var resp domain.StandardErrorResponse
	decode(t, rr, &resp)
	return resp.Error
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request("GET", "/health", nil, "")

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}

	var resp map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["status"] != "ok" {
		t.Errorf("Expected status ok, got %s", resp["status"])
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name       string
		credential string
	}{
		{"no credential", ""},
		{"unknown api key", auth.APIKeyPrefix + "0000"},
		{"garbage token", "not-a-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.request("GET", "/api/v1/me", nil, tt.credential)
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("Expected status 401, got %d", rr.Code)
			}
			if e := errorOf(t, rr); e.Code != domain.ErrCodeNotAuthenticated {
				t.Errorf("Expected code %s, got %s", domain.ErrCodeNotAuthenticated, e.Code)
			}
		})
	}
}

func TestAdminCreateUser(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request("POST", "/api/v1/admin/users", domain.CreateUserRequest{Username: "alice"}, "wrong")
	if rr.Code != http.StatusForbidden {
		t.Errorf("Expected status 403 without admin key, got %d", rr.Code)
	}

	key := ts.createUser(t, "alice")
	if !auth.IsAPIKey(key) {
		t.Errorf("Expected an API key, got %q", key)
	}

	rr = ts.request("POST", "/api/v1/admin/users", domain.CreateUserRequest{Username: "alice"}, adminKey)
	if rr.Code != http.StatusConflict {
		t.Fatalf("Expected status 409 for a taken username, got %d", rr.Code)
	}
	if e := errorOf(t, rr); e.Reason != domain.ReasonUsernameTaken {
		t.Errorf("Expected reason %s, got %s", domain.ReasonUsernameTaken, e.Reason)
	}

	rr = ts.request("GET", "/api/v1/me", nil, key)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var me domain.User
	decode(t, rr, &me)
	if me.Username != "alice" {
		t.Errorf("Expected alice, got %q", me.Username)
	}
}

func TestTokenAuth(t *testing.T) {
	ts := newTestServer(t)
	key := ts.createUser(t, "alice")

	rr := ts.request("GET", "/api/v1/me", nil, key)
	var me domain.User
	decode(t, rr, &me)

	token, _, err := ts.tokens.Generate(&me)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	rr = ts.request("GET", "/api/v1/me", nil, token)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200 with a token, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestAPIKeyEndpoints(t *testing.T) {
	ts := newTestServer(t)
	key := ts.createUser(t, "alice")

	rr := ts.request("POST", "/api/v1/keys", domain.CreateAPIKeyRequest{Name: "laptop"}, key)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created domain.CreateAPIKeyResponse
	decode(t, rr, &created)

	rr = ts.request("GET", "/api/v1/keys", nil, created.Key)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected the new key to authenticate, got %d", rr.Code)
	}
	var keys []domain.APIKey
	decode(t, rr, &keys)
	if len(keys) != 2 {
		t.Errorf("Expected 2 keys, got %d", len(keys))
	}
	if strings.Contains(rr.Body.String(), created.Key) {
		t.Error("Listing must not expose key values")
	}

	rr = ts.request("DELETE", "/api/v1/keys/"+created.ID, nil, key)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", rr.Code)
	}
	rr = ts.request("GET", "/api/v1/keys", nil, created.Key)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected a deleted key to be rejected, got %d", rr.Code)
	}
	rr = ts.request("DELETE", "/api/v1/keys/"+created.ID, nil, key)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 deleting twice, got %d", rr.Code)
	}
}

func TestGroupErrors(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.createUser(t, "alice")
	bob := ts.createUser(t, "bob")
	ts.homeGame(t, alice)

	tests := []struct {
		name       string
		path       string
		body       any
		wantStatus int
		wantReason domain.Reason
	}{
		{"duplicate name", "/api/v1/groups", domain.CreateGroupRequest{Name: "Home Game", Passcode: passcode}, http.StatusConflict, domain.ReasonGroupNameExists},
		{"short passcode", "/api/v1/groups", domain.CreateGroupRequest{Name: "Other", Passcode: "abc"}, http.StatusBadRequest, domain.ReasonPasscodeTooShort},
		{"wrong passcode", "/api/v1/groups/join", domain.JoinGroupRequest{Name: "Home Game", Passcode: "nope"}, http.StatusUnauthorized, domain.ReasonWrongPasscode},
		{"unknown group", "/api/v1/groups/join", domain.JoinGroupRequest{Name: "Nowhere", Passcode: passcode}, http.StatusNotFound, domain.ReasonGroup},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.request("POST", tt.path, tt.body, bob)
			if rr.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}
			if e := errorOf(t, rr); e.Reason != tt.wantReason {
				t.Errorf("Expected reason %s, got %s", tt.wantReason, e.Reason)
			}
		})
	}

	rr := ts.request("POST", "/api/v1/groups", "not an object", bob)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for a malformed body, got %d", rr.Code)
	}
}

func TestSessionFlow(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.createUser(t, "alice")
	bob := ts.createUser(t, "bob")
	group := ts.homeGame(t, alice, bob)

	s := ts.startSession(t, alice, map[string]decimal.Decimal{"alice": d("50"), "bob": d("50")})

	rr := ts.request("POST", "/api/v1/sessions", domain.StartSessionRequest{GroupName: "Home Game", Players: map[string]decimal.Decimal{"alice": d("10")}}, bob)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for a second active session, got %d", rr.Code)
	}

	rr = ts.request("PUT", "/api/v1/sessions/"+s.ID+"/players/bob/buy-in", domain.AmountRequest{Amount: d("80")}, bob)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200 updating buy-in, got %d: %s", rr.Code, rr.Body.String())
	}
	staleETag := handler.GenerateETag("session", s.ID, s.Version)
	if rr.Header().Get("ETag") == staleETag {
		t.Error("Expected the ETag to change after a write")
	}

	rr = ts.request("POST", "/api/v1/sessions/"+s.ID+"/bad-beats", domain.BadBeat{
		Winner: "bob", WinnerHand: domain.HandFlush, Loser: "bob", LoserHand: domain.HandStraight, Street: domain.StreetRiver,
	}, alice)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400 for winner == loser, got %d", rr.Code)
	}
	if e := errorOf(t, rr); e.Reason != domain.ReasonSameWinnerLoser || e.Details["fields"] == nil {
		t.Errorf("Expected a field list with reason %s, got %+v", domain.ReasonSameWinnerLoser, e)
	}

	rr = ts.request("GET", "/api/v1/groups/"+group.ID+"/session", nil, bob)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200 reading the active session, got %d", rr.Code)
	}
	currentETag := rr.Header().Get("ETag")

	end := domain.EndSessionRequest{CashOuts: map[string]decimal.Decimal{"alice": d("20"), "bob": d("110")}}
	rr = ts.request("POST", "/api/v1/sessions/"+s.ID+"/end", end, alice, "If-Match", staleETag)
	if rr.Code != http.StatusPreconditionFailed {
		t.Fatalf("Expected status 412 for a stale ETag, got %d", rr.Code)
	}

	rr = ts.request("POST", "/api/v1/sessions/"+s.ID+"/end", end, alice, "If-Match", currentETag)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200 ending the session, got %d: %s", rr.Code, rr.Body.String())
	}
	var result domain.EndSessionResult
	decode(t, rr, &result)
	if result.Session.IsActive || len(result.Results) != 2 {
		t.Fatalf("Unexpected result %+v", result)
	}
	for _, r := range result.Results {
		if r.Status != domain.ReconcileApplied {
			t.Errorf("Expected %s applied, got %s", r.Username, r.Status)
		}
	}

	rr = ts.request("GET", "/api/v1/groups/"+group.ID+"/score", nil, alice)
	var score domain.ScoreResponse
	decode(t, rr, &score)
	if !score.Score.Equal(d("-30")) {
		t.Errorf("Expected alice at -30, got %s", score.Score)
	}

	rr = ts.request("GET", "/api/v1/groups/"+group.ID+"/members", nil, alice)
	var members []domain.Membership
	decode(t, rr, &members)
	if len(members) != 2 || members[0].Username != "bob" || !members[0].Score.Equal(d("30")) {
		t.Errorf("Unexpected leaderboard %+v", members)
	}

	rr = ts.request("POST", "/api/v1/sessions/"+s.ID+"/reconcile", nil, bob)
	decode(t, rr, &result)
	for _, r := range result.Results {
		if r.Status != domain.ReconcileAlreadyApplied {
			t.Errorf("Expected %s already applied on retry, got %s", r.Username, r.Status)
		}
	}

	rr = ts.request("PUT", "/api/v1/sessions/"+s.ID+"/players/bob/cash-out", domain.AmountRequest{Amount: d("1")}, bob)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409 after the session ended, got %d", rr.Code)
	}

	rr = ts.request("GET", "/api/v1/me/sessions", nil, bob)
	var mine []domain.PlayerSessionSummary
	decode(t, rr, &mine)
	if len(mine) != 1 || !mine[0].Net.Equal(d("30")) {
		t.Errorf("Unexpected session history %+v", mine)
	}

	rr = ts.request("GET", "/api/v1/groups/"+group.ID+"/sessions", nil, alice)
	var history []domain.Session
	decode(t, rr, &history)
	if len(history) != 1 {
		t.Errorf("Expected 1 session in history, got %d", len(history))
	}

	rr = ts.request("GET", "/api/v1/me/session", nil, alice)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 with no active session, got %d", rr.Code)
	}
}

func TestMembershipRequired(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.createUser(t, "alice")
	mallory := ts.createUser(t, "mallory")
	group := ts.homeGame(t, alice)
	s := ts.startSession(t, alice, map[string]decimal.Decimal{"alice": d("20")})

	paths := []string{
		"/api/v1/sessions/" + s.ID,
		"/api/v1/groups/" + group.ID + "/session",
		"/api/v1/groups/" + group.ID + "/members",
	}
	for _, path := range paths {
		rr := ts.request("GET", path, nil, mallory)
		if rr.Code != http.StatusNotFound {
			t.Errorf("GET %s: expected status 404, got %d", path, rr.Code)
			continue
		}
		if e := errorOf(t, rr); e.Reason != domain.ReasonMembership {
			t.Errorf("GET %s: expected reason %s, got %s", path, domain.ReasonMembership, e.Reason)
		}
	}
}

func TestHomeGroup(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.createUser(t, "alice")
	ts.homeGame(t, alice)
	s := ts.startSession(t, alice, map[string]decimal.Decimal{"alice": d("20")})

	rr := ts.request("GET", "/api/v1/me/session", nil, alice)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var active domain.Session
	decode(t, rr, &active)
	if active.ID != s.ID {
		t.Errorf("Expected session %s, got %s", s.ID, active.ID)
	}

	rr = ts.request("PUT", "/api/v1/me/home-group", domain.SetHomeGroupRequest{GroupName: "Elsewhere"}, alice)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for an unknown group, got %d", rr.Code)
	}
}

func TestOIDCLogin(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.request("GET", "/auth/login", nil, "")
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("Expected status 303, got %d", rr.Code)
	}
	location, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatalf("Bad redirect: %v", err)
	}
	state := location.Query().Get("state")
	cookies := rr.Result().Cookies()
	if state == "" || len(cookies) == 0 {
		t.Fatalf("Expected a state and a cookie, got %q and %d cookies", state, len(cookies))
	}

	req := httptest.NewRequest("GET", "/auth/callback?code=abc&state="+url.QueryEscape("forged"), nil)
	req.AddCookie(cookies[0])
	forged := httptest.NewRecorder()
	ts.handler.ServeHTTP(forged, req)
	if forged.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for a forged state, got %d", forged.Code)
	}

	req = httptest.NewRequest("GET", "/auth/callback?code=abc&state="+url.QueryEscape(state), nil)
	req.AddCookie(cookies[0])
	rr = httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var token domain.TokenResponse
	decode(t, rr, &token)
	if token.User == nil || token.User.Username != "carol" || ts.oidc.nonce == "" {
		t.Fatalf("Unexpected token response %+v", token)
	}

	rr = ts.request("GET", "/api/v1/me", nil, token.Token)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected the issued token to authenticate, got %d", rr.Code)
	}
}

func TestOIDCDisabled(t *testing.T) {
	h := api.NewRouter(api.Deps{Tokens: auth.NewTokenManager(jwtSecret, time.Hour)})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/auth/login", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.request("GET", "/health", nil, "")

	rr := ts.request("GET", "/metrics", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "ledger_http_request_duration_seconds") {
		t.Error("Expected request latency metrics")
	}
}

func TestWatchActiveSession(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.createUser(t, "alice")
	group := ts.homeGame(t, alice)

	srv := httptest.NewServer(ts.handler)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/groups/" + group.ID + "/session/watch?access_token=" + url.QueryEscape(alice)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var msg handler.SnapshotMessage
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if msg.Type != "snapshot" || msg.Session != nil {
		t.Fatalf("Expected an empty initial snapshot, got %+v", msg)
	}

	s := ts.startSession(t, alice, map[string]decimal.Decimal{"alice": d("20")})

	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if msg.Session == nil || msg.Session.ID != s.ID {
		t.Fatalf("Expected session %s, got %+v", s.ID, msg.Session)
	}
}

func TestWatchRequiresMembership(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.createUser(t, "alice")
	mallory := ts.createUser(t, "mallory")
	group := ts.homeGame(t, alice)

	rr := ts.request("GET", "/api/v1/groups/"+group.ID+"/session/watch", nil, mallory)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 before upgrading, got %d", rr.Code)
	}
}
