package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/trainsync/internal/auth"
	"github.com/sakif/trainsync/internal/config"
	"github.com/sakif/trainsync/internal/mail"
	"github.com/sakif/trainsync/internal/model"
	"github.com/sakif/trainsync/internal/server"
)

// =========================================================================
// HELPERS
// =========================================================================

var codePattern = regexp.MustCompile(`\b\d{6}\b`)

type inbox struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (i *inbox) Send(_ context.Context, msg mail.Message) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.sent = append(i.sent, msg)
	return nil
}

func (i *inbox) lastCode(t *testing.T, to string) string {
	t.Helper()
	i.mu.Lock()
	defer i.mu.Unlock()
	for n := len(i.sent) - 1; n >= 0; n-- {
		if i.sent[n].To == to {
			code := codePattern.FindString(i.sent[n].Body)
			require.NotEmpty(t, code, "no code in mail to %s", to)
			return code
		}
	}
	t.Fatalf("no mail sent to %s", to)
	return ""
}

func testConfig() config.Config {
	return config.Config{
		Port:           0,
		CORSOrigins:    []string{"http://localhost:3000"},
		DBPath:         ":memory:",
		JWTSecret:      "test-secret-at-least-16-chars!!",
		JWTIssuer:      "trainsync-test",
		AccessTTL:      15 * time.Minute,
		LogLevel:       slog.LevelError,
		AuthRateLimit:  100,
		AuthRateWindow: time.Minute,
		MailDriver:     config.MailDriverLog,
	}
}

type testServer struct {
	handler http.Handler
	inbox   *inbox
}

func newTestServer(t *testing.T, cfg config.Config) *testServer {
	t.Helper()
	box := &inbox{}
	srv, err := server.New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), server.Options{
		Mailer:    box,
		Passwords: auth.NewPasswordServiceWithCost(4),
	})
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return &testServer{handler: srv.Handler(), inbox: box}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func (s *testServer) register(t *testing.T, email string) model.TokenPair {
	t.Helper()
	rr := s.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"email": email, "password": "pw12345678",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var pair model.TokenPair
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&pair))
	return pair
}

func (s *testServer) me(t *testing.T, token string) model.Account {
	t.Helper()
	rr := s.do(t, http.MethodGet, "/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var acct model.Account
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&acct))
	return acct
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v))
	return v
}

// =========================================================================
// INFRASTRUCTURE TESTS
// =========================================================================

func TestNew_RequiresMailer(t *testing.T) {
	_, err := server.New(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)), server.Options{})
	assert.Error(t, err)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, testConfig())

	rr := s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig())
	s.do(t, http.MethodGet, "/healthz", "", nil)

	rr := s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "http_requests_total")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t, testConfig())

	for _, path := range []string{"/runs", "/races", "/training-plan", "/friends", "/feed", "/challenges", "/profile"} {
		t.Run(path, func(t *testing.T) {
			rr := s.do(t, http.MethodGet, path, "", nil)
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
		})
	}

	rr := s.do(t, http.MethodGet, "/runs", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthRoutesAreRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.AuthRateLimit = 3
	s := newTestServer(t, cfg)

	creds := map[string]string{"email": "nobody@example.com", "password": "wrong-password"}
	for i := 0; i < 3; i++ {
		rr := s.do(t, http.MethodPost, "/auth/login", "", creds)
		require.Equal(t, http.StatusUnauthorized, rr.Code)
	}
	rr := s.do(t, http.MethodPost, "/auth/login", "", creds)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	// The budget covers only unauthenticated auth routes.
	rr = s.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodOptions, "/runs", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)

	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
}

// =========================================================================
// END-TO-END FLOW TESTS
// =========================================================================

func TestAccountLifecycle(t *testing.T) {
	s := newTestServer(t, testConfig())
	pair := s.register(t, "alice@example.com")
	assert.False(t, s.me(t, pair.AccessToken).EmailVerified)

	rr := s.do(t, http.MethodPost, "/auth/verify-email", pair.AccessToken, map[string]string{
		"code": s.inbox.lastCode(t, "alice@example.com"),
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.True(t, s.me(t, pair.AccessToken).EmailVerified)

	rr = s.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": pair.RefreshToken})
	require.Equal(t, http.StatusOK, rr.Code)
	rotated := decode[model.TokenPair](t, rr)

	rr = s.do(t, http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "old refresh token is spent")

	rr = s.do(t, http.MethodPost, "/auth/forgot-password", "", map[string]string{"email": "alice@example.com"})
	require.Equal(t, http.StatusOK, rr.Code)
	rr = s.do(t, http.MethodPost, "/auth/reset-password", "", map[string]string{
		"email":       "alice@example.com",
		"code":        s.inbox.lastCode(t, "alice@example.com"),
		"newPassword": "brand-new-pass",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = s.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "brand-new-pass",
	})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = s.do(t, http.MethodDelete, "/auth/account", rotated.AccessToken, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = s.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "brand-new-pass",
	})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRunSync_IdempotentUploadAndStaleEdit(t *testing.T) {
	s := newTestServer(t, testConfig())
	token := s.register(t, "runner@example.com").AccessToken

	run := map[string]any{
		"id":              "r1",
		"idempotencyKey":  "k1",
		"title":           "Easy 5k",
		"distanceKm":      5.0,
		"durationSeconds": 1800,
		"startedAt":       "2024-05-01T07:00:00Z",
	}
	rr := s.do(t, http.MethodPost, "/runs", token, run)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[model.Run](t, rr)

	rr = s.do(t, http.MethodPost, "/runs", token, run)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, created.ID, decode[model.Run](t, rr).ID)

	run["idempotencyKey"] = "k2"
	run["distanceKm"] = 5.2
	run["lastKnownUpdate"] = created.UpdatedAt.Add(-time.Hour).Format(time.RFC3339)
	rr = s.do(t, http.MethodPut, "/runs/r1", token, run)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = s.do(t, http.MethodGet, "/runs/r1", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.InDelta(t, 5.0, decode[model.Run](t, rr).DistanceKm, 1e-9, "stale edit must not land")
}

func TestRacesAndPlan(t *testing.T) {
	s := newTestServer(t, testConfig())
	token := s.register(t, "racer@example.com").AccessToken

	race := map[string]any{
		"raceKey":        "berlin-2026",
		"idempotencyKey": "race-1",
		"name":           "Berlin Marathon",
		"raceDate":       "2026-09-27T07:15:00Z",
		"distanceKm":     42.195,
		"goalSeconds":    12600,
	}
	rr := s.do(t, http.MethodPost, "/races", token, race)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	rr = s.do(t, http.MethodGet, "/races/berlin-2026", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Berlin Marathon", decode[model.Race](t, rr).Name)

	plan := map[string]any{
		"idempotencyKey": "plan-1",
		"name":           "Sub 3:30",
		"goalRaceId":     "berlin-2026",
		"startDate":      "2026-06-01T00:00:00Z",
		"endDate":        "2026-09-27T00:00:00Z",
		"weeks": []map[string]any{{
			"number":   1,
			"targetKm": 40,
			"workouts": []map[string]any{{"day": 2, "kind": "intervals", "distanceKm": 10}},
		}},
	}
	rr = s.do(t, http.MethodPut, "/training-plan", token, plan)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = s.do(t, http.MethodGet, "/training-plan", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[model.TrainingPlan](t, rr)
	require.Len(t, got.Weeks, 1)
	assert.Equal(t, "intervals", got.Weeks[0].Workouts[0].Kind)

	rr = s.do(t, http.MethodDelete, "/training-plan", token, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = s.do(t, http.MethodGet, "/training-plan", token, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSocialFlow(t *testing.T) {
	s := newTestServer(t, testConfig())
	aliceTok := s.register(t, "alice@example.com").AccessToken
	bobTok := s.register(t, "bob@example.com").AccessToken
	carolTok := s.register(t, "carol@example.com").AccessToken
	bob := s.me(t, bobTok).ID
	carol := s.me(t, carolTok).ID

	// Alice and Bob become friends.
	rr := s.do(t, http.MethodPost, "/friends", aliceTok, map[string]string{"userId": bob})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	conn := decode[model.FriendConnection](t, rr)
	rr = s.do(t, http.MethodPut, "/friends/"+conn.ID+"/accept", bobTok, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	// Carol declines Alice; Alice cannot ask again.
	rr = s.do(t, http.MethodPost, "/friends", aliceTok, map[string]string{"userId": carol})
	require.Equal(t, http.StatusCreated, rr.Code)
	declined := decode[model.FriendConnection](t, rr)
	rr = s.do(t, http.MethodPut, "/friends/"+declined.ID+"/decline", carolTok, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = s.do(t, http.MethodPost, "/friends", aliceTok, map[string]string{"userId": carol})
	assert.Equal(t, http.StatusConflict, rr.Code)

	// Alice shares a run with Bob but not with Carol.
	rr = s.do(t, http.MethodPost, "/runs", aliceTok, map[string]any{
		"id": "a-run", "idempotencyKey": "a-run-1", "distanceKm": 10, "durationSeconds": 3000,
		"startedAt": "2024-05-01T07:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	rr = s.do(t, http.MethodPost, "/shared-runs", aliceTok, map[string]any{
		"idempotencyKey": "share-1", "runId": "a-run", "recipientIds": []string{carol},
	})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = s.do(t, http.MethodPost, "/shared-runs", aliceTok, map[string]any{
		"idempotencyKey": "share-2", "runId": "a-run", "message": "PB!", "recipientIds": []string{bob},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = s.do(t, http.MethodGet, "/shared-runs", bobTok, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]model.SharedRun](t, rr), 1)

	// Feed posts reach friends only.
	rr = s.do(t, http.MethodPost, "/feed", aliceTok, map[string]any{
		"idempotencyKey": "post-1", "activityType": "run", "title": "10k done",
		"occurredAt": "2024-05-01T08:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	rr = s.do(t, http.MethodGet, "/feed", bobTok, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]model.FeedItem](t, rr), 1)
	rr = s.do(t, http.MethodGet, "/feed", carolTok, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[[]model.FeedItem](t, rr))
}

func TestChallengeFlow(t *testing.T) {
	s := newTestServer(t, testConfig())
	aliceTok := s.register(t, "alice@example.com").AccessToken
	bobTok := s.register(t, "bob@example.com").AccessToken

	now := time.Now().UTC()
	rr := s.do(t, http.MethodPost, "/challenges", aliceTok, map[string]any{
		"idempotencyKey": "ch-1",
		"name":           "100 km month",
		"type":           "distance",
		"targetValue":    100,
		"startDate":      now.Add(-24 * time.Hour).Format(time.RFC3339),
		"endDate":        now.Add(30 * 24 * time.Hour).Format(time.RFC3339),
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	ch := decode[model.Challenge](t, rr)

	rr = s.do(t, http.MethodPost, "/challenges/"+ch.ID+"/join", bobTok, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rr = s.do(t, http.MethodPost, "/challenges/"+ch.ID+"/join", bobTok, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = s.do(t, http.MethodPut, "/challenges/"+ch.ID+"/progress", bobTok, map[string]any{"progress": 42.5})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	got := decode[model.Challenge](t, rr)
	require.Len(t, got.Participants, 2)
	assert.InDelta(t, 42.5, got.Participants[0].Progress, 1e-9, "leader first")

	rr = s.do(t, http.MethodPost, "/challenges/"+ch.ID+"/leave", aliceTok, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = s.do(t, http.MethodDelete, "/challenges/"+ch.ID, bobTok, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = s.do(t, http.MethodDelete, "/challenges/"+ch.ID, aliceTok, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}
