package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sakif/trainsync/internal/auth"
	"github.com/sakif/trainsync/internal/mail"
	"github.com/sakif/trainsync/internal/repository/sqlite"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

var testStart = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// testClock is a Clock the test moves by hand.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingMailer keeps every message so tests can read the codes back.
type recordingMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

var codePattern = regexp.MustCompile(`\b\d{6}\b`)

// lastCode returns the code in the most recent message of the given kind.
func (m *recordingMailer) lastCode(t *testing.T, kind string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Kind == kind {
			code := codePattern.FindString(m.sent[i].Body)
			require.NotEmpty(t, code, "no code in %q", m.sent[i].Body)
			return code
		}
	}
	t.Fatalf("no %s message was sent", kind)
	return ""
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// testEnv wires every service to one in-memory database.
type testEnv struct {
	db     *sqlite.DB
	clock  *testClock
	mailer *recordingMailer
	tokens *auth.TokenService

	auth       *AuthService
	profiles   *ProfileService
	runs       *RunService
	races      *RaceService
	plans      *PlanService
	shares     *SharedRunService
	friends    *FriendService
	feed       *FeedService
	challenges *ChallengeService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clock := &testClock{now: testStart}
	tokens, err := auth.NewTokenService("test-secret-at-least-16-chars!!", auth.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mailer := &recordingMailer{}
	now := Clock(clock.Now)

	return &testEnv{
		db:     db,
		clock:  clock,
		mailer: mailer,
		tokens: tokens,

		auth:       NewAuthService(db, auth.NewPasswordServiceWithCost(4), tokens, mailer, logger, now),
		profiles:   NewProfileService(db, logger, now),
		runs:       NewRunService(db, logger, now),
		races:      NewRaceService(db, logger, now),
		plans:      NewPlanService(db, logger, now),
		shares:     NewSharedRunService(db, db, db, logger, now),
		friends:    NewFriendService(db, db, db, logger, now),
		feed:       NewFeedService(db, db, logger, now),
		challenges: NewChallengeService(db, db, logger, now),
	}
}

const testPassword = "pw12345678"

// register creates an account and returns its id.
func (e *testEnv) register(t *testing.T, email string) string {
	t.Helper()
	pair, err := e.auth.Register(context.Background(), email, testPassword)
	if err != nil {
		t.Fatalf("Register(%s) error = %v", email, err)
	}
	id, err := e.tokens.Validate(pair.AccessToken)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	return id.UserID
}

// befriend makes a and b accepted friends.
func (e *testEnv) befriend(t *testing.T, a, b string) {
	t.Helper()
	ctx := context.Background()
	conn, err := e.friends.SendRequest(ctx, a, b)
	if err != nil {
		t.Fatalf("SendRequest() error = %v", err)
	}
	if _, err := e.friends.Accept(ctx, b, conn.ID); err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
}

// requireKind fails unless err wraps the given apperror sentinel.
func requireKind(t *testing.T, err, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("error = %v, want %v", err, kind)
	}
}

func rfc3339(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}
