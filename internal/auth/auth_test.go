package auth

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"warranty_auth/internal/lib/jwt"
	"warranty_auth/internal/models"
	"warranty_auth/internal/storage/sqlite"

	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-long-enough-for-hs512-signing"

type sentMessage struct {
	kind  string
	email string
	token string
}

type fakeNotifier struct {
	sent chan sentMessage
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{sent: make(chan sentMessage, 16)}
}

func (n *fakeNotifier) SendWelcome(_ context.Context, u models.User) error {
	n.sent <- sentMessage{kind: "welcome", email: u.Email}
	return nil
}

func (n *fakeNotifier) SendPasswordReset(_ context.Context, u models.User, token string) error {
	n.sent <- sentMessage{kind: "reset", email: u.Email, token: token}
	return nil
}

func (n *fakeNotifier) next(t *testing.T, kind string) sentMessage {
	t.Helper()

	for {
		select {
		case m := <-n.sent:
			if m.kind == kind {
				return m
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("no %s notification sent", kind)
			return sentMessage{}
		}
	}
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	auth     *Auth
	store    *sqlite.Storage
	issuer   *jwt.Issuer
	notifier *fakeNotifier
	clock    *testClock
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	return newTestEnvAt(t, ":memory:", opts...)
}

// newFileTestEnv uses a WAL database file so concurrent calls get their own connections.
func newFileTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	return newTestEnvAt(t, filepath.Join(t.TempDir(), "auth.db"), opts...)
}

func newTestEnvAt(t *testing.T, path string, opts ...Option) *testEnv {
	t.Helper()

	store, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clock := &testClock{t: time.Now().UTC().Truncate(time.Millisecond)}
	issuer := jwt.New(testSecret, 15*time.Minute, jwt.WithClock(clock.Now))
	notifier := newFakeNotifier()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	opts = append([]Option{WithClock(clock.Now)}, opts...)

	return &testEnv{
		auth:     New(log, store, store, issuer, notifier, opts...),
		store:    store,
		issuer:   issuer,
		notifier: notifier,
		clock:    clock,
	}
}
