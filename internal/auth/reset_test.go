package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"warranty_auth/internal/lib/tokens"
	"warranty_auth/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordReset_BeforeExpiry(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	session, err := env.auth.RegisterNewUser(ctx, "alice@example.com", "old-password", "Alice")
	require.NoError(t, err)

	require.NoError(t, env.auth.RequestPasswordReset(ctx, "alice@example.com"))

	msg := env.notifier.next(t, "reset")
	require.NotEmpty(t, msg.token)

	stored, err := env.auth.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, tokens.Hash(msg.token), stored.ResetTokenHash, "only the digest is stored")
	require.NotNil(t, stored.ResetTokenExpiry)
	assert.WithinDuration(t, env.clock.Now().Add(DefaultResetTTL), *stored.ResetTokenExpiry, time.Second)

	env.clock.Advance(59 * time.Minute)
	require.NoError(t, env.auth.ResetPassword(ctx, msg.token, "new-password"))

	_, err = env.auth.VerifyPassword(ctx, "alice@example.com", "old-password")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = env.auth.VerifyPassword(ctx, "alice@example.com", "new-password")
	require.NoError(t, err)

	cleared, err := env.auth.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, cleared.HasPendingReset())

	err = env.auth.ResetPassword(ctx, msg.token, "third-password")
	require.ErrorIs(t, err, ErrInvalidResetToken, "token is single use")

	_, _, err = env.auth.Refresh(ctx, session.RefreshToken)
	require.ErrorIs(t, err, ErrRefreshTokenNotFound, "reset revokes the session")
}

func TestPasswordReset_AfterExpiry(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.auth.Register(ctx, "alice@example.com", "old-password", "Alice")
	require.NoError(t, err)

	require.NoError(t, env.auth.RequestPasswordReset(ctx, "alice@example.com"))
	msg := env.notifier.next(t, "reset")

	env.clock.Advance(61 * time.Minute)

	err = env.auth.ResetPassword(ctx, msg.token, "new-password")
	require.ErrorIs(t, err, ErrResetTokenExpired)

	purged, err := env.auth.FindByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, purged.HasPendingReset(), "expired token is purged")

	err = env.auth.ResetPassword(ctx, msg.token, "new-password")
	require.ErrorIs(t, err, ErrInvalidResetToken)

	_, err = env.auth.VerifyPassword(ctx, "alice@example.com", "old-password")
	require.NoError(t, err)
}

func TestPasswordReset_NewRequestOverwritesPending(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.auth.Register(ctx, "alice@example.com", "old-password", "Alice")
	require.NoError(t, err)

	require.NoError(t, env.auth.RequestPasswordReset(ctx, "alice@example.com"))
	first := env.notifier.next(t, "reset")

	require.NoError(t, env.auth.RequestPasswordReset(ctx, "alice@example.com"))
	second := env.notifier.next(t, "reset")

	require.ErrorIs(t, env.auth.ResetPassword(ctx, first.token, "new-password"), ErrInvalidResetToken)
	require.NoError(t, env.auth.ResetPassword(ctx, second.token, "new-password"))
}

func TestPasswordReset_ExpiryLeeway(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.auth.Register(ctx, "alice@example.com", "old-password", "Alice")
	require.NoError(t, err)

	require.NoError(t, env.auth.RequestPasswordReset(ctx, "alice@example.com"))
	msg := env.notifier.next(t, "reset")

	env.clock.Advance(DefaultResetTTL + 10*time.Second)
	require.NoError(t, env.auth.ResetPassword(ctx, msg.token, "new-password"), "expiry within leeway is tolerated")
}

func TestPasswordReset_ConcurrentConfirm(t *testing.T) {
	ctx := context.Background()
	env := newFileTestEnv(t)

	_, err := env.auth.Register(ctx, "alice@example.com", "old-password", "Alice")
	require.NoError(t, err)

	require.NoError(t, env.auth.RequestPasswordReset(ctx, "alice@example.com"))
	msg := env.notifier.next(t, "reset")

	const workers = 4

	var (
		wg   sync.WaitGroup
		errs = make([]error, workers)
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = env.auth.ResetPassword(ctx, msg.token, fmt.Sprintf("new-password-%d", i))
		}(i)
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		if err == nil {
			require.Equal(t, -1, winner, "token accepted more than once")
			winner = i
			continue
		}
		require.ErrorIs(t, err, ErrInvalidResetToken)
	}
	require.NotEqual(t, -1, winner)

	_, err = env.auth.VerifyPassword(ctx, "alice@example.com", fmt.Sprintf("new-password-%d", winner))
	require.NoError(t, err)
}

func TestPasswordTooLong(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	// 48 runes, 96 bytes
	long := strings.Repeat("пароль", 8)

	_, err := env.auth.Register(ctx, "alice@example.com", long, "Alice")
	require.ErrorIs(t, err, ErrPasswordTooLong)

	_, err = env.auth.Register(ctx, "alice@example.com", "old-password", "Alice")
	require.NoError(t, err)

	require.NoError(t, env.auth.RequestPasswordReset(ctx, "alice@example.com"))
	msg := env.notifier.next(t, "reset")

	require.ErrorIs(t, env.auth.ResetPassword(ctx, msg.token, long), ErrPasswordTooLong)
	require.NoError(t, env.auth.ResetPassword(ctx, msg.token, strings.Repeat("пароль", 6)), "72 bytes fit")
}

func TestRequestPasswordReset_UnknownEmail(t *testing.T) {
	env := newTestEnv(t)

	err := env.auth.RequestPasswordReset(context.Background(), "nobody@example.com")
	require.ErrorIs(t, err, ErrUserNotFound)
}

type failingNotifier struct{}

func (failingNotifier) SendWelcome(context.Context, models.User) error {
	return errors.New("broker down")
}

func (failingNotifier) SendPasswordReset(context.Context, models.User, string) error {
	return errors.New("broker down")
}

func TestRequestPasswordReset_NotifierFailureIgnored(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.auth.notifier = failingNotifier{}

	_, err := env.auth.Register(ctx, "alice@example.com", "old-password", "Alice")
	require.NoError(t, err)

	require.NoError(t, env.auth.RequestPasswordReset(ctx, "alice@example.com"))
}
