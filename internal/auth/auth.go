package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"warranty_auth/internal/lib/jwt"
	sl "warranty_auth/internal/lib/logger/sl"
	"warranty_auth/internal/models"
)

var (
	ErrInvalidCredentials       = errors.New("invalid email or password")
	ErrUserExists               = errors.New("email is already taken")
	ErrUserNotFound             = errors.New("user not found")
	ErrUserDisabled             = errors.New("user is disabled")
	ErrRefreshTokenNotFound     = errors.New("refresh token not found")
	ErrRefreshTokenExpired      = errors.New("refresh token expired")
	ErrInvalidResetToken        = errors.New("invalid password reset token")
	ErrResetTokenExpired        = errors.New("password reset token expired")
	ErrPasswordTooLong          = errors.New("password is longer than 72 bytes")
	ErrEmailMissingFromProvider = errors.New("email not found from oauth2 provider")
	ErrProviderIDMissing        = errors.New("provider subject id is missing")
	ErrEmailNotVerified         = errors.New("email is not verified by provider")
)

const (
	DefaultRefreshTTL = 7 * 24 * time.Hour
	DefaultResetTTL   = time.Hour
	DefaultLeeway     = 30 * time.Second

	// bcrypt использует только первые 72 байта
	maxPasswordBytes = 72

	notifyTimeout = 10 * time.Second
	rotateRetries = 3
)

type UserStorage interface {
	SaveUser(ctx context.Context, user models.User) (uid int64, err error)
	UpdateUser(ctx context.Context, user models.User) error
	UserByEmail(ctx context.Context, email string) (models.User, error)
	UserByID(ctx context.Context, id int64) (models.User, error)
	UserByResetToken(ctx context.Context, tokenHash string) (models.User, error)
	// ConsumeResetToken and ClearResetToken act only while tokenHash is still stored
	// and return storage.ErrResetTokenNotFound otherwise.
	ConsumeResetToken(ctx context.Context, userID int64, tokenHash string, passHash []byte) error
	ClearResetToken(ctx context.Context, userID int64, tokenHash string) error
}

type TokenStorage interface {
	UpsertRefreshToken(ctx context.Context, userID int64, tokenHash string, expiresAt time.Time) error
	RefreshTokenByHash(ctx context.Context, tokenHash string) (models.RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, id int64) error
	DeleteRefreshTokensByUser(ctx context.Context, userID int64) error
}

type TokenIssuer interface {
	GenerateAccessToken(p jwt.Principal) (string, error)
	GenerateFromUsername(email string) (string, error)
}

// Notifier delivers account lifecycle messages. Calls are fire-and-forget.
type Notifier interface {
	SendWelcome(ctx context.Context, user models.User) error
	SendPasswordReset(ctx context.Context, user models.User, resetToken string) error
}

type Auth struct {
	log      *slog.Logger
	users    UserStorage
	tokens   TokenStorage
	issuer   TokenIssuer
	notifier Notifier

	refreshTTL           time.Duration
	resetTTL             time.Duration
	leeway               time.Duration
	requireVerifiedEmail bool
	now                  func() time.Time

	// dummyHash keeps the unknown-user path as slow as a real bcrypt comparison.
	dummyHash []byte
}

type Option func(*Auth)

func WithRefreshTTL(d time.Duration) Option {
	return func(a *Auth) { a.refreshTTL = d }
}

func WithResetTTL(d time.Duration) Option {
	return func(a *Auth) { a.resetTTL = d }
}

func WithLeeway(d time.Duration) Option {
	return func(a *Auth) { a.leeway = d }
}

func WithClock(now func() time.Time) Option {
	return func(a *Auth) { a.now = now }
}

// * WithRequireVerifiedEmail включает/выключает проверку email_verified от провайдера
func WithRequireVerifiedEmail(v bool) Option {
	return func(a *Auth) { a.requireVerifiedEmail = v }
}

func New(
	log *slog.Logger,
	users UserStorage,
	tokens TokenStorage,
	issuer TokenIssuer,
	notifier Notifier,
	opts ...Option,
) *Auth {
	a := &Auth{
		log:                  log,
		users:                users,
		tokens:               tokens,
		issuer:               issuer,
		notifier:             notifier,
		refreshTTL:           DefaultRefreshTTL,
		resetTTL:             DefaultResetTTL,
		leeway:               DefaultLeeway,
		requireVerifiedEmail: true,
		now:                  time.Now,
	}

	for _, opt := range opts {
		opt(a)
	}

	a.dummyHash = newDummyHash()

	return a
}

// * notify запускает отправку уведомления в отдельной горутине, ошибки только логируются
func (a *Auth) notify(op string, send func(ctx context.Context) error) {
	log := a.log.With(slog.String("op", op))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		if err := send(ctx); err != nil {
			log.Warn("failed to send notification", sl.Err(err))
		}
	}()
}
