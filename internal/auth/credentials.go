package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"warranty_auth/internal/lib/jwt"
	sl "warranty_auth/internal/lib/logger/sl"
	"warranty_auth/internal/models"
	"warranty_auth/internal/storage"

	"golang.org/x/crypto/bcrypt"
)

// Session is what a successful login, registration or OAuth2 callback hands back.
type Session struct {
	User         models.User
	AccessToken  string
	RefreshToken string
}

type ProfileUpdate struct {
	Name                 string
	EmailNotifications   *bool
	WarrantyReminderDays *int
}

var newDummyHash = sync.OnceValue(func() []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte("dummy-password-for-timing"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}

	return hash
})

// * NormalizeEmail приводит адрес к каноническому виду: без пробелов, в нижнем регистре
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// * Register создает локального пользователя с bcrypt-хешем пароля
func (a *Auth) Register(
	ctx context.Context,
	email string,
	password string,
	name string,
) (models.User, error) {
	const op = "auth.Register"

	email = NormalizeEmail(email)

	log := a.log.With(
		slog.String("op", op),
		sl.Email(email),
	)

	log.Info("registering new user")

	if len(password) > maxPasswordBytes {
		return models.User{}, fmt.Errorf("%s: %w", op, ErrPasswordTooLong)
	}

	_, err := a.users.UserByEmail(ctx, email)
	if err == nil {
		log.Warn("user already exists")

		return models.User{}, fmt.Errorf("%s: %w", op, ErrUserExists)
	}
	if !errors.Is(err, storage.ErrUserNotFound) {
		log.Error("failed to check user", sl.Err(err))

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	user := models.User{
		Email:       email,
		Name:        strings.TrimSpace(name),
		PassHash:    passHash,
		Enabled:     true,
		Provider:    models.ProviderLocal,
		Preferences: models.DefaultPreferences(),
	}

	id, err := a.users.SaveUser(ctx, user)
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			log.Warn("user already exists")

			return models.User{}, fmt.Errorf("%s: %w", op, ErrUserExists)
		}

		log.Error("failed to save user", sl.Err(err))

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	user.ID = id

	log.Info("user registered", slog.Int64("uid", id))

	return user, nil
}

// * VerifyPassword проверяет пароль; любая неудача дает одну и ту же ошибку
func (a *Auth) VerifyPassword(ctx context.Context, email, password string) (models.User, error) {
	const op = "auth.VerifyPassword"

	email = NormalizeEmail(email)

	log := a.log.With(
		slog.String("op", op),
		sl.Email(email),
	)

	user, err := a.users.UserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, storage.ErrUserNotFound) {
			log.Error("failed to get user", sl.Err(err))

			return models.User{}, fmt.Errorf("%s: %w", op, err)
		}

		_ = bcrypt.CompareHashAndPassword(a.dummyHash, []byte(password))

		log.Info("user not found")

		return models.User{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if !user.HasPassword() {
		_ = bcrypt.CompareHashAndPassword(a.dummyHash, []byte(password))

		log.Info("user has no local password", slog.String("provider", string(user.Provider)))

		return models.User{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if err := bcrypt.CompareHashAndPassword(user.PassHash, []byte(password)); err != nil {
		log.Info("invalid credentials")

		return models.User{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if !user.Enabled {
		log.Warn("disabled user tried to log in")

		return models.User{}, fmt.Errorf("%s: %w", op, ErrUserDisabled)
	}

	return user, nil
}

func (a *Auth) FindByEmail(ctx context.Context, email string) (models.User, error) {
	const op = "auth.FindByEmail"

	user, err := a.users.UserByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return models.User{}, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// * UpdateProfile меняет имя и настройки уведомлений; пустое имя игнорируется
func (a *Auth) UpdateProfile(ctx context.Context, email string, upd ProfileUpdate) (models.User, error) {
	const op = "auth.UpdateProfile"

	log := a.log.With(
		slog.String("op", op),
		sl.Email(email),
	)

	user, err := a.FindByEmail(ctx, email)
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	if name := strings.TrimSpace(upd.Name); name != "" {
		user.Name = name
	}
	if upd.EmailNotifications != nil {
		user.Preferences.EmailNotifications = *upd.EmailNotifications
	}
	if upd.WarrantyReminderDays != nil {
		user.Preferences.WarrantyReminderDays = *upd.WarrantyReminderDays
	}

	if err := a.users.UpdateUser(ctx, user); err != nil {
		log.Error("failed to update user", sl.Err(err))

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("profile updated", slog.Int64("uid", user.ID))

	return user, nil
}

// * RegisterNewUser регистрирует пользователя, выдает пару токенов и шлет приветствие
func (a *Auth) RegisterNewUser(ctx context.Context, email, password, name string) (Session, error) {
	const op = "auth.RegisterNewUser"

	user, err := a.Register(ctx, email, password, name)
	if err != nil {
		return Session{}, err
	}

	session, err := a.openSession(ctx, user, jwt.LocalUser{Email: user.Email, Name: user.Name})
	if err != nil {
		return Session{}, fmt.Errorf("%s: %w", op, err)
	}

	a.notify(op, func(ctx context.Context) error {
		return a.notifier.SendWelcome(ctx, user)
	})

	return session, nil
}

// * Login проверяет учетные данные и возвращает access и refresh токены
func (a *Auth) Login(ctx context.Context, email, password string) (Session, error) {
	const op = "auth.Login"

	user, err := a.VerifyPassword(ctx, email, password)
	if err != nil {
		return Session{}, err
	}

	session, err := a.openSession(ctx, user, jwt.LocalUser{Email: user.Email, Name: user.Name})
	if err != nil {
		return Session{}, fmt.Errorf("%s: %w", op, err)
	}

	a.log.Info("user logged in successfully",
		slog.String("op", op),
		slog.Int64("uid", user.ID),
	)

	return session, nil
}

// * Logout удаляет refresh token владельца access token-а
func (a *Auth) Logout(ctx context.Context, email string) error {
	const op = "auth.Logout"

	user, err := a.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.Revoke(ctx, user); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	a.log.Info("logout successful",
		slog.String("op", op),
		slog.Int64("uid", user.ID),
	)

	return nil
}

func (a *Auth) openSession(ctx context.Context, user models.User, p jwt.Principal) (Session, error) {
	accessToken, err := a.issuer.GenerateAccessToken(p)
	if err != nil {
		return Session{}, err
	}

	refreshToken, err := a.IssueOrRotate(ctx, user)
	if err != nil {
		return Session{}, err
	}

	return Session{
		User:         user,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}
