package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"warranty_auth/internal/lib/jwt"
	sl "warranty_auth/internal/lib/logger/sl"
	"warranty_auth/internal/models"
	"warranty_auth/internal/storage"
)

// ExternalIdentity is an identity assertion produced by an OAuth2/OIDC provider.
type ExternalIdentity struct {
	Provider      models.Provider
	ProviderID    string
	Email         string
	Name          string
	EmailVerified bool
}

// * Resolve находит или создает локального пользователя для внешней учетной записи
func (a *Auth) Resolve(ctx context.Context, ext ExternalIdentity) (models.User, error) {
	const op = "auth.Resolve"

	email := NormalizeEmail(ext.Email)

	log := a.log.With(
		slog.String("op", op),
		slog.String("provider", string(ext.Provider)),
		sl.Email(email),
	)

	if email == "" {
		log.Warn("provider returned no email")

		return models.User{}, fmt.Errorf("%s: %w", op, ErrEmailMissingFromProvider)
	}
	if strings.TrimSpace(ext.ProviderID) == "" {
		log.Warn("provider returned no subject id")

		return models.User{}, fmt.Errorf("%s: %w", op, ErrProviderIDMissing)
	}
	if a.requireVerifiedEmail && !ext.EmailVerified {
		log.Warn("provider email is not verified")

		return models.User{}, fmt.Errorf("%s: %w", op, ErrEmailNotVerified)
	}

	user, err := a.users.UserByEmail(ctx, email)
	switch {
	case err == nil:
		return a.link(ctx, log, user, ext)
	case !errors.Is(err, storage.ErrUserNotFound):
		log.Error("failed to get user", sl.Err(err))

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	user = models.User{
		Email:       email,
		Name:        displayName(ext.Name, email),
		Enabled:     true,
		Provider:    ext.Provider,
		ProviderID:  ext.ProviderID,
		Preferences: models.DefaultPreferences(),
	}

	id, err := a.users.SaveUser(ctx, user)
	if err != nil {
		if !errors.Is(err, storage.ErrUserExists) {
			log.Error("failed to save user", sl.Err(err))

			return models.User{}, fmt.Errorf("%s: %w", op, err)
		}

		// lost the race to a concurrent creator
		existing, err := a.users.UserByEmail(ctx, email)
		if err != nil {
			log.Error("failed to reload user", sl.Err(err))

			return models.User{}, fmt.Errorf("%s: %w", op, err)
		}

		return a.link(ctx, log, existing, ext)
	}

	user.ID = id

	log.Info("oauth2 user created", slog.Int64("uid", id))

	return user, nil
}

func (a *Auth) link(ctx context.Context, log *slog.Logger, user models.User, ext ExternalIdentity) (models.User, error) {
	const op = "auth.link"

	changed := false

	if user.Provider != ext.Provider || user.ProviderID != ext.ProviderID {
		user.Provider = ext.Provider
		user.ProviderID = ext.ProviderID
		changed = true
	}

	if strings.TrimSpace(user.Name) == "" {
		if name := strings.TrimSpace(ext.Name); name != "" {
			user.Name = name
			changed = true
		}
	}

	if !changed {
		return user, nil
	}

	if err := a.users.UpdateUser(ctx, user); err != nil {
		log.Error("failed to link user", sl.Err(err))

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("oauth2 identity linked", slog.Int64("uid", user.ID))

	return user, nil
}

// * OAuthLogin сводит внешнюю учетку с локальной и выдает пару токенов
func (a *Auth) OAuthLogin(ctx context.Context, p jwt.Principal, ext ExternalIdentity) (Session, error) {
	const op = "auth.OAuthLogin"

	user, err := a.Resolve(ctx, ext)
	if err != nil {
		return Session{}, err
	}

	if !user.Enabled {
		return Session{}, fmt.Errorf("%s: %w", op, ErrUserDisabled)
	}

	session, err := a.openSession(ctx, user, p)
	if err != nil {
		return Session{}, fmt.Errorf("%s: %w", op, err)
	}

	return session, nil
}

func displayName(name, email string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}

	local, _, _ := strings.Cut(email, "@")

	return local
}
