package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	sl "warranty_auth/internal/lib/logger/sl"
	"warranty_auth/internal/lib/tokens"
	"warranty_auth/internal/storage"

	"golang.org/x/crypto/bcrypt"
)

// * RequestPasswordReset сохраняет новый токен сброса и отправляет ссылку на почту
func (a *Auth) RequestPasswordReset(ctx context.Context, email string) error {
	const op = "auth.RequestPasswordReset"

	log := a.log.With(
		slog.String("op", op),
		sl.Email(email),
	)

	user, err := a.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			log.Info("password reset requested for unknown email")
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	resetToken, err := tokens.New()
	if err != nil {
		log.Error("failed to generate reset token", sl.Err(err))

		return fmt.Errorf("%s: %w", op, err)
	}

	expiry := a.now().Add(a.resetTTL)
	user.ResetTokenHash = tokens.Hash(resetToken)
	user.ResetTokenExpiry = &expiry

	if err := a.users.UpdateUser(ctx, user); err != nil {
		log.Error("failed to save reset token", sl.Err(err))

		return fmt.Errorf("%s: %w", op, err)
	}

	a.notify(op, func(ctx context.Context) error {
		return a.notifier.SendPasswordReset(ctx, user, resetToken)
	})

	log.Info("password reset requested", slog.Int64("uid", user.ID))

	return nil
}

// * ResetPassword меняет пароль по одноразовому токену и сбрасывает сессию
func (a *Auth) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	const op = "auth.ResetPassword"

	log := a.log.With(slog.String("op", op))

	if len(newPassword) > maxPasswordBytes {
		return fmt.Errorf("%s: %w", op, ErrPasswordTooLong)
	}

	tokenHash := tokens.Hash(resetToken)

	user, err := a.users.UserByResetToken(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Info("unknown reset token")

			return fmt.Errorf("%s: %w", op, ErrInvalidResetToken)
		}

		log.Error("failed to find user by reset token", sl.Err(err))

		return fmt.Errorf("%s: %w", op, err)
	}

	log = log.With(slog.Int64("uid", user.ID))

	if !user.HasPendingReset() || user.ResetTokenExpiry.Add(a.leeway).Before(a.now()) {
		err := a.users.ClearResetToken(ctx, user.ID, tokenHash)
		if err != nil && !errors.Is(err, storage.ErrResetTokenNotFound) {
			log.Error("failed to purge expired reset token", sl.Err(err))

			return fmt.Errorf("%s: %w", op, err)
		}

		log.Info("reset token expired")

		return fmt.Errorf("%s: %w", op, ErrResetTokenExpired)
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))

		return fmt.Errorf("%s: %w", op, err)
	}

	// токен гасится тем же запросом, что меняет пароль: из параллельных подтверждений проходит одно
	if err := a.users.ConsumeResetToken(ctx, user.ID, tokenHash, passHash); err != nil {
		if errors.Is(err, storage.ErrResetTokenNotFound) {
			log.Info("reset token already used")

			return fmt.Errorf("%s: %w", op, ErrInvalidResetToken)
		}

		log.Error("failed to update password", sl.Err(err))

		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.Revoke(ctx, user); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("password reset")

	return nil
}
