package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	sl "warranty_auth/internal/lib/logger/sl"
	"warranty_auth/internal/lib/tokens"
	"warranty_auth/internal/models"
	"warranty_auth/internal/storage"
)

// * IssueOrRotate выдает новый refresh token, заменяя прежний токен пользователя (одна строка на пользователя)
func (a *Auth) IssueOrRotate(ctx context.Context, user models.User) (string, error) {
	const op = "auth.IssueOrRotate"

	log := a.log.With(
		slog.String("op", op),
		slog.Int64("uid", user.ID),
	)

	for attempt := 1; ; attempt++ {
		token, err := tokens.New()
		if err != nil {
			log.Error("failed to generate refresh token", sl.Err(err))

			return "", fmt.Errorf("%s: %w", op, err)
		}

		err = a.tokens.UpsertRefreshToken(ctx, user.ID, tokens.Hash(token), a.now().Add(a.refreshTTL))
		if err == nil {
			return token, nil
		}

		if errors.Is(err, storage.ErrRefreshTokenConflict) && attempt < rotateRetries {
			log.Warn("refresh token collision, retrying", slog.Int("attempt", attempt))

			continue
		}

		log.Error("failed to save refresh token", sl.Err(err))

		return "", fmt.Errorf("%s: %w", op, err)
	}
}

// * VerifyAndRotate проверяет refresh token и возвращает его владельца; истекший токен удаляется
func (a *Auth) VerifyAndRotate(ctx context.Context, token string) (models.User, error) {
	const op = "auth.VerifyAndRotate"

	log := a.log.With(slog.String("op", op))

	rt, err := a.tokens.RefreshTokenByHash(ctx, tokens.Hash(token))
	if err != nil {
		if errors.Is(err, storage.ErrRefreshTokenNotFound) {
			log.Info("refresh token not found")

			return models.User{}, fmt.Errorf("%s: %w", op, ErrRefreshTokenNotFound)
		}

		log.Error("failed to get refresh token", sl.Err(err))

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	if rt.IsExpired(a.now(), a.leeway) {
		log.Info("refresh token expired", slog.Int64("uid", rt.UserID))

		if err := a.tokens.DeleteRefreshToken(ctx, rt.ID); err != nil {
			log.Error("failed to delete expired refresh token", sl.Err(err))

			return models.User{}, fmt.Errorf("%s: %w", op, err)
		}

		return models.User{}, fmt.Errorf("%s: %w", op, ErrRefreshTokenExpired)
	}

	user, err := a.users.UserByID(ctx, rt.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return models.User{}, fmt.Errorf("%s: %w", op, ErrRefreshTokenNotFound)
		}

		log.Error("failed to load user", sl.Err(err))

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// * Revoke удаляет refresh token пользователя; повторный вызов не ошибка
func (a *Auth) Revoke(ctx context.Context, user models.User) error {
	const op = "auth.Revoke"

	if err := a.tokens.DeleteRefreshTokensByUser(ctx, user.ID); err != nil {
		a.log.Error("failed to revoke refresh token",
			slog.String("op", op),
			slog.Int64("uid", user.ID),
			sl.Err(err),
		)

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// * Refresh обменивает refresh token на новую пару токенов
func (a *Auth) Refresh(ctx context.Context, refreshToken string) (accessToken string, newRefresh string, err error) {
	const op = "auth.Refresh"

	user, err := a.VerifyAndRotate(ctx, refreshToken)
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	if !user.Enabled {
		return "", "", fmt.Errorf("%s: %w", op, ErrUserDisabled)
	}

	accessToken, err = a.issuer.GenerateFromUsername(user.Email)
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	newRefresh, err = a.IssueOrRotate(ctx, user)
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	a.log.Info("refresh successful",
		slog.String("op", op),
		slog.Int64("uid", user.ID),
	)

	return accessToken, newRefresh, nil
}
