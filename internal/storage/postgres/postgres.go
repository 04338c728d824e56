package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"warranty_auth/internal/config"
	"warranty_auth/internal/models"
	"warranty_auth/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

const userColumns = `id, email, name, password_hash, enabled, provider, provider_id,
	email_notifications, warranty_reminder_days, reset_token_hash, reset_token_expiry,
	created_at, updated_at`

type PostgresRepo struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg config.Postgres) (*PostgresRepo, error) {
	const op = "storage.postgres.New"

	poolConfig, err := pgxpool.ParseConfig(dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse config: %w", op, err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create pool: %w", op, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: failed to ping database: %w", op, err)
	}

	repo := &PostgresRepo{pool: pool}

	if err := repo.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return repo, nil
}

// * migrate применяет встроенные миграции по порядку имен файлов
func (r *PostgresRepo) migrate(ctx context.Context) error {
	const op = "storage.postgres.migrate"

	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	sort.Strings(files)

	for _, name := range files {
		body, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("%s: read %s: %w", op, name, err)
		}

		if _, err := r.pool.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("%s: apply %s: %w", op, name, err)
		}
	}

	return nil
}

func (r *PostgresRepo) SaveUser(ctx context.Context, u models.User) (int64, error) {
	const op = "storage.postgres.SaveUser"

	query := `
		INSERT INTO users (email, name, password_hash, enabled, provider, provider_id,
			email_notifications, warranty_reminder_days, reset_token_hash, reset_token_expiry)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id;
	`

	var id int64

	err := r.pool.QueryRow(ctx, query,
		u.Email, u.Name, nullBytes(u.PassHash), u.Enabled, string(u.Provider), u.ProviderID,
		u.Preferences.EmailNotifications, u.Preferences.WarrantyReminderDays,
		nullString(u.ResetTokenHash), u.ResetTokenExpiry,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, storage.ErrUserExists
		}

		return 0, fmt.Errorf("%s: failed to save user: %w", op, err)
	}

	return id, nil
}

func (r *PostgresRepo) UpdateUser(ctx context.Context, u models.User) error {
	const op = "storage.postgres.UpdateUser"

	query := `
		UPDATE users
		SET email = $1, name = $2, password_hash = $3, enabled = $4, provider = $5, provider_id = $6,
			email_notifications = $7, warranty_reminder_days = $8,
			reset_token_hash = $9, reset_token_expiry = $10, updated_at = NOW()
		WHERE id = $11;
	`

	tag, err := r.pool.Exec(ctx, query,
		u.Email, u.Name, nullBytes(u.PassHash), u.Enabled, string(u.Provider), u.ProviderID,
		u.Preferences.EmailNotifications, u.Preferences.WarrantyReminderDays,
		nullString(u.ResetTokenHash), u.ResetTokenExpiry,
		u.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrUserExists
		}

		return fmt.Errorf("%s: failed to update user: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrUserNotFound
	}

	return nil
}

// * ConsumeResetToken ставит новый пароль и гасит токен сброса, только если токен еще на месте
func (r *PostgresRepo) ConsumeResetToken(ctx context.Context, userID int64, tokenHash string, passHash []byte) error {
	return r.clearResetToken(ctx, "storage.postgres.ConsumeResetToken", userID, tokenHash, passHash)
}

func (r *PostgresRepo) ClearResetToken(ctx context.Context, userID int64, tokenHash string) error {
	return r.clearResetToken(ctx, "storage.postgres.ClearResetToken", userID, tokenHash, nil)
}

func (r *PostgresRepo) clearResetToken(ctx context.Context, op string, userID int64, tokenHash string, passHash []byte) error {
	query := `
		UPDATE users
		SET password_hash = COALESCE($1, password_hash),
			reset_token_hash = NULL, reset_token_expiry = NULL, updated_at = NOW()
		WHERE id = $2 AND reset_token_hash = $3;
	`

	tag, err := r.pool.Exec(ctx, query, nullBytes(passHash), userID, tokenHash)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrResetTokenNotFound
	}

	return nil
}

func (r *PostgresRepo) UserByEmail(ctx context.Context, email string) (models.User, error) {
	return r.userBy(ctx, "storage.postgres.UserByEmail", "email", email)
}

func (r *PostgresRepo) UserByID(ctx context.Context, id int64) (models.User, error) {
	return r.userBy(ctx, "storage.postgres.UserByID", "id", id)
}

func (r *PostgresRepo) UserByResetToken(ctx context.Context, tokenHash string) (models.User, error) {
	return r.userBy(ctx, "storage.postgres.UserByResetToken", "reset_token_hash", tokenHash)
}

func (r *PostgresRepo) userBy(ctx context.Context, op, column string, value any) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = $1;`

	var (
		u         models.User
		provider  string
		resetHash *string
	)

	err := r.pool.QueryRow(ctx, query, value).Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.PassHash,
		&u.Enabled,
		&provider,
		&u.ProviderID,
		&u.Preferences.EmailNotifications,
		&u.Preferences.WarrantyReminderDays,
		&resetHash,
		&u.ResetTokenExpiry,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, storage.ErrUserNotFound
		}

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	u.Provider = models.Provider(provider)
	if resetHash != nil {
		u.ResetTokenHash = *resetHash
	}

	return u, nil
}

// * UpsertRefreshToken атомарно заменяет refresh token пользователя (UNIQUE user_id)
func (r *PostgresRepo) UpsertRefreshToken(
	ctx context.Context,
	userID int64,
	tokenHash string,
	expiresAt time.Time,
) error {
	const op = "storage.postgres.UpsertRefreshToken"

	const query = `
		INSERT INTO refresh_tokens (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET token_hash = EXCLUDED.token_hash, expires_at = EXCLUDED.expires_at;
	`

	_, err := r.pool.Exec(ctx, query, userID, tokenHash, expiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrRefreshTokenConflict
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) RefreshTokenByHash(ctx context.Context, tokenHash string) (models.RefreshToken, error) {
	const op = "storage.postgres.RefreshTokenByHash"

	const query = `
		SELECT id, user_id, token_hash, expires_at
		FROM refresh_tokens
		WHERE token_hash = $1;
	`

	var rt models.RefreshToken

	err := r.pool.QueryRow(ctx, query, tokenHash).Scan(&rt.ID, &rt.UserID, &rt.TokenHash, &rt.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.RefreshToken{}, storage.ErrRefreshTokenNotFound
		}

		return models.RefreshToken{}, fmt.Errorf("%s: %w", op, err)
	}

	return rt, nil
}

func (r *PostgresRepo) DeleteRefreshToken(ctx context.Context, id int64) error {
	const op = "storage.postgres.DeleteRefreshToken"

	if _, err := r.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE id = $1`, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) DeleteRefreshTokensByUser(ctx context.Context, userID int64) error {
	const op = "storage.postgres.DeleteRefreshTokensByUser"

	if _, err := r.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) Close() {
	r.pool.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}

func nullBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}

	return b
}

// * dsn формирует конфигурацию базы данных.
func dsn(cfg config.Postgres) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s database=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.DBName,
		cfg.SSLMode,
	)
}
