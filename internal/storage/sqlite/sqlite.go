// Package sqlite stores users and refresh tokens in a single SQLite file.
// It backs local runs and the package tests; production uses postgres.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"warranty_auth/internal/models"
	"warranty_auth/internal/storage"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schema string

const userColumns = `id, email, name, password_hash, enabled, provider, provider_id,
	email_notifications, warranty_reminder_days, reset_token_hash, reset_token_expiry,
	created_at, updated_at`

type Storage struct {
	db  *sql.DB
	now func() time.Time
}

// * New открывает базу по пути (":memory:" для тестов) и применяет схему
func New(path string) (*Storage, error) {
	const op = "storage.sqlite.New"

	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%s: storage path is required", op)
	}

	dsn := ":memory:?_pragma=foreign_keys(1)"
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", op, err)
	}

	// every connection to :memory: is its own database
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: apply schema: %w", op, err)
	}

	return &Storage{db: db, now: time.Now}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) SaveUser(ctx context.Context, u models.User) (int64, error) {
	const op = "storage.sqlite.SaveUser"

	now := toMillis(s.now())

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (email, name, password_hash, enabled, provider, provider_id,
			email_notifications, warranty_reminder_days, reset_token_hash, reset_token_expiry,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Email, u.Name, nullBytes(u.PassHash), u.Enabled, string(u.Provider), u.ProviderID,
		u.Preferences.EmailNotifications, u.Preferences.WarrantyReminderDays,
		nullString(u.ResetTokenHash), nullMillis(u.ResetTokenExpiry),
		now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, storage.ErrUserExists
		}

		return 0, fmt.Errorf("%s: %w", op, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (s *Storage) UpdateUser(ctx context.Context, u models.User) error {
	const op = "storage.sqlite.UpdateUser"

	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET email = ?, name = ?, password_hash = ?, enabled = ?, provider = ?, provider_id = ?,
			email_notifications = ?, warranty_reminder_days = ?,
			reset_token_hash = ?, reset_token_expiry = ?, updated_at = ?
		WHERE id = ?`,
		u.Email, u.Name, nullBytes(u.PassHash), u.Enabled, string(u.Provider), u.ProviderID,
		u.Preferences.EmailNotifications, u.Preferences.WarrantyReminderDays,
		nullString(u.ResetTokenHash), nullMillis(u.ResetTokenExpiry), toMillis(s.now()),
		u.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrUserExists
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return storage.ErrUserNotFound
	}

	return nil
}

// * ConsumeResetToken ставит новый пароль и гасит токен сброса, только если токен еще на месте
func (s *Storage) ConsumeResetToken(ctx context.Context, userID int64, tokenHash string, passHash []byte) error {
	return s.clearResetToken(ctx, "storage.sqlite.ConsumeResetToken", userID, tokenHash, passHash)
}

func (s *Storage) ClearResetToken(ctx context.Context, userID int64, tokenHash string) error {
	return s.clearResetToken(ctx, "storage.sqlite.ClearResetToken", userID, tokenHash, nil)
}

// nil passHash keeps the current password.
func (s *Storage) clearResetToken(ctx context.Context, op string, userID int64, tokenHash string, passHash []byte) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = COALESCE(?, password_hash),
			reset_token_hash = NULL, reset_token_expiry = NULL, updated_at = ?
		WHERE id = ? AND reset_token_hash = ?`,
		nullBytes(passHash), toMillis(s.now()), userID, tokenHash,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return storage.ErrResetTokenNotFound
	}

	return nil
}

func (s *Storage) UserByEmail(ctx context.Context, email string) (models.User, error) {
	return s.userBy(ctx, "storage.sqlite.UserByEmail", "email", email)
}

func (s *Storage) UserByID(ctx context.Context, id int64) (models.User, error) {
	return s.userBy(ctx, "storage.sqlite.UserByID", "id", id)
}

func (s *Storage) UserByResetToken(ctx context.Context, tokenHash string) (models.User, error) {
	return s.userBy(ctx, "storage.sqlite.UserByResetToken", "reset_token_hash", tokenHash)
}

func (s *Storage) userBy(ctx context.Context, op, column string, value any) (models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+column+` = ?`, value)

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, storage.ErrUserNotFound
		}

		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

func (s *Storage) UpsertRefreshToken(ctx context.Context, userID int64, tokenHash string, expiresAt time.Time) error {
	const op = "storage.sqlite.UpsertRefreshToken"

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (user_id, token_hash, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE
		SET token_hash = excluded.token_hash, expires_at = excluded.expires_at`,
		userID, tokenHash, toMillis(expiresAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrRefreshTokenConflict
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) RefreshTokenByHash(ctx context.Context, tokenHash string) (models.RefreshToken, error) {
	return s.refreshTokenBy(ctx, "storage.sqlite.RefreshTokenByHash", "token_hash", tokenHash)
}

func (s *Storage) refreshTokenBy(ctx context.Context, op, column string, value any) (models.RefreshToken, error) {
	var (
		rt        models.RefreshToken
		expiresAt int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, expires_at FROM refresh_tokens WHERE `+column+` = ?`, value,
	).Scan(&rt.ID, &rt.UserID, &rt.TokenHash, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.RefreshToken{}, storage.ErrRefreshTokenNotFound
		}

		return models.RefreshToken{}, fmt.Errorf("%s: %w", op, err)
	}

	rt.ExpiresAt = fromMillis(expiresAt)

	return rt, nil
}

func (s *Storage) DeleteRefreshToken(ctx context.Context, id int64) error {
	const op = "storage.sqlite.DeleteRefreshToken"

	if _, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE id = ?`, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) DeleteRefreshTokensByUser(ctx context.Context, userID int64) error {
	const op = "storage.sqlite.DeleteRefreshTokensByUser"

	if _, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// CountRefreshTokens reports how many refresh token rows a user owns.
func (s *Storage) CountRefreshTokens(ctx context.Context, userID int64) (int, error) {
	const op = "storage.sqlite.CountRefreshTokens"

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM refresh_tokens WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (models.User, error) {
	var (
		u           models.User
		provider    string
		resetHash   sql.NullString
		resetExpiry sql.NullInt64
		createdAt   int64
		updatedAt   int64
	)

	err := row.Scan(
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
		&resetExpiry,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return models.User{}, err
	}

	u.Provider = models.Provider(provider)
	u.ResetTokenHash = resetHash.String
	if resetExpiry.Valid {
		t := fromMillis(resetExpiry.Int64)
		u.ResetTokenExpiry = &t
	}
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)

	return u, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}

	switch sqliteErr.Code() {
	case sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}

	return false
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}

	return b
}
