package models

import "time"

type Provider string

const (
	ProviderLocal  Provider = "LOCAL"
	ProviderGoogle Provider = "GOOGLE"
	ProviderGitHub Provider = "GITHUB"
)

const (
	DefaultEmailNotifications   = true
	DefaultWarrantyReminderDays = 30
)

type Preferences struct {
	EmailNotifications   bool
	WarrantyReminderDays int
}

func DefaultPreferences() Preferences {
	return Preferences{
		EmailNotifications:   DefaultEmailNotifications,
		WarrantyReminderDays: DefaultWarrantyReminderDays,
	}
}

type User struct {
	ID       int64
	Email    string
	Name     string
	PassHash []byte
	Enabled  bool

	Provider   Provider
	ProviderID string

	Preferences Preferences

	// ResetTokenHash is the SHA-256 digest of the pending reset token, empty when none.
	ResetTokenHash   string
	ResetTokenExpiry *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// * HasPassword сообщает, может ли пользователь входить по паролю
func (u *User) HasPassword() bool {
	return len(u.PassHash) > 0
}

// * HasPendingReset проверяет наличие неиспользованного токена сброса
func (u *User) HasPendingReset() bool {
	return u.ResetTokenHash != "" && u.ResetTokenExpiry != nil
}

type RefreshToken struct {
	ID        int64
	TokenHash string
	UserID    int64
	ExpiresAt time.Time
}

// * IsExpired проверяет, истек ли срок действия токена с учетом допуска
func (t *RefreshToken) IsExpired(now time.Time, leeway time.Duration) bool {
	return t.ExpiresAt.Add(leeway).Before(now)
}

type Message struct {
	Email   string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Purpose string `json:"purpose"`
}
