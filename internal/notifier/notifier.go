// Package notifier turns account lifecycle events into mail messages and hands
// them to the broker.
package notifier

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"warranty_auth/internal/models"
)

const (
	PurposeWelcome             = "welcome"
	PurposePasswordReset       = "password_reset"
	PurposeWarrantyReminder    = "warranty_reminder"
	PurposeMaintenanceReminder = "maintenance_reminder"
	PurposeMonthlySummary      = "monthly_summary"
)

type Publisher interface {
	Publish(ctx context.Context, msg models.Message) error
}

// Device is the part of a tracked device a reminder needs.
type Device struct {
	Name              string
	WarrantyExpiresAt time.Time
}

type Maintenance struct {
	Title string
	DueAt time.Time
}

type Notifier struct {
	pub          Publisher
	frontendBase string
}

func New(pub Publisher, frontendBase string) *Notifier {
	return &Notifier{
		pub:          pub,
		frontendBase: strings.TrimRight(frontendBase, "/"),
	}
}

func (n *Notifier) SendWelcome(ctx context.Context, user models.User) error {
	body := fmt.Sprintf(
		"Hi %s,\n\nWelcome to WarrantyHub! Sign in at %s/login to start tracking your devices.",
		greeting(user), n.frontendBase,
	)

	return n.publish(ctx, "notifier.SendWelcome", models.Message{
		Email:   user.Email,
		Subject: "Welcome to WarrantyHub",
		Body:    body,
		Purpose: PurposeWelcome,
	})
}

// * SendPasswordReset отправляет ссылку сброса; токен попадает только в тело письма
func (n *Notifier) SendPasswordReset(ctx context.Context, user models.User, resetToken string) error {
	link := n.ResetLink(resetToken)

	body := fmt.Sprintf(
		"Hi %s,\n\nUse the link below to reset your password. It is valid for one hour.\n\n%s\n\n"+
			"If you did not request a reset, ignore this message.",
		greeting(user), link,
	)

	return n.publish(ctx, "notifier.SendPasswordReset", models.Message{
		Email:   user.Email,
		Subject: "Reset your WarrantyHub password",
		Body:    body,
		Purpose: PurposePasswordReset,
	})
}

func (n *Notifier) SendWarrantyReminder(ctx context.Context, user models.User, device Device, daysRemaining int) error {
	if !user.Preferences.EmailNotifications {
		return nil
	}

	body := fmt.Sprintf(
		"Hi %s,\n\nThe warranty for %s expires in %d day(s), on %s.",
		greeting(user), device.Name, daysRemaining, device.WarrantyExpiresAt.Format(time.DateOnly),
	)

	return n.publish(ctx, "notifier.SendWarrantyReminder", models.Message{
		Email:   user.Email,
		Subject: fmt.Sprintf("Warranty for %s expires soon", device.Name),
		Body:    body,
		Purpose: PurposeWarrantyReminder,
	})
}

func (n *Notifier) SendMaintenanceReminder(ctx context.Context, user models.User, device Device, m Maintenance) error {
	if !user.Preferences.EmailNotifications {
		return nil
	}

	body := fmt.Sprintf(
		"Hi %s,\n\n%s for %s is due on %s.",
		greeting(user), m.Title, device.Name, m.DueAt.Format(time.DateOnly),
	)

	return n.publish(ctx, "notifier.SendMaintenanceReminder", models.Message{
		Email:   user.Email,
		Subject: fmt.Sprintf("Maintenance due for %s", device.Name),
		Body:    body,
		Purpose: PurposeMaintenanceReminder,
	})
}

func (n *Notifier) SendMonthlySummary(ctx context.Context, user models.User, expiring []Device) error {
	if !user.Preferences.EmailNotifications {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", greeting(user))

	if len(expiring) == 0 {
		b.WriteString("No warranties expire in the coming month.")
	} else {
		fmt.Fprintf(&b, "%d warranty(ies) expire in the coming month:\n", len(expiring))
		for _, d := range expiring {
			fmt.Fprintf(&b, "  - %s: %s\n", d.Name, d.WarrantyExpiresAt.Format(time.DateOnly))
		}
	}

	return n.publish(ctx, "notifier.SendMonthlySummary", models.Message{
		Email:   user.Email,
		Subject: "Your monthly WarrantyHub summary",
		Body:    b.String(),
		Purpose: PurposeMonthlySummary,
	})
}

func (n *Notifier) ResetLink(resetToken string) string {
	return n.frontendBase + "/reset-password?token=" + url.QueryEscape(resetToken)
}

func (n *Notifier) publish(ctx context.Context, op string, msg models.Message) error {
	if err := n.pub.Publish(ctx, msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func greeting(user models.User) string {
	if name := strings.TrimSpace(user.Name); name != "" {
		return name
	}

	return "there"
}
