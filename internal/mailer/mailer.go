package mailer

import (
	"context"
	"fmt"

	"warranty_auth/internal/config"
	"warranty_auth/internal/models"

	"gopkg.in/gomail.v2"
)

type Mailer struct {
	from   string
	sender func(msgs ...*gomail.Message) error
}

func New(cfg config.Mail) *Mailer {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)

	return &Mailer{
		from:   cfg.From,
		sender: dialer.DialAndSend,
	}
}

// * NewWithSender отправляет письма через произвольный gomail.Sender (для тестов и пулов соединений)
func NewWithSender(from string, s gomail.Sender) *Mailer {
	return &Mailer{
		from: from,
		sender: func(msgs ...*gomail.Message) error {
			return gomail.Send(s, msgs...)
		},
	}
}

func (m *Mailer) Send(_ context.Context, msg models.Message) error {
	const op = "mailer.Send"

	if err := m.sender(m.build(msg)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (m *Mailer) build(msg models.Message) *gomail.Message {
	gm := gomail.NewMessage()
	gm.SetHeader("From", m.from)
	gm.SetHeader("To", msg.Email)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetBody("text/plain", msg.Body)

	return gm
}
