package delivery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/jordan-wright/email"
)

// SMTPConfig holds the relay settings. User and Password are optional;
// without a user the relay is used unauthenticated.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
}

// Addr returns host:port.
func (c SMTPConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type sendFunc func(addr string, auth smtp.Auth, msg *email.Email) error

func sendEmail(addr string, auth smtp.Auth, msg *email.Email) error {
	return msg.Send(addr, auth) //nolint:wrapcheck // wrapped by caller
}

// SMTPMailer sends mail through an SMTP relay, upgrading with STARTTLS when
// the server offers it.
type SMTPMailer struct {
	cfg  SMTPConfig
	send sendFunc
}

// NewSMTPMailer validates cfg and returns a mailer.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("smtp port %d out of range", cfg.Port)
	}
	return &SMTPMailer{cfg: cfg, send: sendEmail}, nil
}

func (m *SMTPMailer) auth() smtp.Auth {
	if m.cfg.User == "" {
		return nil
	}
	return smtp.PlainAuth("", m.cfg.User, m.cfg.Password, m.cfg.Host)
}

// Send builds a MIME message with the given attachments and relays it.
func (m *SMTPMailer) Send(ctx context.Context, from string, to []string, subject, body string, attachments []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := email.NewEmail()
	msg.From = from
	msg.To = append([]string(nil), to...)
	msg.Subject = subject
	msg.Text = []byte(body)
	for _, path := range attachments {
		if _, err := msg.AttachFile(path); err != nil {
			return fmt.Errorf("attach %s: %w", path, err)
		}
	}
	if err := m.send(m.cfg.Addr(), m.auth(), msg); err != nil {
		return fmt.Errorf("send mail via %s: %w", m.cfg.Addr(), err)
	}
	return nil
}
