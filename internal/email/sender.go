// Package email delivers notification mail to residents.
package email

import (
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"
)

type Sender interface {
	Send(to, subject, html string) error
}

// StdoutSender logs messages instead of sending them. Used when no SMTP
// server is configured.
type StdoutSender struct {
	Log zerolog.Logger
}

func (s StdoutSender) Send(to, subject, html string) error {
	s.Log.Info().Str("to", to).Str("subject", subject).Str("body", html).Msg("email")
	return nil
}

// SMTPSender sends through an unauthenticated relay such as MailHog.
type SMTPSender struct {
	Addr string
	From string
}

func NewSMTPSender(addr, from string) *SMTPSender {
	if addr == "" {
		addr = "localhost:1025"
	}
	if from == "" {
		from = "no-reply@bperks.local"
	}
	return &SMTPSender{Addr: addr, From: from}
}

func (s *SMTPSender) Send(to, subject, html string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return errors.New("email: recipient required")
	}
	if strings.ContainsAny(to+subject, "\r\n") {
		return errors.New("email: header values must be single-line")
	}
	msg := strings.Join([]string{
		"From: " + s.From,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/html; charset=UTF-8",
		"",
		html,
	}, "\r\n")
	if err := smtp.SendMail(s.Addr, nil, s.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}
