package alert

import (
	"fmt"
	"net/smtp"

	"github.com/flowforge/flowforge/pkg/errors"
)

// EmailSender delivers a triggered-alert notification. The evaluator
// depends on this interface so tests can capture sends.
type EmailSender interface {
	Send(to, subject, body string) error
}

// SMTPSender sends plain-text mail over an unauthenticated relay
type SMTPSender struct {
	Addr string // host:port
	From string
}

// NewSMTPSender creates a sender for the given relay address
func NewSMTPSender(addr, from string) *SMTPSender {
	return &SMTPSender{Addr: addr, From: from}
}

// Send delivers one message
func (s *SMTPSender) Send(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		s.From, to, subject, body)
	if err := smtp.SendMail(s.Addr, nil, s.From, []string{to}, []byte(msg)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "smtp send failed")
	}
	return nil
}

// NopSender discards mail, used when no relay is configured
type NopSender struct{}

func (NopSender) Send(to, subject, body string) error { return nil }
