package mail

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/suprole/replenishment/internal/services"
)

type smtpSendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender relays through an SMTP server with PLAIN auth when credentials are configured.
type SMTPSender struct {
	addr  string
	from  string
	auth  smtp.Auth
	send  smtpSendFunc
	clock func() time.Time
}

var _ services.Mailer = (*SMTPSender)(nil)

// NewSMTPSender configures the relay at addr ("host:port").
func NewSMTPSender(addr, from, username, password string) (*SMTPSender, error) {
	addr = strings.TrimSpace(addr)
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("mail: smtp address %q: %w", addr, err)
	}
	if strings.TrimSpace(from) == "" {
		return nil, errors.New("mail: smtp sender address is required")
	}
	sender := &SMTPSender{addr: addr, from: from, send: smtp.SendMail, clock: time.Now}
	if username != "" {
		sender.auth = smtp.PlainAuth("", username, password, host)
	}
	return sender, nil
}

// Send implements services.Mailer. net/smtp takes no context, so the call runs in a goroutine
// and Send returns when ctx is done.
func (s *SMTPSender) Send(ctx context.Context, msg services.MailMessage) error {
	raw, recipients, err := buildMIME(s.from, msg, s.clock())
	if err != nil {
		return err
	}
	envelopeFrom := s.from
	if parsed, err := parseRecipients([]string{s.from}); err == nil {
		envelopeFrom = parsed[0]
	}

	done := make(chan error, 1)
	go func() {
		done <- s.send(s.addr, s.auth, envelopeFrom, recipients, raw)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("mail: smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mail: smtp send: %w", ctx.Err())
	}
}
