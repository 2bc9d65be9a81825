package mail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/suprole/replenishment/internal/services"
)

const gmailUserMe = "me"

// GmailSender sends through the Gmail API as the authenticated user.
type GmailSender struct {
	svc   *gmail.Service
	from  string
	clock func() time.Time
}

var _ services.Mailer = (*GmailSender)(nil)

// NewGmailSender builds the Gmail client from opts.
func NewGmailSender(ctx context.Context, from string, opts ...option.ClientOption) (*GmailSender, error) {
	scoped := append([]option.ClientOption{option.WithScopes(gmail.GmailSendScope)}, opts...)
	svc, err := gmail.NewService(ctx, scoped...)
	if err != nil {
		return nil, fmt.Errorf("mail: create gmail service: %w", err)
	}
	return &GmailSender{svc: svc, from: from, clock: time.Now}, nil
}

// Send implements services.Mailer.
func (s *GmailSender) Send(ctx context.Context, msg services.MailMessage) error {
	if s == nil || s.svc == nil {
		return errors.New("mail: gmail sender not initialised")
	}
	raw, _, err := buildMIME(s.from, msg, s.clock())
	if err != nil {
		return err
	}
	_, err = s.svc.Users.Messages.Send(gmailUserMe, &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("mail: gmail send: %w", err)
	}
	return nil
}
