package mail

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/suprole/replenishment/internal/services"
)

// LogSender records messages instead of sending them. Used for local development.
type LogSender struct {
	logger *zap.Logger
}

var _ services.Mailer = (*LogSender)(nil)

// NewLogSender constructs the sender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send logs the envelope and body size.
func (s *LogSender) Send(_ context.Context, msg services.MailMessage) error {
	recipients, err := parseRecipients(msg.To)
	if err != nil {
		return err
	}
	s.logger.Info("mail suppressed",
		zap.String("to", strings.Join(recipients, ",")),
		zap.String("subject", msg.Subject),
		zap.Int("html_bytes", len(msg.HTML)),
	)
	return nil
}
