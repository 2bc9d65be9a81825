// Package mail implements the notification mail channel: Gmail API, SMTP and a log-only sender.
package mail

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/suprole/replenishment/internal/services"
)

const mimeLineLength = 76

// ErrNoRecipients is returned when a message has no usable address.
var ErrNoRecipients = errors.New("mail: no recipients")

// buildMIME renders msg as an RFC 5322 message with a base64 encoded UTF-8 HTML body.
func buildMIME(from string, msg services.MailMessage, now time.Time) ([]byte, []string, error) {
	recipients, err := parseRecipients(msg.To)
	if err != nil {
		return nil, nil, err
	}

	var buf bytes.Buffer
	header := func(name, value string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", name, value)
	}
	if from != "" {
		header("From", from)
	}
	header("To", strings.Join(recipients, ", "))
	header("Subject", mime.BEncoding.Encode("UTF-8", msg.Subject))
	header("Date", now.Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@replenishment>", ulid.Make().String()))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/html; charset="UTF-8"`)
	header("Content-Transfer-Encoding", "base64")
	buf.WriteString("\r\n")

	encoded := base64.StdEncoding.EncodeToString([]byte(msg.HTML))
	for len(encoded) > mimeLineLength {
		buf.WriteString(encoded[:mimeLineLength])
		buf.WriteString("\r\n")
		encoded = encoded[mimeLineLength:]
	}
	buf.WriteString(encoded)
	buf.WriteString("\r\n")
	return buf.Bytes(), recipients, nil
}

func parseRecipients(raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	for _, entry := range raw {
		for _, part := range strings.Split(entry, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			addr, err := mail.ParseAddress(part)
			if err != nil {
				return nil, fmt.Errorf("mail: invalid recipient %q: %w", part, err)
			}
			out = append(out, addr.Address)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoRecipients
	}
	return out, nil
}
