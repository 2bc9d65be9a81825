package mail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/api/option"

	"github.com/suprole/replenishment/internal/services"
)

var sentAt = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

func sampleMessage() services.MailMessage {
	return services.MailMessage{
		To:      []string{"befree@example.com, ops@example.com"},
		Subject: "【発注依頼】Suprole - 2025-03-03 (2件)",
		HTML:    "<p>発注一覧</p>",
	}
}

func decodeBody(t *testing.T, raw string) (map[string]string, string) {
	t.Helper()
	head, body, ok := strings.Cut(raw, "\r\n\r\n")
	if !ok {
		t.Fatalf("message has no header/body separator")
	}
	headers := map[string]string{}
	for _, line := range strings.Split(head, "\r\n") {
		name, value, _ := strings.Cut(line, ": ")
		headers[name] = value
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(body, "\r\n", ""))
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return headers, string(decoded)
}

func TestBuildMIME_EncodesSubjectAndBody(t *testing.T) {
	raw, recipients, err := buildMIME("Suprole <noreply@example.com>", sampleMessage(), sentAt)
	if err != nil {
		t.Fatalf("buildMIME: %v", err)
	}
	if strings.Join(recipients, ",") != "befree@example.com,ops@example.com" {
		t.Fatalf("unexpected recipients %v", recipients)
	}
	headers, body := decodeBody(t, string(raw))
	subject, err := new(mime.WordDecoder).DecodeHeader(headers["Subject"])
	if err != nil {
		t.Fatalf("decode subject: %v", err)
	}
	if subject != sampleMessage().Subject {
		t.Fatalf("unexpected subject %q", subject)
	}
	if body != "<p>発注一覧</p>" {
		t.Fatalf("unexpected body %q", body)
	}
	if !strings.Contains(headers["Content-Type"], "text/html") {
		t.Fatalf("unexpected content type %q", headers["Content-Type"])
	}
}

func TestBuildMIME_RejectsMissingRecipients(t *testing.T) {
	_, _, err := buildMIME("", services.MailMessage{To: []string{" "}}, sentAt)
	if !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}
	if _, _, err := buildMIME("", services.MailMessage{To: []string{"not an address"}}, sentAt); err == nil {
		t.Fatalf("expected invalid address error")
	}
}

func TestGmailSender_SendsRawMessage(t *testing.T) {
	var gotPath, gotRaw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Raw string `json:"raw"`
		}
		_ = json.Unmarshal(body, &payload)
		gotRaw = payload.Raw
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg-1"}`))
	}))
	defer srv.Close()

	sender, err := NewGmailSender(context.Background(), "noreply@example.com",
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
		option.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("NewGmailSender: %v", err)
	}
	sender.clock = func() time.Time { return sentAt }

	if err := sender.Send(context.Background(), sampleMessage()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotPath != "/gmail/v1/users/me/messages/send" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	raw, err := base64.URLEncoding.DecodeString(gotRaw)
	if err != nil {
		t.Fatalf("decode raw: %v", err)
	}
	headers, body := decodeBody(t, string(raw))
	if headers["To"] != "befree@example.com, ops@example.com" || body != "<p>発注一覧</p>" {
		t.Fatalf("unexpected message headers=%v body=%q", headers, body)
	}
}

func TestGmailSender_SurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"insufficient permissions"}}`))
	}))
	defer srv.Close()

	sender, err := NewGmailSender(context.Background(), "",
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
		option.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("NewGmailSender: %v", err)
	}
	if err := sender.Send(context.Background(), sampleMessage()); err == nil {
		t.Fatalf("expected error from gmail")
	}
}

func TestSMTPSender_UsesEnvelopeAddresses(t *testing.T) {
	sender, err := NewSMTPSender("smtp.example.com:587", "Suprole <noreply@example.com>", "user", "pass")
	if err != nil {
		t.Fatalf("NewSMTPSender: %v", err)
	}
	var gotFrom string
	var gotTo []string
	sender.send = func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		if addr != "smtp.example.com:587" || auth == nil {
			t.Fatalf("unexpected relay %s auth=%v", addr, auth)
		}
		gotFrom, gotTo = from, to
		return nil
	}

	if err := sender.Send(context.Background(), sampleMessage()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotFrom != "noreply@example.com" || len(gotTo) != 2 {
		t.Fatalf("unexpected envelope from=%q to=%v", gotFrom, gotTo)
	}
}

func TestSMTPSender_HonoursContext(t *testing.T) {
	sender, err := NewSMTPSender("smtp.example.com:25", "noreply@example.com", "", "")
	if err != nil {
		t.Fatalf("NewSMTPSender: %v", err)
	}
	release := make(chan struct{})
	defer close(release)
	sender.send = func(string, smtp.Auth, string, []string, []byte) error {
		<-release
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := sender.Send(ctx, sampleMessage()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestNewSMTPSender_Validates(t *testing.T) {
	if _, err := NewSMTPSender("no-port", "a@example.com", "", ""); err == nil {
		t.Fatalf("expected address error")
	}
	if _, err := NewSMTPSender("smtp.example.com:25", "", "", ""); err == nil {
		t.Fatalf("expected from error")
	}
}

func TestLogSender_LogsSubject(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sender := NewLogSender(zap.New(core))

	if err := sender.Send(context.Background(), sampleMessage()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	entries := logs.All()
	if len(entries) != 1 || entries[0].ContextMap()["subject"] != sampleMessage().Subject {
		t.Fatalf("unexpected log entries %+v", entries)
	}
}
