// Package idempotency replays stored responses for requests repeated with the same
// Idempotency-Key, so a retried order creation never appends a second row.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long a completed response stays replayable.
const DefaultTTL = 24 * time.Hour

// State is the lifecycle of one key.
type State string

const (
	// StatePending means a request holds the key and has not finished.
	StatePending State = "pending"
	// StateCompleted means the response was stored and can be replayed.
	StateCompleted State = "completed"
)

// Record is the persisted form of one key.
type Record struct {
	Fingerprint string              `json:"fingerprint"`
	State       State               `json:"state"`
	Status      int                 `json:"status,omitempty"`
	Headers     map[string][]string `json:"headers,omitempty"`
	Body        []byte              `json:"body,omitempty"`
	ExpiresAt   time.Time           `json:"expires_at"`
}

// Response is the handler output captured for replay.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists reservations. Reserve returns created=true when the caller now owns the key;
// otherwise it returns the record already held.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (record Record, created bool, err error)
	Complete(ctx context.Context, key string, record Record, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reused for a different request")

func hashKey(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func completedRecord(fingerprint string, resp Response, now time.Time, ttl time.Duration) Record {
	record := Record{
		Fingerprint: fingerprint,
		State:       StateCompleted,
		Status:      resp.Status,
		Headers:     replayableHeaders(resp.Headers),
		ExpiresAt:   now.Add(ttl),
	}
	if len(resp.Body) > 0 {
		record.Body = append([]byte(nil), resp.Body...)
	}
	return record
}

func replayableHeaders(header http.Header) map[string][]string {
	if len(header) == 0 {
		return nil
	}
	out := make(map[string][]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		switch canonical {
		case "Content-Length", "Date", "Connection", "Keep-Alive", "Transfer-Encoding", "Upgrade", "Trailer":
			continue
		}
		out[canonical] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
