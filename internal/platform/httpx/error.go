// Package httpx holds the JSON response helpers shared by handlers and middleware.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/suprole/replenishment/internal/platform/requestctx"
)

const (
	codeLimit    = 80
	messageLimit = 512
	idLimit      = 80
)

// reserved keys cannot be overwritten by details.
var reserved = map[string]struct{}{
	"error": {}, "message": {}, "status": {}, "request_id": {}, "trace_id": {},
}

// Error is the body of every non-2xx response:
// {"error": code, "message": text, "status": n, "request_id": id, "trace_id": id, ...details}.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
	// RetryAfter, in seconds, is sent as the Retry-After header when positive.
	RetryAfter int
}

// NewError defaults status to 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: singleLine(code, codeLimit), Message: singleLine(message, messageLimit), Status: status}
}

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

// WithDetails merges extra top-level fields such as "field" or "missing" into the body.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		if _, taken := reserved[k]; !taken {
			merged[k] = v
		}
	}
	e.Details = merged
	return e
}

func (e Error) WithRetryAfter(seconds int) Error {
	e.RetryAfter = seconds
	return e
}

func (e Error) body(ctx context.Context) map[string]any {
	out := make(map[string]any, len(e.Details)+5)
	for k, v := range e.Details {
		out[k] = v
	}
	out["error"] = e.Code
	out["message"] = e.Message
	out["status"] = e.Status
	if id := firstNonBlank(e.RequestID, middleware.GetReqID(ctx)); id != "" {
		out["request_id"] = singleLine(id, idLimit)
	}
	if id := firstNonBlank(e.TraceID, requestctx.TraceID(ctx)); id != "" {
		out["trace_id"] = singleLine(id, idLimit)
	}
	return out
}

// WriteError writes err with its status and, when set, a Retry-After header.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	if err.Status == 0 {
		err.Status = http.StatusInternalServerError
	}
	if err.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(err.RetryAfter))
	}
	WriteJSON(w, err.Status, err.body(ctx))
}

// WriteJSON encodes payload with the given status. A nil payload writes only the status line.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// singleLine folds line breaks into spaces and truncates to limit runes.
func singleLine(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(value))
	if runes := []rune(value); len(runes) > limit {
		return string(runes[:limit])
	}
	return value
}
