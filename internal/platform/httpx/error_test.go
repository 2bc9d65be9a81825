package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/suprole/replenishment/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "abc123"})
	rec := httptest.NewRecorder()

	WriteError(ctx, rec, NewError("upstream_error", "sheets unavailable\n", http.StatusServiceUnavailable).WithRetryAfter(5))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "5" {
		t.Fatalf("expected Retry-After 5, got %q", got)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "upstream_error" || body["message"] != "sheets unavailable" || body["trace_id"] != "abc123" {
		t.Fatalf("unexpected body %v", body)
	}
	if body["status"] != float64(http.StatusServiceUnavailable) {
		t.Fatalf("unexpected status field %v", body["status"])
	}
}

func TestWithDetailsKeepsReservedKeys(t *testing.T) {
	rec := httptest.NewRecorder()
	apiErr := NewError("invalid_request", "setCount must be positive", http.StatusBadRequest).
		WithDetails(map[string]any{"field": "setCount", "status": "hijacked"})

	WriteError(context.Background(), rec, apiErr)

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["field"] != "setCount" {
		t.Fatalf("expected field detail, got %v", body)
	}
	if body["status"] != float64(http.StatusBadRequest) {
		t.Fatalf("details must not override status, got %v", body["status"])
	}
	if _, ok := body["request_id"]; ok {
		t.Fatalf("expected no request id without middleware")
	}
}
