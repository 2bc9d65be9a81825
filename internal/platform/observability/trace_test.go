package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/suprole/replenishment/internal/platform/requestctx"
)

func TestParseCloudTraceContext(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		ok      bool
		spanHex string
		sampled bool
	}{
		{name: "decimal span sampled", header: "105445aa7843bc8bf206b12000100000/1;o=1", ok: true, spanHex: "0000000000000001", sampled: true},
		{name: "hex span", header: "105445aa7843bc8bf206b12000100000/00f067aa0ba902b7", ok: true, spanHex: "00f067aa0ba902b7"},
		{name: "missing span", header: "105445aa7843bc8bf206b12000100000", ok: false},
		{name: "short trace", header: "abc/1;o=1", ok: false},
		{name: "zero span", header: "105445aa7843bc8bf206b12000100000/0;o=1", ok: false},
		{name: "empty", header: "", ok: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sc, ok := parseCloudTraceContext(tc.header)
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, ok)
			}
			if !ok {
				return
			}
			if got := sc.SpanID().String(); got != tc.spanHex {
				t.Fatalf("expected span %s, got %s", tc.spanHex, got)
			}
			if sc.IsSampled() != tc.sampled {
				t.Fatalf("expected sampled=%v", tc.sampled)
			}
			if !sc.IsRemote() {
				t.Fatalf("expected remote span context")
			}
		})
	}
}

func TestFormatCloudTraceHeader(t *testing.T) {
	got := formatCloudTraceHeader(requestctx.TraceInfo{TraceID: "abc", SpanID: "def", Sampled: true})
	if got != "abc/def;o=1" {
		t.Fatalf("unexpected header %q", got)
	}
	if got := formatCloudTraceHeader(requestctx.TraceInfo{TraceID: "abc", SpanID: "def"}); got != "abc/def;o=0" {
		t.Fatalf("unexpected header %q", got)
	}
}

func TestTraceMiddleware_ContinuesIncomingTrace(t *testing.T) {
	const traceID = "105445aa7843bc8bf206b12000100000"
	var got requestctx.TraceInfo
	handler := TraceMiddleware("suprole-prod")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = requestctx.Trace(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set(cloudTraceHeader, traceID+"/1;o=1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got.TraceID != traceID || got.ProjectID != "suprole-prod" {
		t.Fatalf("unexpected trace info %+v", got)
	}
	if !strings.HasPrefix(rec.Header().Get(cloudTraceHeader), traceID+"/") {
		t.Fatalf("expected trace header echoed, got %q", rec.Header().Get(cloudTraceHeader))
	}
}

func TestStartSpan_KeepsParentTrace(t *testing.T) {
	parent, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatalf("expected parent span context")
	}
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), parent)

	ctx, span := StartSpan(ctx, "orders.Get", attribute.String("order.po_id", "PO-1"))
	defer span.End()

	if got := trace.SpanContextFromContext(ctx).TraceID(); got != parent.TraceID() {
		t.Fatalf("expected trace %s, got %s", parent.TraceID(), got)
	}
}
