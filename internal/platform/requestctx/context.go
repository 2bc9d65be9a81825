// Package requestctx carries per-request values (logger, trace and actor) through context.
package requestctx

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

type key int

const (
	loggerKey key = iota
	traceKey
	actorKey
)

var noopLogger = zap.NewNop()

// TraceInfo is the Cloud Trace context of the current request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(orBackground(ctx), loggerKey, logger)
}

// Logger never returns nil.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := orBackground(ctx).Value(loggerKey).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

func NoopLogger() *zap.Logger { return noopLogger }

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return context.WithValue(orBackground(ctx), traceKey, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	info, ok := orBackground(ctx).Value(traceKey).(TraceInfo)
	return info, ok
}

func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithActor records the operator named by the request; services fall back to it for the
// created_by and last_updated_by cells.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(orBackground(ctx), actorKey, strings.TrimSpace(actor))
}

func Actor(ctx context.Context) string {
	actor, _ := orBackground(ctx).Value(actorKey).(string)
	return actor
}
