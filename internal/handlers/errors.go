package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/suprole/replenishment/internal/platform/httpx"
	"github.com/suprole/replenishment/internal/services"
)

// retryAfterSeconds is advertised when a store outage is worth retrying.
const retryAfterSeconds = 5

// writeServiceError maps the typed service errors onto the JSON error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var (
		validationErr *services.ValidationError
		notFoundErr   *services.NotFoundError
		conflictErr   *services.ConflictError
		externalErr   *services.ExternalServiceError
		configErr     *services.ConfigurationError
	)
	switch {
	case errors.As(err, &validationErr):
		apiErr := httpx.NewError("invalid_request", validationErr.Error(), http.StatusBadRequest)
		if validationErr.Field != "" {
			apiErr = apiErr.WithDetails(map[string]any{"field": validationErr.Field})
		}
		httpx.WriteError(ctx, w, apiErr)
	case errors.As(err, &notFoundErr):
		code := "not_found"
		if resource := strings.TrimSpace(notFoundErr.Resource); resource != "" {
			code = resource + "_not_found"
		}
		httpx.WriteError(ctx, w, httpx.NewError(code, notFoundErr.Error(), http.StatusNotFound))
	case errors.As(err, &conflictErr):
		httpx.WriteError(ctx, w, httpx.NewError("conflict", conflictErr.Error(), http.StatusConflict))
	case errors.As(err, &externalErr):
		if externalErr.Retryable {
			httpx.WriteError(ctx, w, httpx.NewError("upstream_error", externalErr.Service+" temporarily unavailable", http.StatusServiceUnavailable).WithRetryAfter(retryAfterSeconds))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("upstream_error", externalErr.Service+" request failed", http.StatusBadGateway))
	case errors.As(err, &configErr):
		apiErr := httpx.NewError("configuration_error", configErr.Error(), http.StatusInternalServerError)
		if len(configErr.Missing) > 0 {
			apiErr = apiErr.WithDetails(map[string]any{"missing": configErr.Missing})
		}
		httpx.WriteError(ctx, w, apiErr)
	case errors.Is(err, context.Canceled):
		httpx.WriteError(ctx, w, httpx.NewError("request_canceled", "request canceled", 499))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError))
	}
}
