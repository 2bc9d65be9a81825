package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/suprole/replenishment/internal/repositories"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound matches every *NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrConflict matches every *ConflictError.
	ErrConflict = errors.New("conflict")
	// ErrExternalService matches every *ExternalServiceError.
	ErrExternalService = errors.New("external service failure")
	// ErrConfiguration matches every *ConfigurationError.
	ErrConfiguration = errors.New("configuration error")
)

// ValidationError reports bad input or a violated business rule. Never retried.
type ValidationError struct {
	Message string
	Field   string
}

// NewValidationError formats a validation failure.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError names the resource that could not be resolved.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConflictError reports a lost race or a stale precondition.
type ConflictError struct {
	Message string
	Err     error
}

func (e *ConflictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ConflictError) Unwrap() error { return e.Err }

// Is matches ErrConflict.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// ExternalServiceError wraps failures of the order store or the mail channel. Retryable is set
// for store outages and timeouts; mail failures are never retried automatically.
type ExternalServiceError struct {
	Service   string
	Retryable bool
	Err       error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// Is matches ErrExternalService.
func (e *ExternalServiceError) Is(target error) bool { return target == ErrExternalService }

// ConfigurationError reports a missing endpoint or credential.
type ConfigurationError struct {
	Missing []string
	Message string
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (missing %s)", e.Message, strings.Join(e.Missing, ", "))
}

// Is matches ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

func isServiceError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrConfiguration)
}

// storeError classifies an order store failure. Typed service errors pass through; conflicts
// become *ConflictError and everything else is a retryable store outage.
func storeError(err error) error {
	if err == nil || isServiceError(err) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsConflict() {
		return &ConflictError{Message: "order store rejected a concurrent write", Err: err}
	}
	return &ExternalServiceError{Service: "order store", Retryable: true, Err: err}
}

// notFoundOr maps a missing row onto *NotFoundError and defers everything else to storeError.
func notFoundOr(err error, resource, id string) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() && !isServiceError(err) {
		return &NotFoundError{Resource: resource, ID: id}
	}
	return storeError(err)
}
