// Package apperr defines the error kinds surfaced by the gateway pipeline.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the stable, machine-readable category of a gateway error.
type Kind string

const (
	KindAuthentication      Kind = "authentication_error"
	KindRateLimitExceeded   Kind = "rate_limit_exceeded"
	KindBudgetExceeded      Kind = "budget_exceeded"
	KindSecurityBlocked     Kind = "security_blocked"
	KindProviderUnavailable Kind = "provider_unavailable"
	KindInvalidRequest      Kind = "invalid_request"
	KindPersistenceDegraded Kind = "persistence_degraded"
	KindInternal            Kind = "internal_error"
)

// Error is a gateway error carrying its kind and optional client-facing details.
type Error struct {
	Kind    Kind
	Message string

	// Details is serialized into the rejection body as-is.
	Details map[string]interface{}

	// Err is the underlying cause. It is never exposed to callers.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode maps the error kind to an HTTP status.
func (e *Error) StatusCode() int {
	return StatusCode(e.Kind)
}

func StatusCode(kind Kind) int {
	switch kind {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case KindBudgetExceeded:
		return http.StatusPaymentRequired
	case KindSecurityBlocked:
		return http.StatusForbidden
	case KindProviderUnavailable:
		return http.StatusServiceUnavailable
	case KindInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithDetails attaches client-facing metadata and returns the same error.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// KindOf returns the kind of err, or KindInternal if err is not an *Error.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Body renders the rejection body returned to clients.
func Body(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return map[string]interface{}{
			"error": map[string]interface{}{
				"kind":    KindInternal,
				"message": "Internal Server Error",
			},
		}
	}

	body := map[string]interface{}{
		"kind":    appErr.Kind,
		"message": appErr.Message,
	}
	for k, v := range appErr.Details {
		body[k] = v
	}
	return map[string]interface{}{"error": body}
}
