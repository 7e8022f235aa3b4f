package billing

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotConfigured is returned when a client is missing required settings
	ErrNotConfigured = errors.New("billing client not configured")

	// ErrInvalidPayload is returned when an inbound or remote payload cannot be parsed
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrUnauthorized is returned when the token exchange is rejected
	ErrUnauthorized = errors.New("billing authentication failed")

	// ErrRemote is returned when the billing platform reports a failure
	ErrRemote = errors.New("billing platform API error")

	// ErrNotFound is returned when a required remote entity does not exist
	ErrNotFound = errors.New("remote entity not found")

	// ErrInvalidEntity is returned when a domain entity is not eligible for sync
	ErrInvalidEntity = errors.New("entity not eligible for sync")

	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Kind classifies an error for the retry/acknowledge decision.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindRemote     Kind = "remote"
	KindAuth       Kind = "auth"
	KindConfig     Kind = "config"
)

// Error is a classified failure raised by the billing client or a reconciler.
type Error struct {
	Kind Kind
	// Op names the failed operation, e.g. "CreateProduct" or "reconcile.price".
	Op string
	// Status is the HTTP status of the remote response, 0 if none was received.
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether redelivering the event could succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindAuth:
		return true
	case KindRemote:
		if e.Status == 0 || e.Status == http.StatusTooManyRequests || e.Status >= 500 {
			return true
		}
		return false
	default:
		return false
	}
}

// ValidationError builds a do-not-retry error for an ineligible entity.
func ValidationError(op string, err error) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}

// NotFoundError builds an error for a required remote entity that is absent.
func NotFoundError(op string, err error) *Error {
	return &Error{Kind: KindNotFound, Op: op, Err: err}
}

// RemoteError builds an error for a failed remote call.
func RemoteError(op string, status int, err error) *Error {
	return &Error{Kind: KindRemote, Op: op, Status: status, Err: err}
}

// AuthError builds an error for a failed token exchange.
func AuthError(op string, err error) *Error {
	return &Error{Kind: KindAuth, Op: op, Err: err}
}

// ConfigError builds an error for missing or invalid configuration.
func ConfigError(op string, err error) *Error {
	return &Error{Kind: KindConfig, Op: op, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
// Unclassified errors are treated as remote failures.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindRemote
}

// IsRetryable reports whether any classified error in err's tree is retryable.
// Unclassified errors are retryable. A joined error is retryable if any of
// its members is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if IsRetryable(e) {
				return true
			}
		}
		return false
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Retryable()
	}
	return true
}
