package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrProviderUnavailable marks a call whose retry budget is exhausted.
var ErrProviderUnavailable = errors.New("llm provider unavailable")

// ErrorKind classifies a provider failure. Only transient failures are
// retried.
type ErrorKind string

// Provider error kinds.
const (
	KindTransient      ErrorKind = "transient"       // network, 5xx, 429, provider timeout
	KindAuth           ErrorKind = "authentication"  // 401, 403
	KindInvalidRequest ErrorKind = "invalid_request" // other 4xx
	KindContextLength  ErrorKind = "context_length"  // prompt too long
)

// ProviderError is a classified failure from one provider attempt.
type ProviderError struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: %s (status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s: %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is worth another attempt.
func (e *ProviderError) Retryable() bool { return e.Kind == KindTransient }

// IsTransient reports whether err should consume a retry slot.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// classifyStatus maps an HTTP status to an error kind.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == 429 || status >= 500:
		return KindTransient
	case status == 401 || status == 403:
		return KindAuth
	case status == 413:
		return KindContextLength
	default:
		return KindInvalidRequest
	}
}
