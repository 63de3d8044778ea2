package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized reports that an upstream service rejected the caller's credentials.
	ErrUnauthorized = errors.New("upstream: unauthorized")
	// ErrForbidden reports that the caller lacks the role an upstream operation requires.
	ErrForbidden = errors.New("upstream: forbidden")
	// ErrRejected reports a well-formed response with success set to false.
	ErrRejected = errors.New("upstream: request rejected")
)

// StatusError is returned for any upstream response with a 4xx or 5xx status.
type StatusError struct {
	Service    string
	Operation  string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: status %d", e.Service, e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Service, e.Operation, e.StatusCode, e.Message)
}

// Unwrap maps authentication failures onto the package sentinels.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	default:
		return nil
	}
}

// rejected wraps ErrRejected with the message the service returned.
func rejected(service, op, message string) error {
	if message == "" {
		return fmt.Errorf("%s %s: %w", service, op, ErrRejected)
	}
	return fmt.Errorf("%s %s: %w: %s", service, op, ErrRejected, message)
}
