package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrUnsupportedEvent is returned by Replay for an event type with no endpoint.
var ErrUnsupportedEvent = errors.New("unsupported event type")

// HTTPError is implemented by every non-2xx response error.
type HTTPError interface {
	error
	Status() int
	ErrorCode() string
	ServerMessage() string
}

type statusError struct {
	Message    string
	StatusCode int
	Code       string
}

func (e *statusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend returned status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Message)
}

func (e *statusError) Status() int           { return e.StatusCode }
func (e *statusError) ErrorCode() string     { return e.Code }
func (e *statusError) ServerMessage() string { return e.Message }

// Error types
type AuthError struct{ statusError }

type RateLimitError struct{ statusError }

type BadRequestError struct{ statusError }

type ValidationError struct{ statusError }

type NotFoundError struct{ statusError }

type ConflictError struct{ statusError }

type BackendError struct{ statusError }

// NetworkError means no HTTP response was received.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func newStatusError(status int, message, code string) error {
	base := statusError{Message: message, StatusCode: status, Code: code}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{base}
	case http.StatusTooManyRequests:
		return &RateLimitError{base}
	case http.StatusBadRequest:
		return &BadRequestError{base}
	case http.StatusUnprocessableEntity:
		return &ValidationError{base}
	case http.StatusNotFound:
		return &NotFoundError{base}
	case http.StatusConflict:
		return &ConflictError{base}
	default:
		return &BackendError{base}
	}
}

// Class groups remote failures by whether retrying can help.
type Class string

const (
	// Transient failures may succeed later: no response, 5xx, 429, auth.
	Transient Class = "transient"
	// Permanent failures are business-rule rejections that replay cannot fix.
	Permanent Class = "permanent"
	// Validation failures mean the payload itself was refused.
	Validation Class = "validation"
)

// businessRuleCodes are 400 codes the server uses for state conflicts
// rather than malformed input.
var businessRuleCodes = map[string]bool{
	"visit_already_open":  true,
	"no_open_visit":       true,
	"technology_inactive": true,
}

func Classify(err error) Class {
	if err == nil {
		return ""
	}

	if errors.Is(err, ErrUnsupportedEvent) {
		return Permanent
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}

	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		switch status := httpErr.Status(); {
		case status == http.StatusBadRequest:
			if businessRuleCodes[httpErr.ErrorCode()] {
				return Permanent
			}
			return Validation
		case status == http.StatusUnprocessableEntity:
			return Validation
		case status == http.StatusNotFound, status == http.StatusConflict, status == http.StatusGone:
			return Permanent
		default:
			return Transient
		}
	}

	return Transient
}
