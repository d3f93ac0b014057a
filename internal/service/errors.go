package service

import (
	"errors"
	"fmt"
)

var (
	ErrVisitAlreadyOpen   = errors.New("a visit is already open")
	ErrNoOpenVisit        = errors.New("no open visit")
	ErrGPSRequired        = errors.New("gps coordinates or a justification are required")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrDuplicateCompany   = errors.New("a company with this name already exists")
	ErrInactiveTechnology = errors.New("technology is not active")
)

// ValidationError rejects a malformed request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func notFound(what string) error {
	return fmt.Errorf("%s %w", what, ErrNotFound)
}
