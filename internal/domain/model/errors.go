package model

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a malformed event rejected at the ingestion boundary.
	ErrValidation = errors.New("validation failed")
	// ErrUnknownChain marks an event for a chain the registry does not enable.
	ErrUnknownChain = errors.New("chain is not enabled")
	// ErrPersistenceUnavailable wraps every failure of the durable store.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	// ErrNotFound is returned by lookups that miss.
	ErrNotFound = errors.New("not found")
)

// ValidationError describes which field of an event is malformed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }
