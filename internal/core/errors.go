package core

import (
	"errors"
	"fmt"

	"github.com/markdave123-py/Bookwise/internal/models"
)

var (
	// ErrRetryExhausted is returned when a job has used its manual retry budget.
	ErrRetryExhausted = errors.New("retry budget exhausted")
	// ErrUnauthorized is returned when a caller may not mutate a job or content record.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound is returned when a book, job or content record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a job is asked to move to a state it cannot reach.
	ErrInvalidTransition = errors.New("invalid job transition")
)

// FetchError represents a network or transfer failure while downloading a document.
type FetchError struct {
	URL        string
	StatusCode int
	Cause      error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Cause)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// ExtractError means the input was not a parseable document or held no text.
type ExtractError struct {
	Reason string
	Cause  error
}

func (e *ExtractError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("extract: %s: %v", e.Reason, e.Cause)
	}
	return "extract: " + e.Reason
}

func (e *ExtractError) Unwrap() error {
	return e.Cause
}

// GenerationError means the text-generation capability returned empty or
// structurally invalid output.
type GenerationError struct {
	Stage  models.Stage
	Reason string
	Cause  error
}

func (e *GenerationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s generation: %s: %v", e.Stage, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s generation: %s", e.Stage, e.Reason)
}

func (e *GenerationError) Unwrap() error {
	return e.Cause
}
