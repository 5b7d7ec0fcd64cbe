package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound        = errors.New("resource not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInvalidInput    = errors.New("invalid input")
	ErrConfiguration   = errors.New("configuration error")
	ErrGateViolation   = errors.New("acceptance gate violation")
	ErrNoPages         = errors.New("document has no pages")
	ErrUnknownAgent    = errors.New("unknown agent")
	ErrEmptyExtraction = errors.New("extraction produced no data")
)

// TransportError is a timeout or non-success response from a backend.
type TransportError struct {
	Provider string
	Status   int
	Receipt  *Receipt
	Err      error
}

func (e *TransportError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s transport error (status %d): %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s transport error: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// SchemaError means no parsing strategy could recover structured data from a response.
type SchemaError struct {
	Attempts []ParseAttempt
}

func (e *SchemaError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.Strategy, a.Error))
	}
	return "response is not well-formed structured data (" + strings.Join(parts, "; ") + ")"
}

// ConfigurationError lists every preflight problem found at startup.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "configuration invalid: " + strings.Join(e.Problems, "; ")
}

func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// GateViolationError carries every violation of a failed acceptance gate.
type GateViolationError struct {
	DocumentID string
	Violations []Violation
}

func (e *GateViolationError) Error() string {
	return fmt.Sprintf("document %s failed acceptance gate with %d violation(s)", e.DocumentID, len(e.Violations))
}

func (e *GateViolationError) Unwrap() error {
	return ErrGateViolation
}

// KindOf classifies err into the error taxonomy. Only backend failures and deadlines are
// transport errors; anything unrecognised is internal.
func KindOf(err error) ErrorKind {
	var te *TransportError
	var se *SchemaError
	var ce *ConfigurationError
	var ge *GateViolationError
	switch {
	case errors.As(err, &ge), errors.Is(err, ErrGateViolation):
		return ErrorKindGateViolation
	case errors.As(err, &ce), errors.Is(err, ErrConfiguration):
		return ErrorKindConfiguration
	case errors.As(err, &se):
		return ErrorKindSchema
	case errors.As(err, &te):
		return ErrorKindTransport
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrNoPages), errors.Is(err, ErrNotFound):
		return ErrorKindInput
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorKindTransport
	default:
		return ErrorKindInternal
	}
}

// RunErrorFor converts err into a run result entry. Configuration problems are listed in
// Details.
func RunErrorFor(err error) RunError {
	re := RunError{Kind: KindOf(err), Message: err.Error()}
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		re.Details = ce.Problems
	}
	return re
}
