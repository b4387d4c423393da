package errors

import (
	stderrors "errors"
	"fmt"
)

// Category represents the type of error.
type Category string

const (
	CategoryConfig       Category = "config"
	CategoryCLI          Category = "cli"
	CategoryLock         Category = "lock"
	CategoryConnectivity Category = "connectivity"
)

// CollabError is a coded error with an explanation and a fix hint, meant for
// operators reading a terminal.
type CollabError struct {
	// Code is a unique error identifier (e.g., "C101").
	Code string

	// Category is the error type.
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Field names the configuration field at fault, if any.
	Field string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *CollabError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Code != "" {
		return e.Code + ": " + msg
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *CollabError) Unwrap() error {
	return e.Wrapped
}

// WithDetail adds a detailed explanation to the error.
func (e *CollabError) WithDetail(d string) *CollabError {
	e.Detail = d
	return e
}

// WithField records the configuration field at fault.
func (e *CollabError) WithField(f string) *CollabError {
	e.Field = f
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *CollabError) WithSuggestion(s string) *CollabError {
	e.Suggestion = s
	return e
}

// Wrap wraps another error.
func (e *CollabError) Wrap(err error) *CollabError {
	e.Wrapped = err
	if e.Detail == "" && err != nil {
		e.Detail = err.Error()
	}
	return e
}

// New creates a CollabError from a registered error code.
func New(code string) *CollabError {
	template, ok := registry[code]
	if !ok {
		return &CollabError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &CollabError{
		Code:       code,
		Category:   template.Category,
		Message:    template.Message,
		Suggestion: template.Suggestion,
	}
}

// Newf creates a new CollabError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *CollabError {
	return &CollabError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps a standard error in a CollabError unless it already is one.
func FromError(err error, code string) *CollabError {
	if err == nil {
		return nil
	}
	var ce *CollabError
	if stderrors.As(err, &ce) {
		return ce
	}
	return New(code).Wrap(err)
}

// HasCode reports whether err is, or wraps, a CollabError with code.
func HasCode(err error, code string) bool {
	var ce *CollabError
	return stderrors.As(err, &ce) && ce.Code == code
}
