package core

import (
	"errors"
	"fmt"
)

// Error is the error type shared across the CrammAI core.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Param   string    `json:"param,omitempty"`
	Code    string    `json:"code,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrInvalidRequest covers caller mistakes: bad slot index, missing
	// files, operations issued from the wrong view.
	ErrInvalidRequest ErrorType = "invalid_request_error"

	// ErrAcquisition covers device/permission failures while acquiring a
	// live-session resource (microphone, audio output). Terminal for the
	// session that hit it.
	ErrAcquisition ErrorType = "acquisition_error"

	// ErrTransport covers realtime transport failures mid-session.
	// Terminal for the session; recovery requires a brand-new session.
	ErrTransport ErrorType = "transport_error"

	// ErrGeneration covers failed or empty output from a generative
	// collaborator. Local to the task that issued the call.
	ErrGeneration ErrorType = "generation_error"

	// ErrFormat covers collaborator output that arrived but does not match
	// the required structure (for example a malformed mnemonic).
	ErrFormat ErrorType = "format_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

// NewAcquisitionError creates an acquisition error.
func NewAcquisitionError(message string) *Error {
	return &Error{Type: ErrAcquisition, Message: message}
}

// NewTransportError creates a transport error.
func NewTransportError(message string) *Error {
	return &Error{Type: ErrTransport, Message: message}
}

// NewGenerationError creates a generation error.
func NewGenerationError(message string) *Error {
	return &Error{Type: ErrGeneration, Message: message}
}

// NewFormatError creates a format error.
func NewFormatError(message string) *Error {
	return &Error{Type: ErrFormat, Message: message}
}

// TypeOf returns the ErrorType of err, or "" if err is not a core error.
func TypeOf(err error) ErrorType {
	var coreErr *Error
	if errors.As(err, &coreErr) {
		return coreErr.Type
	}
	return ""
}

// IsRetryable returns true if a failed collaborator call may be retried.
// Only generation failures are retry candidates; format errors mean the
// collaborator answered and simply answered badly, and acquisition and
// transport errors are terminal for their session.
func (e *Error) IsRetryable() bool {
	return e.Type == ErrGeneration
}
