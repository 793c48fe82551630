// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed errors for the answer engine. Every layer
// that degrades locally still produces one of these so the cause can be
// logged and counted; only validation and total failure reach the caller.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies engine errors for monitoring and HTTP mapping.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the question or request body was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeLLMError indicates a generation service failure.
	CodeLLMError ErrorCode = "LLM_ERROR"

	// CodeEvidenceError indicates an evidence service failure.
	CodeEvidenceError ErrorCode = "EVIDENCE_ERROR"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeContextLost indicates the request context was cancelled.
	CodeContextLost ErrorCode = "CONTEXT_LOST"

	// CodeNoDrafts indicates no role produced an accepted draft.
	CodeNoDrafts ErrorCode = "NO_DRAFTS"

	// CodeCircuitOpen indicates an endpoint is being short-circuited.
	CodeCircuitOpen ErrorCode = "CIRCUIT_OPEN"

	// CodeStorageError indicates a history store failure.
	CodeStorageError ErrorCode = "STORAGE_ERROR"
)

// Error is a typed error with context for logs and traces.
// It can be unwrapped and matched with errors.As.
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(struct {
		Code        string                 `json:"code"`
		Message     string                 `json:"message"`
		Err         string                 `json:"error,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Recoverable bool                   `json:"recoverable"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Err:         cause,
		Context:     e.Context,
		Recoverable: e.Recoverable,
	})
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		StatusCode: codeToStatusCode(code),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// RecoverableString returns "true" or "false" for metric attributes.
func (e *Error) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// As returns err as *Error, wrapping unknown errors as internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stderrors.As(err, &typed) {
		return typed
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the code of the first *Error in the chain, or "".
func CodeOf(err error) ErrorCode {
	var typed *Error
	if stderrors.As(err, &typed) {
		return typed.Code
	}
	return ""
}

// HTTPStatus maps err to an HTTP status code.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return As(err).StatusCode
}

func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeContextLost:
		return 499 // client closed request
	case CodeCircuitOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
