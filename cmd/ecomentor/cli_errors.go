// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"github.com/jllopis/ecomentor/pkg/errors"
)

// CLIError wraps an engine error with CLI-specific formatting and hints.
type CLIError struct {
	Typed *errors.Error
	Hint  string
}

// NewCLIError creates a new CLI error.
func NewCLIError(e *errors.Error, hint string) *CLIError {
	return &CLIError{Typed: e, Hint: hint}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.Typed == nil {
		return "unknown error"
	}
	msg := e.Typed.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the typed error.
func (e *CLIError) Unwrap() error {
	return e.Typed
}

// Print writes the error to w, as JSON when asJSON is set.
func (e *CLIError) Print(w io.Writer, asJSON bool) {
	t := e.Typed
	if t == nil {
		t = errors.New(errors.CodeInternal, "unknown error", nil)
	}
	if asJSON {
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{
			"code":    string(t.Code),
			"message": t.Message,
			"hint":    e.Hint,
		}})
		return
	}
	fmt.Fprintf(w, "Error [%s]: %s\n", FormatErrorCode(t.Code), t.Message)
	if t.Err != nil {
		fmt.Fprintf(w, "  Cause: %v\n", t.Err)
	}
	if e.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", e.Hint)
	}
}

// NewInvalidArgumentError creates an invalid argument error with CLI hints.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	e := errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid argument: %s", reason), nil).
		WithContext("argument", arg).
		WithRecoverable(false)
	return NewCLIError(e, "run 'ecomentor help' for usage information")
}

// NewConfigError creates a configuration error with CLI hints.
func NewConfigError(err error, configPath string) *CLIError {
	e := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath).
		WithRecoverable(false)

	hint := "check your configuration values and ECOMENTOR_* environment variables"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(e, hint)
}

// WrapTimeoutError wraps a timeout with CLI hints.
func WrapTimeoutError(err error, operation string) *CLIError {
	e := errors.New(errors.CodeTimeout, operation+" timed out", err).
		WithContext("operation", operation).
		WithRecoverable(true)
	return NewCLIError(e, "try increasing the timeout with --timeout or check generation health")
}

// wrapEngineError attaches a hint matching the error code.
func wrapEngineError(err error) *CLIError {
	var cli *CLIError
	if stderrors.As(err, &cli) {
		return cli
	}
	typed := errors.As(err)
	if typed == nil {
		typed = errors.New(errors.CodeInternal, err.Error(), nil)
	}
	switch typed.Code {
	case errors.CodeNoDrafts, errors.CodeLLMError, errors.CodeCircuitOpen:
		return NewCLIError(typed, "check that the generation endpoints in generation.base_url are reachable")
	case errors.CodeEvidenceError:
		return NewCLIError(typed, "check the evidence backend or run with --set evidence.backend=none")
	case errors.CodeStorageError:
		return NewCLIError(typed, "check history.path or run with --set history.backend=memory")
	case errors.CodeTimeout, errors.CodeContextLost:
		return NewCLIError(typed, "the request was cancelled or timed out; try a longer --timeout")
	default:
		return NewCLIError(typed, "")
	}
}

// FormatErrorCode returns a user-friendly name for error codes.
func FormatErrorCode(code errors.ErrorCode) string {
	switch code {
	case errors.CodeInternal:
		return "Internal Error"
	case errors.CodeInvalidInput:
		return "Invalid Input"
	case errors.CodeTimeout:
		return "Timeout"
	case errors.CodeLLMError:
		return "Generation Error"
	case errors.CodeEvidenceError:
		return "Evidence Error"
	case errors.CodeNoDrafts:
		return "No Drafts"
	case errors.CodeCircuitOpen:
		return "Circuit Open"
	case errors.CodeStorageError:
		return "Storage Error"
	case errors.CodeContextLost:
		return "Context Lost"
	default:
		return string(code)
	}
}

func exitWith(err error, asJSON bool) {
	wrapEngineError(err).Print(os.Stderr, asJSON)
	os.Exit(1)
}
