// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jllopis/tempo/pkg/errors"
)

// CLIError wraps a typed error with a hint for the user.
type CLIError struct {
	Err  *errors.Error
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(e *errors.Error, hint string) *CLIError {
	return &CLIError{Err: e, Hint: hint}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.Err == nil {
		return "unknown error"
	}
	msg := e.Err.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the typed error.
func (e *CLIError) Unwrap() error { return e.Err }

// PrintError writes the error with its hint.
func (e *CLIError) PrintError(w io.Writer, asJSON bool) {
	if asJSON {
		writeErrorJSON(w, string(e.Err.Code), e.Err.Error(), e.Hint)
		return
	}
	fmt.Fprintf(w, "Error [%s]: %s\n", FormatErrorCode(e.Err.Code), e.Err.Error())
	if e.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", e.Hint)
	}
}

// NewInvalidArgumentError creates an invalid argument error with CLI hints.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	e := errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid argument: %s", reason), nil).
		WithContext("argument", arg).
		WithRecoverable(false)
	return NewCLIError(e, "run 'tempo help' for usage information")
}

// NewConfigError creates a configuration error with CLI hints.
func NewConfigError(err error, configPath string) *CLIError {
	e := errors.New(errors.CodeInvalidConfig, "configuration error", err).
		WithContext("config_path", configPath).
		WithRecoverable(false)
	hint := "check the TEMPO_* environment and --set overrides"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(e, hint)
}

// NewFixtureError creates a fixture error with CLI hints.
func NewFixtureError(err error, path string) *CLIError {
	e := errors.As(err)
	if e.Context == nil || e.Context["path"] == nil {
		e = errors.New(e.Code, "fixture error", err).WithContext("path", path)
	}
	return NewCLIError(e, "run 'tempo validate --fixture "+path+"' for details")
}

// NewAuditError creates an audit store error with CLI hints.
func NewAuditError(err error, target string) *CLIError {
	e := errors.New(errors.CodeStorage, "audit store unavailable", err).
		WithContext("target", target).
		WithRecoverable(true)
	return NewCLIError(e, "audit targets are memory, sqlite:<path> or a file path")
}

// PrintSimpleError writes an untyped error.
func PrintSimpleError(w io.Writer, err error, asJSON bool) {
	if asJSON {
		writeErrorJSON(w, string(errors.CodeInternal), err.Error(), "")
		return
	}
	fmt.Fprintf(w, "Error: %s\n", err.Error())
}

// reportError prints err and returns the exit code for a failed command.
func reportError(w io.Writer, err error, asJSON bool) int {
	if ce, ok := err.(*CLIError); ok {
		ce.PrintError(w, asJSON)
	} else {
		PrintSimpleError(w, err, asJSON)
	}
	return 2
}

func writeErrorJSON(w io.Writer, code, message, hint string) {
	payload := map[string]map[string]string{"error": {"code": code, "message": message}}
	if hint != "" {
		payload["error"]["hint"] = hint
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// FormatErrorCode returns a user-friendly name for error codes.
func FormatErrorCode(code errors.ErrorCode) string {
	switch code {
	case errors.CodeInternal:
		return "Internal Error"
	case errors.CodeInvalidInput:
		return "Invalid Input"
	case errors.CodeInvalidConfig:
		return "Invalid Config"
	case errors.CodeNotFound:
		return "Not Found"
	case errors.CodeStorage:
		return "Storage"
	case errors.CodeCanceled:
		return "Canceled"
	default:
		return string(code)
	}
}
