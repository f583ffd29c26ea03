// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed error handling with rich context for Tempo.
//
// Every fault the runtime can observe during a tick is expressed as an *Error
// carrying a Code. Fatal codes stop the owning maneuver; recoverable codes are
// absorbed at the arbitration boundary. Neither kind escapes Arbiter.Tick.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies Tempo errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeInvalidConfig indicates a configuration value could not be used.
	CodeInvalidConfig ErrorCode = "INVALID_CONFIG"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeUndefinedStep indicates a machine transitioned to a step with no body.
	CodeUndefinedStep ErrorCode = "UNDEFINED_STEP"

	// CodeDuplicateDelegation indicates a second sub-machine was started while
	// one was still attached.
	CodeDuplicateDelegation ErrorCode = "DUPLICATE_DELEGATION"

	// CodeStepPanic indicates a step body or hook panicked.
	CodeStepPanic ErrorCode = "STEP_PANIC"

	// CodeScoreFault indicates an intention could not be scored this tick.
	CodeScoreFault ErrorCode = "SCORE_FAULT"

	// CodeStorage indicates an audit store failure.
	CodeStorage ErrorCode = "STORAGE_ERROR"

	// CodeUnavailable indicates a dependency is temporarily refusing calls.
	CodeUnavailable ErrorCode = "UNAVAILABLE"

	// CodeCanceled indicates the caller's context ended the operation.
	CodeCanceled ErrorCode = "CANCELED"
)

// Error is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
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
	var cause string
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(struct {
		Code        string                 `json:"code"`
		Message     string                 `json:"message"`
		Err         string                 `json:"error,omitempty"`
		Recoverable bool                   `json:"recoverable"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Attributes  map[string]string      `json:"attributes,omitempty"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Err:         cause,
		Recoverable: e.Recoverable,
		Context:     e.Context,
		Attributes:  e.Attributes,
	})
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:        code,
		Message:     msg,
		Err:         cause,
		Context:     make(map[string]interface{}),
		Attributes:  make(map[string]string),
		Recoverable: code == CodeScoreFault,
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

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *Error) WithAttribute(key, value string) *Error {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *Error) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// As converts an error to an *Error.
// Returns the error as *Error if it is one, or wraps it as internal otherwise.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if stderrors.As(err, &te) {
		return te
	}
	return New(CodeInternal, "wrapped error", err)
}

// HasCode reports whether any *Error in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	var te *Error
	for err != nil {
		if !stderrors.As(err, &te) {
			return false
		}
		if te.Code == code {
			return true
		}
		err = te.Err
	}
	return false
}

// CodeOf returns the code of the outermost *Error in err's chain, or "" when
// err carries none.
func CodeOf(err error) ErrorCode {
	var te *Error
	if stderrors.As(err, &te) {
		return te.Code
	}
	return ""
}
