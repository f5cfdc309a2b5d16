// Package errors provides typed error handling for Kokoro. Every error
// carries a stable code that the API layer maps to HTTP statuses and
// the dispatcher uses to pick a degraded reply.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Code classifies Kokoro errors for monitoring and recovery.
type Code string

const (
	// CodeStorageUnavailable indicates memory or log I/O failed.
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"

	// CodeModelUnavailable indicates the upstream model call failed or timed out.
	CodeModelUnavailable Code = "MODEL_UNAVAILABLE"

	// CodeParseFailure indicates the model response could not be parsed
	// into the structured payload.
	CodeParseFailure Code = "PARSE_FAILURE"

	// CodeSkillNotFound indicates a requested skill is absent from the library.
	CodeSkillNotFound Code = "SKILL_NOT_FOUND"

	// CodeActionFailed indicates a plan step failed during execution.
	CodeActionFailed Code = "ACTION_FAILED"

	// CodeBusy indicates lease acquisition timed out.
	CodeBusy Code = "BUSY"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput Code = "INVALID_INPUT"

	// CodeInternal indicates an internal system error.
	CodeInternal Code = "INTERNAL_ERROR"
)

// Error is a typed error with a stable code and an optional cause.
// It can be unwrapped with errors.As / errors.Is.
type Error struct {
	Code    Code
	Message string
	Err     error
}

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

// Is reports whether target is an *Error with the same code, so that
// errors.Is(err, &Error{Code: CodeBusy}) style sentinels work.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// MarshalJSON implements json.Marshaler for structured logging and
// the API error envelope.
func (e *Error) MarshalJSON() ([]byte, error) {
	payload := struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Cause   string `json:"cause,omitempty"`
	}{
		Code:    string(e.Code),
		Message: e.Message,
	}
	if e.Err != nil {
		payload.Cause = e.Err.Error()
	}
	return json.Marshal(payload)
}

// New creates an Error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap creates an Error with the given code, message, and cause.
func Wrap(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Err: cause}
}

// CodeOf extracts the code from an error chain. Unknown errors report
// CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HTTPStatus maps an error code to an HTTP status for the API layer.
func HTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput:
		return 400
	case CodeSkillNotFound:
		return 404
	case CodeBusy, CodeStorageUnavailable, CodeModelUnavailable:
		return 503
	default:
		return 500
	}
}
