package storage

import (
	"context"
	"errors"
	"fmt"
)

// Code identifies one kind in the closed error taxonomy. Every failure
// surfaced by this package carries exactly one Code.
type Code string

const (
	CodeConnectionFailed    Code = "connection_failed"
	CodeConnectionLost      Code = "connection_lost"
	CodeKeyNotFound         Code = "key_not_found"
	CodeDuplicateKey        Code = "duplicate_key"
	CodeWriteFailed         Code = "write_failed"
	CodeDeleteFailed        Code = "delete_failed"
	CodeQueryFailed         Code = "query_failed"
	CodeStorageFull         Code = "storage_full"
	CodeQuotaExceeded       Code = "quota_exceeded"
	CodeInvalidKey          Code = "invalid_key"
	CodeInvalidValue        Code = "invalid_value"
	CodeSerializationFailed Code = "serialization_failed"
	CodeIOError             Code = "io_error"
	CodeTimeout             Code = "timeout"
	CodeNotImplemented      Code = "not_implemented"
)

// Error is the structured error type returned by all storage operations.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is match two storage errors by code.
func (e *Error) Is(target error) bool {
	var se *Error
	if errors.As(target, &se) {
		return se.Code == e.Code
	}
	return false
}

// NewError creates a storage error with the given code.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates a storage error wrapping an underlying cause.
// Context cancellation and deadline errors are reported as timeouts rather
// than being masked under the caller-supplied code.
func WrapError(code Code, err error, format string, args ...any) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		code = CodeTimeout
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithDetail attaches a structured detail to the error and returns it.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// CodeOf extracts the taxonomy code from err, or "" if err is not a
// storage error.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
