// Package errors defines the coded application errors shared by the data, service and
// transport layers, and the mapping from PostgreSQL failures onto them.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode categorizes an AppError.
type ErrorCode string

const (
	ErrCodeNotFound   ErrorCode = "not_found"
	ErrCodeConflict   ErrorCode = "conflict"
	ErrCodeValidation ErrorCode = "validation"
	ErrCodeForeignKey ErrorCode = "foreign_key"
	ErrCodeInternal   ErrorCode = "internal"
	ErrCodeTimeout    ErrorCode = "timeout"
	ErrCodeCanceled   ErrorCode = "canceled"
	// ErrCodeUpstreamBusy means the upstream is throttling; the same work may succeed later.
	ErrCodeUpstreamBusy ErrorCode = "upstream_busy"
	// ErrCodeUpstreamRejected means the upstream refused the request outright.
	ErrCodeUpstreamRejected ErrorCode = "upstream_rejected"
	// ErrCodeFormat marks malformed upstream content such as a corrupt bulk export.
	ErrCodeFormat ErrorCode = "format"
	// ErrCodeTransient marks network or timeout failures worth retrying with backoff.
	ErrCodeTransient ErrorCode = "transient"
	// ErrCodeAborted marks work that stopped partway and was recorded as failed; running it
	// again cannot resume it.
	ErrCodeAborted ErrorCode = "aborted"
)

// AppError is an error with a code, an optional offending field and an optional retry hint.
type AppError struct {
	Code       ErrorCode
	Message    string
	Cause      error
	Field      string
	RetryAfter time.Duration
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func newf(code ErrorCode, format string, args []any) *AppError {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &AppError{Code: code, Message: msg}
}

// NotFound returns a not_found error.
func NotFound(message string) *AppError { return newf(ErrCodeNotFound, message, nil) }

// NotFoundf returns a not_found error with a formatted message.
func NotFoundf(format string, args ...any) *AppError { return newf(ErrCodeNotFound, format, args) }

// Conflict returns a conflict error.
func Conflict(message string) *AppError { return newf(ErrCodeConflict, message, nil) }

// Validation returns a validation error.
func Validation(message string) *AppError { return newf(ErrCodeValidation, message, nil) }

// Validationf returns a validation error with a formatted message.
func Validationf(format string, args ...any) *AppError { return newf(ErrCodeValidation, format, args) }

// ValidationField returns a validation error naming the offending field.
func ValidationField(field, message string) *AppError {
	e := newf(ErrCodeValidation, message, nil)
	e.Field = field
	return e
}

// UpstreamBusy returns an upstream_busy error. retryAfter may be zero.
func UpstreamBusy(message string, retryAfter time.Duration) *AppError {
	e := newf(ErrCodeUpstreamBusy, message, nil)
	e.RetryAfter = retryAfter
	return e
}

// UpstreamRejectedf returns an upstream_rejected error.
func UpstreamRejectedf(format string, args ...any) *AppError {
	return newf(ErrCodeUpstreamRejected, format, args)
}

// Formatf returns a format error.
func Formatf(format string, args ...any) *AppError { return newf(ErrCodeFormat, format, args) }

// ForeignKey returns a foreign_key error.
func ForeignKey(message string) *AppError { return newf(ErrCodeForeignKey, message, nil) }

// Transient wraps a network or timeout failure so callers retry it with backoff.
func Transient(err error, message string) *AppError {
	return Wrap(err, ErrCodeTransient, message)
}

// Aborted wraps the failure of work whose outcome is already persisted.
func Aborted(err error, message string) *AppError {
	return Wrap(err, ErrCodeAborted, message)
}

// Wrap attaches code and message to err. Returns nil for a nil err.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

func asApp(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

func isCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

func IsNotFound(err error) bool         { return isCode(err, ErrCodeNotFound) }
func IsConflict(err error) bool         { return isCode(err, ErrCodeConflict) }
func IsValidation(err error) bool       { return isCode(err, ErrCodeValidation) }
func IsForeignKey(err error) bool       { return isCode(err, ErrCodeForeignKey) }
func IsTimeout(err error) bool          { return isCode(err, ErrCodeTimeout) }
func IsUpstreamBusy(err error) bool     { return isCode(err, ErrCodeUpstreamBusy) }
func IsUpstreamRejected(err error) bool { return isCode(err, ErrCodeUpstreamRejected) }
func IsFormat(err error) bool           { return isCode(err, ErrCodeFormat) }
func IsTransient(err error) bool        { return isCode(err, ErrCodeTransient) }
func IsAborted(err error) bool          { return isCode(err, ErrCodeAborted) }

// IsPermanent reports whether retrying the same work cannot succeed.
func IsPermanent(err error) bool {
	switch GetCode(err) {
	case ErrCodeValidation, ErrCodeUpstreamRejected, ErrCodeFormat, ErrCodeAborted:
		return true
	default:
		return false
	}
}

// GetCode returns the outermost AppError code in the chain, or "".
func GetCode(err error) ErrorCode {
	if e := asApp(err); e != nil {
		return e.Code
	}
	return ""
}

// GetField returns the offending field of a validation or conflict error, or "".
func GetField(err error) string {
	if e := asApp(err); e != nil {
		return e.Field
	}
	return ""
}

// GetRetryAfter returns the retry hint carried by err, or zero.
func GetRetryAfter(err error) time.Duration {
	if e := asApp(err); e != nil {
		return e.RetryAfter
	}
	return 0
}
