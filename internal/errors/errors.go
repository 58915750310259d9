// Package errors provides unified error handling with structured error codes.
// Codes map onto HTTP statuses at the API boundary.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies a failure for transport mapping and retry decisions.
type ErrorCode int

const (
	Unknown ErrorCode = iota
	Internal
	InvalidFormat
	DeviceError
	SessionAlreadyActive
	StreamNotRunning
	NoAudioCaptured
	EncodeFailed
	InvalidRecording
	NotFound
	EmptyTranscript
	TranscribeFailed
	EnhanceFailed
)

var codeNames = map[ErrorCode]string{
	Unknown:              "UNKNOWN",
	Internal:             "INTERNAL",
	InvalidFormat:        "INVALID_FORMAT",
	DeviceError:          "DEVICE_ERROR",
	SessionAlreadyActive: "SESSION_ALREADY_ACTIVE",
	StreamNotRunning:     "STREAM_NOT_RUNNING",
	NoAudioCaptured:      "NO_AUDIO_CAPTURED",
	EncodeFailed:         "ENCODE_FAILED",
	InvalidRecording:     "INVALID_RECORDING",
	NotFound:             "NOT_FOUND",
	EmptyTranscript:      "EMPTY_TRANSCRIPT",
	TranscribeFailed:     "TRANSCRIBE_FAILED",
	EnhanceFailed:        "ENHANCE_FAILED",
}

// httpStatusMap maps error codes to HTTP statuses.
var httpStatusMap = map[ErrorCode]int{
	Unknown:              http.StatusInternalServerError,
	Internal:             http.StatusInternalServerError,
	InvalidFormat:        http.StatusBadRequest,
	DeviceError:          http.StatusInternalServerError,
	SessionAlreadyActive: http.StatusConflict,
	StreamNotRunning:     http.StatusConflict,
	NoAudioCaptured:      http.StatusConflict,
	EncodeFailed:         http.StatusInternalServerError,
	InvalidRecording:     http.StatusBadRequest,
	NotFound:             http.StatusNotFound,
	EmptyTranscript:      http.StatusBadRequest,
	TranscribeFailed:     http.StatusInternalServerError,
	EnhanceFailed:        http.StatusInternalServerError,
}

// String returns the stable wire name for the code.
func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "UNKNOWN"
}

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     ErrorCode
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code.String(), e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// HTTPStatus returns the HTTP status corresponding to the error code.
func (e *AppError) HTTPStatus() int {
	if st, ok := httpStatusMap[e.Code]; ok {
		return st
	}
	return http.StatusInternalServerError
}

// New creates a new AppError with the given code and message.
func New(code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// CodeOf extracts the error code from an error chain.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return Unknown
}

// IsCode checks if an error chain carries a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// HTTPStatusOf returns the HTTP status for an error chain.
// Errors without an AppError map to 500.
func HTTPStatusOf(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// MessageOf returns the user-facing message for an error chain.
func MessageOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// IsRetryable returns true if the error is potentially transient.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case DeviceError, TranscribeFailed, EnhanceFailed:
		return true
	default:
		return false
	}
}
