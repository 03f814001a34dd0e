// Package errors provides the error taxonomy of the sync core.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a class of failure. Codes are stable strings so they
// can cross the REST and websocket boundary unchanged.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"

	// Persistence errors
	ErrStorage   ErrorCode = "STORAGE_ERROR"
	ErrMigration ErrorCode = "MIGRATION_FAILED"

	// Sync errors
	ErrNetwork      ErrorCode = "NETWORK_ERROR"
	ErrSyncRejected ErrorCode = "SYNC_REJECTED"
	ErrSyncFailed   ErrorCode = "SYNC_FAILED"
	ErrOffline      ErrorCode = "OFFLINE"

	ErrCryptoFailed ErrorCode = "CRYPTO_FAILED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is reports whether any error in err's chain is an AppError with code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// CodeOf returns the code of the outermost AppError in err's chain, or
// ErrInternal when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// Storage wraps a persistence failure.
func Storage(message string, err error) *AppError {
	return Wrap(ErrStorage, message, err)
}

// Network wraps a retryable transport failure.
func Network(message string, err error) *AppError {
	return Wrap(ErrNetwork, message, err)
}

// NotFound builds a not-found error for the given id.
func NotFound(kind, id string) *AppError {
	return New(ErrNotFound, fmt.Sprintf("%s %s not found", kind, id))
}

// IsStorage reports whether err is a storage failure.
func IsStorage(err error) bool { return Is(err, ErrStorage) }

// IsNetwork reports whether err is a retryable network failure.
func IsNetwork(err error) bool { return Is(err, ErrNetwork) }

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool { return Is(err, ErrNotFound) }
