// Package errors provides the error-code taxonomy shared by all
// terminal components and surfaced through API result envelopes.
package errors

import "fmt"

// ErrorCode identifies a class of failure. Codes, not messages, drive
// retry decisions and presentation-layer handling.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrDuplicate  ErrorCode = "DUPLICATE"
	ErrPermission ErrorCode = "PERMISSION_DENIED"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Local store errors. These abort the operation: terminal data
	// integrity is never risked to keep a remote call alive.
	ErrLocalStore        ErrorCode = "LOCAL_STORE_ERROR"
	ErrMigration         ErrorCode = "MIGRATION_FAILED"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"

	// Order errors
	ErrOrderNotFound ErrorCode = "ORDER_NOT_FOUND"
	ErrOrderInvalid  ErrorCode = "ORDER_INVALID"

	// Remote/sync errors
	ErrNetwork        ErrorCode = "NETWORK_ERROR"
	ErrRemoteTimeout  ErrorCode = "REMOTE_TIMEOUT"
	ErrRemoteRejected ErrorCode = "REMOTE_REJECTED"
	ErrSyncConflict   ErrorCode = "SYNC_CONFLICT"
	ErrRetryExhausted ErrorCode = "RETRY_EXHAUSTED"

	// Address validation errors
	ErrZoneUnverified ErrorCode = "ZONE_UNVERIFIED"
	ErrCacheEmpty     ErrorCode = "CACHE_EMPTY"
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

// Is checks if an error is of a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// CodeOf extracts the error code, defaulting to ErrInternal for
// errors raised below the orchestration boundary.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return ErrInternal
}

// Retryable reports whether the failure class is worth retrying.
// Validation, permission and conflict failures never are.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case ErrNetwork, ErrRemoteTimeout:
		return true
	}
	return false
}
