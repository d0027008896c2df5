// Package errors provides domain-specific error types for wifisplit.
//
// This package defines structured errors with error codes, making it easier
// to handle and test different error conditions consistently across the
// application.
package errors

import "fmt"

// ErrorCode represents a category of error that can occur in the application.
type ErrorCode string

const (
	// ErrCodeConfigInvalid indicates that the configuration is unusable,
	// e.g. no valid included prefix remains after parsing the policy.
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// ErrCodeInvalidCIDR indicates a CIDR string that could not be parsed
	// (malformed address or prefix length outside [0,32]).
	ErrCodeInvalidCIDR ErrorCode = "INVALID_CIDR"

	// ErrCodeBackendUnavailable indicates a firewall or routing backend
	// that could not be reached or initialized.
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"

	// ErrCodeApplyFailed indicates a failure while applying one of the
	// enforcement layers. The message names the layer.
	ErrCodeApplyFailed ErrorCode = "APPLY_FAILED"

	// ErrCodeVerifyFailed indicates that installed state did not match the
	// compiled rule set during verification.
	ErrCodeVerifyFailed ErrorCode = "VERIFY_FAILED"

	// ErrCodeRouteBackupMissing indicates that no persisted default-route
	// backup exists for the interface.
	ErrCodeRouteBackupMissing ErrorCode = "ROUTE_BACKUP_MISSING"

	// ErrCodeTimeout indicates that a backend call exceeded its deadline.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
)

// Error represents a domain-specific error with an error code and optional cause.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error for errors.Is and errors.As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a new domain error with the specified code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new domain error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a new domain error wrapping an existing error.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// IsCode reports whether err (or any error it wraps) carries the given code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// NewConfigInvalid creates a new configuration error.
func NewConfigInvalid(message string, cause error) *Error {
	return Wrap(ErrCodeConfigInvalid, message, cause)
}

// NewInvalidCIDR creates a new CIDR parse error.
func NewInvalidCIDR(message string, cause error) *Error {
	return Wrap(ErrCodeInvalidCIDR, message, cause)
}

// NewBackendUnavailable creates a new backend availability error.
func NewBackendUnavailable(message string, cause error) *Error {
	return Wrap(ErrCodeBackendUnavailable, message, cause)
}

// NewApplyFailed creates a new apply error for the named enforcement layer.
func NewApplyFailed(layer string, cause error) *Error {
	return Wrap(ErrCodeApplyFailed, fmt.Sprintf("failed to apply %s layer", layer), cause)
}

// NewVerifyFailed creates a new verification error.
func NewVerifyFailed(message string, cause error) *Error {
	return Wrap(ErrCodeVerifyFailed, message, cause)
}

// NewRouteBackupMissing creates a new missing-backup error for the interface.
func NewRouteBackupMissing(iface string) *Error {
	return Newf(ErrCodeRouteBackupMissing, "no route backup found for interface %s", iface)
}

// NewTimeout creates a new timeout error for the named backend operation.
func NewTimeout(op string) *Error {
	return Newf(ErrCodeTimeout, "backend call %s timed out", op)
}
