// Package errors provides standardized error codes for the host.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that produced the error (server, auth, storage, push)
//   - error: The specific error type within that domain
//
// Codes are stable; the mobile client switches on them. Human-readable
// messages travel alongside the code in every error frame.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
const (
	// Server domain - WebSocket and dispatch errors
	CodeServerInvalidMessage = "server.invalid_message" // Malformed frame or missing field
	CodeServerHandlerFailed  = "server.handler_failed"  // External handler returned an error
	CodeServerRateLimited    = "server.rate_limited"    // Too many frames per second
	CodeServerUpgradeFailed  = "server.upgrade_failed"  // WebSocket upgrade failed

	// Auth domain - pairing and device tokens
	CodeAuthPairInvalidCode   = "auth.pair_invalid_code"   // Wrong, consumed or expired pairing code
	CodeAuthPairRateLimited   = "auth.pair_rate_limited"   // Too many pairing attempts
	CodeAuthPairInternal      = "auth.pair_internal"       // Credential could not be stored
	CodeAuthUnknownToken      = "auth.unknown_token"       // Token not present in the credential store
	CodeAuthGenerateForbidden = "auth.generate_forbidden"  // Code generation from a non-loopback address

	// Storage domain - settings persistence
	CodeStorageOpenFailed  = "storage.open_failed"  // Database open failed
	CodeStorageQueryFailed = "storage.query_failed" // Database query failed
	CodeStorageSaveFailed  = "storage.save_failed"  // Failed to save data

	// Push domain - push gateway delivery
	CodePushSendFailed = "push.send_failed" // Gateway rejected or was unreachable

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal server error
)

// nextActions maps codes to the single recovery step shown to the user.
var nextActions = map[string]string{
	CodeServerInvalidMessage:  "Update the mobile app and retry.",
	CodeServerHandlerFailed:   "Retry the request; check the host log if it keeps failing.",
	CodeServerRateLimited:     "Slow down and retry in a moment.",
	CodeAuthPairInvalidCode:   "Run 'pocketagent pair' on the host and enter the new code.",
	CodeAuthPairRateLimited:   "Wait a minute before trying to pair again.",
	CodeAuthPairInternal:      "Check the host log and disk permissions, then pair again.",
	CodeAuthUnknownToken:      "Pair this device again.",
	CodeAuthGenerateForbidden: "Run 'pocketagent pair' on the host machine itself.",
	CodeStorageOpenFailed:     "Check that the data directory is writable and not on a read-only mount.",
	CodeStorageQueryFailed:    "Restart the host; restore the database from backup if it keeps failing.",
	CodePushSendFailed:        "Check the host's network connection.",
}

// CodedError wraps an error with a stable error code.
type CodedError struct {
	Code    string // Stable error code (e.g., "server.invalid_message")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// Falls back to CodeUnknown for errors that carry no code.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// ToCodeAndMessage extracts both code and message from an error.
// This is the primary function for converting errors to client frames.
// Errors without a code are reported under fallbackCode.
func ToCodeAndMessage(err error, fallbackCode string) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return fallbackCode, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// GetNextAction returns the recovery hint for a code, or "" if none.
func GetNextAction(code string) string {
	return nextActions[code]
}

// InvalidMessage creates a "server.invalid_message" error.
func InvalidMessage(reason string) *CodedError {
	return New(CodeServerInvalidMessage, reason)
}

// HandlerFailed creates a "server.handler_failed" error for a command.
func HandlerFailed(command string, cause error) *CodedError {
	return Wrap(CodeServerHandlerFailed, fmt.Sprintf("%s failed", command), cause)
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
