// Package apperr defines the typed domain errors surfaced by the activation
// and session services. Handlers map Status to a transport code and must not
// echo Message when Expose is false.
package apperr

import (
	"errors"
	"fmt"
)

// Error is a domain error with a stable code and transport status class.
type Error struct {
	Status  int
	Code    string
	Message string
	// Expose marks the message as safe to return to the client. Internal
	// failures keep Expose false and are logged with full detail instead.
	Expose bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches errors by code so callers can use errors.Is against the
// package-level values regardless of message wording.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

func newErr(status int, code, message string, expose bool) *Error {
	return &Error{Status: status, Code: code, Message: message, Expose: expose}
}

// Validation / policy errors. Client must retry with corrected input.
var (
	ErrInvalidActivationCode  = newErr(401, "invalid_activation_code", "activation code is invalid", true)
	ErrActivationExpired      = newErr(410, "activation_expired", "activation code has expired", true)
	ErrInvalidActivationToken = newErr(401, "invalid_activation_token", "activation token is invalid or already used", true)
	ErrPinPolicyViolation     = newErr(422, "pin_policy_violation", "pin must be exactly 6 digits", true)
)

// Conflict errors.
var (
	ErrDeviceAlreadyEnrolled = newErr(409, "device_already_enrolled", "device is already enrolled", true)
)

// Authentication errors. Client must re-authenticate from scratch.
var (
	ErrTokenInvalid = newErr(401, "token_invalid", "token is invalid", true)
	ErrTokenExpired = newErr(401, "token_expired", "token has expired", true)
)

// Lockout: terminal for the device; re-enrollment required.
var (
	ErrDeviceRevoked = newErr(423, "device_revoked", "device access has been revoked", true)
)

// Rate limiting: retry after the window elapses.
var (
	ErrRateLimited = newErr(429, "rate_limited", "too many activation attempts; try again later", true)
)

// Infrastructure failures: internal detail is logged, never echoed.
var (
	ErrActivationFailed   = newErr(500, "activation_failed", "activation could not be completed", false)
	ErrSessionFailed      = newErr(500, "session_failed", "session operation could not be completed", false)
	ErrServiceUnavailable = newErr(503, "service_unavailable", "service temporarily unavailable", false)
)
