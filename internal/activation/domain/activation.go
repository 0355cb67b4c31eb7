package domain

import "time"

// ActivationSession is the pending middle step of two-phase enrollment:
// the user's activation code was accepted, and the client holds an opaque
// activation token (stored here as a hash) it must present together with
// the chosen PIN to finish enrolling the device.
type ActivationSession struct {
	ID                string
	UserID            string
	TokenHash         string
	DeviceFingerprint string
	AppVersion        string
	IPAddress         string
	UserAgent         string
	ExpiresAt         time.Time
	CompletedAt       *time.Time
	RevokedAt         *time.Time
	CreatedAt         time.Time
}

// Usable reports whether the session can still complete activation.
func (s *ActivationSession) Usable(now time.Time) bool {
	return s.CompletedAt == nil && s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// Attempt outcomes recorded in the activation ledger.
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeExpired            = "expired"
	OutcomeRateLimited        = "rate_limited"
	OutcomeDeviceEnrolled     = "device_enrolled"
)

// ActivationAttempt is one immutable row of the attempt ledger. Every
// activation request writes exactly one, whatever the outcome, and the row
// commits in the same transaction as the outcome it records.
type ActivationAttempt struct {
	ID                string
	UserID            string // empty when the email matched no account
	EmailNormalized   string
	DeviceFingerprint string
	AppVersion        string
	IPAddress         string
	UserAgent         string
	Outcome           string
	Succeeded         bool
	Detail            string
	AttemptedAt       time.Time
}
