package domain

import "time"

// Security event types emitted by the activation and session services.
const (
	EventActivationRequested   = "activation_requested"
	EventActivationRateLimited = "activation_rate_limited"
	EventActivationCompleted   = "activation_completed"
	EventSessionRefreshed      = "session_refreshed"
	EventTokenReuseDetected    = "refresh_token_reuse_detected"
	EventSessionRevoked        = "session_revoked"
)

// SecurityEvent is an audit-relevant event (user-scoped, optional device
// session and fingerprint).
type SecurityEvent struct {
	UserID            string
	DeviceSessionID   string
	DeviceFingerprint string
	EventType         string
	Source            string
	Detail            string
	CreatedAt         time.Time
}
