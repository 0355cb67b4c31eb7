package domain

import "time"

// DeviceSession is a long-lived credential binding one user to one physical
// device. It carries the PIN credential and the refresh-token rotation chain.
type DeviceSession struct {
	ID                  string
	UserID              string
	ActivationSessionID string
	DeviceFingerprint   string
	DeviceName          string
	AppVersion          string
	BiometricEnabled    bool

	// PIN credential. PinParams is the serialized parameter blob; see
	// security.ParsePinParams for accepted forms.
	PinHash   string
	PinSalt   string
	PinParams string

	// Rotation chain. TokenID is stable for the session's lifetime;
	// RotationID advances on every accepted refresh.
	TokenID               string
	RotationID            string
	RefreshTokenHash      string
	RefreshTokenExpiresAt time.Time
	LastRotatedAt         time.Time

	RevokedAt     *time.Time
	RevokedReason string

	LastIP        string
	LastUserAgent string
	LastSeenAt    time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Revocation reasons persisted in revoked_reason.
const (
	RevokeReasonTokenReuse   = "refresh_token_reuse"
	RevokeReasonUserLogout   = "user_logout"
	RevokeReasonUserDisabled = "user_disabled"
	RevokeReasonAdmin        = "admin_revoked"
)

// Revoked reports whether the session has been revoked.
func (s *DeviceSession) Revoked() bool {
	return s.RevokedAt != nil
}
