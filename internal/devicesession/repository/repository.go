package repository

import (
	"context"
	"errors"
	"time"

	"carelink/backend/internal/devicesession/domain"
	userdomain "carelink/backend/internal/user/domain"
)

// ErrNotFound is returned by mutations that matched no row.
var ErrNotFound = errors.New("device session not found")

// ErrRotationConflict is returned by Rotate when the session exists but its
// chain no longer matches the expected token and rotation ids. A concurrent
// refresh already advanced the chain; callers treat this as a replay.
var ErrRotationConflict = errors.New("rotation chain conflict")

// SessionWithUser is a device session joined with the owning account's
// authorization fields.
type SessionWithUser struct {
	Session domain.DeviceSession
	User    userdomain.User
}

// Repository defines persistence for device sessions.
type Repository interface {
	Create(ctx context.Context, s *domain.DeviceSession) error
	// FindActiveByFingerprint returns the non-revoked session for the
	// device, or nil when the device has none.
	FindActiveByFingerprint(ctx context.Context, fingerprint string) (*domain.DeviceSession, error)
	// GetByIDWithUser loads the session joined with its user.
	GetByIDWithUser(ctx context.Context, id string) (*SessionWithUser, error)
	// GetByIDWithUserForUpdate is GetByIDWithUser plus a row lock on the
	// session that holds until the enclosing transaction ends.
	GetByIDWithUserForUpdate(ctx context.Context, id string) (*SessionWithUser, error)
	// Rotate advances the rotation chain only when the stored chain still
	// matches the expected ids. Both chain identifiers are replaced on every
	// rotation. Returns ErrRotationConflict when the session exists but the
	// chain moved, ErrNotFound when it does not exist or is revoked.
	Rotate(ctx context.Context, id, expectedTokenID, expectedRotationID, newTokenID, newRotationID, newRefreshHash string, refreshExpiresAt, now time.Time) error
	// Revoke marks the session revoked with the given reason. Idempotent:
	// an already-revoked session keeps its original timestamp and reason.
	Revoke(ctx context.Context, id, reason string, now time.Time) error
	RevokeAllByUser(ctx context.Context, userID, reason string, now time.Time) error
	// Touch updates last-seen bookkeeping.
	Touch(ctx context.Context, id string, at time.Time, ip, userAgent string) error
}
