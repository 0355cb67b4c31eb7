package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"carelink/backend/internal/db"
	"carelink/backend/internal/devicesession/domain"
)

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a device session repository backed by the
// given database handle or transaction. Operations that lock rows require
// a transaction.
func NewPostgresRepository(dbtx db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: dbtx}
}

const sessionColumns = `ds.id, ds.user_id, ds.activation_session_id, ds.device_fingerprint,
	ds.device_name, ds.app_version, ds.biometric_enabled,
	ds.pin_hash, ds.pin_salt, ds.pin_params,
	ds.token_id, ds.rotation_id, ds.refresh_token_hash, ds.refresh_token_expires_at,
	ds.last_rotated_at, ds.revoked_at, COALESCE(ds.revoked_reason, ''),
	COALESCE(ds.last_ip, ''), COALESCE(ds.last_user_agent, ''), ds.last_seen_at,
	ds.created_at, ds.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner, s *domain.DeviceSession) error {
	return row.Scan(
		&s.ID, &s.UserID, &s.ActivationSessionID, &s.DeviceFingerprint,
		&s.DeviceName, &s.AppVersion, &s.BiometricEnabled,
		&s.PinHash, &s.PinSalt, &s.PinParams,
		&s.TokenID, &s.RotationID, &s.RefreshTokenHash, &s.RefreshTokenExpiresAt,
		&s.LastRotatedAt, &s.RevokedAt, &s.RevokedReason,
		&s.LastIP, &s.LastUserAgent, &s.LastSeenAt,
		&s.CreatedAt, &s.UpdatedAt,
	)
}

// Create persists the session. The session must have ID, chain ids, and the
// PIN credential set. The partial unique index on device_fingerprint rejects
// a second live session for the same device.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.DeviceSession) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device_sessions (
			id, user_id, activation_session_id, device_fingerprint,
			device_name, app_version, biometric_enabled,
			pin_hash, pin_salt, pin_params,
			token_id, rotation_id, refresh_token_hash, refresh_token_expires_at,
			last_rotated_at, last_ip, last_user_agent, last_seen_at,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $19)`,
		s.ID, s.UserID, s.ActivationSessionID, s.DeviceFingerprint,
		s.DeviceName, s.AppVersion, s.BiometricEnabled,
		s.PinHash, s.PinSalt, s.PinParams,
		s.TokenID, s.RotationID, s.RefreshTokenHash, s.RefreshTokenExpiresAt,
		s.LastRotatedAt, nullIfEmpty(s.LastIP), nullIfEmpty(s.LastUserAgent), s.LastSeenAt,
		s.CreatedAt)
	return err
}

// FindActiveByFingerprint returns the non-revoked session for the device,
// or nil when the device has none. At most one can exist.
func (r *PostgresRepository) FindActiveByFingerprint(ctx context.Context, fingerprint string) (*domain.DeviceSession, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM device_sessions ds
		WHERE ds.device_fingerprint = $1 AND ds.revoked_at IS NULL`,
		fingerprint)
	var s domain.DeviceSession
	if err := scanSession(row, &s); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// GetByIDWithUser loads the session joined with its user, without locking.
func (r *PostgresRepository) GetByIDWithUser(ctx context.Context, id string) (*SessionWithUser, error) {
	return r.getByIDWithUser(ctx, id, false)
}

// GetByIDWithUserForUpdate loads the session joined with its user and locks
// the session row. Only the session row is locked; the user row is read
// without a lock so account updates do not serialize on refresh traffic.
func (r *PostgresRepository) GetByIDWithUserForUpdate(ctx context.Context, id string) (*SessionWithUser, error) {
	return r.getByIDWithUser(ctx, id, true)
}

func (r *PostgresRepository) getByIDWithUser(ctx context.Context, id string, lock bool) (*SessionWithUser, error) {
	q := `
		SELECT ` + sessionColumns + `,
			u.id, u.email, u.name, u.role, u.zone, u.status
		FROM device_sessions ds
		JOIN users u ON u.id = ds.user_id
		WHERE ds.id = $1`
	if lock {
		q += `
		FOR UPDATE OF ds`
	}
	row := r.db.QueryRowContext(ctx, q, id)
	var out SessionWithUser
	err := row.Scan(
		&out.Session.ID, &out.Session.UserID, &out.Session.ActivationSessionID, &out.Session.DeviceFingerprint,
		&out.Session.DeviceName, &out.Session.AppVersion, &out.Session.BiometricEnabled,
		&out.Session.PinHash, &out.Session.PinSalt, &out.Session.PinParams,
		&out.Session.TokenID, &out.Session.RotationID, &out.Session.RefreshTokenHash, &out.Session.RefreshTokenExpiresAt,
		&out.Session.LastRotatedAt, &out.Session.RevokedAt, &out.Session.RevokedReason,
		&out.Session.LastIP, &out.Session.LastUserAgent, &out.Session.LastSeenAt,
		&out.Session.CreatedAt, &out.Session.UpdatedAt,
		&out.User.ID, &out.User.Email, &out.User.Name, &out.User.Role, &out.User.Zone, &out.User.Status,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

// Rotate advances the rotation chain only when the stored chain still
// matches. The chain match in the WHERE clause is the concurrency guard:
// the first of two racing refreshes wins, the loser sees zero rows.
func (r *PostgresRepository) Rotate(ctx context.Context, id, expectedTokenID, expectedRotationID, newTokenID, newRotationID, newRefreshHash string, refreshExpiresAt, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE device_sessions
		SET token_id = $4, rotation_id = $5, refresh_token_hash = $6, refresh_token_expires_at = $7,
			last_rotated_at = $8, updated_at = $8
		WHERE id = $1 AND token_id = $2 AND rotation_id = $3 AND revoked_at IS NULL`,
		id, expectedTokenID, expectedRotationID, newTokenID, newRotationID, newRefreshHash, refreshExpiresAt, now)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	err = r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM device_sessions WHERE id = $1 AND revoked_at IS NULL)`,
		id).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return ErrRotationConflict
	}
	return ErrNotFound
}

// Revoke marks the session revoked. Idempotent: COALESCE keeps the first
// revocation's timestamp and reason.
func (r *PostgresRepository) Revoke(ctx context.Context, id, reason string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE device_sessions
		SET revoked_at = COALESCE(revoked_at, $2),
			revoked_reason = COALESCE(revoked_reason, $3),
			updated_at = $2
		WHERE id = $1`,
		id, now, reason)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeAllByUser revokes every live session owned by the user.
func (r *PostgresRepository) RevokeAllByUser(ctx context.Context, userID, reason string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE device_sessions
		SET revoked_at = $2, revoked_reason = $3, updated_at = $2
		WHERE user_id = $1 AND revoked_at IS NULL`,
		userID, now, reason)
	return err
}

// Touch updates last-seen bookkeeping.
func (r *PostgresRepository) Touch(ctx context.Context, id string, at time.Time, ip, userAgent string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE device_sessions
		SET last_seen_at = $2,
			last_ip = COALESCE($3, last_ip),
			last_user_agent = COALESCE($4, last_user_agent),
			updated_at = $2
		WHERE id = $1`,
		id, at, nullIfEmpty(ip), nullIfEmpty(userAgent))
	return err
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
