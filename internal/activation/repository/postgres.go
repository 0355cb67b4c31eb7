package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"carelink/backend/internal/activation/domain"
	"carelink/backend/internal/db"
)

type PostgresSessionRepository struct {
	db db.DBTX
}

// NewPostgresSessionRepository returns an activation session repository
// backed by the given database handle or transaction.
func NewPostgresSessionRepository(dbtx db.DBTX) *PostgresSessionRepository {
	return &PostgresSessionRepository{db: dbtx}
}

// Create persists the activation session. Only the token hash is stored;
// the plain token never reaches the database.
func (r *PostgresSessionRepository) Create(ctx context.Context, s *domain.ActivationSession) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activation_sessions (
			id, user_id, token_hash, device_fingerprint, app_version,
			ip_address, user_agent, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.UserID, s.TokenHash, s.DeviceFingerprint, s.AppVersion,
		nullIfEmpty(s.IPAddress), nullIfEmpty(s.UserAgent), s.ExpiresAt, s.CreatedAt)
	return err
}

// GetByTokenHashForUpdate loads the session by token hash and locks the row.
// Returns nil when no session has the hash.
func (r *PostgresSessionRepository) GetByTokenHashForUpdate(ctx context.Context, tokenHash string) (*domain.ActivationSession, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, token_hash, device_fingerprint, app_version,
			COALESCE(ip_address, ''), COALESCE(user_agent, ''),
			expires_at, completed_at, revoked_at, created_at
		FROM activation_sessions
		WHERE token_hash = $1
		FOR UPDATE`,
		tokenHash)
	var s domain.ActivationSession
	err := row.Scan(
		&s.ID, &s.UserID, &s.TokenHash, &s.DeviceFingerprint, &s.AppVersion,
		&s.IPAddress, &s.UserAgent,
		&s.ExpiresAt, &s.CompletedAt, &s.RevokedAt, &s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// MarkCompleted stamps completed_at only when still pending. The guard in
// the WHERE clause makes double completion a clean zero-row update.
func (r *PostgresSessionRepository) MarkCompleted(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE activation_sessions
		SET completed_at = $2
		WHERE id = $1 AND completed_at IS NULL AND revoked_at IS NULL`,
		id, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RevokePending revokes any pending sessions for the user and device.
func (r *PostgresSessionRepository) RevokePending(ctx context.Context, userID, fingerprint string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE activation_sessions
		SET revoked_at = $3
		WHERE user_id = $1 AND device_fingerprint = $2
			AND completed_at IS NULL AND revoked_at IS NULL`,
		userID, fingerprint, now)
	return err
}

type PostgresAttemptRepository struct {
	db db.DBTX
}

// NewPostgresAttemptRepository returns an attempt ledger repository backed
// by the given database handle or transaction.
func NewPostgresAttemptRepository(dbtx db.DBTX) *PostgresAttemptRepository {
	return &PostgresAttemptRepository{db: dbtx}
}

// Insert appends one ledger row. There is no update or delete path.
func (r *PostgresAttemptRepository) Insert(ctx context.Context, a *domain.ActivationAttempt) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activation_attempts (
			id, user_id, email_normalized, device_fingerprint, app_version,
			ip_address, user_agent, outcome, succeeded, detail, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		a.ID, nullIfEmpty(a.UserID), a.EmailNormalized, a.DeviceFingerprint, a.AppVersion,
		nullIfEmpty(a.IPAddress), nullIfEmpty(a.UserAgent), a.Outcome, a.Succeeded, a.Detail, a.AttemptedAt)
	return err
}

// CountRecent counts attempts for the (email, fingerprint) pair at or after
// since. Served by the rate index.
func (r *PostgresAttemptRepository) CountRecent(ctx context.Context, emailNormalized, fingerprint string, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM activation_attempts
		WHERE email_normalized = $1 AND device_fingerprint = $2 AND attempted_at >= $3`,
		emailNormalized, fingerprint, since).Scan(&n)
	return n, err
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
