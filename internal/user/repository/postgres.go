package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"carelink/backend/internal/db"
	"carelink/backend/internal/user/domain"
)

type PostgresRepository struct {
	db db.DBTX
}

// NewPostgresRepository returns a user repository backed by the given
// database handle or transaction.
func NewPostgresRepository(dbtx db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: dbtx}
}

const userColumns = `id, email, name, role, zone, status,
	COALESCE(activation_code_hash, ''), activation_code_expires_at,
	created_at, updated_at`

func scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID, &u.Email, &u.Name, &u.Role, &u.Zone, &u.Status,
		&u.ActivationCodeHash, &u.ActivationCodeExpiresAt,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail returns the user with the given email, or nil if not found.
// The lookup is case-insensitive.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		domain.NormalizeEmail(email))
	return scanUser(row)
}

// Create persists the user. The user must have ID set; it is not assigned
// by this method.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	var codeHash sql.NullString
	if u.ActivationCodeHash != "" {
		codeHash = sql.NullString{String: u.ActivationCodeHash, Valid: true}
	}
	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, role, zone, status,
			activation_code_hash, activation_code_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		u.ID, domain.NormalizeEmail(u.Email), u.Name, u.Role, u.Zone, u.Status,
		codeHash, u.ActivationCodeExpiresAt, createdAt)
	return err
}

// SetActivationCode replaces the user's enrollment credential.
func (r *PostgresRepository) SetActivationCode(ctx context.Context, userID, codeHash string, expiresAt *time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET activation_code_hash = $2, activation_code_expires_at = $3, updated_at = $4
		WHERE id = $1`,
		userID, codeHash, expiresAt, time.Now().UTC())
	return err
}

// ClearActivationCode removes the enrollment credential. Idempotent.
func (r *PostgresRepository) ClearActivationCode(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET activation_code_hash = NULL, activation_code_expires_at = NULL, updated_at = $2
		WHERE id = $1`,
		userID, time.Now().UTC())
	return err
}
