package repository

import (
	"context"
	"time"

	"carelink/backend/internal/user/domain"
)

// Repository defines persistence for users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	// SetActivationCode replaces the user's enrollment credential.
	SetActivationCode(ctx context.Context, userID, codeHash string, expiresAt *time.Time) error
	// ClearActivationCode removes the enrollment credential after a
	// completed activation.
	ClearActivationCode(ctx context.Context, userID string) error
}
