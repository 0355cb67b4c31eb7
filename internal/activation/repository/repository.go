package repository

import (
	"context"
	"time"

	"carelink/backend/internal/activation/domain"
)

// SessionRepository defines persistence for activation sessions.
type SessionRepository interface {
	Create(ctx context.Context, s *domain.ActivationSession) error
	// GetByTokenHashForUpdate loads the session by token hash and locks the
	// row until the enclosing transaction ends. Returns nil when no session
	// has the hash.
	GetByTokenHashForUpdate(ctx context.Context, tokenHash string) (*domain.ActivationSession, error)
	// MarkCompleted stamps completed_at only when the session is still
	// pending. Returns false when another transaction completed it first.
	MarkCompleted(ctx context.Context, id string, now time.Time) (bool, error)
	// RevokePending revokes any pending sessions for the user and device so
	// a re-requested activation leaves exactly one live token.
	RevokePending(ctx context.Context, userID, fingerprint string, now time.Time) error
}

// AttemptRepository defines persistence for the attempt ledger. Rows are
// append-only.
type AttemptRepository interface {
	Insert(ctx context.Context, a *domain.ActivationAttempt) error
	// CountRecent counts attempts for the (email, fingerprint) pair at or
	// after since.
	CountRecent(ctx context.Context, emailNormalized, fingerprint string, since time.Time) (int, error)
}
