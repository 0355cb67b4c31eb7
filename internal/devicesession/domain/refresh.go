package domain

import (
	"time"

	"carelink/backend/internal/apperr"
	"carelink/backend/internal/security"
	userdomain "carelink/backend/internal/user/domain"
)

// RefreshDecision is the outcome of evaluating a presented refresh token
// against the session's stored rotation chain.
type RefreshDecision int

const (
	// RefreshAccept rotates the chain and issues a new token pair.
	RefreshAccept RefreshDecision = iota
	// RefreshReject denies the attempt and leaves the session untouched.
	RefreshReject
	// RefreshRejectAndRevoke denies the attempt and revokes the session.
	RefreshRejectAndRevoke
)

// RefreshEvaluation carries the decision plus the error to surface and,
// for RefreshRejectAndRevoke, the revocation reason to persist.
type RefreshEvaluation struct {
	Decision     RefreshDecision
	RevokeReason string
	Err          error
}

func reject(err error) RefreshEvaluation {
	return RefreshEvaluation{Decision: RefreshReject, Err: err}
}

func rejectAndRevoke(reason string, err error) RefreshEvaluation {
	return RefreshEvaluation{Decision: RefreshRejectAndRevoke, RevokeReason: reason, Err: err}
}

// EvaluateRefreshAttempt decides what a refresh attempt does to the session.
// It is pure: callers load the session under a row lock, evaluate, then
// apply the decision inside the same transaction.
//
// subject, tokenID, and rotationID come from the verified refresh token's
// claims; presentedToken is the raw token string, compared against the
// stored hash.
//
// Any rotation-chain mismatch (token id, rotation id, or the token hash)
// means the presented token was already rotated away: someone is replaying
// it, so the whole session is revoked rather than just rejected.
func EvaluateRefreshAttempt(sess *DeviceSession, user *userdomain.User, subject, tokenID, rotationID, presentedToken string, now time.Time) RefreshEvaluation {
	if sess == nil {
		return reject(apperr.ErrTokenInvalid)
	}
	if subject != sess.UserID {
		return reject(apperr.ErrTokenInvalid)
	}
	if sess.Revoked() {
		return reject(apperr.ErrDeviceRevoked)
	}
	if user == nil || user.Status != userdomain.UserStatusActive {
		return rejectAndRevoke(RevokeReasonUserDisabled, apperr.ErrTokenInvalid)
	}
	if tokenID != sess.TokenID || rotationID != sess.RotationID {
		// The chain has moved past these identifiers, so the presented
		// token was already rotated away.
		return rejectAndRevoke(RevokeReasonTokenReuse, apperr.ErrTokenInvalid)
	}
	if !security.TokenHashEqual(presentedToken, sess.RefreshTokenHash) {
		return rejectAndRevoke(RevokeReasonTokenReuse, apperr.ErrTokenInvalid)
	}
	if !now.Before(sess.RefreshTokenExpiresAt) {
		return reject(apperr.ErrTokenExpired)
	}
	return RefreshEvaluation{Decision: RefreshAccept}
}
