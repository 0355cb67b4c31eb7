package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carelink/backend/internal/apperr"
	"carelink/backend/internal/clock"
	devicedomain "carelink/backend/internal/devicesession/domain"
	devicerepo "carelink/backend/internal/devicesession/repository"
	"carelink/backend/internal/security"
	"carelink/backend/internal/telemetry"
	telemetrydomain "carelink/backend/internal/telemetry/domain"
	otelemitter "carelink/backend/internal/telemetry/otel"
	userdomain "carelink/backend/internal/user/domain"
)

// DeviceRepo is the minimal device session repository needed by the session service.
type DeviceRepo interface {
	GetByIDWithUser(ctx context.Context, id string) (*devicerepo.SessionWithUser, error)
	GetByIDWithUserForUpdate(ctx context.Context, id string) (*devicerepo.SessionWithUser, error)
	Rotate(ctx context.Context, id, expectedTokenID, expectedRotationID, newTokenID, newRotationID, newRefreshHash string, refreshExpiresAt, now time.Time) error
	Revoke(ctx context.Context, id, reason string, now time.Time) error
	RevokeAllByUser(ctx context.Context, userID, reason string, now time.Time) error
	Touch(ctx context.Context, id string, at time.Time, ip, userAgent string) error
}

// Repos bundles the repositories bound to one transaction.
type Repos struct {
	Devices DeviceRepo
}

// Store yields repositories, either bound to the base handle or to a
// transaction that commits when fn returns nil.
type Store interface {
	Repos() Repos
	WithinTx(ctx context.Context, fn func(r Repos) error) error
}

// SQLStore is the production Store over database/sql.
type SQLStore struct {
	DB *sql.DB
}

func (s *SQLStore) Repos() Repos {
	return Repos{Devices: devicerepo.NewPostgresRepository(s.DB)}
}

func (s *SQLStore) WithinTx(ctx context.Context, fn func(r Repos) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	r := Repos{Devices: devicerepo.NewPostgresRepository(tx)}
	if err := fn(r); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Service implements refresh-token rotation, revocation, and per-request
// session context loading for enrolled devices.
type Service struct {
	store         Store
	tokens        *security.TokenProvider
	clock         clock.Clock
	logger        *zap.Logger
	emitter       telemetry.EventEmitter
	touchInterval time.Duration
}

// NewService returns a Service with the given dependencies. touchInterval
// bounds how often LoadSessionContext writes last_seen; zero means the
// 5 minute default.
func NewService(store Store, tokens *security.TokenProvider, clk clock.Clock, logger *zap.Logger, emitter telemetry.EventEmitter, touchInterval time.Duration) *Service {
	if touchInterval <= 0 {
		touchInterval = 5 * time.Minute
	}
	return &Service{
		store:         store,
		tokens:        tokens,
		clock:         clk,
		logger:        logger,
		emitter:       emitter,
		touchInterval: touchInterval,
	}
}

// RefreshInput carries a refresh attempt. DeviceID is the session id the
// caller believes it holds; it must match the one embedded in the token.
type RefreshInput struct {
	RefreshToken string
	DeviceID     string
	IPAddress    string
	UserAgent    string
}

// RefreshResult is the rotated token pair.
type RefreshResult struct {
	DeviceSessionID  string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	Role             string
	Zone             string
}

// RefreshSession verifies the refresh token, evaluates it against the
// session's rotation chain under a row lock, and either rotates the chain
// or rejects. Replayed tokens revoke the whole session, and the revocation
// commits even though the attempt itself is denied.
func (s *Service) RefreshSession(ctx context.Context, in RefreshInput) (*RefreshResult, error) {
	claims, err := s.tokens.VerifyRefresh(in.RefreshToken)
	if err != nil {
		if errors.Is(err, security.ErrExpiredToken) {
			return nil, apperr.ErrTokenExpired
		}
		return nil, apperr.ErrTokenInvalid
	}
	if in.DeviceID != claims.DeviceID {
		return nil, apperr.ErrTokenInvalid
	}
	now := s.clock.Now()

	var (
		result  *RefreshResult
		outErr  error
		revoked bool
		userID  string
	)
	err = s.store.WithinTx(ctx, func(r Repos) error {
		sw, err := r.Devices.GetByIDWithUserForUpdate(ctx, claims.DeviceID)
		if err != nil {
			return err
		}
		var (
			sess *devicedomain.DeviceSession
			user *userdomain.User
		)
		if sw != nil {
			sess = &sw.Session
			user = &sw.User
			userID = sw.Session.UserID
		}
		eval := devicedomain.EvaluateRefreshAttempt(sess, user, claims.Subject, claims.TokenID, claims.RotationID, in.RefreshToken, now)
		switch eval.Decision {
		case devicedomain.RefreshReject:
			outErr = eval.Err
			return nil
		case devicedomain.RefreshRejectAndRevoke:
			if eval.RevokeReason == devicedomain.RevokeReasonUserDisabled {
				// A disabled account loses every device, not just the one
				// presenting the token.
				if err := r.Devices.RevokeAllByUser(ctx, sess.UserID, eval.RevokeReason, now); err != nil {
					return err
				}
			} else if err := r.Devices.Revoke(ctx, sess.ID, eval.RevokeReason, now); err != nil {
				return err
			}
			revoked = true
			outErr = eval.Err
			return nil
		}

		newTokenID := uuid.New().String()
		newRotationID := uuid.New().String()
		refreshToken, refreshExp, err := s.tokens.IssueRefresh(user.ID, string(user.Role), sess.ID, newTokenID, newRotationID, now)
		if err != nil {
			return err
		}
		err = r.Devices.Rotate(ctx, sess.ID, sess.TokenID, sess.RotationID, newTokenID, newRotationID, security.HashTokenHex(refreshToken), refreshExp, now)
		if errors.Is(err, devicerepo.ErrRotationConflict) {
			// A concurrent request rotated the chain first. Treat the loser
			// like a replayed token.
			if err := r.Devices.Revoke(ctx, sess.ID, devicedomain.RevokeReasonTokenReuse, now); err != nil {
				return err
			}
			revoked = true
			outErr = apperr.ErrTokenInvalid
			return nil
		}
		if errors.Is(err, devicerepo.ErrNotFound) {
			outErr = apperr.ErrTokenInvalid
			return nil
		}
		if err != nil {
			return err
		}
		if err := r.Devices.Touch(ctx, sess.ID, now, in.IPAddress, in.UserAgent); err != nil {
			return err
		}
		accessToken, accessExp, err := s.tokens.IssueAccess(user.ID, string(user.Role), sess.ID, now)
		if err != nil {
			return err
		}
		result = &RefreshResult{
			DeviceSessionID:  sess.ID,
			AccessToken:      accessToken,
			AccessExpiresAt:  accessExp,
			RefreshToken:     refreshToken,
			RefreshExpiresAt: refreshExp,
			Role:             string(user.Role),
			Zone:             user.Zone,
		}
		return nil
	})
	if err != nil {
		s.logger.Error("session refresh failed",
			zap.String("device_session_id", claims.DeviceID),
			zap.Error(err))
		return nil, apperr.ErrSessionFailed
	}
	if revoked {
		s.logger.Warn("refresh token reuse detected, session revoked",
			zap.String("device_session_id", claims.DeviceID),
			zap.String("user_id", userID))
		otelemitter.EmitAsync(s.emitter, ctx, &telemetrydomain.SecurityEvent{
			UserID:          userID,
			DeviceSessionID: claims.DeviceID,
			EventType:       telemetrydomain.EventTokenReuseDetected,
			Source:          "session",
			CreatedAt:       now,
		})
	}
	if outErr != nil {
		return nil, outErr
	}
	otelemitter.EmitAsync(s.emitter, ctx, &telemetrydomain.SecurityEvent{
		UserID:          userID,
		DeviceSessionID: result.DeviceSessionID,
		EventType:       telemetrydomain.EventSessionRefreshed,
		Source:          "session",
		CreatedAt:       now,
	})
	return result, nil
}

// RevokeInput carries a revocation request. DeviceID must match the session
// id embedded in the token. Reason defaults to user_logout.
type RevokeInput struct {
	RefreshToken string
	DeviceID     string
	Reason       string
}

// RevokeSession revokes the session named by a valid refresh token.
// Revoking an already-revoked session succeeds. A token whose chain no
// longer matches is rejected without touching the session.
func (s *Service) RevokeSession(ctx context.Context, in RevokeInput) error {
	claims, err := s.tokens.VerifyRefresh(in.RefreshToken)
	if err != nil {
		if errors.Is(err, security.ErrExpiredToken) {
			return apperr.ErrTokenExpired
		}
		return apperr.ErrTokenInvalid
	}
	if in.DeviceID != claims.DeviceID {
		return apperr.ErrTokenInvalid
	}
	reason := in.Reason
	if reason == "" {
		reason = devicedomain.RevokeReasonUserLogout
	}
	now := s.clock.Now()

	var (
		outErr  error
		revoked bool
		userID  string
	)
	err = s.store.WithinTx(ctx, func(r Repos) error {
		sw, err := r.Devices.GetByIDWithUserForUpdate(ctx, claims.DeviceID)
		if err != nil {
			return err
		}
		if sw == nil || sw.Session.UserID != claims.Subject {
			outErr = apperr.ErrTokenInvalid
			return nil
		}
		userID = sw.Session.UserID
		if sw.Session.Revoked() {
			return nil
		}
		if claims.TokenID != sw.Session.TokenID ||
			claims.RotationID != sw.Session.RotationID ||
			!security.TokenHashEqual(in.RefreshToken, sw.Session.RefreshTokenHash) {
			outErr = apperr.ErrTokenInvalid
			return nil
		}
		if err := r.Devices.Revoke(ctx, sw.Session.ID, reason, now); err != nil {
			return err
		}
		revoked = true
		return nil
	})
	if err != nil {
		s.logger.Error("session revoke failed",
			zap.String("device_session_id", claims.DeviceID),
			zap.Error(err))
		return apperr.ErrSessionFailed
	}
	if revoked {
		otelemitter.EmitAsync(s.emitter, ctx, &telemetrydomain.SecurityEvent{
			UserID:          userID,
			DeviceSessionID: claims.DeviceID,
			EventType:       telemetrydomain.EventSessionRevoked,
			Source:          "session",
			Detail:          reason,
			CreatedAt:       now,
		})
	}
	return outErr
}

// SessionUser is the authorization-relevant view of the account.
type SessionUser struct {
	ID          string
	Role        string
	Zone        string
	Permissions []string
}

// SessionContext is what request handling needs to know about the caller.
type SessionContext struct {
	User            SessionUser
	DeviceSessionID string
	DeviceName      string
	Claims          *security.AccessClaims
}

// LoadSessionContext verifies the access token and resolves it to the live
// session and account. last_seen is written back only when it is staler
// than the touch interval, so hot sessions do not turn every read into a
// write.
func (s *Service) LoadSessionContext(ctx context.Context, accessToken, ipAddress, userAgent string) (*SessionContext, error) {
	claims, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		if errors.Is(err, security.ErrExpiredToken) {
			return nil, apperr.ErrTokenExpired
		}
		return nil, apperr.ErrTokenInvalid
	}
	now := s.clock.Now()

	r := s.store.Repos()
	sw, err := r.Devices.GetByIDWithUser(ctx, claims.DeviceID)
	if err != nil {
		s.logger.Error("session context load failed",
			zap.String("device_session_id", claims.DeviceID),
			zap.Error(err))
		return nil, apperr.ErrSessionFailed
	}
	if sw == nil || sw.Session.UserID != claims.Subject {
		return nil, apperr.ErrTokenInvalid
	}
	if sw.Session.Revoked() {
		return nil, apperr.ErrDeviceRevoked
	}
	if sw.User.Status != userdomain.UserStatusActive {
		return nil, apperr.ErrTokenInvalid
	}

	if now.Sub(sw.Session.LastSeenAt) >= s.touchInterval {
		if err := r.Devices.Touch(ctx, sw.Session.ID, now, ipAddress, userAgent); err != nil {
			// Bookkeeping only; the request proceeds.
			s.logger.Warn("session touch failed",
				zap.String("device_session_id", sw.Session.ID),
				zap.Error(err))
		}
	}

	return &SessionContext{
		User: SessionUser{
			ID:          sw.User.ID,
			Role:        string(sw.User.Role),
			Zone:        sw.User.Zone,
			Permissions: sw.User.Role.Permissions(),
		},
		DeviceSessionID: sw.Session.ID,
		DeviceName:      sw.Session.DeviceName,
		Claims:          claims,
	}, nil
}
