package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	activationdomain "carelink/backend/internal/activation/domain"
	activationrepo "carelink/backend/internal/activation/repository"
	"carelink/backend/internal/apperr"
	"carelink/backend/internal/clock"
	devicedomain "carelink/backend/internal/devicesession/domain"
	devicerepo "carelink/backend/internal/devicesession/repository"
	"carelink/backend/internal/security"
	"carelink/backend/internal/telemetry"
	telemetrydomain "carelink/backend/internal/telemetry/domain"
	otelemitter "carelink/backend/internal/telemetry/otel"
	userdomain "carelink/backend/internal/user/domain"
	userrepo "carelink/backend/internal/user/repository"
)

const activationTokenBytes = 32

// UserRepo is the minimal user repository needed by the activation service.
type UserRepo interface {
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	ClearActivationCode(ctx context.Context, userID string) error
}

// SessionRepo is the minimal activation session repository needed by the service.
type SessionRepo interface {
	Create(ctx context.Context, s *activationdomain.ActivationSession) error
	GetByTokenHashForUpdate(ctx context.Context, tokenHash string) (*activationdomain.ActivationSession, error)
	MarkCompleted(ctx context.Context, id string, now time.Time) (bool, error)
	RevokePending(ctx context.Context, userID, fingerprint string, now time.Time) error
}

// AttemptRepo is the minimal attempt ledger repository needed by the service.
type AttemptRepo interface {
	Insert(ctx context.Context, a *activationdomain.ActivationAttempt) error
	CountRecent(ctx context.Context, emailNormalized, fingerprint string, since time.Time) (int, error)
}

// DeviceRepo is the minimal device session repository needed by the service.
type DeviceRepo interface {
	Create(ctx context.Context, s *devicedomain.DeviceSession) error
	FindActiveByFingerprint(ctx context.Context, fingerprint string) (*devicedomain.DeviceSession, error)
}

// Repos bundles the repositories bound to one transaction.
type Repos struct {
	Users    UserRepo
	Sessions SessionRepo
	Attempts AttemptRepo
	Devices  DeviceRepo
}

// Store opens a transaction and yields repositories bound to it. The
// transaction commits when fn returns nil and rolls back otherwise, so the
// attempt ledger row and the outcome it records land atomically.
type Store interface {
	WithinTx(ctx context.Context, fn func(r Repos) error) error
}

// SQLStore is the production Store over database/sql.
type SQLStore struct {
	DB *sql.DB
}

func (s *SQLStore) WithinTx(ctx context.Context, fn func(r Repos) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	r := Repos{
		Users:    userrepo.NewPostgresRepository(tx),
		Sessions: activationrepo.NewPostgresSessionRepository(tx),
		Attempts: activationrepo.NewPostgresAttemptRepository(tx),
		Devices:  devicerepo.NewPostgresRepository(tx),
	}
	if err := fn(r); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Config holds the activation policy knobs.
type Config struct {
	TokenTTL      time.Duration
	MaxAttempts   int
	AttemptWindow time.Duration
}

// Service implements two-phase device enrollment: requestActivation trades
// the office-issued code for an activation token, completeActivation trades
// the token plus a chosen PIN for a device session and a token pair.
type Service struct {
	store   Store
	hasher  *security.PinHasher
	tokens  *security.TokenProvider
	clock   clock.Clock
	logger  *zap.Logger
	emitter telemetry.EventEmitter
	cfg     Config
}

// NewService returns a Service with the given dependencies.
func NewService(store Store, hasher *security.PinHasher, tokens *security.TokenProvider, clk clock.Clock, logger *zap.Logger, emitter telemetry.EventEmitter, cfg Config) *Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.AttemptWindow <= 0 {
		cfg.AttemptWindow = 15 * time.Minute
	}
	return &Service{
		store:   store,
		hasher:  hasher,
		tokens:  tokens,
		clock:   clk,
		logger:  logger,
		emitter: emitter,
		cfg:     cfg,
	}
}

// RequestActivationInput carries the first-phase request.
type RequestActivationInput struct {
	Email             string
	ActivationCode    string
	DeviceFingerprint string
	AppVersion        string
	IPAddress         string
	UserAgent         string
}

// UserSummary identifies the account being activated, for display on the
// device before the user commits to a PIN.
type UserSummary struct {
	ID   string
	Name string
	Role string
	Zone string
}

// RequestActivationResult carries the activation token. The token is
// returned exactly once; only its hash is persisted. RequiresMfa tells the
// client whether completion will be followed by an MFA challenge.
type RequestActivationResult struct {
	ActivationToken string
	ExpiresAt       time.Time
	User            UserSummary
	RequiresMfa     bool
}

// RequestActivation verifies the office-issued activation code and, on
// success, issues an opaque activation token bound to the device. Every
// call writes one attempt ledger row; the ledger commits even when the
// outcome is a rejection, which is what makes the rate limit stick.
func (s *Service) RequestActivation(ctx context.Context, in RequestActivationInput) (*RequestActivationResult, error) {
	email := userdomain.NormalizeEmail(in.Email)
	code := userdomain.NormalizeActivationCode(in.ActivationCode)
	fingerprint := strings.TrimSpace(in.DeviceFingerprint)
	now := s.clock.Now()

	var (
		result  *RequestActivationResult
		outcome = activationdomain.OutcomeInvalidCredentials
		outErr  error
		userID  string
	)
	err := s.store.WithinTx(ctx, func(r Repos) error {
		recent, err := r.Attempts.CountRecent(ctx, email, fingerprint, now.Add(-s.cfg.AttemptWindow))
		if err != nil {
			return err
		}
		if recent >= s.cfg.MaxAttempts {
			outcome = activationdomain.OutcomeRateLimited
			outErr = apperr.ErrRateLimited
			return s.recordAttempt(ctx, r, in, email, userID, outcome, now)
		}

		user, err := r.Users.GetByEmail(ctx, email)
		if err != nil {
			return err
		}
		if user != nil {
			userID = user.ID
		}
		if user == nil || user.Status != userdomain.UserStatusActive ||
			!user.Role.CanEnrollDevice() || user.ActivationCodeHash == "" {
			// Same outcome for unknown email, disabled account, and
			// ineligible role: the caller learns nothing about which it was.
			outcome = activationdomain.OutcomeInvalidCredentials
			outErr = apperr.ErrInvalidActivationCode
			return s.recordAttempt(ctx, r, in, email, userID, outcome, now)
		}

		// Expiry is reported before the code is compared, so a user holding
		// a lapsed code is told to request a new one rather than left
		// retrying it.
		if user.ActivationCodeExpiresAt != nil && !now.Before(*user.ActivationCodeExpiresAt) {
			outcome = activationdomain.OutcomeExpired
			outErr = apperr.ErrActivationExpired
			return s.recordAttempt(ctx, r, in, email, userID, outcome, now)
		}

		if !security.TokenHashEqual(code, user.ActivationCodeHash) {
			outcome = activationdomain.OutcomeInvalidCredentials
			outErr = apperr.ErrInvalidActivationCode
			return s.recordAttempt(ctx, r, in, email, userID, outcome, now)
		}

		enrolled, err := r.Devices.FindActiveByFingerprint(ctx, fingerprint)
		if err != nil {
			return err
		}
		if enrolled != nil {
			outcome = activationdomain.OutcomeDeviceEnrolled
			outErr = apperr.ErrDeviceAlreadyEnrolled
			return s.recordAttempt(ctx, r, in, email, userID, outcome, now)
		}

		if err := r.Sessions.RevokePending(ctx, user.ID, fingerprint, now); err != nil {
			return err
		}
		plain, tokenHash, err := security.NewOpaqueToken(activationTokenBytes)
		if err != nil {
			return err
		}
		sess := &activationdomain.ActivationSession{
			ID:                uuid.New().String(),
			UserID:            user.ID,
			TokenHash:         tokenHash,
			DeviceFingerprint: fingerprint,
			AppVersion:        in.AppVersion,
			IPAddress:         in.IPAddress,
			UserAgent:         in.UserAgent,
			ExpiresAt:         now.Add(s.cfg.TokenTTL),
			CreatedAt:         now,
		}
		if err := r.Sessions.Create(ctx, sess); err != nil {
			return err
		}
		outcome = activationdomain.OutcomeSuccess
		outErr = nil
		result = &RequestActivationResult{
			ActivationToken: plain,
			ExpiresAt:       sess.ExpiresAt,
			User: UserSummary{
				ID:   user.ID,
				Name: user.Name,
				Role: string(user.Role),
				Zone: user.Zone,
			},
			RequiresMfa: user.Role == userdomain.RoleCoordinator,
		}
		return s.recordAttempt(ctx, r, in, email, userID, outcome, now)
	})
	if err != nil {
		s.logger.Error("activation request failed",
			zap.String("device_fingerprint", fingerprint),
			zap.Error(err))
		return nil, apperr.ErrActivationFailed
	}
	s.emitRequestEvent(ctx, userID, fingerprint, outcome, now)
	if outErr != nil {
		return nil, outErr
	}
	return result, nil
}

func (s *Service) recordAttempt(ctx context.Context, r Repos, in RequestActivationInput, email, userID, outcome string, now time.Time) error {
	return r.Attempts.Insert(ctx, &activationdomain.ActivationAttempt{
		ID:                uuid.New().String(),
		UserID:            userID,
		EmailNormalized:   email,
		DeviceFingerprint: strings.TrimSpace(in.DeviceFingerprint),
		AppVersion:        in.AppVersion,
		IPAddress:         in.IPAddress,
		UserAgent:         in.UserAgent,
		Outcome:           outcome,
		Succeeded:         outcome == activationdomain.OutcomeSuccess,
		AttemptedAt:       now,
	})
}

func (s *Service) emitRequestEvent(ctx context.Context, userID, fingerprint, outcome string, now time.Time) {
	eventType := telemetrydomain.EventActivationRequested
	if outcome == activationdomain.OutcomeRateLimited {
		eventType = telemetrydomain.EventActivationRateLimited
	}
	otelemitter.EmitAsync(s.emitter, ctx, &telemetrydomain.SecurityEvent{
		UserID:            userID,
		DeviceFingerprint: fingerprint,
		EventType:         eventType,
		Source:            "activation",
		Detail:            outcome,
		CreatedAt:         now,
	})
}

// CompleteActivationInput carries the second-phase request.
type CompleteActivationInput struct {
	ActivationToken   string
	Pin               string
	DeviceFingerprint string
	DeviceName        string
	BiometricEnabled  bool
	AppVersion        string
	IPAddress         string
	UserAgent         string
}

// CompleteActivationResult is the enrolled device session plus its first
// token pair.
type CompleteActivationResult struct {
	DeviceSessionID  string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	Role             string
	Zone             string
	RequiresMfa      bool
}

// CompleteActivation redeems the activation token together with the chosen
// PIN and enrolls the device. The activation session row is locked for the
// duration, so two clients racing on the same token see exactly one winner.
func (s *Service) CompleteActivation(ctx context.Context, in CompleteActivationInput) (*CompleteActivationResult, error) {
	now := s.clock.Now()
	fingerprint := strings.TrimSpace(in.DeviceFingerprint)
	tokenHash := security.HashTokenHex(in.ActivationToken)

	var (
		result *CompleteActivationResult
		userID string
	)
	err := s.store.WithinTx(ctx, func(r Repos) error {
		sess, err := r.Sessions.GetByTokenHashForUpdate(ctx, tokenHash)
		if err != nil {
			return err
		}
		if sess == nil || sess.CompletedAt != nil || sess.RevokedAt != nil {
			return apperr.ErrInvalidActivationToken
		}
		if !sess.Usable(now) {
			return apperr.ErrActivationExpired
		}
		if fingerprint != sess.DeviceFingerprint {
			return apperr.ErrInvalidActivationToken
		}

		user, err := r.Users.GetByID(ctx, sess.UserID)
		if err != nil {
			return err
		}
		if user == nil || user.Status != userdomain.UserStatusActive || !user.Role.CanEnrollDevice() {
			return apperr.ErrInvalidActivationToken
		}
		userID = user.ID

		enrolled, err := r.Devices.FindActiveByFingerprint(ctx, fingerprint)
		if err != nil {
			return err
		}
		if enrolled != nil {
			return apperr.ErrDeviceAlreadyEnrolled
		}

		cred, err := s.hasher.Hash(in.Pin)
		if err != nil {
			if errors.Is(err, security.ErrPinPolicy) {
				return apperr.ErrPinPolicyViolation
			}
			return err
		}

		ok, err := r.Sessions.MarkCompleted(ctx, sess.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.ErrInvalidActivationToken
		}

		deviceSessionID := uuid.New().String()
		tokenID := uuid.New().String()
		rotationID := uuid.New().String()
		refreshToken, refreshExp, err := s.tokens.IssueRefresh(user.ID, string(user.Role), deviceSessionID, tokenID, rotationID, now)
		if err != nil {
			return err
		}
		accessToken, accessExp, err := s.tokens.IssueAccess(user.ID, string(user.Role), deviceSessionID, now)
		if err != nil {
			return err
		}

		device := &devicedomain.DeviceSession{
			ID:                    deviceSessionID,
			UserID:                user.ID,
			ActivationSessionID:   sess.ID,
			DeviceFingerprint:     fingerprint,
			DeviceName:            strings.TrimSpace(in.DeviceName),
			AppVersion:            in.AppVersion,
			BiometricEnabled:      in.BiometricEnabled,
			PinHash:               cred.Hash,
			PinSalt:               cred.Salt,
			PinParams:             security.EncodePinParams(cred.Params),
			TokenID:               tokenID,
			RotationID:            rotationID,
			RefreshTokenHash:      security.HashTokenHex(refreshToken),
			RefreshTokenExpiresAt: refreshExp,
			LastRotatedAt:         now,
			LastIP:                in.IPAddress,
			LastUserAgent:         in.UserAgent,
			LastSeenAt:            now,
			CreatedAt:             now,
		}
		if err := r.Devices.Create(ctx, device); err != nil {
			return err
		}
		if err := r.Users.ClearActivationCode(ctx, user.ID); err != nil {
			return err
		}

		result = &CompleteActivationResult{
			DeviceSessionID:  deviceSessionID,
			AccessToken:      accessToken,
			AccessExpiresAt:  accessExp,
			RefreshToken:     refreshToken,
			RefreshExpiresAt: refreshExp,
			Role:             string(user.Role),
			Zone:             user.Zone,
			RequiresMfa:      user.Role == userdomain.RoleCoordinator,
		}
		return nil
	})
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		s.logger.Error("activation completion failed",
			zap.String("device_fingerprint", fingerprint),
			zap.Error(err))
		return nil, apperr.ErrActivationFailed
	}

	otelemitter.EmitAsync(s.emitter, ctx, &telemetrydomain.SecurityEvent{
		UserID:            userID,
		DeviceSessionID:   result.DeviceSessionID,
		DeviceFingerprint: fingerprint,
		EventType:         telemetrydomain.EventActivationCompleted,
		Source:            "activation",
		CreatedAt:         now,
	})
	s.logger.Info("device enrolled",
		zap.String("device_session_id", result.DeviceSessionID),
		zap.String("device_fingerprint", fingerprint))
	return result, nil
}
