package service

import (
	"context"
	"errors"
	"sync"
	"time"

	activationdomain "carelink/backend/internal/activation/domain"
	devicedomain "carelink/backend/internal/devicesession/domain"
	userdomain "carelink/backend/internal/user/domain"
)

type memUserRepo struct {
	mu      sync.Mutex
	byID    map[string]*userdomain.User
	byEmail map[string]*userdomain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{byID: map[string]*userdomain.User{}, byEmail: map[string]*userdomain.User{}}
}

func (r *memUserRepo) add(u *userdomain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[u.ID] = u
	r.byEmail[u.Email] = u
}

func (r *memUserRepo) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u2 := *u
		return &u2, nil
	}
	return nil, nil
}

func (r *memUserRepo) GetByEmail(ctx context.Context, email string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byEmail[email]; ok {
		u2 := *u
		return &u2, nil
	}
	return nil, nil
}

func (r *memUserRepo) ClearActivationCode(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[userID]; ok {
		u.ActivationCodeHash = ""
		u.ActivationCodeExpiresAt = nil
	}
	return nil
}

type memActivationSessionRepo struct {
	mu sync.Mutex
	m  map[string]*activationdomain.ActivationSession
}

func newMemActivationSessionRepo() *memActivationSessionRepo {
	return &memActivationSessionRepo{m: map[string]*activationdomain.ActivationSession{}}
}

func (r *memActivationSessionRepo) Create(ctx context.Context, s *activationdomain.ActivationSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s2 := *s
	r.m[s.ID] = &s2
	return nil
}

func (r *memActivationSessionRepo) GetByTokenHashForUpdate(ctx context.Context, tokenHash string) (*activationdomain.ActivationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.m {
		if s.TokenHash == tokenHash {
			s2 := *s
			return &s2, nil
		}
	}
	return nil, nil
}

func (r *memActivationSessionRepo) MarkCompleted(ctx context.Context, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[id]
	if !ok || s.CompletedAt != nil || s.RevokedAt != nil {
		return false, nil
	}
	t := now
	s.CompletedAt = &t
	return true, nil
}

func (r *memActivationSessionRepo) RevokePending(ctx context.Context, userID, fingerprint string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.m {
		if s.UserID == userID && s.DeviceFingerprint == fingerprint && s.CompletedAt == nil && s.RevokedAt == nil {
			t := now
			s.RevokedAt = &t
		}
	}
	return nil
}

type memAttemptRepo struct {
	mu       sync.Mutex
	attempts []*activationdomain.ActivationAttempt
}

func newMemAttemptRepo() *memAttemptRepo { return &memAttemptRepo{} }

func (r *memAttemptRepo) Insert(ctx context.Context, a *activationdomain.ActivationAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a2 := *a
	r.attempts = append(r.attempts, &a2)
	return nil
}

func (r *memAttemptRepo) CountRecent(ctx context.Context, emailNormalized, fingerprint string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.attempts {
		if a.EmailNormalized == emailNormalized && a.DeviceFingerprint == fingerprint && !a.AttemptedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *memAttemptRepo) last() *activationdomain.ActivationAttempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.attempts) == 0 {
		return nil
	}
	return r.attempts[len(r.attempts)-1]
}

type memDeviceRepo struct {
	mu sync.Mutex
	m  map[string]*devicedomain.DeviceSession
}

func newMemDeviceRepo() *memDeviceRepo {
	return &memDeviceRepo{m: map[string]*devicedomain.DeviceSession{}}
}

func (r *memDeviceRepo) Create(ctx context.Context, s *devicedomain.DeviceSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.m {
		if existing.DeviceFingerprint == s.DeviceFingerprint && existing.RevokedAt == nil {
			return errors.New("duplicate active fingerprint")
		}
	}
	s2 := *s
	r.m[s.ID] = &s2
	return nil
}

func (r *memDeviceRepo) FindActiveByFingerprint(ctx context.Context, fingerprint string) (*devicedomain.DeviceSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.m {
		if s.DeviceFingerprint == fingerprint && s.RevokedAt == nil {
			s2 := *s
			return &s2, nil
		}
	}
	return nil, nil
}

func (r *memDeviceRepo) get(id string) *devicedomain.DeviceSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m[id]
}

// memStore yields the same fake repos for every transaction. Commit and
// rollback semantics are not modeled; tests assert on repo state instead.
type memStore struct {
	repos Repos
}

func (s *memStore) WithinTx(ctx context.Context, fn func(r Repos) error) error {
	return fn(s.repos)
}
