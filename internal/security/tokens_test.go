package security

import (
	"testing"
	"time"

	"carelink/backend/internal/clock"
)

func TestTokenProvider_IssueAndVerifyAccess(t *testing.T) {
	p, err := NewTestTokenProvider(nil)
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	now := time.Now()

	access, exp, err := p.IssueAccess("u1", "caregiver", "d1", now)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if access == "" {
		t.Fatal("access token empty")
	}
	if exp.Before(now) {
		t.Fatal("expires at in the past")
	}

	claims, err := p.VerifyAccess(access)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.Subject != "u1" || claims.Role != "caregiver" || claims.DeviceID != "d1" {
		t.Errorf("VerifyAccess: got sub=%q role=%q device=%q", claims.Subject, claims.Role, claims.DeviceID)
	}
}

func TestTokenProvider_IssueAndVerifyRefresh(t *testing.T) {
	p, err := NewTestTokenProvider(nil)
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	now := time.Now()

	refresh, exp, err := p.IssueRefresh("u1", "coordinator", "d1", "tok1", "rot1", now)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if refresh == "" {
		t.Fatal("refresh token empty")
	}
	if !exp.After(now.Add(24 * time.Hour)) {
		t.Fatalf("refresh expiry too close: %v", exp)
	}

	claims, err := p.VerifyRefresh(refresh)
	if err != nil {
		t.Fatalf("VerifyRefresh: %v", err)
	}
	if claims.Subject != "u1" || claims.DeviceID != "d1" {
		t.Errorf("VerifyRefresh: got sub=%q device=%q", claims.Subject, claims.DeviceID)
	}
	if claims.TokenID != "tok1" || claims.RotationID != "rot1" {
		t.Errorf("VerifyRefresh: got tokenID=%q rotationID=%q", claims.TokenID, claims.RotationID)
	}
}

func TestTokenProvider_VerifyInvalid(t *testing.T) {
	p, err := NewTestTokenProvider(nil)
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	if _, err := p.VerifyRefresh("invalid-token"); err != ErrInvalidToken {
		t.Errorf("VerifyRefresh invalid token: want ErrInvalidToken, got %v", err)
	}
	if _, err := p.VerifyAccess("invalid-token"); err != ErrInvalidToken {
		t.Errorf("VerifyAccess invalid token: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenProvider_AccessTokenIsNotRefreshToken(t *testing.T) {
	p, err := NewTestTokenProvider(nil)
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	access, _, err := p.IssueAccess("u1", "caregiver", "d1", time.Now())
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	// Access tokens carry no rotation-chain claims and must not pass refresh
	// verification.
	if _, err := p.VerifyRefresh(access); err != ErrInvalidToken {
		t.Errorf("VerifyRefresh(access token): want ErrInvalidToken, got %v", err)
	}
}

func TestTokenProvider_WrongIssuerRejected(t *testing.T) {
	signer, err := ParsePrivateKey(testPrivateKeyPEM)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	pub, err := ParsePublicKey(testPublicKeyPEM)
	if err != nil {
		t.Fatalf("ParsePublicKey: %v", err)
	}
	other := NewTokenProvider(signer, pub, "other-issuer", "test-audience", time.Minute, time.Hour, nil)
	token, _, err := other.IssueAccess("u1", "caregiver", "d1", time.Now())
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	p, err := NewTestTokenProvider(nil)
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	if _, err := p.VerifyAccess(token); err != ErrInvalidToken {
		t.Errorf("VerifyAccess with wrong issuer: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenProvider_ExpiredRejected(t *testing.T) {
	p, err := NewTestTokenProvider(nil)
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	token, _, err := p.IssueAccess("u1", "caregiver", "d1", time.Now().Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := p.VerifyAccess(token); err != ErrExpiredToken {
		t.Errorf("VerifyAccess expired: want ErrExpiredToken, got %v", err)
	}
}

func TestTokenProvider_VerifyUsesInjectedClock(t *testing.T) {
	// Pinned years away from wall time in both directions: a provider that
	// consulted the real clock would reject one of the two round trips.
	fake := clock.NewFake(time.Date(2030, 3, 1, 9, 0, 0, 0, time.UTC))
	p, err := NewTestTokenProvider(fake)
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}

	for _, issuedAt := range []time.Time{
		fake.Now(),
		time.Date(2019, 7, 4, 12, 0, 0, 0, time.UTC),
	} {
		fake.Set(issuedAt)
		access, _, err := p.IssueAccess("u1", "caregiver", "d1", issuedAt)
		if err != nil {
			t.Fatalf("IssueAccess at %v: %v", issuedAt, err)
		}
		if _, err := p.VerifyAccess(access); err != nil {
			t.Errorf("VerifyAccess at %v: %v", issuedAt, err)
		}
		refresh, _, err := p.IssueRefresh("u1", "caregiver", "d1", "tok1", "rot1", issuedAt)
		if err != nil {
			t.Fatalf("IssueRefresh at %v: %v", issuedAt, err)
		}
		if _, err := p.VerifyRefresh(refresh); err != nil {
			t.Errorf("VerifyRefresh at %v: %v", issuedAt, err)
		}
	}
}

func TestTokenProvider_ExpiresByInjectedClock(t *testing.T) {
	fake := clock.NewFake(time.Date(2030, 3, 1, 9, 0, 0, 0, time.UTC))
	p, err := NewTestTokenProvider(fake)
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	access, _, err := p.IssueAccess("u1", "caregiver", "d1", fake.Now())
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := p.VerifyAccess(access); err != nil {
		t.Fatalf("VerifyAccess before expiry: %v", err)
	}
	fake.Advance(16 * time.Minute)
	if _, err := p.VerifyAccess(access); err != ErrExpiredToken {
		t.Errorf("VerifyAccess after advance: want ErrExpiredToken, got %v", err)
	}
}
