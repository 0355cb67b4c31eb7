package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"carelink/backend/internal/clock"
)

var (
	// ErrInvalidToken is returned when a token is malformed, fails signature
	// or issuer/audience checks, or is missing required claims.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when a token is well formed and correctly
	// signed but past its expiry.
	ErrExpiredToken = errors.New("expired token")
)

// AccessClaims holds JWT claims for the access token presented on every
// authenticated request.
type AccessClaims struct {
	jwt.RegisteredClaims
	Role     string `json:"role"`
	DeviceID string `json:"device_id"`
}

// RefreshClaims holds JWT claims for the refresh token. TokenID and
// RotationID bind the token to the current generation of the device
// session's rotation chain.
type RefreshClaims struct {
	jwt.RegisteredClaims
	Role       string `json:"role"`
	DeviceID   string `json:"device_id"`
	TokenID    string `json:"token_id"`
	RotationID string `json:"rotation_id"`
}

// TokenProvider issues and verifies JWT access and refresh tokens using RS256 or ES256 (private/public key).
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      clock.Clock
}

// NewTokenProvider returns a TokenProvider that signs with the given private key (RS256 or ES256).
// issuer and audience are set on claims and verified on every parse. Expiry
// checks on Verify use clk, so issuance and verification share one clock;
// a nil clk means wall time.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, accessTTL, refreshTTL time.Duration, clk clock.Clock) *TokenProvider {
	if clk == nil {
		clk = clock.Real{}
	}
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		clock:      clk,
	}
}

// AccessTTL returns the configured access token lifetime.
func (p *TokenProvider) AccessTTL() time.Duration { return p.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (p *TokenProvider) RefreshTTL() time.Duration { return p.refreshTTL }

// IssueAccess issues a short-lived access JWT for the given user, role, and device.
// Returns the token string and its expiration time.
func (p *TokenProvider) IssueAccess(userID, role, deviceID string, now time.Time) (token string, expiresAt time.Time, err error) {
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now = now.UTC()
	expiresAt = now.Add(p.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role:     role,
		DeviceID: deviceID,
	}
	token, err = p.sign(claims)
	return token, expiresAt, err
}

// IssueRefresh issues a long-lived refresh JWT carrying the rotation-chain
// identifiers. The caller stores tokenID/rotationID and the token's hash on
// the device session.
func (p *TokenProvider) IssueRefresh(userID, role, deviceID, tokenID, rotationID string, now time.Time) (token string, expiresAt time.Time, err error) {
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now = now.UTC()
	expiresAt = now.Add(p.refreshTTL)
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role:       role,
		DeviceID:   deviceID,
		TokenID:    tokenID,
		RotationID: rotationID,
	}
	token, err = p.sign(claims)
	return token, expiresAt, err
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	t := jwt.NewWithClaims(method, claims)
	return t.SignedString(p.privateKey)
}

func (p *TokenProvider) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); ok {
		return p.publicKey, nil
	}
	if _, ok := token.Method.(*jwt.SigningMethodECDSA); ok {
		return p.publicKey, nil
	}
	return nil, ErrInvalidToken
}

func (p *TokenProvider) checkRegistered(rc jwt.RegisteredClaims) error {
	if rc.Issuer != p.issuer {
		return ErrInvalidToken
	}
	for _, a := range rc.Audience {
		if a == p.audience {
			return nil
		}
	}
	return ErrInvalidToken
}

// VerifyAccess parses and verifies an access token (signature, exp, iss, aud).
// Returns the claims, or ErrInvalidToken.
func (p *TokenProvider) VerifyAccess(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, p.keyFunc, jwt.WithTimeFunc(p.clock.Now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if err := p.checkRegistered(claims.RegisteredClaims); err != nil {
		return nil, err
	}
	if claims.Subject == "" || claims.DeviceID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyRefresh parses and verifies a refresh token (signature, exp, iss, aud)
// and requires the full rotation-chain claim set.
func (p *TokenProvider) VerifyRefresh(tokenString string) (*RefreshClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &RefreshClaims{}, p.keyFunc, jwt.WithTimeFunc(p.clock.Now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*RefreshClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if err := p.checkRegistered(claims.RegisteredClaims); err != nil {
		return nil, err
	}
	if claims.Subject == "" || claims.DeviceID == "" || claims.TokenID == "" || claims.RotationID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
