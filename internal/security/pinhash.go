package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// ErrPinPolicy is returned when the PIN does not satisfy the fixed
// 6-digit numeric policy.
var ErrPinPolicy = errors.New("pin must be exactly 6 digits")

// ErrPinParams is returned when hashing is attempted with parameters outside
// the hard ceilings. Verify never returns it; verification of out-of-bounds
// parameters simply fails.
var ErrPinParams = errors.New("scrypt parameters out of bounds")

// Hard ceilings bounding worst-case derivation cost. Hashing rejects
// parameters above these; verification treats them as a non-match.
const (
	maxScryptN      = 1 << 20
	maxScryptR      = 32
	maxScryptP      = 16
	maxScryptKeyLen = 64
)

const pinSaltLen = 16

// PinParams is the versioned scrypt parameter bundle stored alongside each
// PIN credential.
type PinParams struct {
	Algorithm string `json:"algorithm"`
	N         int    `json:"n"`
	R         int    `json:"r"`
	P         int    `json:"p"`
	KeyLen    int    `json:"keylen"`
}

// DefaultPinParams returns the current production parameter set.
func DefaultPinParams() PinParams {
	return PinParams{Algorithm: "scrypt", N: 16384, R: 8, P: 1, KeyLen: 32}
}

// PinCredential is a derived PIN hash plus everything needed to verify it.
// Hash and Salt are base64 (raw URL) encoded.
type PinCredential struct {
	Hash   string
	Salt   string
	Params PinParams
}

// PinHasher derives and verifies memory-hard hashes of numeric PINs.
type PinHasher struct {
	params PinParams
}

// NewPinHasher returns a PinHasher using the given parameters for new hashes.
// Zero-valued fields fall back to the current defaults; parameters above the
// hard ceilings are rejected at Hash time.
func NewPinHasher(params PinParams) *PinHasher {
	d := DefaultPinParams()
	if params.Algorithm == "" {
		params.Algorithm = d.Algorithm
	}
	if params.N == 0 {
		params.N = d.N
	}
	if params.R == 0 {
		params.R = d.R
	}
	if params.P == 0 {
		params.P = d.P
	}
	if params.KeyLen == 0 {
		params.KeyLen = d.KeyLen
	}
	return &PinHasher{params: params}
}

func validPin(pin string) bool {
	if len(pin) != 6 {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func paramsInBounds(p PinParams) bool {
	if p.Algorithm != "scrypt" {
		return false
	}
	if p.N < 2 || p.N > maxScryptN || p.N&(p.N-1) != 0 {
		return false
	}
	if p.R < 1 || p.R > maxScryptR {
		return false
	}
	if p.P < 1 || p.P > maxScryptP {
		return false
	}
	if p.KeyLen < 16 || p.KeyLen > maxScryptKeyLen {
		return false
	}
	return true
}

// Hash validates the PIN against the 6-digit policy, generates a random
// salt, and derives a key using scrypt with the hasher's parameter bundle.
func (h *PinHasher) Hash(pin string) (PinCredential, error) {
	if !validPin(pin) {
		return PinCredential{}, ErrPinPolicy
	}
	if !paramsInBounds(h.params) {
		return PinCredential{}, ErrPinParams
	}
	salt := make([]byte, pinSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return PinCredential{}, err
	}
	key, err := scrypt.Key([]byte(pin), salt, h.params.N, h.params.R, h.params.P, h.params.KeyLen)
	if err != nil {
		return PinCredential{}, err
	}
	return PinCredential{
		Hash:   base64.RawURLEncoding.EncodeToString(key),
		Salt:   base64.RawURLEncoding.EncodeToString(salt),
		Params: h.params,
	}, nil
}

// Verify re-derives the key using the credential's stored salt and
// parameters and compares in constant time. It returns false, never an
// error: undecodable fields, unsupported algorithms, out-of-bounds
// parameters, and length mismatches are all non-matches.
func (h *PinHasher) Verify(pin string, cred PinCredential) bool {
	if !validPin(pin) {
		return false
	}
	if !paramsInBounds(cred.Params) {
		return false
	}
	salt, err := base64.RawURLEncoding.DecodeString(cred.Salt)
	if err != nil {
		return false
	}
	expected, err := base64.RawURLEncoding.DecodeString(cred.Hash)
	if err != nil {
		return false
	}
	if len(expected) != cred.Params.KeyLen {
		return false
	}
	key, err := scrypt.Key([]byte(pin), salt, cred.Params.N, cred.Params.R, cred.Params.P, cred.Params.KeyLen)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(key, expected) == 1
}

// EncodePinParams serializes params to the canonical JSON form for storage.
// The legacy colon/comma form is read-only; it is never written back.
func EncodePinParams(p PinParams) string {
	b, err := json.Marshal(p)
	if err != nil {
		// PinParams has no unmarshalable fields; keep the signature simple.
		return ""
	}
	return string(b)
}

// ParsePinParams parses a persisted parameter blob into the canonical
// structured form. Two on-disk variants exist: the canonical JSON object,
// and the legacy delimited string "scrypt:N=16384,r=8,p=1,keylen=32".
// Missing or malformed numeric fields default to the current defaults
// rather than rejecting, so credentials hashed under old parameter
// serializations remain verifiable.
func ParsePinParams(s string) PinParams {
	s = strings.TrimSpace(s)
	d := DefaultPinParams()
	if s == "" {
		return d
	}
	if strings.HasPrefix(s, "{") {
		var p PinParams
		if err := json.Unmarshal([]byte(s), &p); err == nil {
			if p.Algorithm == "" {
				p.Algorithm = d.Algorithm
			}
			if p.N <= 0 {
				p.N = d.N
			}
			if p.R <= 0 {
				p.R = d.R
			}
			if p.P <= 0 {
				p.P = d.P
			}
			if p.KeyLen <= 0 {
				p.KeyLen = d.KeyLen
			}
			return p
		}
		return d
	}

	// Legacy form: "algorithm:N=...,r=...,p=...,keylen=...".
	p := d
	algo, rest, found := strings.Cut(s, ":")
	if !found {
		if algo != "" {
			p.Algorithm = algo
		}
		return p
	}
	if algo != "" {
		p.Algorithm = algo
	}
	for _, field := range strings.Split(rest, ",") {
		key, val, ok := strings.Cut(strings.TrimSpace(field), "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil || n <= 0 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "n":
			p.N = n
		case "r":
			p.R = n
		case "p":
			p.P = n
		case "keylen":
			p.KeyLen = n
		}
	}
	return p
}
