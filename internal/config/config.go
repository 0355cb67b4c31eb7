// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim (e.g. "carelink-auth"); verified on every token.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim (e.g. "carelink-mobile"); verified on every token.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "720h" = 30d).
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// ActivationTokenTTL is the lifetime of an issued activation token (e.g. "24h").
	ActivationTokenTTL string `mapstructure:"ACTIVATION_TOKEN_TTL"`
	// ActivationMaxAttempts is the number of activation attempts allowed per
	// (email, device fingerprint) within ActivationAttemptWindow.
	ActivationMaxAttempts int `mapstructure:"ACTIVATION_MAX_ATTEMPTS"`
	// ActivationAttemptWindow is the sliding rate-limit window (e.g. "15m").
	ActivationAttemptWindow string `mapstructure:"ACTIVATION_ATTEMPT_WINDOW"`
	// SessionTouchInterval is the minimum staleness of last_seen_at before an
	// authenticated request writes a liveness touch (e.g. "5m").
	SessionTouchInterval string `mapstructure:"SESSION_TOUCH_INTERVAL"`
	// PinScryptN is the scrypt CPU/memory cost factor for PIN hashing; must be a power of two.
	PinScryptN int `mapstructure:"PIN_SCRYPT_N"`
	// PinScryptR is the scrypt block size parameter.
	PinScryptR int `mapstructure:"PIN_SCRYPT_R"`
	// PinScryptP is the scrypt parallelism parameter.
	PinScryptP int `mapstructure:"PIN_SCRYPT_P"`
	// PinScryptKeyLen is the derived key length in bytes.
	PinScryptKeyLen int `mapstructure:"PIN_SCRYPT_KEYLEN"`
	// OTLPEndpoint is the OTLP gRPC collector endpoint for security telemetry; empty disables export.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_ISSUER", "carelink-auth")
	v.SetDefault("JWT_AUDIENCE", "carelink-mobile")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "720h") // 30d
	v.SetDefault("ACTIVATION_TOKEN_TTL", "24h")
	v.SetDefault("ACTIVATION_MAX_ATTEMPTS", 5)
	v.SetDefault("ACTIVATION_ATTEMPT_WINDOW", "15m")
	v.SetDefault("SESSION_TOUCH_INTERVAL", "5m")
	v.SetDefault("PIN_SCRYPT_N", 16384)
	v.SetDefault("PIN_SCRYPT_R", 8)
	v.SetDefault("PIN_SCRYPT_P", 1)
	v.SetDefault("PIN_SCRYPT_KEYLEN", 32)
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.ActivationMaxAttempts <= 0 {
		cfg.ActivationMaxAttempts = 5
	}

	if cfg.PinScryptN == 0 {
		cfg.PinScryptN = 16384
	}
	if cfg.PinScryptN < 2 || cfg.PinScryptN > 1<<20 || cfg.PinScryptN&(cfg.PinScryptN-1) != 0 {
		return nil, errors.New("config: PIN_SCRYPT_N must be a power of two between 2 and 2^20")
	}
	if cfg.PinScryptR == 0 {
		cfg.PinScryptR = 8
	}
	if cfg.PinScryptR < 1 || cfg.PinScryptR > 32 {
		return nil, errors.New("config: PIN_SCRYPT_R must be between 1 and 32")
	}
	if cfg.PinScryptP == 0 {
		cfg.PinScryptP = 1
	}
	if cfg.PinScryptP < 1 || cfg.PinScryptP > 16 {
		return nil, errors.New("config: PIN_SCRYPT_P must be between 1 and 16")
	}
	if cfg.PinScryptKeyLen == 0 {
		cfg.PinScryptKeyLen = 32
	}
	if cfg.PinScryptKeyLen < 16 || cfg.PinScryptKeyLen > 64 {
		return nil, errors.New("config: PIN_SCRYPT_KEYLEN must be between 16 and 64")
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 720h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTRefreshTTL)
	if err != nil || d <= 0 {
		return 720 * time.Hour
	}
	return d
}

// ActivationTTL parses ActivationTokenTTL as a time.Duration. Returns 24h if unset or invalid.
func (c *Config) ActivationTTL() time.Duration {
	d, err := time.ParseDuration(c.ActivationTokenTTL)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// AttemptWindow parses ActivationAttemptWindow as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AttemptWindow() time.Duration {
	d, err := time.ParseDuration(c.ActivationAttemptWindow)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// TouchInterval parses SessionTouchInterval as a time.Duration. Returns 5m if unset or invalid.
func (c *Config) TouchInterval() time.Duration {
	d, err := time.ParseDuration(c.SessionTouchInterval)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}
