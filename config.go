package authcore

import (
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/MrEthical07/authcore/credential"
)

// EnvPrefix prefixes every variable read by LoadConfigFromEnv.
const EnvPrefix = "AUTHCORE_"

// Config is the full engine configuration. It is read once by
// [Builder.Build] and copied into each service; later changes to the
// caller's value have no effect.
type Config struct {
	Token    TokenConfig    `envPrefix:"TOKEN_"`
	OTP      OTPConfig      `envPrefix:"OTP_"`
	Store    StoreConfig    `envPrefix:"STORE_"`
	Password PasswordConfig `envPrefix:"PASSWORD_"`
	Audit    AuditConfig    `envPrefix:"AUDIT_"`
	Metrics  MetricsConfig  `envPrefix:"METRICS_"`
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls access and refresh credentials.
//
// Keys are raw bytes; from the environment they are read as standard base64.
type TokenConfig struct {
	AccessTTL     time.Duration `env:"ACCESS_TTL"`
	RefreshTTL    time.Duration `env:"REFRESH_TTL"`
	SigningMethod string        `env:"SIGNING_METHOD"` // "ed25519" (default) or "hs256"
	PrivateKey    []byte        `env:"PRIVATE_KEY"`
	PublicKey     []byte        `env:"PUBLIC_KEY"`
	Issuer        string        `env:"ISSUER"`
	Audience      string        `env:"AUDIENCE"`
	Leeway        time.Duration `env:"LEEWAY"`
	// SlidingRefresh resets the refresh expiry on every rotation. When false
	// a rotation keeps the expiry of the original issue.
	SlidingRefresh bool `env:"SLIDING_REFRESH"`
}

/*
====================================
OTP CONFIG
====================================
*/

const (
	AlphabetNumeric      = "numeric"
	AlphabetAlphanumeric = "alphanumeric"
)

// OTPConfig controls one-time challenge codes.
type OTPConfig struct {
	Digits   int    `env:"DIGITS"`
	Alphabet string `env:"ALPHABET"`
	// MaxAttempts wrong codes burn the challenge. Zero disables the limit.
	MaxAttempts               int           `env:"MAX_ATTEMPTS"`
	PasswordResetTTL          time.Duration `env:"PASSWORD_RESET_TTL"`
	SubscriptionActivationTTL time.Duration `env:"SUBSCRIPTION_ACTIVATION_TTL"`
	// Pepper keys the code hash. Empty means codes are hashed with an empty
	// HMAC key, which still binds them to owner and type.
	Pepper []byte `env:"PEPPER"`
}

// TTLFor returns the configured lifetime for typ.
func (c OTPConfig) TTLFor(typ credential.ChallengeType) time.Duration {
	switch typ {
	case credential.ChallengePasswordReset:
		return c.PasswordResetTTL
	case credential.ChallengeSubscriptionActivation:
		return c.SubscriptionActivationTTL
	default:
		return 0
	}
}

/*
====================================
STORE CONFIG
====================================
*/

const (
	BackendRedis    = "redis"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// StoreConfig selects and tunes the credential store.
type StoreConfig struct {
	Backend     string `env:"BACKEND"`
	RedisAddr   string `env:"REDIS_ADDR"`
	RedisPrefix string `env:"REDIS_PREFIX"`
	PostgresDSN string `env:"POSTGRES_DSN"`
	// Retention keeps expired records readable so they are reported as
	// expired rather than absent.
	Retention time.Duration `env:"RETENTION"`
	// OperationTimeout bounds every store call. Zero disables the bound.
	OperationTimeout time.Duration `env:"OPERATION_TIMEOUT"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig carries the argon2id parameters.
type PasswordConfig struct {
	Memory           uint32 `env:"MEMORY"` // in KB
	Time             uint32 `env:"TIME"`
	Parallelism      uint8  `env:"PARALLELISM"`
	SaltLength       uint32 `env:"SALT_LENGTH"`
	KeyLength        uint32 `env:"KEY_LENGTH"`
	MaxPasswordBytes int    `env:"MAX_PASSWORD_BYTES"`
	UpgradeOnLogin   bool   `env:"UPGRADE_ON_LOGIN"`
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool `env:"ENABLED"`
	BufferSize int  `env:"BUFFER_SIZE"`
	DropIfFull bool `env:"DROP_IF_FULL"`
}

type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED"`
	EnableLatencyHistograms bool `env:"LATENCY_HISTOGRAMS"`
}

// DefaultConfig returns production defaults. Signing keys are not set.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:     5 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "ed25519",
		},
		OTP: OTPConfig{
			Digits:                    6,
			Alphabet:                  AlphabetNumeric,
			MaxAttempts:               5,
			PasswordResetTTL:          15 * time.Minute,
			SubscriptionActivationTTL: 24 * time.Hour,
		},
		Store: StoreConfig{
			Backend:          BackendRedis,
			RedisAddr:        "localhost:6379",
			RedisPrefix:      "a",
			Retention:        24 * time.Hour,
			OperationTimeout: 2 * time.Second,
		},
		Password: PasswordConfig{
			Memory:           65536,
			Time:             3,
			Parallelism:      2,
			SaltLength:       16,
			KeyLength:        32,
			MaxPasswordBytes: 1024,
			UpgradeOnLogin:   true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

// LoadConfigFromEnv overlays AUTHCORE_* variables on [DefaultConfig] and
// validates the result. Unset variables keep their default.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	opts := env.Options{
		Prefix: EnvPrefix,
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf([]byte(nil)): func(v string) (any, error) {
				return base64.StdEncoding.DecodeString(strings.TrimSpace(v))
			},
		},
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	out.OTP.Pepper = cloneBytes(cfg.OTP.Pepper)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	// Token
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.RefreshTTL <= 0 {
		return errors.New("Token RefreshTTL must be > 0")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return errors.New("Token RefreshTTL must be greater than AccessTTL")
	}
	switch c.Token.SigningMethod {
	case "ed25519":
		if len(c.Token.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	case "hs256":
		if len(c.Token.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported Token SigningMethod")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("Token Leeway must be within [0, 2m]")
	}

	// OTP
	switch c.OTP.Alphabet {
	case AlphabetNumeric:
		if c.OTP.Digits < 6 || c.OTP.Digits > 10 {
			return errors.New("OTP Digits must be within [6, 10] for numeric codes")
		}
	case AlphabetAlphanumeric:
		if c.OTP.Digits < 6 || c.OTP.Digits > 16 {
			return errors.New("OTP Digits must be within [6, 16] for alphanumeric codes")
		}
	default:
		return errors.New("OTP Alphabet must be 'numeric' or 'alphanumeric'")
	}
	if c.OTP.MaxAttempts < 0 {
		return errors.New("OTP MaxAttempts must be >= 0")
	}
	if c.OTP.PasswordResetTTL <= 0 {
		return errors.New("OTP PasswordResetTTL must be > 0")
	}
	if c.OTP.SubscriptionActivationTTL <= 0 {
		return errors.New("OTP SubscriptionActivationTTL must be > 0")
	}

	// Store
	switch c.Store.Backend {
	case BackendRedis, BackendMemory, BackendPostgres:
	default:
		return errors.New("Store Backend must be 'redis', 'memory' or 'postgres'")
	}
	if c.Store.Backend == BackendPostgres && c.Store.PostgresDSN == "" {
		return errors.New("Store PostgresDSN is required for the postgres backend")
	}
	if c.Store.Retention < 0 {
		return errors.New("Store Retention must be >= 0")
	}
	if c.Store.OperationTimeout < 0 {
		return errors.New("Store OperationTimeout must be >= 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MaxPasswordBytes < 0 {
		return errors.New("Password MaxPasswordBytes must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
