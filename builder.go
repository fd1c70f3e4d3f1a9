package authcore

import (
	"database/sql"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/credential"
	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/permission"
)

// Builder assembles an [Engine]. It performs no I/O: connections are opened
// by the caller and handed in.
type Builder struct {
	config Config

	redis redis.UniversalClient
	db    *sql.DB
	store credential.Store

	policy permission.PolicySet

	users     UserLookup
	accounts  AccountMutator
	hasher    PasswordHasher
	notifier  Notifier
	logger    *zap.Logger
	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis supplies the client used when Store.Backend is "redis".
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPostgres supplies the handle used when Store.Backend is "postgres".
// Migrations are not applied; call [credential.Migrate] first.
func (b *Builder) WithPostgres(db *sql.DB) *Builder {
	b.db = db
	return b
}

// WithStore overrides backend selection entirely.
func (b *Builder) WithStore(store credential.Store) *Builder {
	b.store = store
	return b
}

// WithPolicy sets the initial policy set. Without one every check is denied
// until the first reload.
func (b *Builder) WithPolicy(set permission.PolicySet) *Builder {
	b.policy = set
	return b
}

func (b *Builder) WithUserLookup(users UserLookup) *Builder {
	b.users = users
	return b
}

// WithAccountMutator enables the confirmation flows and password hash upgrades.
func (b *Builder) WithAccountMutator(accounts AccountMutator) *Builder {
	b.accounts = accounts
	return b
}

func (b *Builder) WithPasswordHasher(h PasswordHasher) *Builder {
	b.hasher = h
	return b
}

func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every service. A Builder can
// be used once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.users == nil {
		return nil, errors.New("user lookup required")
	}

	store, err := b.resolveStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- HASHER --------
	hasher := b.hasher
	if hasher == nil {
		if hasher, err = NewPasswordHasher(cfg.Password); err != nil {
			return nil, err
		}
	}

	// -------- SIGNER --------
	signer, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.Token.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		Leeway:        cfg.Token.Leeway,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	// -------- POLICY --------
	policy, err := permission.NewEngine(b.policy)
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithLogger(logger),
		WithMetrics(NewMetrics(cfg.Metrics)),
		WithClock(now),
		WithStoreTimeout(cfg.Store.OperationTimeout),
		withAuditDispatcher(internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink)),
	}
	in := newInstruments(opts...)

	tokens, err := NewTokenService(store, signer, cfg.Token, opts...)
	if err != nil {
		return nil, err
	}
	challenges, err := NewChallengeService(store, cfg.OTP, opts...)
	if err != nil {
		return nil, err
	}
	gate, err := NewGate(tokens, b.users, policy, opts...)
	if err != nil {
		return nil, err
	}

	notifier := b.notifier
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}

	b.built = true

	return &Engine{
		config:     cfg,
		store:      store,
		tokens:     tokens,
		challenges: challenges,
		gate:       gate,
		policy:     policy,
		users:      b.users,
		accounts:   b.accounts,
		hasher:     hasher,
		notifier:   notifier,
		in:         in,
	}, nil
}

// NewPasswordHasher returns the default hasher for cfg: argon2id for new
// hashes, with bcrypt hashes still accepted on verify.
func NewPasswordHasher(cfg PasswordConfig) (PasswordHasher, error) {
	argon, err := password.NewArgon2(password.Config{
		Memory:           cfg.Memory,
		Time:             cfg.Time,
		Parallelism:      cfg.Parallelism,
		SaltLength:       cfg.SaltLength,
		KeyLength:        cfg.KeyLength,
		MaxPasswordBytes: cfg.MaxPasswordBytes,
	})
	if err != nil {
		return nil, err
	}
	return password.NewMigrating(argon), nil
}

func (b *Builder) resolveStore(cfg StoreConfig) (credential.Store, error) {
	if b.store != nil {
		return b.store, nil
	}
	switch cfg.Backend {
	case BackendRedis:
		if b.redis == nil {
			return nil, errors.New("redis backend requires a redis client")
		}
		return credential.NewRedisStore(b.redis, cfg.RedisPrefix, cfg.Retention), nil
	case BackendPostgres:
		if b.db == nil {
			return nil, errors.New("postgres backend requires a database handle")
		}
		return credential.NewPostgresStore(b.db), nil
	case BackendMemory:
		return credential.NewMemoryStore(), nil
	default:
		return nil, errors.New("unknown store backend")
	}
}
