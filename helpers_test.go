package authcore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/password"
)

var testSigningKey = bytes.Repeat([]byte("k"), 32)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// Millisecond precision keeps times stable across the Redis round trip.
func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli())}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

type backend struct {
	name string
	new  func(t *testing.T) credential.Store
}

func backends() []backend {
	return []backend{
		{name: "memory", new: func(*testing.T) credential.Store { return credential.NewMemoryStore() }},
		{name: "redis", new: func(t *testing.T) credential.Store {
			_, rdb := newTestRedis(t)
			return credential.NewRedisStore(rdb, "t", time.Hour)
		}},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.SigningMethod = "hs256"
	cfg.Token.PrivateKey = bytes.Clone(testSigningKey)
	cfg.Token.AccessTTL = 5 * time.Minute
	cfg.Token.RefreshTTL = time.Hour
	cfg.OTP.Pepper = []byte("pepper")
	cfg.OTP.MaxAttempts = 3
	cfg.OTP.PasswordResetTTL = 10 * time.Minute
	cfg.Store.Backend = BackendMemory
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

func newTestSigner(t *testing.T, clock *fakeClock) *jwt.Manager {
	t.Helper()
	m, err := jwt.NewManager(jwt.Config{
		AccessTTL:     5 * time.Minute,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    testSigningKey,
		Now:           clock.Now,
	})
	if err != nil {
		t.Fatalf("jwt manager: %v", err)
	}
	return m
}

func newTestTokens(t *testing.T, store credential.Store, clock *fakeClock, cfg TokenConfig, opts ...Option) *TokenService {
	t.Helper()
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = time.Hour
	}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	svc, err := NewTokenService(store, newTestSigner(t, clock), cfg, opts...)
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	return svc
}

func newTestHasher(t *testing.T) *password.Argon2 {
	t.Helper()
	h, err := password.NewArgon2(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	return h
}

// memoryUsers implements UserLookup and AccountMutator.
type memoryUsers struct {
	mu           sync.Mutex
	byID         map[string]UserRecord
	byIdentifier map[string]string
	err          error
	// activateErr fails the next ActivateSubscription call only.
	activateErr error
}

func newMemoryUsers(users ...UserRecord) *memoryUsers {
	m := &memoryUsers{
		byID:         make(map[string]UserRecord),
		byIdentifier: make(map[string]string),
	}
	for _, u := range users {
		m.byID[u.UserID] = u
		m.byIdentifier[u.Identifier] = u.UserID
	}
	return m
}

func (m *memoryUsers) FindByID(_ context.Context, userID string) (UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return UserRecord{}, m.err
	}
	u, ok := m.byID[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return u, nil
}

func (m *memoryUsers) FindByIdentifier(ctx context.Context, identifier string) (UserRecord, error) {
	m.mu.Lock()
	id, ok := m.byIdentifier[identifier]
	m.mu.Unlock()
	if !ok {
		if m.err != nil {
			return UserRecord{}, m.err
		}
		return UserRecord{}, ErrUserNotFound
	}
	return m.FindByID(ctx, id)
}

func (m *memoryUsers) ReplacePasswordHash(_ context.Context, userID, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordHash = newHash
	m.byID[userID] = u
	return nil
}

func (m *memoryUsers) ActivateSubscription(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.activateErr; err != nil {
		m.activateErr = nil
		return err
	}
	u, ok := m.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.SubscriptionActive = true
	m.byID[userID] = u
	return nil
}

func (m *memoryUsers) set(u UserRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[u.UserID] = u
	m.byIdentifier[u.Identifier] = u.UserID
}

func (m *memoryUsers) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// captureNotifier records every message it is asked to send.
type captureNotifier struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (n *captureNotifier) Send(_ context.Context, msg Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return n.err
}

func (n *captureNotifier) last(t *testing.T) Message {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.msgs) == 0 {
		t.Fatalf("no message was sent")
	}
	return n.msgs[len(n.msgs)-1]
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

// blockingStore waits for the context on every rotation.
type blockingStore struct {
	credential.Store
}

func (blockingStore) RotateRefreshRecord(ctx context.Context, _ string, _, _ [32]byte, _, _ time.Time) (*credential.RefreshRecord, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

var errBackendDown = errors.New("backend down")

// flakyRevokeStore fails the next n RevokeAllForOwner calls with an outage.
type flakyRevokeStore struct {
	credential.Store
	failures atomic.Int32
}

func (s *flakyRevokeStore) RevokeAllForOwner(ctx context.Context, owner string) error {
	if s.failures.Add(-1) >= 0 {
		return fmt.Errorf("%w: connection reset", credential.ErrUnavailable)
	}
	return s.Store.RevokeAllForOwner(ctx, owner)
}
