package authcore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/credential"
)

func newTestChallenges(t *testing.T, store credential.Store, clock *fakeClock, cfg OTPConfig, opts ...Option) *ChallengeService {
	t.Helper()
	if cfg.Digits == 0 {
		cfg.Digits = 6
	}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	svc, err := NewChallengeService(store, cfg, opts...)
	if err != nil {
		t.Fatalf("challenge service: %v", err)
	}
	return svc
}

// wrongCode returns a code of the same shape that differs from code.
func wrongCode(code string) string {
	if code[0] == '0' {
		return "1" + code[1:]
	}
	return "0" + code[1:]
}

func TestChallengeSingleUse(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			clock := newFakeClock()
			svc := newTestChallenges(t, b.new(t), clock, OTPConfig{Pepper: []byte("p")})
			ctx := context.Background()

			code, err := svc.Generate(ctx, "u1", ChallengePasswordReset, 10*time.Minute)
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			if len(code) != 6 {
				t.Fatalf("expected 6 digit code, got %q", code)
			}

			if err := svc.Verify(ctx, "u1", ChallengePasswordReset, code); err != nil {
				t.Fatalf("verify: %v", err)
			}
			if err := svc.Verify(ctx, "u1", ChallengePasswordReset, code); !errors.Is(err, ErrChallengeAlreadyConsumed) {
				t.Fatalf("expected ErrChallengeAlreadyConsumed, got %v", err)
			}
		})
	}
}

func TestChallengeNewerSupersedesOlder(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			clock := newFakeClock()
			svc := newTestChallenges(t, b.new(t), clock, OTPConfig{})
			ctx := context.Background()

			old, err := svc.Generate(ctx, "u1", ChallengePasswordReset, 10*time.Minute)
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			var fresh string
			for fresh == "" || fresh == old {
				fresh, err = svc.Generate(ctx, "u1", ChallengePasswordReset, 10*time.Minute)
				if err != nil {
					t.Fatalf("generate: %v", err)
				}
			}

			if err := svc.Verify(ctx, "u1", ChallengePasswordReset, old); !errors.Is(err, ErrChallengeMismatch) {
				t.Fatalf("old code should no longer verify, got %v", err)
			}
			if err := svc.Verify(ctx, "u1", ChallengePasswordReset, fresh); err != nil {
				t.Fatalf("fresh code should verify: %v", err)
			}
		})
	}
}

func TestChallengeExpiredRegardlessOfCode(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			clock := newFakeClock()
			svc := newTestChallenges(t, b.new(t), clock, OTPConfig{})
			ctx := context.Background()

			code, err := svc.Generate(ctx, "u1", ChallengeSubscriptionActivation, time.Minute)
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			clock.Advance(time.Minute)

			if err := svc.Verify(ctx, "u1", ChallengeSubscriptionActivation, code); !errors.Is(err, ErrChallengeExpired) {
				t.Fatalf("correct code: expected ErrChallengeExpired, got %v", err)
			}
			if err := svc.Verify(ctx, "u1", ChallengeSubscriptionActivation, wrongCode(code)); !errors.Is(err, ErrChallengeExpired) {
				t.Fatalf("wrong code: expected ErrChallengeExpired, got %v", err)
			}
		})
	}
}

func TestChallengeBurnedAfterMaxAttempts(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			clock := newFakeClock()
			metrics := NewMetrics(MetricsConfig{Enabled: true})
			svc := newTestChallenges(t, b.new(t), clock, OTPConfig{MaxAttempts: 3}, WithMetrics(metrics))
			ctx := context.Background()

			code, err := svc.Generate(ctx, "u1", ChallengePasswordReset, 10*time.Minute)
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			for i := 0; i < 3; i++ {
				if err := svc.Verify(ctx, "u1", ChallengePasswordReset, wrongCode(code)); !errors.Is(err, ErrChallengeMismatch) {
					t.Fatalf("attempt %d: expected ErrChallengeMismatch, got %v", i+1, err)
				}
			}
			if err := svc.Verify(ctx, "u1", ChallengePasswordReset, code); !errors.Is(err, ErrChallengeMismatch) {
				t.Fatalf("burned challenge should not verify, got %v", err)
			}
			if got := metrics.Value(MetricChallengeBurned); got != 1 {
				t.Fatalf("expected one burned challenge, got %d", got)
			}
		})
	}
}

func TestChallengeBoundToOwnerAndType(t *testing.T) {
	clock := newFakeClock()
	svc := newTestChallenges(t, credential.NewMemoryStore(), clock, OTPConfig{})
	ctx := context.Background()

	code, err := svc.Generate(ctx, "u1", ChallengePasswordReset, 10*time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if err := svc.Verify(ctx, "u2", ChallengePasswordReset, code); !errors.Is(err, ErrChallengeMismatch) {
		t.Fatalf("other owner: expected ErrChallengeMismatch, got %v", err)
	}
	if err := svc.Verify(ctx, "u1", ChallengeSubscriptionActivation, code); !errors.Is(err, ErrChallengeMismatch) {
		t.Fatalf("other type: expected ErrChallengeMismatch, got %v", err)
	}
	if err := svc.Verify(ctx, "u1", ChallengePasswordReset, code); err != nil {
		t.Fatalf("original binding should still verify: %v", err)
	}
}

func TestChallengeConcurrentVerifySingleWinner(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			clock := newFakeClock()
			svc := newTestChallenges(t, b.new(t), clock, OTPConfig{})
			ctx := context.Background()

			code, err := svc.Generate(ctx, "u1", ChallengePasswordReset, 10*time.Minute)
			if err != nil {
				t.Fatalf("generate: %v", err)
			}

			const workers = 16
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				wins     int
				consumed int
			)
			start := make(chan struct{})
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					err := svc.Verify(ctx, "u1", ChallengePasswordReset, code)
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						wins++
					case errors.Is(err, ErrChallengeAlreadyConsumed):
						consumed++
					default:
						t.Errorf("unexpected verify error: %v", err)
					}
				}()
			}
			close(start)
			wg.Wait()

			if wins != 1 || consumed != workers-1 {
				t.Fatalf("expected 1 winner and %d replays, got %d and %d", workers-1, wins, consumed)
			}
		})
	}
}

func TestChallengeAlphanumericCodes(t *testing.T) {
	clock := newFakeClock()
	svc := newTestChallenges(t, credential.NewMemoryStore(), clock, OTPConfig{
		Alphabet: AlphabetAlphanumeric,
		Digits:   8,
	})
	ctx := context.Background()

	code, err := svc.Generate(ctx, "u1", ChallengeSubscriptionActivation, time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(code) != 8 || strings.ToUpper(code) != code {
		t.Fatalf("unexpected code %q", code)
	}
	if err := svc.Verify(ctx, "u1", ChallengeSubscriptionActivation, " "+strings.ToLower(code)+" "); err != nil {
		t.Fatalf("case-insensitive verify failed: %v", err)
	}
}

func TestChallengeMissingAndInvalidInput(t *testing.T) {
	clock := newFakeClock()
	svc := newTestChallenges(t, credential.NewMemoryStore(), clock, OTPConfig{
		PasswordResetTTL: 5 * time.Minute,
	})
	ctx := context.Background()

	if err := svc.Verify(ctx, "nobody", ChallengePasswordReset, "123456"); !errors.Is(err, ErrChallengeMismatch) {
		t.Fatalf("missing challenge: expected ErrChallengeMismatch, got %v", err)
	}
	if _, err := svc.Generate(ctx, "u1", ChallengeType(99), time.Minute); err == nil {
		t.Fatalf("expected error for invalid type")
	}
	if _, err := svc.Generate(ctx, "", ChallengePasswordReset, time.Minute); err == nil {
		t.Fatalf("expected error for empty owner")
	}
	if _, err := svc.Generate(ctx, "u1", ChallengeSubscriptionActivation, 0); err == nil {
		t.Fatalf("expected error when no ttl is configured for the type")
	}

	// A zero ttl falls back to the configured lifetime.
	code, err := svc.Generate(ctx, "u1", ChallengePasswordReset, 0)
	if err != nil {
		t.Fatalf("generate with default ttl: %v", err)
	}
	clock.Advance(5 * time.Minute)
	if err := svc.Verify(ctx, "u1", ChallengePasswordReset, code); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected configured ttl to apply, got %v", err)
	}
}

func TestChallengeStoreUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	clock := newFakeClock()
	svc := newTestChallenges(t, credential.NewRedisStore(rdb, "t", 0), clock, OTPConfig{})
	mr.Close()

	ctx := context.Background()
	if _, err := svc.Generate(ctx, "u1", ChallengePasswordReset, time.Minute); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("generate: expected ErrStoreUnavailable, got %v", err)
	}
	if err := svc.Verify(ctx, "u1", ChallengePasswordReset, "123456"); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("verify: expected ErrStoreUnavailable, got %v", err)
	}
}

func TestChallengeRedeemReleasesOnFailure(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			clock := newFakeClock()
			metrics := NewMetrics(MetricsConfig{Enabled: true})
			svc := newTestChallenges(t, b.new(t), clock, OTPConfig{MaxAttempts: 3}, WithMetrics(metrics))
			ctx := context.Background()

			code, err := svc.Generate(ctx, "u1", ChallengePasswordReset, time.Minute)
			if err != nil {
				t.Fatalf("generate: %v", err)
			}

			applyErr := errors.New("side effect failed")
			err = svc.Redeem(ctx, "u1", ChallengePasswordReset, code, func(context.Context) error { return applyErr })
			if !errors.Is(err, applyErr) {
				t.Fatalf("expected apply error, got %v", err)
			}
			if metrics.Value(MetricChallengeVerified) != 0 {
				t.Fatalf("failed redemption must not count as verified")
			}

			applied := 0
			err = svc.Redeem(ctx, "u1", ChallengePasswordReset, code, func(context.Context) error {
				applied++
				return nil
			})
			if err != nil {
				t.Fatalf("released code should redeem: %v", err)
			}
			if applied != 1 {
				t.Fatalf("apply ran %d times", applied)
			}
			if err := svc.Verify(ctx, "u1", ChallengePasswordReset, code); !errors.Is(err, ErrChallengeAlreadyConsumed) {
				t.Fatalf("expected ErrChallengeAlreadyConsumed, got %v", err)
			}
			if metrics.Value(MetricChallengeVerified) != 1 {
				t.Fatalf("expected one verified challenge, got %d", metrics.Value(MetricChallengeVerified))
			}
		})
	}
}

func TestChallengeRejectedRecordIsNotRetryable(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			metrics := NewMetrics(MetricsConfig{Enabled: true})
			svc := newTestChallenges(t, b.new(t), newFakeClock(), OTPConfig{}, WithMetrics(metrics))

			_, err := svc.Generate(context.Background(), strings.Repeat("x", 300), ChallengePasswordReset, time.Minute)
			if err == nil {
				t.Fatalf("expected oversized owner to be rejected")
			}
			if IsRetryable(err) || errors.Is(err, ErrStoreUnavailable) {
				t.Fatalf("invalid record reported as outage: %v", err)
			}
			if !errors.Is(err, credential.ErrInvalidRecord) {
				t.Fatalf("expected ErrInvalidRecord, got %v", err)
			}
			if metrics.Value(MetricStoreUnavailable) != 0 {
				t.Fatalf("invalid record counted as store outage")
			}
		})
	}
}
