package authcore

import (
	"context"
	"crypto/subtle"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/internal"
)

// ChallengeService issues and verifies single-use codes.
//
// Only an HMAC of the code is stored. The hash covers owner and challenge
// type, so a code issued for one purpose never verifies for another.
type ChallengeService struct {
	store credential.Store
	cfg   OTPConfig
	in    *instruments
}

func NewChallengeService(store credential.Store, cfg OTPConfig, opts ...Option) (*ChallengeService, error) {
	if store == nil {
		return nil, errors.New("challenge service requires a credential store")
	}
	switch cfg.Alphabet {
	case "", AlphabetNumeric:
		cfg.Alphabet = AlphabetNumeric
		if cfg.Digits < 6 || cfg.Digits > 10 {
			return nil, errors.New("numeric codes require 6 to 10 digits")
		}
	case AlphabetAlphanumeric:
		if cfg.Digits < 6 || cfg.Digits > 16 {
			return nil, errors.New("alphanumeric codes require 6 to 16 characters")
		}
	default:
		return nil, errors.New("unsupported code alphabet")
	}
	cfg.Pepper = cloneBytes(cfg.Pepper)

	return &ChallengeService{
		store: store,
		cfg:   cfg,
		in:    newInstruments(opts...),
	}, nil
}

// Generate creates a challenge of typ for owner and returns the plaintext
// code. Any earlier challenge of the same owner and type stops verifying.
// A non-positive ttl uses the configured lifetime for typ.
func (s *ChallengeService) Generate(ctx context.Context, owner string, typ ChallengeType, ttl time.Duration) (string, error) {
	if !typ.Valid() {
		return "", errors.New("invalid challenge type")
	}
	if owner == "" {
		return "", errors.New("challenge owner is empty")
	}
	if ttl <= 0 {
		ttl = s.cfg.TTLFor(typ)
	}
	if ttl <= 0 {
		return "", errors.New("challenge ttl must be > 0")
	}

	code, err := s.newCode()
	if err != nil {
		return "", err
	}

	now := s.in.now()
	rec := &credential.ChallengeRecord{
		ID:        uuid.NewString(),
		Owner:     owner,
		Type:      typ,
		CodeHash:  internal.HashOTP(s.cfg.Pepper, owner, typ.String(), code),
		ExpiresAt: now.Add(ttl),
	}

	sctx, cancel := s.in.storeContext(ctx)
	defer cancel()
	if err := s.store.PutChallenge(sctx, rec, ttl); err != nil {
		return "", s.in.credentialFailure("put challenge", err)
	}

	s.in.inc(MetricChallengeIssued)
	s.in.emitAudit(ctx, auditEventChallengeIssued, owner, typ, nil, nil)
	return code, nil
}

func (s *ChallengeService) newCode() (string, error) {
	if s.cfg.Alphabet == AlphabetAlphanumeric {
		return internal.NewAlphanumericOTP(s.cfg.Digits)
	}
	return internal.NewOTP(s.cfg.Digits)
}

func (s *ChallengeService) normalize(code string) string {
	code = strings.TrimSpace(code)
	if s.cfg.Alphabet == AlphabetAlphanumeric {
		code = strings.ToUpper(code)
	}
	return code
}

// Verify checks code against the latest challenge of typ for owner and
// consumes it on success. Checks run in a fixed order: a missing challenge
// is a mismatch, then consumed, then expired, then the code itself.
func (s *ChallengeService) Verify(ctx context.Context, owner string, typ ChallengeType, code string) error {
	return s.Redeem(ctx, owner, typ, code, nil)
}

// Redeem verifies code like Verify and then runs apply while holding the
// consumed challenge. Concurrent redeemers of the same code see
// ErrChallengeAlreadyConsumed. When apply fails the challenge is released,
// so the same code can be presented again, and apply's error is returned.
func (s *ChallengeService) Redeem(ctx context.Context, owner string, typ ChallengeType, code string, apply func(context.Context) error) error {
	id, err := s.verify(ctx, owner, typ, code)
	if err != nil {
		switch {
		case errors.Is(err, ErrChallengeMismatch):
			s.in.inc(MetricChallengeMismatch)
		case errors.Is(err, ErrChallengeExpired):
			s.in.inc(MetricChallengeExpired)
		case errors.Is(err, ErrChallengeAlreadyConsumed):
			s.in.inc(MetricChallengeReplay)
		}
		s.in.emitAudit(ctx, auditEventChallengeRejected, owner, typ, err, nil)
		return err
	}

	if apply != nil {
		if err := apply(ctx); err != nil {
			s.release(ctx, owner, typ, id)
			return err
		}
	}

	s.in.inc(MetricChallengeVerified)
	s.in.emitAudit(ctx, auditEventChallengeVerified, owner, typ, nil, nil)
	return nil
}

// release reverts a consume. If that fails too the code stays spent and the
// user has to request a new one.
func (s *ChallengeService) release(ctx context.Context, owner string, typ ChallengeType, id string) {
	sctx, cancel := s.in.storeContext(ctx)
	defer cancel()
	if err := s.store.ReleaseChallenge(sctx, id); err != nil {
		s.in.logger.Warn("releasing challenge after failed redemption",
			zap.String("owner", owner),
			zap.Stringer("type", typ),
			zap.Error(err))
	}
}

// verify returns the ID of the consumed challenge.
func (s *ChallengeService) verify(ctx context.Context, owner string, typ ChallengeType, code string) (string, error) {
	if owner == "" || !typ.Valid() {
		return "", ErrChallengeMismatch
	}

	sctx, cancel := s.in.storeContext(ctx)
	defer cancel()

	rec, err := s.store.GetActiveChallenge(sctx, owner, typ)
	switch {
	case errors.Is(err, credential.ErrNotFound):
		return "", ErrChallengeMismatch
	case err != nil:
		return "", s.in.credentialFailure("get challenge", err)
	}

	if rec.Consumed {
		return "", ErrChallengeAlreadyConsumed
	}
	if rec.Expired(s.in.now()) {
		return "", ErrChallengeExpired
	}

	presented := internal.HashOTP(s.cfg.Pepper, owner, typ.String(), s.normalize(code))
	if subtle.ConstantTimeCompare(presented[:], rec.CodeHash[:]) != 1 {
		s.recordFailure(sctx, rec)
		return "", ErrChallengeMismatch
	}

	switch err := s.store.ConsumeChallenge(sctx, rec.ID); {
	case err == nil:
		return rec.ID, nil
	case errors.Is(err, credential.ErrChallengeConsumed):
		return "", ErrChallengeAlreadyConsumed
	case errors.Is(err, credential.ErrNotFound):
		// burned or superseded between read and consume
		return "", ErrChallengeMismatch
	default:
		return "", s.in.credentialFailure("consume challenge", err)
	}
}

// recordFailure counts a wrong code. The caller already answers with a
// mismatch, so store errors here are only logged.
func (s *ChallengeService) recordFailure(ctx context.Context, rec *credential.ChallengeRecord) {
	attempts, err := s.store.RecordChallengeFailure(ctx, rec.ID, s.cfg.MaxAttempts)
	switch {
	case err == nil, errors.Is(err, credential.ErrNotFound):
	case errors.Is(err, credential.ErrChallengeAttemptsExceeded):
		s.in.inc(MetricChallengeBurned)
		s.in.emitAudit(ctx, auditEventChallengeRejected, rec.Owner, rec.Type, ErrChallengeMismatch, func() map[string]string {
			return map[string]string{"burned": "true", "attempts": strconv.Itoa(attempts)}
		})
	default:
		s.in.logger.Warn("recording challenge failure",
			zap.String("owner", rec.Owner),
			zap.Stringer("type", rec.Type),
			zap.Error(err))
	}
}
