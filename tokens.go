package authcore

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/jwt"
)

// AccessClaims is the verified claim set of an access token.
type AccessClaims = jwt.AccessClaims

// TokenService issues, verifies, rotates and revokes credentials.
//
// Each owner has exactly one refresh record. Rotation is a compare-and-swap
// on that record, so of two concurrent rotations with the same token one
// wins and the other is treated as reuse, which revokes the owner.
type TokenService struct {
	store  credential.Store
	signer *jwt.Manager
	cfg    TokenConfig
	in     *instruments
}

// NewTokenService wires a TokenService. cfg.RefreshTTL must be positive;
// the access lifetime comes from signer.
func NewTokenService(store credential.Store, signer *jwt.Manager, cfg TokenConfig, opts ...Option) (*TokenService, error) {
	if store == nil {
		return nil, errors.New("token service requires a credential store")
	}
	if signer == nil {
		return nil, errors.New("token service requires a jwt manager")
	}
	if cfg.RefreshTTL <= 0 {
		return nil, errors.New("token service requires RefreshTTL > 0")
	}
	return &TokenService{
		store:  store,
		signer: signer,
		cfg:    cfg,
		in:     newInstruments(opts...),
	}, nil
}

// Issue starts a fresh credential pair for user and supersedes any refresh
// token the user already holds. The store assigns the token version in the
// same write, so concurrent logins of one owner never share a version.
func (s *TokenService) Issue(ctx context.Context, user UserRecord) (TokenPair, error) {
	owner := user.UserID
	if owner == "" {
		return TokenPair{}, ErrInvalidCredential
	}

	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := internal.EncodeRefreshToken(owner, secret)
	if err != nil {
		return TokenPair{}, ErrInvalidCredential
	}

	sctx, cancel := s.in.storeContext(ctx)
	defer cancel()

	now := s.in.now()
	rec := &credential.RefreshRecord{
		Owner:     owner,
		TokenHash: internal.HashRefreshSecret(secret),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.RefreshTTL),
	}
	if err := s.store.PutRefreshRecord(sctx, rec, s.cfg.RefreshTTL); err != nil {
		return TokenPair{}, s.in.credentialFailure("issue", err)
	}

	access, accessExp, err := s.signer.CreateAccess(owner, rec.Version)
	if err != nil {
		return TokenPair{}, err
	}

	s.in.inc(MetricTokenIssued)
	s.in.emitAudit(ctx, auditEventTokenIssued, owner, 0, nil, nil)

	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

// VerifyAccess checks signature and expiry only. It never touches the store.
func (s *TokenService) VerifyAccess(token string) (*AccessClaims, error) {
	claims, err := s.signer.ParseAccess(token)
	if err == nil {
		return claims, nil
	}

	s.in.inc(MetricAccessVerifyFailure)
	if errors.Is(err, jwt.ErrExpired) {
		return nil, ErrExpiredCredential
	}
	return nil, ErrInvalidCredential
}

// Rotate exchanges a refresh token for a new pair.
//
// A token whose hash no longer matches the stored record has already been
// rotated: the owner's refresh state is revoked and ErrRevokedCredential is
// returned, so the legitimately rotated token stops working as well.
func (s *TokenService) Rotate(ctx context.Context, refresh string) (TokenPair, error) {
	start := time.Now()
	defer s.in.observeSince(MetricRotateLatency, start)

	owner, secret, err := internal.DecodeRefreshToken(refresh)
	if err != nil {
		s.in.inc(MetricRefreshFailure)
		return TokenPair{}, ErrInvalidCredential
	}

	nextSecret, err := internal.NewRefreshSecret()
	if err != nil {
		return TokenPair{}, err
	}
	nextRefresh, err := internal.EncodeRefreshToken(owner, nextSecret)
	if err != nil {
		return TokenPair{}, ErrInvalidCredential
	}

	now := s.in.now()
	var nextExpiresAt time.Time
	if s.cfg.SlidingRefresh {
		nextExpiresAt = now.Add(s.cfg.RefreshTTL)
	}

	sctx, cancel := s.in.storeContext(ctx)
	rec, err := s.store.RotateRefreshRecord(
		sctx,
		owner,
		internal.HashRefreshSecret(secret),
		internal.HashRefreshSecret(nextSecret),
		now,
		nextExpiresAt,
	)
	cancel()
	if err != nil {
		return TokenPair{}, s.rotateFailure(ctx, owner, err)
	}

	access, accessExp, err := s.signer.CreateAccess(owner, rec.Version)
	if err != nil {
		s.in.logger.Error("access token signing failed after rotation",
			zap.String("owner", owner), zap.Error(err))
		return TokenPair{}, err
	}

	s.in.inc(MetricRefreshSuccess)
	s.in.emitAudit(ctx, auditEventRefreshRotated, owner, 0, nil, nil)

	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     nextRefresh,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

func (s *TokenService) rotateFailure(ctx context.Context, owner string, err error) error {
	var out error
	switch {
	case errors.Is(err, credential.ErrRefreshHashMismatch):
		return s.reuseDetected(ctx, owner)
	case errors.Is(err, credential.ErrNotFound):
		out = ErrInvalidCredential
	case errors.Is(err, credential.ErrRefreshRevoked):
		out = ErrRevokedCredential
	case errors.Is(err, credential.ErrRefreshExpired):
		out = ErrExpiredCredential
	default:
		out = s.in.credentialFailure("rotate", err)
	}

	s.in.inc(MetricRefreshFailure)
	s.in.emitAudit(ctx, auditEventRefreshRejected, owner, 0, out, nil)
	return out
}

func (s *TokenService) reuseDetected(ctx context.Context, owner string) error {
	s.in.inc(MetricRefreshReuseDetected)
	s.in.logger.Warn("refresh token reuse detected, revoking owner", zap.String("owner", owner))

	sctx, cancel := s.in.storeContext(ctx)
	defer cancel()
	if err := s.store.RevokeAllForOwner(sctx, owner); err != nil {
		out := s.in.credentialFailure("revoke after reuse", err)
		s.in.emitAudit(ctx, auditEventRefreshReuseDetected, owner, 0, out, nil)
		return out
	}

	s.in.emitAudit(ctx, auditEventRefreshReuseDetected, owner, 0, ErrRevokedCredential, nil)
	return ErrRevokedCredential
}

// RevokeAll invalidates every refresh token of owner. Access tokens already
// minted stay valid until they expire.
func (s *TokenService) RevokeAll(ctx context.Context, owner string) error {
	sctx, cancel := s.in.storeContext(ctx)
	defer cancel()

	if err := s.store.RevokeAllForOwner(sctx, owner); err != nil {
		return s.in.credentialFailure("revoke", err)
	}
	s.in.inc(MetricRevokeAll)
	s.in.emitAudit(ctx, auditEventRevokeAll, owner, 0, nil, nil)
	return nil
}
