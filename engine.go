package authcore

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/permission"
)

// Engine composes the credential services with user lookup, password
// hashing and notification into the end-user flows. Build it with [Builder].
//
// All methods are safe for concurrent use.
type Engine struct {
	config     Config
	store      credential.Store
	tokens     *TokenService
	challenges *ChallengeService
	gate       *Gate
	policy     *permission.Engine
	users      UserLookup
	accounts   AccountMutator
	hasher     PasswordHasher
	notifier   Notifier
	in         *instruments
}

func (e *Engine) Tokens() *TokenService         { return e.tokens }
func (e *Engine) Challenges() *ChallengeService { return e.challenges }
func (e *Engine) Gate() *Gate                   { return e.gate }
func (e *Engine) Policy() *permission.Engine    { return e.policy }
func (e *Engine) Store() credential.Store       { return e.store }

// Close flushes pending audit events. The store and its connections belong
// to the caller and are left open.
func (e *Engine) Close() {
	if e == nil || e.in == nil {
		return
	}
	e.in.audit.Close()
}

// AuditDropped reports events lost to a full audit buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.in == nil {
		return 0
	}
	return e.in.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.in == nil {
		return (*Metrics)(nil).Snapshot()
	}
	return e.in.metrics.Snapshot()
}

// Login checks identifier and password and issues a credential pair.
// Unknown identifiers, wrong passwords and inactive accounts all yield
// ErrInvalidCredential.
func (e *Engine) Login(ctx context.Context, identifier, password string) (TokenPair, error) {
	if e == nil || e.tokens == nil {
		return TokenPair{}, ErrEngineNotReady
	}

	user, err := e.authenticatePassword(ctx, identifier, password)
	if err != nil {
		e.in.inc(MetricLoginFailure)
		e.in.emitAudit(ctx, auditEventLoginFailure, user.UserID, 0, err, nil)
		return TokenPair{}, err
	}

	pair, err := e.tokens.Issue(ctx, user)
	if err != nil {
		e.in.inc(MetricLoginFailure)
		e.in.emitAudit(ctx, auditEventLoginFailure, user.UserID, 0, err, nil)
		return TokenPair{}, err
	}

	e.in.inc(MetricLoginSuccess)
	e.in.emitAudit(ctx, auditEventLoginSuccess, user.UserID, 0, nil, nil)
	return pair, nil
}

func (e *Engine) authenticatePassword(ctx context.Context, identifier, password string) (UserRecord, error) {
	if identifier == "" || password == "" {
		return UserRecord{}, ErrInvalidCredential
	}

	user, err := e.findByIdentifier(ctx, identifier)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return UserRecord{}, ErrInvalidCredential
	case err != nil:
		return UserRecord{}, err
	}
	if user.Status != AccountActive {
		return user, ErrInvalidCredential
	}

	ok, err := e.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		e.in.logger.Warn("password verification failed", zap.String("user_id", user.UserID), zap.Error(err))
		return user, ErrInvalidCredential
	}
	if !ok {
		return user, ErrInvalidCredential
	}

	if e.config.Password.UpgradeOnLogin {
		e.upgradePasswordHash(ctx, user, password)
	}
	return user, nil
}

type rehasher interface {
	NeedsRehash(encodedHash string) (bool, error)
}

// upgradePasswordHash replaces legacy or under-parameterized hashes after a
// successful login. Failures are logged and never block the login.
func (e *Engine) upgradePasswordHash(ctx context.Context, user UserRecord, password string) {
	rh, ok := e.hasher.(rehasher)
	if !ok || e.accounts == nil {
		return
	}
	needs, err := rh.NeedsRehash(user.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.hasher.Hash(password)
	if err != nil {
		e.in.logger.Warn("password rehash failed", zap.String("user_id", user.UserID), zap.Error(err))
		return
	}
	if err := e.accounts.ReplacePasswordHash(ctx, user.UserID, hash); err != nil {
		e.in.logger.Warn("password hash upgrade not stored", zap.String("user_id", user.UserID), zap.Error(err))
	}
}

// Refresh rotates a refresh token. See [TokenService.Rotate].
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if e == nil || e.tokens == nil {
		return TokenPair{}, ErrEngineNotReady
	}
	return e.tokens.Rotate(ctx, refreshToken)
}

// Logout revokes every refresh token of userID.
func (e *Engine) Logout(ctx context.Context, userID string) error {
	if e == nil || e.tokens == nil {
		return ErrEngineNotReady
	}
	if err := e.tokens.RevokeAll(ctx, userID); err != nil {
		return err
	}
	e.in.inc(MetricLogout)
	e.in.emitAudit(ctx, auditEventLogout, userID, 0, nil, nil)
	return nil
}

func (e *Engine) Authenticate(ctx context.Context, authorization string) (context.Context, *Identity, error) {
	if e == nil || e.gate == nil {
		return ctx, nil, ErrEngineNotReady
	}
	return e.gate.Authenticate(ctx, authorization)
}

func (e *Engine) Authorize(ctx context.Context, authorization string, perm Permission) (context.Context, *Identity, error) {
	if e == nil || e.gate == nil {
		return ctx, nil, ErrEngineNotReady
	}
	return e.gate.Authorize(ctx, authorization, perm)
}

// ReloadPolicy loads a policy set from src and publishes it. On failure
// the active set stays in place.
func (e *Engine) ReloadPolicy(ctx context.Context, src permission.Source) error {
	if e == nil || e.policy == nil {
		return ErrEngineNotReady
	}
	if err := e.policy.ReloadFrom(ctx, src); err != nil {
		e.in.inc(MetricPolicyReloadFailure)
		e.in.logger.Error("policy reload failed", zap.Error(err))
		e.in.emitAudit(ctx, auditEventPolicyReload, "", 0, err, nil)
		return err
	}
	e.in.inc(MetricPolicyReload)
	e.in.logger.Info("policy reloaded",
		zap.Uint64("version", e.policy.Version()),
		zap.Int("permissions", e.policy.Permissions()))
	e.in.emitAudit(ctx, auditEventPolicyReload, "", 0, nil, nil)
	return nil
}

func (e *Engine) findByIdentifier(ctx context.Context, identifier string) (UserRecord, error) {
	lctx, cancel := e.in.storeContext(ctx)
	defer cancel()

	user, err := e.users.FindByIdentifier(lctx, identifier)
	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, ErrUserNotFound):
		return UserRecord{}, ErrUserNotFound
	default:
		return UserRecord{}, e.in.storeFailure("find user", err)
	}
}

func (e *Engine) findByID(ctx context.Context, userID string) (UserRecord, error) {
	lctx, cancel := e.in.storeContext(ctx)
	defer cancel()

	user, err := e.users.FindByID(lctx, userID)
	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, ErrUserNotFound):
		return UserRecord{}, ErrUserNotFound
	default:
		return UserRecord{}, e.in.storeFailure("find user", err)
	}
}
