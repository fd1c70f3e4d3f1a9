package authcore

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// RequestPasswordReset sends a reset code to the account behind identifier.
//
// It returns nil for unknown or inactive accounts so callers cannot discover
// which identifiers exist. Only a lookup or store outage is reported.
func (e *Engine) RequestPasswordReset(ctx context.Context, identifier string) error {
	if e == nil || e.challenges == nil {
		return ErrEngineNotReady
	}
	e.in.inc(MetricPasswordResetRequest)

	user, err := e.findByIdentifier(ctx, identifier)
	switch {
	case errors.Is(err, ErrUserNotFound):
		e.in.emitAudit(ctx, auditEventPasswordResetRequest, "", ChallengePasswordReset, nil, func() map[string]string {
			return map[string]string{"outcome": "unknown_identifier"}
		})
		return nil
	case err != nil:
		return err
	}
	if user.Status != AccountActive {
		e.in.emitAudit(ctx, auditEventPasswordResetRequest, user.UserID, ChallengePasswordReset, nil, func() map[string]string {
			return map[string]string{"outcome": "inactive"}
		})
		return nil
	}

	code, err := e.challenges.Generate(ctx, user.UserID, ChallengePasswordReset, 0)
	if err != nil {
		return err
	}
	e.notify(ctx, user.UserID, Message{
		Channel:   ChannelEmail,
		Recipient: user.Identifier,
		Subject:   "Password reset code",
		Body:      code,
	})
	e.in.emitAudit(ctx, auditEventPasswordResetRequest, user.UserID, ChallengePasswordReset, nil, nil)
	return nil
}

// ConfirmPasswordReset verifies code, stores the hash of newPassword and
// revokes every refresh token of the account. If either write fails the code
// stays valid and the caller may retry with it.
//
// An unknown identifier reports ErrChallengeMismatch, the same as a wrong code.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, identifier, code, newPassword string) error {
	if e == nil || e.challenges == nil || e.accounts == nil {
		return ErrEngineNotReady
	}

	err := e.confirmPasswordReset(ctx, identifier, code, newPassword)
	if err != nil {
		e.in.emitAudit(ctx, auditEventPasswordResetConfirm, "", ChallengePasswordReset, err, nil)
		return err
	}
	e.in.inc(MetricPasswordResetConfirmed)
	return nil
}

func (e *Engine) confirmPasswordReset(ctx context.Context, identifier, code, newPassword string) error {
	user, err := e.findByIdentifier(ctx, identifier)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return ErrChallengeMismatch
	case err != nil:
		return err
	}

	// Hash before consuming so a rejected password leaves the code usable.
	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	err = e.challenges.Redeem(ctx, user.UserID, ChallengePasswordReset, code, func(ctx context.Context) error {
		sctx, cancel := e.in.storeContext(ctx)
		defer cancel()
		if err := e.accounts.ReplacePasswordHash(sctx, user.UserID, hash); err != nil {
			return e.in.storeFailure("replace password hash", err)
		}
		return e.tokens.RevokeAll(ctx, user.UserID)
	})
	if err != nil {
		return err
	}
	e.in.emitAudit(ctx, auditEventPasswordResetConfirm, user.UserID, ChallengePasswordReset, nil, nil)
	return nil
}

// RequestSubscriptionActivation sends an activation code to userID. It is a
// no-op for accounts whose subscription is already active.
func (e *Engine) RequestSubscriptionActivation(ctx context.Context, userID string) error {
	if e == nil || e.challenges == nil {
		return ErrEngineNotReady
	}

	user, err := e.findByID(ctx, userID)
	switch {
	case errors.Is(err, ErrUserNotFound):
		return ErrInvalidCredential
	case err != nil:
		return err
	}
	if user.Status != AccountActive {
		return ErrInvalidCredential
	}
	if user.SubscriptionActive {
		return nil
	}

	code, err := e.challenges.Generate(ctx, user.UserID, ChallengeSubscriptionActivation, 0)
	if err != nil {
		return err
	}
	e.notify(ctx, user.UserID, Message{
		Channel:   ChannelEmail,
		Recipient: user.Identifier,
		Subject:   "Subscription activation code",
		Body:      code,
	})
	return nil
}

// ConfirmSubscriptionActivation verifies code and marks the subscription
// active. The code stays valid if the account update fails.
func (e *Engine) ConfirmSubscriptionActivation(ctx context.Context, userID, code string) error {
	if e == nil || e.challenges == nil || e.accounts == nil {
		return ErrEngineNotReady
	}

	err := e.challenges.Redeem(ctx, userID, ChallengeSubscriptionActivation, code, func(ctx context.Context) error {
		sctx, cancel := e.in.storeContext(ctx)
		defer cancel()
		if err := e.accounts.ActivateSubscription(sctx, userID); err != nil {
			return e.in.storeFailure("activate subscription", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.in.inc(MetricSubscriptionActivated)
	e.in.emitAudit(ctx, auditEventSubscriptionActivated, userID, ChallengeSubscriptionActivation, nil, nil)
	return nil
}

// notify delivers msg without letting a delivery failure reach the caller.
func (e *Engine) notify(ctx context.Context, owner string, msg Message) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Send(ctx, msg); err != nil {
		e.in.inc(MetricNotifyFailure)
		e.in.logger.Warn("notification delivery failed",
			zap.String("owner", owner),
			zap.String("channel", string(msg.Channel)),
			zap.Error(err))
	}
}
