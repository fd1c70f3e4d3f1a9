package authcore

import (
	"context"
	"io"

	"go.uber.org/zap"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
)

type (
	// AuditEvent is one security-relevant outcome.
	AuditEvent     = internalaudit.Event
	AuditSink      = internalaudit.Sink
	NoOpSink       = internalaudit.NoOpSink
	ChannelSink    = internalaudit.ChannelSink
	JSONWriterSink = internalaudit.JSONWriterSink
	ZapSink        = internalaudit.ZapSink
)

func NewChannelSink(buffer int) *ChannelSink { return internalaudit.NewChannelSink(buffer) }

func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return internalaudit.NewJSONWriterSink(w) }

// NewZapSink routes audit events to logger under the "audit" name.
func NewZapSink(logger *zap.Logger) *ZapSink { return internalaudit.NewZapSink(logger) }

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventTokenIssued           = "token_issued"
	auditEventRefreshRotated        = "refresh_rotated"
	auditEventRefreshRejected       = "refresh_rejected"
	auditEventRefreshReuseDetected  = "refresh_reuse_detected"
	auditEventRevokeAll             = "revoke_all"
	auditEventChallengeIssued       = "challenge_issued"
	auditEventChallengeVerified     = "challenge_verified"
	auditEventChallengeRejected     = "challenge_rejected"
	auditEventPasswordResetRequest  = "password_reset_request"
	auditEventPasswordResetConfirm  = "password_reset_confirm"
	auditEventSubscriptionActivated = "subscription_activated"
	auditEventLogout                = "logout"
	auditEventAccessRejected        = "access_rejected"
	auditEventPolicyReload          = "policy_reload"
)

// auditErrorCode maps err to the stable code recorded in events.
func auditErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if kind := KindOf(err); kind != KindUnknown {
		return kind.String()
	}
	return "internal_error"
}

func (in *instruments) emitAudit(
	ctx context.Context,
	eventType string,
	owner string,
	challenge ChallengeType,
	err error,
	metadataBuilder func() map[string]string,
) {
	if in == nil || in.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: in.now().UTC(),
		EventType: eventType,
		Owner:     owner,
		IP:        clientIPFromContext(ctx),
		Success:   err == nil,
		Error:     auditErrorCode(err),
	}
	if challenge.Valid() {
		event.ChallengeType = challenge.String()
	}
	if metadataBuilder != nil {
		event.Metadata = metadataBuilder()
	}
	in.audit.Emit(ctx, event)
}
