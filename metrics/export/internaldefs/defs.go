package internaldefs

import (
	"github.com/MrEthical07/authcore"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one latency histogram for export.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in output order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful password logins."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Rejected password logins."},
	{ID: authcore.MetricTokenIssued, Name: "authcore_token_issued_total", Help: "Credential pairs issued."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh token rotations."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Rejected refresh token rotations."},
	{ID: authcore.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Rotated refresh tokens presented again."},
	{ID: authcore.MetricRevokeAll, Name: "authcore_revoke_all_total", Help: "Owner-wide refresh revocations."},
	{ID: authcore.MetricAccessVerifyFailure, Name: "authcore_access_verify_failure_total", Help: "Access tokens that failed verification."},
	{ID: authcore.MetricChallengeIssued, Name: "authcore_challenge_issued_total", Help: "Challenge codes issued."},
	{ID: authcore.MetricChallengeVerified, Name: "authcore_challenge_verified_total", Help: "Challenge codes verified and consumed."},
	{ID: authcore.MetricChallengeMismatch, Name: "authcore_challenge_mismatch_total", Help: "Wrong or unknown challenge codes."},
	{ID: authcore.MetricChallengeExpired, Name: "authcore_challenge_expired_total", Help: "Challenge codes presented after expiry."},
	{ID: authcore.MetricChallengeReplay, Name: "authcore_challenge_replay_total", Help: "Challenge codes presented after consumption."},
	{ID: authcore.MetricChallengeBurned, Name: "authcore_challenge_burned_total", Help: "Challenges invalidated by the attempt cap."},
	{ID: authcore.MetricPasswordResetRequest, Name: "authcore_password_reset_request_total", Help: "Password reset requests."},
	{ID: authcore.MetricPasswordResetConfirmed, Name: "authcore_password_reset_confirmed_total", Help: "Completed password resets."},
	{ID: authcore.MetricSubscriptionActivated, Name: "authcore_subscription_activated_total", Help: "Completed subscription activations."},
	{ID: authcore.MetricLogout, Name: "authcore_logout_total", Help: "Logout operations."},
	{ID: authcore.MetricGateRejected, Name: "authcore_gate_rejected_total", Help: "Requests rejected by the gate."},
	{ID: authcore.MetricPolicyDenied, Name: "authcore_policy_denied_total", Help: "Authorization checks denied by policy."},
	{ID: authcore.MetricPolicyReload, Name: "authcore_policy_reload_total", Help: "Successful policy reloads."},
	{ID: authcore.MetricPolicyReloadFailure, Name: "authcore_policy_reload_failure_total", Help: "Failed policy reloads."},
	{ID: authcore.MetricStoreUnavailable, Name: "authcore_store_unavailable_total", Help: "Store or user lookup calls that failed."},
	{ID: authcore.MetricNotifyFailure, Name: "authcore_notify_failure_total", Help: "Challenge notifications that could not be delivered."},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricAuthenticateLatency, Name: "authcore_authenticate_latency_seconds", Help: "Gate authentication latency."},
	{ID: authcore.MetricRotateLatency, Name: "authcore_rotate_latency_seconds", Help: "Refresh rotation latency."},
}

// AuditDropped names the dispatcher drop counter.
var AuditDropped = CounterDef{
	Name: "authcore_audit_dropped_total",
	Help: "Audit events dropped by dispatcher backpressure.",
}

// HistogramBounds are the upper bucket bounds in seconds.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix are HistogramBounds made safe for instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
