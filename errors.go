package authcore

import "errors"

var (
	// ErrUnauthenticated is returned when no usable bearer credential was presented.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidCredential covers malformed, forged or unknown credentials, and
	// principals that no longer exist or are disabled.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrExpiredCredential is returned for access or refresh tokens past their expiry.
	ErrExpiredCredential = errors.New("expired credential")
	// ErrRevokedCredential is returned for revoked refresh tokens and when reuse
	// of a rotated refresh token is detected.
	ErrRevokedCredential = errors.New("revoked credential")
	ErrChallengeExpired  = errors.New("challenge expired")
	// ErrChallengeMismatch is returned when no challenge exists or the code is wrong.
	ErrChallengeMismatch        = errors.New("challenge mismatch")
	ErrChallengeAlreadyConsumed = errors.New("challenge already consumed")
	ErrPolicyDenied             = errors.New("policy denied")
	// ErrStoreUnavailable is the only retryable failure. Callers fail closed.
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrUserNotFound     = errors.New("user not found")
	ErrEngineNotReady   = errors.New("engine not initialized")
)

// ErrorKind classifies errors returned by this package so callers can switch
// exhaustively instead of chaining errors.Is.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	KindUnauthenticated
	KindInvalidCredential
	KindExpiredCredential
	KindRevokedCredential
	KindChallengeExpired
	KindChallengeMismatch
	KindChallengeAlreadyConsumed
	KindPolicyDenied
	KindStoreUnavailable
)

var kindErrors = [...]struct {
	kind ErrorKind
	err  error
	name string
}{
	{KindUnauthenticated, ErrUnauthenticated, "unauthenticated"},
	{KindInvalidCredential, ErrInvalidCredential, "invalid_credential"},
	{KindExpiredCredential, ErrExpiredCredential, "expired_credential"},
	{KindRevokedCredential, ErrRevokedCredential, "revoked_credential"},
	{KindChallengeExpired, ErrChallengeExpired, "challenge_expired"},
	{KindChallengeMismatch, ErrChallengeMismatch, "challenge_mismatch"},
	{KindChallengeAlreadyConsumed, ErrChallengeAlreadyConsumed, "challenge_already_consumed"},
	{KindPolicyDenied, ErrPolicyDenied, "policy_denied"},
	{KindStoreUnavailable, ErrStoreUnavailable, "store_unavailable"},
}

func (k ErrorKind) String() string {
	for _, e := range kindErrors {
		if e.kind == k {
			return e.name
		}
	}
	return "unknown"
}

// KindOf reports the kind of err. Errors outside the closed set, including
// nil, map to KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	for _, e := range kindErrors {
		if errors.Is(err, e.err) {
			return e.kind
		}
	}
	return KindUnknown
}

// IsRetryable reports whether err is transient. Only store outages qualify;
// every credential or policy outcome is final.
func IsRetryable(err error) bool {
	return KindOf(err) == KindStoreUnavailable
}
