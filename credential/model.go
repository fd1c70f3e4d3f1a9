package credential

import (
	"fmt"
	"time"
)

// ChallengeType enumerates the out-of-band proofs a challenge can stand for.
type ChallengeType uint8

const (
	// ChallengePasswordReset proves control of the account's contact channel before a password change.
	ChallengePasswordReset ChallengeType = iota + 1
	// ChallengeSubscriptionActivation proves the owner before a subscription is switched on.
	ChallengeSubscriptionActivation
)

// String returns the stable key fragment used in storage and audit output.
func (t ChallengeType) String() string {
	switch t {
	case ChallengePasswordReset:
		return "password_reset"
	case ChallengeSubscriptionActivation:
		return "subscription_activation"
	default:
		return "unknown"
	}
}

// Valid reports whether t is one of the enumerated challenge types.
func (t ChallengeType) Valid() bool {
	return t == ChallengePasswordReset || t == ChallengeSubscriptionActivation
}

func parseChallengeType(s string) (ChallengeType, bool) {
	switch s {
	case "password_reset":
		return ChallengePasswordReset, true
	case "subscription_activation":
		return ChallengeSubscriptionActivation, true
	default:
		return 0, false
	}
}

// RefreshRecord is the server-side state of an owner's refresh token.
type RefreshRecord struct {
	Owner     string
	TokenHash [32]byte
	Version   uint32
	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool
}

// Expired reports whether the record is past its expiry at now.
func (r *RefreshRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// ChallengeRecord is the server-side state of a one-time code.
type ChallengeRecord struct {
	ID        string
	Owner     string
	Type      ChallengeType
	CodeHash  [32]byte
	ExpiresAt time.Time
	Consumed  bool
	Attempts  uint16
}

// Expired reports whether the challenge is past its expiry at now.
func (c *ChallengeRecord) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

const maxOwnerLength = 255

func validateOwner(owner string) error {
	if owner == "" {
		return fmt.Errorf("%w: owner is empty", ErrInvalidRecord)
	}
	if len(owner) > maxOwnerLength {
		return fmt.Errorf("%w: owner too long", ErrInvalidRecord)
	}
	return nil
}
