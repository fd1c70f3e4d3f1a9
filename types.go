package authcore

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/credential"
	"github.com/MrEthical07/authcore/password"
)

// AccountStatus is the lifecycle state of a user account.
type AccountStatus uint8

const (
	AccountActive AccountStatus = iota
	AccountDisabled
	AccountDeleted
)

func (s AccountStatus) String() string {
	switch s {
	case AccountActive:
		return "active"
	case AccountDisabled:
		return "disabled"
	case AccountDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// UserRecord is the account view the engine needs. The engine never writes
// it directly; mutations go through [AccountMutator].
type UserRecord struct {
	UserID             string
	Identifier         string
	PasswordHash       string
	Roles              []string
	Status             AccountStatus
	SubscriptionActive bool
}

// UserLookup resolves principals. Both methods return [ErrUserNotFound]
// when no account matches; any other error is treated as a backend outage.
type UserLookup interface {
	FindByID(ctx context.Context, userID string) (UserRecord, error)
	FindByIdentifier(ctx context.Context, identifier string) (UserRecord, error)
}

// AccountMutator applies the account changes that follow a verified challenge.
type AccountMutator interface {
	ReplacePasswordHash(ctx context.Context, userID, newHash string) error
	ActivateSubscription(ctx context.Context, userID string) error
}

// PasswordHasher is satisfied by [password.Argon2] and [password.Migrating].
type PasswordHasher = password.Hasher

// ChallengeType re-exports the credential challenge kinds.
type ChallengeType = credential.ChallengeType

const (
	ChallengePasswordReset          = credential.ChallengePasswordReset
	ChallengeSubscriptionActivation = credential.ChallengeSubscriptionActivation
)

// TokenPair is what Issue and Rotate hand back to the client.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Identity is the authenticated principal attached to a request context.
type Identity struct {
	UserID             string
	Roles              []string
	TokenVersion       uint32
	SubscriptionActive bool
}

// Permission names one action on one resource.
type Permission struct {
	Resource string
	Action   string
}

func (p Permission) String() string {
	return p.Resource + ":" + p.Action
}
