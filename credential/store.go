package credential

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for the requested key.
	ErrNotFound = errors.New("credential record not found")
	// ErrUnavailable wraps every backend failure, including context deadlines.
	ErrUnavailable = errors.New("credential store unavailable")
	// ErrRefreshHashMismatch is returned by RotateRefreshRecord when the presented hash is not the stored one.
	ErrRefreshHashMismatch = errors.New("refresh hash mismatch")
	// ErrRefreshRevoked is returned by RotateRefreshRecord when the owner's record was revoked.
	ErrRefreshRevoked = errors.New("refresh record revoked")
	// ErrRefreshExpired is returned by RotateRefreshRecord when the owner's record is past expiry.
	ErrRefreshExpired = errors.New("refresh record expired")
	// ErrChallengeConsumed is returned by ConsumeChallenge when the challenge was already used.
	ErrChallengeConsumed = errors.New("challenge already consumed")
	// ErrChallengeAttemptsExceeded is returned by RecordChallengeFailure when the challenge got burned.
	ErrChallengeAttemptsExceeded = errors.New("challenge attempts exceeded")
	// ErrRecordCorrupt is returned when a stored record cannot be decoded.
	ErrRecordCorrupt = errors.New("credential record corrupt")
	// ErrInvalidRecord is returned for records a backend refuses to store.
	// It is a caller bug, never an outage.
	ErrInvalidRecord = errors.New("credential record invalid")
)

// Store is the persistence contract for refresh and challenge state.
//
// Every write that replaces a prior record is atomic with respect to concurrent
// writers for the same owner: two concurrent issuances never both survive.
type Store interface {
	// PutRefreshRecord stores rec and supersedes any record of the same owner.
	// The store assigns the version: one more than the superseded record's,
	// or 1. rec.Version is set to the stored value.
	PutRefreshRecord(ctx context.Context, rec *RefreshRecord, ttl time.Duration) error
	// GetRefreshRecord returns the owner's record or ErrNotFound.
	GetRefreshRecord(ctx context.Context, owner string) (*RefreshRecord, error)
	// RotateRefreshRecord swaps presented for next in one compare-and-swap step.
	// A zero nextExpiresAt keeps the current expiry. On mismatch nothing is mutated.
	RotateRefreshRecord(ctx context.Context, owner string, presented, next [32]byte, now, nextExpiresAt time.Time) (*RefreshRecord, error)
	// RevokeAllForOwner marks the owner's refresh state revoked. Idempotent.
	RevokeAllForOwner(ctx context.Context, owner string) error

	// PutChallenge stores rec and deletes every prior challenge of the same owner and type.
	PutChallenge(ctx context.Context, rec *ChallengeRecord, ttl time.Duration) error
	// GetActiveChallenge returns the latest challenge for owner and type, consumed or not.
	GetActiveChallenge(ctx context.Context, owner string, typ ChallengeType) (*ChallengeRecord, error)
	// ConsumeChallenge flips the challenge to consumed exactly once.
	ConsumeChallenge(ctx context.Context, id string) error
	// ReleaseChallenge reverts a consume whose follow-up work failed so the
	// same code verifies again. ErrNotFound if the challenge is gone.
	ReleaseChallenge(ctx context.Context, id string) error
	// RecordChallengeFailure counts a wrong code and burns the challenge at maxAttempts.
	RecordChallengeFailure(ctx context.Context, id string, maxAttempts int) (int, error)
}

// Sweeper is implemented by backends whose records do not expire on their own.
type Sweeper interface {
	// SweepExpired deletes records whose expiry is before cutoff and returns how many went.
	SweepExpired(ctx context.Context, cutoff time.Time) (int, error)
}

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
