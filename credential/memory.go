package credential

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"
)

type challengeKey struct {
	owner string
	typ   ChallengeType
}

// MemoryStore is an in-process [Store]. It holds everything behind one mutex,
// which makes every replace, rotate and consume trivially atomic.
type MemoryStore struct {
	mu         sync.Mutex
	refresh    map[string]RefreshRecord
	challenges map[string]ChallengeRecord
	latest     map[challengeKey]string
}

// NewMemoryStore returns an empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		refresh:    make(map[string]RefreshRecord),
		challenges: make(map[string]ChallengeRecord),
		latest:     make(map[challengeKey]string),
	}
}

func (s *MemoryStore) PutRefreshRecord(ctx context.Context, rec *RefreshRecord, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}
	if err := validateOwner(rec.Owner); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Version = 1
	if prev, ok := s.refresh[rec.Owner]; ok {
		rec.Version = prev.Version + 1
	}
	s.refresh[rec.Owner] = *rec
	return nil
}

func (s *MemoryStore) GetRefreshRecord(ctx context.Context, owner string) (*RefreshRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.refresh[owner]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) RotateRefreshRecord(
	ctx context.Context,
	owner string,
	presented, next [32]byte,
	now, nextExpiresAt time.Time,
) (*RefreshRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.refresh[owner]
	switch {
	case !ok:
		return nil, ErrNotFound
	case rec.Revoked:
		return nil, ErrRefreshRevoked
	case rec.Expired(now):
		return nil, ErrRefreshExpired
	case subtle.ConstantTimeCompare(rec.TokenHash[:], presented[:]) != 1:
		return nil, ErrRefreshHashMismatch
	}

	rec.TokenHash = next
	rec.Version++
	rec.IssuedAt = now
	if !nextExpiresAt.IsZero() {
		rec.ExpiresAt = nextExpiresAt
	}
	s.refresh[owner] = rec
	return &rec, nil
}

func (s *MemoryStore) RevokeAllForOwner(ctx context.Context, owner string) error {
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.refresh[owner]; ok {
		rec.Revoked = true
		s.refresh[owner] = rec
	}
	return nil
}

func (s *MemoryStore) PutChallenge(ctx context.Context, rec *ChallengeRecord, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}
	if err := validateOwner(rec.Owner); err != nil {
		return err
	}

	key := challengeKey{owner: rec.Owner, typ: rec.Type}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.latest[key]; ok {
		delete(s.challenges, prev)
	}
	s.challenges[rec.ID] = *rec
	s.latest[key] = rec.ID
	return nil
}

func (s *MemoryStore) GetActiveChallenge(ctx context.Context, owner string, typ ChallengeType) (*ChallengeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.latest[challengeKey{owner: owner, typ: typ}]
	if !ok {
		return nil, ErrNotFound
	}
	rec, ok := s.challenges[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) ConsumeChallenge(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.challenges[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Consumed {
		return ErrChallengeConsumed
	}
	rec.Consumed = true
	s.challenges[id] = rec
	return nil
}

func (s *MemoryStore) ReleaseChallenge(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return unavailable(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.challenges[id]
	if !ok {
		return ErrNotFound
	}
	rec.Consumed = false
	s.challenges[id] = rec
	return nil
}

func (s *MemoryStore) RecordChallengeFailure(ctx context.Context, id string, maxAttempts int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.challenges[id]
	if !ok {
		return 0, ErrNotFound
	}
	rec.Attempts++
	if maxAttempts > 0 && int(rec.Attempts) >= maxAttempts {
		s.dropChallengeLocked(rec)
		return int(rec.Attempts), ErrChallengeAttemptsExceeded
	}
	s.challenges[id] = rec
	return int(rec.Attempts), nil
}

// SweepExpired implements [Sweeper].
func (s *MemoryStore) SweepExpired(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for owner, rec := range s.refresh {
		if rec.ExpiresAt.Before(cutoff) {
			delete(s.refresh, owner)
			removed++
		}
	}
	for _, rec := range s.challenges {
		if rec.ExpiresAt.Before(cutoff) {
			s.dropChallengeLocked(rec)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) dropChallengeLocked(rec ChallengeRecord) {
	delete(s.challenges, rec.ID)
	key := challengeKey{owner: rec.Owner, typ: rec.Type}
	if s.latest[key] == rec.ID {
		delete(s.latest, key)
	}
}
