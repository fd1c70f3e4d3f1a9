package credential

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusMismatch int64 = 2
	rotateStatusRotated  int64 = 3
	rotateStatusRevoked  int64 = 5
)

const putRefreshScript = `
local ver = 1
local prev = tonumber(redis.call("HGET", KEYS[1], "ver") or "")
if prev then
  ver = prev + 1
end
redis.call("DEL", KEYS[1])
redis.call("HSET", KEYS[1],
  "owner", ARGV[1],
  "hash", ARGV[2],
  "ver", ver,
  "iat", ARGV[3],
  "exp", ARGV[4],
  "rev", ARGV[5])
redis.call("PEXPIRE", KEYS[1], ARGV[6])
return ver
`

var putRefreshLua = redis.NewScript(putRefreshScript)

// The hash comparison walks every byte so its duration does not depend on
// where the first difference is.
const rotateRefreshScript = `
local function same(a, b)
  if #a ~= #b then
    return false
  end
  local diff = 0
  for i = 1, #a do
    diff = diff + math.abs(string.byte(a, i) - string.byte(b, i))
  end
  return diff == 0
end

local rec = redis.call("HMGET", KEYS[1], "hash", "exp", "rev", "ver")
if not rec[1] then
  return {0}
end
if rec[3] == "1" then
  return {5}
end

local now = tonumber(ARGV[3])
local exp = tonumber(rec[2])
if exp <= now then
  return {1}
end
if not same(rec[1], ARGV[1]) then
  return {2}
end

local ver = tonumber(rec[4]) + 1
local next_exp = rec[2]
if ARGV[4] ~= "0" then
  next_exp = ARGV[4]
end

redis.call("HSET", KEYS[1], "hash", ARGV[2], "ver", ver, "iat", ARGV[3], "exp", next_exp)
redis.call("PEXPIRE", KEYS[1], tonumber(next_exp) - now + tonumber(ARGV[5]))
return {3, ver, now, tonumber(next_exp)}
`

var rotateRefreshLua = redis.NewScript(rotateRefreshScript)

const revokeRefreshScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  redis.call("HSET", KEYS[1], "rev", "1")
  return 1
end
return 0
`

var revokeRefreshLua = redis.NewScript(revokeRefreshScript)

const putChallengeScript = `
local prev = redis.call("GET", KEYS[1])
if prev then
  redis.call("DEL", ARGV[7] .. prev)
end
redis.call("DEL", KEYS[2])
redis.call("HSET", KEYS[2],
  "owner", ARGV[2],
  "type", ARGV[3],
  "hash", ARGV[4],
  "exp", ARGV[5],
  "consumed", "0",
  "attempts", "0")
redis.call("PEXPIRE", KEYS[2], ARGV[6])
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[6])
return 1
`

var putChallengeLua = redis.NewScript(putChallengeScript)

const getChallengeScript = `
local id = redis.call("GET", KEYS[1])
if not id then
  return {}
end
local rec = redis.call("HGETALL", ARGV[1] .. id)
if #rec == 0 then
  return {}
end
table.insert(rec, 1, id)
return rec
`

var getChallengeLua = redis.NewScript(getChallengeScript)

const consumeChallengeScript = `
local consumed = redis.call("HGET", KEYS[1], "consumed")
if not consumed then
  return 0
end
if consumed == "1" then
  return 2
end
redis.call("HSET", KEYS[1], "consumed", "1")
return 1
`

var consumeChallengeLua = redis.NewScript(consumeChallengeScript)

const releaseChallengeScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "consumed", "0")
return 1
`

var releaseChallengeLua = redis.NewScript(releaseChallengeScript)

const challengeFailureScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return {0, 0}
end
local n = redis.call("HINCRBY", KEYS[1], "attempts", 1)
local max = tonumber(ARGV[1])
if max > 0 and n >= max then
  local owner = redis.call("HGET", KEYS[1], "owner")
  local typ = redis.call("HGET", KEYS[1], "type")
  local pointer = ARGV[2] .. typ .. ":" .. owner
  if redis.call("GET", pointer) == ARGV[3] then
    redis.call("DEL", pointer)
  end
  redis.call("DEL", KEYS[1])
  return {2, n}
end
return {1, n}
`

var challengeFailureLua = redis.NewScript(challengeFailureScript)

// RedisStore keeps credential records as Redis hashes. Every multi-step
// mutation runs as a single Lua script, so the first writer wins.
//
// Keys are kept for ttl + retention so that logically expired records are
// still reported as expired rather than absent.
type RedisStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewRedisStore creates a [RedisStore]. An empty prefix defaults to "a".
func NewRedisStore(client redis.UniversalClient, prefix string, retention time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "a"
	}
	if retention < 0 {
		retention = 0
	}
	return &RedisStore{
		redis:     client,
		prefix:    prefix,
		retention: retention,
	}
}

func (s *RedisStore) refreshKey(owner string) string {
	return s.prefix + "cr:" + owner
}

func (s *RedisStore) challengePrefix() string {
	return s.prefix + "oc:c:"
}

func (s *RedisStore) pointerPrefix() string {
	return s.prefix + "oc:p:"
}

func (s *RedisStore) challengeKey(id string) string {
	return s.challengePrefix() + id
}

func (s *RedisStore) pointerKey(owner string, typ ChallengeType) string {
	return s.pointerPrefix() + typ.String() + ":" + owner
}

func (s *RedisStore) PutRefreshRecord(ctx context.Context, rec *RefreshRecord, ttl time.Duration) error {
	if err := validateOwner(rec.Owner); err != nil {
		return err
	}

	revoked := "0"
	if rec.Revoked {
		revoked = "1"
	}

	ver, err := putRefreshLua.Run(ctx, s.redis,
		[]string{s.refreshKey(rec.Owner)},
		rec.Owner,
		rec.TokenHash[:],
		rec.IssuedAt.UnixMilli(),
		rec.ExpiresAt.UnixMilli(),
		revoked,
		(ttl + s.retention).Milliseconds(),
	).Int64()
	if err != nil {
		return unavailable(err)
	}
	rec.Version = uint32(ver)
	return nil
}

func (s *RedisStore) GetRefreshRecord(ctx context.Context, owner string) (*RefreshRecord, error) {
	fields, err := s.redis.HGetAll(ctx, s.refreshKey(owner)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeRefresh(fields)
}

func (s *RedisStore) RotateRefreshRecord(
	ctx context.Context,
	owner string,
	presented, next [32]byte,
	now, nextExpiresAt time.Time,
) (*RefreshRecord, error) {
	var nextExp int64
	if !nextExpiresAt.IsZero() {
		nextExp = nextExpiresAt.UnixMilli()
	}

	res, err := rotateRefreshLua.Run(ctx, s.redis,
		[]string{s.refreshKey(owner)},
		presented[:],
		next[:],
		now.UnixMilli(),
		nextExp,
		s.retention.Milliseconds(),
	).Slice()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(res) == 0 {
		return nil, ErrRecordCorrupt
	}

	status, ok := res[0].(int64)
	if !ok {
		return nil, ErrRecordCorrupt
	}

	switch status {
	case rotateStatusNotFound:
		return nil, ErrNotFound
	case rotateStatusRevoked:
		return nil, ErrRefreshRevoked
	case rotateStatusExpired:
		return nil, ErrRefreshExpired
	case rotateStatusMismatch:
		return nil, ErrRefreshHashMismatch
	case rotateStatusRotated:
	default:
		return nil, ErrRecordCorrupt
	}

	if len(res) != 4 {
		return nil, ErrRecordCorrupt
	}
	ver, ok1 := res[1].(int64)
	iat, ok2 := res[2].(int64)
	exp, ok3 := res[3].(int64)
	if !ok1 || !ok2 || !ok3 {
		return nil, ErrRecordCorrupt
	}

	return &RefreshRecord{
		Owner:     owner,
		TokenHash: next,
		Version:   uint32(ver),
		IssuedAt:  time.UnixMilli(iat),
		ExpiresAt: time.UnixMilli(exp),
	}, nil
}

func (s *RedisStore) RevokeAllForOwner(ctx context.Context, owner string) error {
	return unavailable(revokeRefreshLua.Run(ctx, s.redis, []string{s.refreshKey(owner)}).Err())
}

func (s *RedisStore) PutChallenge(ctx context.Context, rec *ChallengeRecord, ttl time.Duration) error {
	if err := validateOwner(rec.Owner); err != nil {
		return err
	}
	if !rec.Type.Valid() {
		return fmt.Errorf("%w: challenge type %d", ErrInvalidRecord, rec.Type)
	}

	err := putChallengeLua.Run(ctx, s.redis,
		[]string{s.pointerKey(rec.Owner, rec.Type), s.challengeKey(rec.ID)},
		rec.ID,
		rec.Owner,
		rec.Type.String(),
		rec.CodeHash[:],
		rec.ExpiresAt.UnixMilli(),
		(ttl + s.retention).Milliseconds(),
		s.challengePrefix(),
	).Err()
	return unavailable(err)
}

func (s *RedisStore) GetActiveChallenge(ctx context.Context, owner string, typ ChallengeType) (*ChallengeRecord, error) {
	res, err := getChallengeLua.Run(ctx, s.redis,
		[]string{s.pointerKey(owner, typ)},
		s.challengePrefix(),
	).StringSlice()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(res) == 0 {
		return nil, ErrNotFound
	}
	if len(res)%2 != 1 {
		return nil, ErrRecordCorrupt
	}

	fields := make(map[string]string, len(res)/2)
	for i := 1; i+1 < len(res); i += 2 {
		fields[res[i]] = res[i+1]
	}
	return decodeChallenge(res[0], fields)
}

func (s *RedisStore) ConsumeChallenge(ctx context.Context, id string) error {
	status, err := consumeChallengeLua.Run(ctx, s.redis, []string{s.challengeKey(id)}).Int64()
	if err != nil {
		return unavailable(err)
	}
	switch status {
	case 1:
		return nil
	case 2:
		return ErrChallengeConsumed
	default:
		return ErrNotFound
	}
}

func (s *RedisStore) ReleaseChallenge(ctx context.Context, id string) error {
	status, err := releaseChallengeLua.Run(ctx, s.redis, []string{s.challengeKey(id)}).Int64()
	if err != nil {
		return unavailable(err)
	}
	if status != 1 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) RecordChallengeFailure(ctx context.Context, id string, maxAttempts int) (int, error) {
	res, err := challengeFailureLua.Run(ctx, s.redis,
		[]string{s.challengeKey(id)},
		maxAttempts,
		s.pointerPrefix(),
		id,
	).Int64Slice()
	if err != nil {
		return 0, unavailable(err)
	}
	if len(res) != 2 {
		return 0, ErrRecordCorrupt
	}

	attempts := int(res[1])
	switch res[0] {
	case 1:
		return attempts, nil
	case 2:
		return attempts, ErrChallengeAttemptsExceeded
	default:
		return 0, ErrNotFound
	}
}

func decodeRefresh(fields map[string]string) (*RefreshRecord, error) {
	hash := fields["hash"]
	if len(hash) != 32 {
		return nil, ErrRecordCorrupt
	}
	ver, err1 := strconv.ParseUint(fields["ver"], 10, 32)
	iat, err2 := strconv.ParseInt(fields["iat"], 10, 64)
	exp, err3 := strconv.ParseInt(fields["exp"], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return nil, ErrRecordCorrupt
	}

	rec := &RefreshRecord{
		Owner:     fields["owner"],
		Version:   uint32(ver),
		IssuedAt:  time.UnixMilli(iat),
		ExpiresAt: time.UnixMilli(exp),
		Revoked:   fields["rev"] == "1",
	}
	copy(rec.TokenHash[:], hash)
	return rec, nil
}

func decodeChallenge(id string, fields map[string]string) (*ChallengeRecord, error) {
	hash := fields["hash"]
	if len(hash) != 32 {
		return nil, ErrRecordCorrupt
	}
	typ, ok := parseChallengeType(fields["type"])
	if !ok {
		return nil, ErrRecordCorrupt
	}
	exp, err1 := strconv.ParseInt(fields["exp"], 10, 64)
	attempts, err2 := strconv.ParseUint(fields["attempts"], 10, 16)
	if err1 != nil || err2 != nil {
		return nil, ErrRecordCorrupt
	}

	rec := &ChallengeRecord{
		ID:        id,
		Owner:     fields["owner"],
		Type:      typ,
		ExpiresAt: time.UnixMilli(exp),
		Consumed:  fields["consumed"] == "1",
		Attempts:  uint16(attempts),
	}
	copy(rec.CodeHash[:], hash)
	return rec, nil
}
