package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	authdomain "github.com/AlibekovAA/refresh-guard/internal/auth/domain"
	"github.com/AlibekovAA/refresh-guard/internal/common/clock"
	userdomain "github.com/AlibekovAA/refresh-guard/internal/user/domain"
)

var ErrRedisUnavailable = errors.New("redis unavailable")

const (
	rotateStatusNotFound  int64 = 0
	rotateStatusRotated   int64 = 1
	rotateStatusRevoked   int64 = 2
	rotateStatusConsumed  int64 = 3
	rotateStatusExpired   int64 = 4
	rotateStatusMismatch  int64 = 5
	rotateStatusDuplicate int64 = 6
)

// extendUserIndex keeps the per-user set alive as long as its longest-lived token.
const extendUserIndex = `
local function extend_user_index(user_key, expires_at, now)
  local ttl = redis.call("TTL", user_key)
  if ttl < 0 or ttl < expires_at - now then
    redis.call("EXPIREAT", user_key, expires_at)
  end
end
`

var createTokenLua = redis.NewScript(extendUserIndex + `
if redis.call("EXISTS", KEYS[1]) == 1 or redis.call("EXISTS", KEYS[2]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "user_id", ARGV[2], "expires_at", ARGV[3], "revoked", "0",
  "user_agent", ARGV[4], "source_ip", ARGV[5], "created_at", ARGV[6])
redis.call("EXPIREAT", KEYS[1], ARGV[3])
redis.call("SADD", KEYS[3], ARGV[1])
extend_user_index(KEYS[3], tonumber(ARGV[3]), tonumber(ARGV[7]))
return 1
`)

var rotateTokenLua = redis.NewScript(extendUserIndex + `
local used = redis.call("HMGET", KEYS[2], "user_id", "expires_at", "created_at")
if used[1] then
  if used[1] ~= ARGV[2] then
    return {5}
  end
  return {3, used[1], used[2], "", "", used[3], "1"}
end

local old = redis.call("HMGET", KEYS[1], "user_id", "expires_at", "revoked", "user_agent", "source_ip", "created_at")
if not old[1] then
  return {0}
end
if old[1] ~= ARGV[2] then
  return {5}
end
if old[3] == "1" then
  return {2, old[1], old[2], old[4], old[5], old[6], "1"}
end
if tonumber(old[2]) <= tonumber(ARGV[8]) then
  return {4, old[1], old[2], old[4], old[5], old[6], "0"}
end
if redis.call("EXISTS", KEYS[3]) == 1 or redis.call("EXISTS", KEYS[4]) == 1 then
  return {6}
end

redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[5], ARGV[1])
redis.call("HSET", KEYS[2], "user_id", old[1], "expires_at", old[2], "created_at", old[6])
redis.call("EXPIREAT", KEYS[2], old[2])

redis.call("HSET", KEYS[3], "user_id", ARGV[2], "expires_at", ARGV[4], "revoked", "0",
  "user_agent", ARGV[5], "source_ip", ARGV[6], "created_at", ARGV[7])
redis.call("EXPIREAT", KEYS[3], ARGV[4])
redis.call("SADD", KEYS[5], ARGV[3])
extend_user_index(KEYS[5], tonumber(ARGV[4]), tonumber(ARGV[8]))

return {1, old[1], old[2], old[4], old[5], old[6], "0"}
`)

var revokeTokenLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  redis.call("HSET", KEYS[1], "revoked", "1")
end
return 1
`)

var deleteTokenLua = redis.NewScript(`
local owner = redis.call("HGET", KEYS[1], "user_id")
if not owner then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("SREM", ARGV[1] .. owner, ARGV[2])
return 1
`)

var revokeAllLua = redis.NewScript(`
local ids = redis.call("SMEMBERS", KEYS[1])
local count = 0
for _, id in ipairs(ids) do
  local key = ARGV[1] .. id
  if redis.call("EXISTS", key) == 1 then
    redis.call("HSET", key, "revoked", "1")
    count = count + 1
  else
    redis.call("SREM", KEYS[1], id)
  end
end
return count
`)

// RedisRefreshTokenStore keeps one hash per token, one set per user and one hash
// per consumed token. Every mutation is a single Lua script.
// The delete and revoke-all scripts derive token keys from ARGV, so the store
// needs a single Redis node rather than a cluster.
type RedisRefreshTokenStore struct {
	redis  *redis.Client
	prefix string
	clock  clock.Clock
}

func NewRedisRefreshTokenStore(client *redis.Client, prefix string, clk clock.Clock) *RedisRefreshTokenStore {
	return &RedisRefreshTokenStore{redis: client, prefix: prefix, clock: clk}
}

func (s *RedisRefreshTokenStore) tokenKey(tokenID string) string {
	return s.tokenPrefix() + tokenID
}

func (s *RedisRefreshTokenStore) tokenPrefix() string {
	return s.prefix + ":tok:"
}

func (s *RedisRefreshTokenStore) consumedKey(tokenID string) string {
	return s.prefix + ":used:" + tokenID
}

func (s *RedisRefreshTokenStore) userPrefix() string {
	return s.prefix + ":user:"
}

func (s *RedisRefreshTokenStore) userKey(userID userdomain.ID) string {
	return s.userPrefix() + string(userID)
}

func (s *RedisRefreshTokenStore) Create(ctx context.Context, params CreateParams) (authdomain.RefreshTokenRecord, error) {
	now := s.clock.Now()
	created, err := createTokenLua.Run(ctx, s.redis,
		[]string{s.tokenKey(params.TokenID), s.consumedKey(params.TokenID), s.userKey(params.UserID)},
		params.TokenID,
		string(params.UserID),
		params.ExpiresAt.Unix(),
		params.UserAgent,
		params.SourceIP,
		now.UnixNano(),
		now.Unix(),
	).Int64()
	if err != nil {
		return authdomain.RefreshTokenRecord{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if created == 0 {
		return authdomain.RefreshTokenRecord{}, ErrDuplicateTokenID
	}

	record := newRecord(params, time.Unix(0, now.UnixNano()))
	record.ExpiresAt = time.Unix(params.ExpiresAt.Unix(), 0)
	return record, nil
}

func (s *RedisRefreshTokenStore) FindByID(ctx context.Context, tokenID string) (authdomain.RefreshTokenRecord, error) {
	fields, err := s.redis.HGetAll(ctx, s.tokenKey(tokenID)).Result()
	if err != nil {
		return authdomain.RefreshTokenRecord{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return authdomain.RefreshTokenRecord{}, ErrRefreshTokenNotFound
	}

	return recordFromFields(
		tokenID,
		fields["user_id"],
		fields["expires_at"],
		fields["user_agent"],
		fields["source_ip"],
		fields["created_at"],
		fields["revoked"] == "1",
	)
}

func (s *RedisRefreshTokenStore) Revoke(ctx context.Context, tokenID string) error {
	if err := revokeTokenLua.Run(ctx, s.redis, []string{s.tokenKey(tokenID)}).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *RedisRefreshTokenStore) Delete(ctx context.Context, tokenID string) (bool, error) {
	existed, err := deleteTokenLua.Run(ctx, s.redis, []string{s.tokenKey(tokenID)}, s.userPrefix(), tokenID).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return existed == 1, nil
}

func (s *RedisRefreshTokenStore) RevokeAllForUser(ctx context.Context, userID userdomain.ID) (int, error) {
	count, err := revokeAllLua.Run(ctx, s.redis, []string{s.userKey(userID)}, s.tokenPrefix()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}

func (s *RedisRefreshTokenStore) Rotate(ctx context.Context, oldTokenID string, next CreateParams) (authdomain.RefreshTokenRecord, error) {
	now := s.clock.Now()
	reply, err := rotateTokenLua.Run(ctx, s.redis,
		[]string{
			s.tokenKey(oldTokenID),
			s.consumedKey(oldTokenID),
			s.tokenKey(next.TokenID),
			s.consumedKey(next.TokenID),
			s.userKey(next.UserID),
		},
		oldTokenID,
		string(next.UserID),
		next.TokenID,
		next.ExpiresAt.Unix(),
		next.UserAgent,
		next.SourceIP,
		now.UnixNano(),
		now.Unix(),
	).Slice()
	if err != nil {
		return authdomain.RefreshTokenRecord{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(reply) == 0 {
		return authdomain.RefreshTokenRecord{}, fmt.Errorf("%w: empty rotate reply", ErrRedisUnavailable)
	}

	status, ok := reply[0].(int64)
	if !ok {
		return authdomain.RefreshTokenRecord{}, fmt.Errorf("%w: unexpected rotate status %v", ErrRedisUnavailable, reply[0])
	}

	switch status {
	case rotateStatusNotFound:
		return authdomain.RefreshTokenRecord{}, ErrRefreshTokenNotFound
	case rotateStatusMismatch:
		return authdomain.RefreshTokenRecord{}, ErrRefreshTokenOwnerMismatch
	case rotateStatusDuplicate:
		return authdomain.RefreshTokenRecord{}, ErrDuplicateTokenID
	}

	record, err := recordFromReply(oldTokenID, reply)
	if err != nil {
		return authdomain.RefreshTokenRecord{}, err
	}

	switch status {
	case rotateStatusRotated:
		return record, nil
	case rotateStatusRevoked:
		return record, ErrRefreshTokenRevoked
	case rotateStatusConsumed:
		return record, ErrRefreshTokenConsumed
	case rotateStatusExpired:
		return record, ErrRefreshTokenExpired
	default:
		return authdomain.RefreshTokenRecord{}, fmt.Errorf("%w: unknown rotate status %d", ErrRedisUnavailable, status)
	}
}

// DeleteExpired is a no-op: token and marker keys carry EXPIREAT, and stale
// members of user sets are pruned by RevokeAllForUser.
func (s *RedisRefreshTokenStore) DeleteExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

func recordFromReply(tokenID string, reply []interface{}) (authdomain.RefreshTokenRecord, error) {
	if len(reply) < 7 {
		return authdomain.RefreshTokenRecord{}, fmt.Errorf("%w: short rotate reply", ErrRedisUnavailable)
	}
	str := func(i int) string {
		v, _ := reply[i].(string)
		return v
	}
	return recordFromFields(tokenID, str(1), str(2), str(3), str(4), str(5), str(6) == "1")
}

func recordFromFields(tokenID, userID, expiresAt, userAgent, sourceIP, createdAt string, revoked bool) (authdomain.RefreshTokenRecord, error) {
	expUnix, err := strconv.ParseInt(expiresAt, 10, 64)
	if err != nil {
		return authdomain.RefreshTokenRecord{}, fmt.Errorf("corrupt refresh token %s: expires_at %q", tokenID, expiresAt)
	}
	var created time.Time
	if createdAt != "" {
		nanos, err := strconv.ParseInt(createdAt, 10, 64)
		if err != nil {
			return authdomain.RefreshTokenRecord{}, fmt.Errorf("corrupt refresh token %s: created_at %q", tokenID, createdAt)
		}
		created = time.Unix(0, nanos)
	}

	return authdomain.RefreshTokenRecord{
		TokenID:   tokenID,
		UserID:    userdomain.ID(userID),
		ExpiresAt: time.Unix(expUnix, 0),
		Revoked:   revoked,
		UserAgent: userAgent,
		SourceIP:  sourceIP,
		CreatedAt: created,
	}, nil
}
