package token

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when a token is unknown, malformed, revoked or expired.
	ErrNotFound = errors.New("token not found")
	// ErrCacheUnavailable wraps every Redis failure. Callers must fail closed on it.
	ErrCacheUnavailable = errors.New("token cache unavailable")
	// ErrInvalidPrincipal is returned by Issue for an empty or oversized principal ID.
	ErrInvalidPrincipal = errors.New("invalid principal id")
)

const (
	validateStatusNotFound int64 = 0
	validateStatusExpired  int64 = 1
	validateStatusCorrupt  int64 = 2
	validateStatusValid    int64 = 3
)

const entryLuaHelpers = `
local function read_be64(s, i)
  local b1, b2, b3, b4, b5, b6, b7, b8 = string.byte(s, i, i + 7)
  if not b8 then
    return nil
  end
  return ((((((((b1 * 256) + b2) * 256 + b3) * 256 + b4) * 256 + b5) * 256 + b6) * 256 + b7) * 256 + b8)
end

local function parse_entry(data)
  if #data < 18 or string.byte(data, 1) ~= 1 then
    return nil
  end
  local plen = string.byte(data, 18)
  if plen == 0 or #data ~= 18 + plen then
    return nil
  end
  return {
    issued_at = read_be64(data, 2),
    expires_at = read_be64(data, 10),
    principal = string.sub(data, 19, 18 + plen)
  }
end
`

// KEYS[1] entry key; ARGV: now ms, sliding ms, index prefix, token hash.
const validateScript = entryLuaHelpers + `
local data = redis.call("GET", KEYS[1])
if not data then
  return {0}
end

local entry = parse_entry(data)
if not entry then
  redis.call("DEL", KEYS[1])
  return {2}
end

local now = tonumber(ARGV[1])
local remaining = entry.expires_at - now
if remaining <= 0 then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", ARGV[3] .. entry.principal, ARGV[4])
  return {1}
end

local ttl = tonumber(ARGV[2])
if remaining < ttl then
  ttl = remaining
end
redis.call("PEXPIRE", KEYS[1], ttl)

return {3, entry.principal, entry.issued_at, entry.expires_at}
`

var validateLua = redis.NewScript(validateScript)

// KEYS[1] entry key; ARGV: index prefix, token hash.
const revokeScript = entryLuaHelpers + `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
redis.call("DEL", KEYS[1])
local entry = parse_entry(data)
if entry then
  redis.call("SREM", ARGV[1] .. entry.principal, ARGV[2])
end
return 1
`

var revokeLua = redis.NewScript(revokeScript)

// KEYS[1] index key; ARGV: entry prefix.
const revokeAllScript = `
local members = redis.call("SMEMBERS", KEYS[1])
local removed = 0
for _, member in ipairs(members) do
  removed = removed + redis.call("DEL", ARGV[1] .. member)
end
redis.call("DEL", KEYS[1])
return removed
`

var revokeAllLua = redis.NewScript(revokeAllScript)

// Config controls key layout and expiry for a [Store].
type Config struct {
	// Prefix namespaces entry keys, e.g. "ast" gives "ast:<hash>".
	Prefix string
	// IndexPrefix namespaces per-principal index sets.
	IndexPrefix string
	// SlidingTTL is the idle timeout renewed on every successful validation.
	SlidingTTL time.Duration
	// AbsoluteTTL is the hard lifetime measured from issuance.
	AbsoluteTTL time.Duration
	// OperationTimeout bounds every Redis round trip. Zero disables it.
	OperationTimeout time.Duration
	// Now overrides the wall clock. Nil uses time.Now.
	Now func() time.Time
}

// Store issues, validates and revokes opaque tokens in Redis.
//
// Store is safe for concurrent use.
type Store struct {
	redis       redis.UniversalClient
	prefix      string
	indexPrefix string
	sliding     time.Duration
	absolute    time.Duration
	timeout     time.Duration
	now         func() time.Time
}

// NewStore creates a [Store]. It returns an error when TTLs are not positive.
func NewStore(rdb redis.UniversalClient, cfg Config) (*Store, error) {
	if rdb == nil {
		return nil, errors.New("token: redis client is nil")
	}
	if cfg.SlidingTTL <= 0 || cfg.AbsoluteTTL <= 0 {
		return nil, errors.New("token: sliding and absolute TTL must be > 0")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "ast"
	}
	if cfg.IndexPrefix == "" {
		cfg.IndexPrefix = "asu"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Store{
		redis:       rdb,
		prefix:      cfg.Prefix + ":",
		indexPrefix: cfg.IndexPrefix + ":",
		sliding:     cfg.SlidingTTL,
		absolute:    cfg.AbsoluteTTL,
		timeout:     cfg.OperationTimeout,
		now:         cfg.Now,
	}, nil
}

func (s *Store) entryKey(hash string) string {
	return s.prefix + hash
}

func (s *Store) indexKey(principalID string) string {
	return s.indexPrefix + principalID
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Issue creates a token for principalID and returns its opaque value.
//
//	Performance: 1 MULTI/EXEC (SET + SADD + PEXPIRE).
func (s *Store) Issue(ctx context.Context, principalID string) (string, error) {
	now := s.now()
	entry := &Entry{
		PrincipalID:    principalID,
		IssuedAt:       now.UnixMilli(),
		AbsoluteExpiry: now.Add(s.absolute).UnixMilli(),
	}
	data, err := encodeEntry(entry)
	if err != nil {
		return "", err
	}

	token, raw, err := newSecret()
	if err != nil {
		return "", fmt.Errorf("token: generate secret: %w", err)
	}
	hash := hashSecret(raw)

	ttl := min(s.sliding, s.absolute)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	indexKey := s.indexKey(principalID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.entryKey(hash), data, ttl)
		pipe.SAdd(ctx, indexKey, hash)
		// Later issues always outlive earlier ones, so the newest absolute
		// expiry covers every member of the set.
		pipe.PExpire(ctx, indexKey, s.absolute)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	return token, nil
}

// Validate resolves a token to its [Entry] and renews its sliding window,
// never past the absolute expiry. Expired entries are deleted in the same
// script run.
//
//	Performance: 1 Redis round trip (EVALSHA).
func (s *Store) Validate(ctx context.Context, token string) (*Entry, error) {
	raw, ok := parseSecret(token)
	if !ok {
		return nil, ErrNotFound
	}
	hash := hashSecret(raw)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := validateLua.Run(
		ctx,
		s.redis,
		[]string{s.entryKey(hash)},
		s.now().UnixMilli(),
		s.sliding.Milliseconds(),
		s.indexPrefix,
		hash,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("%w: empty validate reply", ErrCacheUnavailable)
	}

	status, ok := res[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: malformed validate reply", ErrCacheUnavailable)
	}

	switch status {
	case validateStatusValid:
		return entryFromReply(res)
	case validateStatusNotFound, validateStatusExpired, validateStatusCorrupt:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("%w: unknown validate status %d", ErrCacheUnavailable, status)
	}
}

func entryFromReply(res []interface{}) (*Entry, error) {
	if len(res) != 4 {
		return nil, fmt.Errorf("%w: malformed validate reply", ErrCacheUnavailable)
	}
	principal, ok := res[1].(string)
	if !ok || principal == "" {
		return nil, fmt.Errorf("%w: malformed validate reply", ErrCacheUnavailable)
	}
	issuedAt, err := replyInt(res[2])
	if err != nil {
		return nil, err
	}
	expiresAt, err := replyInt(res[3])
	if err != nil {
		return nil, err
	}
	return &Entry{PrincipalID: principal, IssuedAt: issuedAt, AbsoluteExpiry: expiresAt}, nil
}

func replyInt(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err == nil {
			return parsed, nil
		}
	}
	return 0, fmt.Errorf("%w: malformed validate reply", ErrCacheUnavailable)
}

// Revoke deletes a token. Unknown and malformed tokens are not an error.
//
//	Performance: 1 Redis round trip (EVALSHA).
func (s *Store) Revoke(ctx context.Context, token string) error {
	raw, ok := parseSecret(token)
	if !ok {
		return nil
	}
	hash := hashSecret(raw)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := revokeLua.Run(ctx, s.redis, []string{s.entryKey(hash)}, s.indexPrefix, hash).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// RevokeAll deletes every token owned by principalID and returns how many
// live entries were removed. The read of the index and the deletes run in a
// single script, so a concurrent Issue lands either before (and is revoked)
// or after (and survives).
func (s *Store) RevokeAll(ctx context.Context, principalID string) (int, error) {
	if principalID == "" {
		return 0, ErrInvalidPrincipal
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := revokeAllLua.Run(ctx, s.redis, []string{s.indexKey(principalID)}, s.prefix).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return n, nil
}

// ActiveCount returns the size of the principal's index. Entries that expired
// through TTL stay in the index until the next validate or revoke touches
// them, so the count is an upper bound.
func (s *Store) ActiveCount(ctx context.Context, principalID string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.redis.SCard(ctx, s.indexKey(principalID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return int(n), nil
}

// Ping checks Redis reachability within the operation timeout.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}
