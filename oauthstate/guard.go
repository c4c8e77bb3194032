// Package oauthstate stores single-use OAuth2 authorization state values in
// Redis. A state is written with SET NX and redeemed with GETDEL, so two
// concurrent callbacks carrying the same state can never both succeed.
package oauthstate

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrStateInvalid is returned for unknown, expired, replayed or malformed states.
	ErrStateInvalid = errors.New("oauth2 state invalid")
	// ErrStateUnavailable wraps Redis failures. A consume that fails this way is not retried.
	ErrStateUnavailable = errors.New("oauth2 state store unavailable")
)

const stateSize = 32

// Payload is the data bound to a state value.
type Payload struct {
	IssuedAt     int64  `json:"iat"`
	CodeVerifier string `json:"cv,omitempty"`
	ReturnTo     string `json:"rt,omitempty"`
}

// Config controls a [Guard].
type Config struct {
	Prefix           string
	TTL              time.Duration
	OperationTimeout time.Duration
	Now              func() time.Time
}

// Guard issues and consumes OAuth2 state values.
type Guard struct {
	redis   redis.UniversalClient
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
}

// New creates a [Guard].
func New(rdb redis.UniversalClient, cfg Config) (*Guard, error) {
	if rdb == nil {
		return nil, errors.New("oauthstate: redis client is nil")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("oauthstate: ttl must be > 0")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "aos"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Guard{
		redis:   rdb,
		prefix:  cfg.Prefix + ":",
		ttl:     cfg.TTL,
		timeout: cfg.OperationTimeout,
		now:     cfg.Now,
	}, nil
}

func (g *Guard) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.timeout)
}

// Issue stores p under a fresh random state value and returns the value.
func (g *Guard) Issue(ctx context.Context, p Payload) (string, error) {
	raw := make([]byte, stateSize)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("oauthstate: generate state: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(raw)

	p.IssuedAt = g.now().UnixMilli()
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	ok, err := g.redis.SetNX(ctx, g.prefix+state, data, g.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStateUnavailable, err)
	}
	if !ok {
		// 256 random bits collided; refuse rather than overwrite.
		return "", fmt.Errorf("%w: state collision", ErrStateUnavailable)
	}
	return state, nil
}

// Consume atomically reads and deletes state. At most one caller ever
// receives the payload for a given state.
func (g *Guard) Consume(ctx context.Context, state string) (Payload, error) {
	if !wellFormed(state) {
		return Payload{}, ErrStateInvalid
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	data, err := g.redis.GetDel(ctx, g.prefix+state).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Payload{}, ErrStateInvalid
		}
		return Payload{}, fmt.Errorf("%w: %v", ErrStateUnavailable, err)
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, ErrStateInvalid
	}
	return p, nil
}

func wellFormed(state string) bool {
	if len(state) != base64.RawURLEncoding.EncodedLen(stateSize) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(state)
	return err == nil
}
