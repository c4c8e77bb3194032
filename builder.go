package goSession

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goSession/internal/lockout"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/oauthstate"
	"github.com/MrEthical07/goSession/password"
	"github.com/MrEthical07/goSession/token"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Builder assembles an [Engine]. A Builder can be used for one Build only.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	principals PrincipalRepository
	hasher     PasswordHasher
	identities OAuth2IdentityResolver
	auditSink  AuditSink
	logger     zerolog.Logger
	now        func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
		logger: zerolog.Nop(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	cfg.OAuth2.Scopes = append([]string(nil), cfg.OAuth2.Scopes...)
	b.config = cfg
	return b
}

// WithRedis sets the client shared by the token store, rate limiters and
// OAuth2 state guard. Cluster and sentinel clients work as well.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithPrincipalRepository(repo PrincipalRepository) *Builder {
	b.principals = repo
	return b
}

// WithPasswordHasher overrides the Argon2id hasher built from Config.Password.
func (b *Builder) WithPasswordHasher(h PasswordHasher) *Builder {
	b.hasher = h
	return b
}

func (b *Builder) WithOAuth2IdentityResolver(r OAuth2IdentityResolver) *Builder {
	b.identities = r
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(log zerolog.Logger) *Builder {
	b.logger = log
	return b
}

// WithClock overrides time.Now for expiry and lockout decisions.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}
	if b.principals == nil {
		return nil, errors.New("principal repository is required")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.OAuth2.Enabled && b.identities == nil {
		return nil, errors.New("oauth2 identity resolver is required when OAuth2 is enabled")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	hasher := b.hasher
	if hasher == nil {
		h, err := password.NewArgon2(cfg.Password)
		if err != nil {
			return nil, err
		}
		hasher = h
	}
	dummyHash, err := newDummyHash(hasher)
	if err != nil {
		return nil, fmt.Errorf("derive dummy hash: %w", err)
	}

	tokens, err := token.NewStore(b.redis, token.Config{
		Prefix:           cfg.Token.RedisPrefix,
		IndexPrefix:      cfg.Token.IndexPrefix,
		SlidingTTL:       cfg.Token.SlidingTTL,
		AbsoluteTTL:      cfg.Token.AbsoluteTTL,
		OperationTimeout: cfg.Cache.OperationTimeout,
		Now:              now,
	})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		config:     cfg,
		tokens:     tokens,
		principals: b.principals,
		hasher:     hasher,
		dummyHash:  dummyHash,
		identities: b.identities,
		metrics:    NewMetrics(cfg.Metrics),
		log:        b.logger.With().Str("component", "gosession").Logger(),
		now:        now,
	}

	if cfg.RateLimit.Enabled {
		e.ipLimiter = rate.New(b.redis, rate.Config{
			Limit:            cfg.RateLimit.IPMaxAttempts,
			Window:           cfg.RateLimit.IPWindow,
			Prefix:           cfg.RateLimit.RedisPrefix,
			OperationTimeout: cfg.Cache.OperationTimeout,
		})
		e.accountLimiter = rate.New(b.redis, rate.Config{
			Limit:            cfg.RateLimit.AccountMaxAttempts,
			Window:           cfg.RateLimit.AccountWindow,
			Prefix:           cfg.RateLimit.RedisPrefix,
			OperationTimeout: cfg.Cache.OperationTimeout,
		})
	}

	if cfg.Lockout.Enabled {
		e.lockout = lockout.Policy{
			Threshold:   cfg.Lockout.Threshold,
			BackoffBase: cfg.Lockout.BackoffBase,
			BackoffCap:  cfg.Lockout.BackoffCap,
		}
	}

	if cfg.OAuth2.Enabled {
		e.states, err = oauthstate.New(b.redis, oauthstate.Config{
			Prefix:           cfg.OAuth2.StatePrefix,
			TTL:              cfg.OAuth2.StateTTL,
			OperationTimeout: cfg.Cache.OperationTimeout,
			Now:              now,
		})
		if err != nil {
			return nil, err
		}
		e.oauth2 = cfg.OAuth2.ClientConfig()
	}

	e.audit = newAuditDispatcher(cfg.Audit, b.auditSink, e.log)

	b.built = true
	return e, nil
}

// newDummyHash hashes a random throwaway secret with the live hasher so that
// unknown identifiers cost the same as known ones.
func newDummyHash(h PasswordHasher) (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return h.Hash(base64.RawURLEncoding.EncodeToString(raw))
}
