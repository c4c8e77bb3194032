package goSession

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/goSession/password"
	"golang.org/x/oauth2"
)

// Config is the full Engine configuration. Obtain defaults with
// [DefaultConfig] or load them from file and environment with [LoadConfig].
type Config struct {
	Token     TokenConfig     `mapstructure:"token"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Lockout   LockoutConfig   `mapstructure:"lockout"`
	OAuth2    OAuth2Config    `mapstructure:"oauth2"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Cookie    CookieConfig    `mapstructure:"cookie"`
	Password  password.Config `mapstructure:"password"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

/*
====================================
TOKENS
====================================
*/

// TokenConfig controls session token lifetime and Redis layout.
type TokenConfig struct {
	// SlidingTTL is the idle timeout, renewed on every validation.
	SlidingTTL time.Duration `mapstructure:"sliding_ttl"`
	// AbsoluteTTL is the hard lifetime from issuance.
	AbsoluteTTL time.Duration `mapstructure:"absolute_ttl"`
	RedisPrefix string        `mapstructure:"redis_prefix"`
	IndexPrefix string        `mapstructure:"index_prefix"`
}

/*
====================================
RATE LIMITING / LOCKOUT
====================================
*/

// RateLimitConfig sets the fixed windows applied before any credential work.
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// IPMaxAttempts per IPWindow per client address.
	IPMaxAttempts int           `mapstructure:"ip_max_attempts"`
	IPWindow      time.Duration `mapstructure:"ip_window"`
	// AccountMaxAttempts per AccountWindow per normalized identifier.
	// Zero disables the account window.
	AccountMaxAttempts int           `mapstructure:"account_max_attempts"`
	AccountWindow      time.Duration `mapstructure:"account_window"`
	RedisPrefix        string        `mapstructure:"redis_prefix"`
}

// LockoutConfig sets the durable account lockout policy. Lock duration for
// the k-th lock is min(BackoffCap, BackoffBase * 2^(k-1)).
type LockoutConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Threshold   int           `mapstructure:"threshold"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap"`
}

/*
====================================
OAUTH2
====================================
*/

// OAuth2Config configures the single upstream authorization-code provider.
type OAuth2Config struct {
	Enabled      bool     `mapstructure:"enabled"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	AuthURL      string   `mapstructure:"auth_url"`
	TokenURL     string   `mapstructure:"token_url"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	UserInfoURL  string   `mapstructure:"userinfo_url"`
	Scopes       []string `mapstructure:"scopes"`
	// UsePKCE binds an S256 code verifier to every state.
	UsePKCE         bool          `mapstructure:"use_pkce"`
	StateTTL        time.Duration `mapstructure:"state_ttl"`
	StatePrefix     string        `mapstructure:"state_prefix"`
	ExchangeTimeout time.Duration `mapstructure:"exchange_timeout"`
}

// ClientConfig returns the x/oauth2 client configuration for the provider.
func (c OAuth2Config) ClientConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.AuthURL,
			TokenURL: c.TokenURL,
		},
		RedirectURL: c.RedirectURL,
		Scopes:      append([]string(nil), c.Scopes...),
	}
}

/*
====================================
CACHE / COOKIE
====================================
*/

// CacheConfig bounds every Redis round trip made by the Engine.
type CacheConfig struct {
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

// CookieConfig describes the session cookie. The cookie is always HttpOnly
// and SameSite=Strict.
type CookieConfig struct {
	Name   string        `mapstructure:"name"`
	Path   string        `mapstructure:"path"`
	Domain string        `mapstructure:"domain"`
	Secure bool          `mapstructure:"secure"`
	MaxAge time.Duration `mapstructure:"max_age"`
}

/*
====================================
AUDIT / METRICS
====================================
*/

// AuditConfig sizes the async audit queue. Events that find the queue full
// are dropped and counted; the request path never waits on a sink.
type AuditConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
}

type MetricsConfig struct {
	Enabled                 bool `mapstructure:"enabled"`
	EnableLatencyHistograms bool `mapstructure:"enable_latency_histograms"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			SlidingTTL:  24 * time.Hour,
			AbsoluteTTL: 7 * 24 * time.Hour,
			RedisPrefix: "ast",
			IndexPrefix: "asu",
		},
		RateLimit: RateLimitConfig{
			Enabled:            true,
			IPMaxAttempts:      10,
			IPWindow:           time.Minute,
			AccountMaxAttempts: 20,
			AccountWindow:      15 * time.Minute,
			RedisPrefix:        "arl",
		},
		Lockout: LockoutConfig{
			Enabled:     true,
			Threshold:   5,
			BackoffBase: time.Minute,
			BackoffCap:  time.Hour,
		},
		OAuth2: OAuth2Config{
			UsePKCE:         true,
			StateTTL:        10 * time.Minute,
			StatePrefix:     "aos",
			ExchangeTimeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			OperationTimeout: 50 * time.Millisecond,
		},
		Cookie: CookieConfig{
			Name:   "gs_session",
			Path:   "/",
			Secure: true,
			MaxAge: 7 * 24 * time.Hour,
		},
		Password: password.Config{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

// Validate rejects configurations the Engine cannot run safely.
func (c *Config) Validate() error {
	// Token
	if c.Token.SlidingTTL <= 0 {
		return errors.New("Token SlidingTTL must be > 0")
	}
	if c.Token.AbsoluteTTL <= 0 {
		return errors.New("Token AbsoluteTTL must be > 0")
	}
	if c.Token.SlidingTTL > c.Token.AbsoluteTTL {
		return errors.New("Token SlidingTTL must be <= AbsoluteTTL")
	}
	if c.Token.RedisPrefix == "" || c.Token.IndexPrefix == "" {
		return errors.New("Token prefixes must be set")
	}
	if c.Token.RedisPrefix == c.Token.IndexPrefix {
		return errors.New("Token RedisPrefix and IndexPrefix must differ")
	}

	// Rate limiting
	if c.RateLimit.Enabled {
		if c.RateLimit.IPMaxAttempts <= 0 || c.RateLimit.IPWindow <= 0 {
			return errors.New("RateLimit IPMaxAttempts and IPWindow must be > 0")
		}
		if c.RateLimit.AccountMaxAttempts < 0 {
			return errors.New("RateLimit AccountMaxAttempts must be >= 0")
		}
		if c.RateLimit.AccountMaxAttempts > 0 && c.RateLimit.AccountWindow <= 0 {
			return errors.New("RateLimit AccountWindow must be > 0")
		}
	}

	// Lockout
	if c.Lockout.Enabled {
		if c.Lockout.Threshold <= 0 {
			return errors.New("Lockout Threshold must be > 0")
		}
		if c.Lockout.BackoffBase <= 0 {
			return errors.New("Lockout BackoffBase must be > 0")
		}
		if c.Lockout.BackoffCap < c.Lockout.BackoffBase {
			return errors.New("Lockout BackoffCap must be >= BackoffBase")
		}
	}

	// OAuth2
	if c.OAuth2.Enabled {
		if c.OAuth2.ClientID == "" || c.OAuth2.AuthURL == "" || c.OAuth2.TokenURL == "" || c.OAuth2.RedirectURL == "" {
			return errors.New("OAuth2 ClientID, AuthURL, TokenURL and RedirectURL are required")
		}
		if c.OAuth2.StateTTL <= 0 {
			return errors.New("OAuth2 StateTTL must be > 0")
		}
		if c.OAuth2.StatePrefix == "" {
			return errors.New("OAuth2 StatePrefix must be set")
		}
	}

	// Cache
	if c.Cache.OperationTimeout < 0 {
		return errors.New("Cache OperationTimeout must be >= 0")
	}

	// Cookie
	if c.Cookie.Name == "" {
		return errors.New("Cookie Name must be set")
	}
	if strings.ContainsAny(c.Cookie.Name, " ;,=\t\r\n") {
		return errors.New("Cookie Name contains invalid characters")
	}
	if c.Cookie.MaxAge < 0 {
		return errors.New("Cookie MaxAge must be >= 0")
	}

	if err := c.Password.Validate(); err != nil {
		return err
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}

// SessionCookie returns the cookie that carries token.
func (c CookieConfig) SessionCookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    token,
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   int(c.MaxAge / time.Second),
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

// ClearedCookie returns a cookie that deletes the session cookie.
func (c CookieConfig) ClearedCookie() *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   -1,
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}
