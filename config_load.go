package goSession

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. GOSESSION_TOKEN_SLIDING_TTL.
const EnvPrefix = "GOSESSION"

// LoadOptions selects optional files for [LoadConfig]. Missing files are
// skipped; a file that exists but cannot be parsed is an error.
type LoadOptions struct {
	ConfigFile string
	EnvFile    string
}

// LoadConfig layers defaults, an optional YAML/TOML/JSON file, an optional
// .env file and GOSESSION_* environment variables, in that order, and
// validates the result. The returned viper instance lets callers read keys
// outside Config (the server binary keeps its listen address there).
func LoadConfig(opts LoadOptions) (Config, *viper.Viper, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, nil, fmt.Errorf("load env file %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	setConfigDefaults(v, DefaultConfig())

	if opts.ConfigFile != "" {
		if _, err := os.Stat(opts.ConfigFile); err == nil {
			v.SetConfigFile(opts.ConfigFile)
			if err := v.ReadInConfig(); err != nil {
				return Config{}, nil, fmt.Errorf("read config file %s: %w", opts.ConfigFile, err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, nil, err
	}
	return cfg, v, nil
}

// setConfigDefaults registers every key so AutomaticEnv can resolve it
// during Unmarshal.
func setConfigDefaults(v *viper.Viper, d Config) {
	v.SetDefault("token.sliding_ttl", d.Token.SlidingTTL)
	v.SetDefault("token.absolute_ttl", d.Token.AbsoluteTTL)
	v.SetDefault("token.redis_prefix", d.Token.RedisPrefix)
	v.SetDefault("token.index_prefix", d.Token.IndexPrefix)

	v.SetDefault("rate_limit.enabled", d.RateLimit.Enabled)
	v.SetDefault("rate_limit.ip_max_attempts", d.RateLimit.IPMaxAttempts)
	v.SetDefault("rate_limit.ip_window", d.RateLimit.IPWindow)
	v.SetDefault("rate_limit.account_max_attempts", d.RateLimit.AccountMaxAttempts)
	v.SetDefault("rate_limit.account_window", d.RateLimit.AccountWindow)
	v.SetDefault("rate_limit.redis_prefix", d.RateLimit.RedisPrefix)

	v.SetDefault("lockout.enabled", d.Lockout.Enabled)
	v.SetDefault("lockout.threshold", d.Lockout.Threshold)
	v.SetDefault("lockout.backoff_base", d.Lockout.BackoffBase)
	v.SetDefault("lockout.backoff_cap", d.Lockout.BackoffCap)

	v.SetDefault("oauth2.enabled", d.OAuth2.Enabled)
	v.SetDefault("oauth2.client_id", d.OAuth2.ClientID)
	v.SetDefault("oauth2.client_secret", d.OAuth2.ClientSecret)
	v.SetDefault("oauth2.auth_url", d.OAuth2.AuthURL)
	v.SetDefault("oauth2.token_url", d.OAuth2.TokenURL)
	v.SetDefault("oauth2.redirect_url", d.OAuth2.RedirectURL)
	v.SetDefault("oauth2.userinfo_url", d.OAuth2.UserInfoURL)
	v.SetDefault("oauth2.scopes", d.OAuth2.Scopes)
	v.SetDefault("oauth2.use_pkce", d.OAuth2.UsePKCE)
	v.SetDefault("oauth2.state_ttl", d.OAuth2.StateTTL)
	v.SetDefault("oauth2.state_prefix", d.OAuth2.StatePrefix)
	v.SetDefault("oauth2.exchange_timeout", d.OAuth2.ExchangeTimeout)

	v.SetDefault("cache.operation_timeout", d.Cache.OperationTimeout)

	v.SetDefault("cookie.name", d.Cookie.Name)
	v.SetDefault("cookie.path", d.Cookie.Path)
	v.SetDefault("cookie.domain", d.Cookie.Domain)
	v.SetDefault("cookie.secure", d.Cookie.Secure)
	v.SetDefault("cookie.max_age", d.Cookie.MaxAge)

	v.SetDefault("password.memory", d.Password.Memory)
	v.SetDefault("password.time", d.Password.Time)
	v.SetDefault("password.parallelism", d.Password.Parallelism)
	v.SetDefault("password.salt_length", d.Password.SaltLength)
	v.SetDefault("password.key_length", d.Password.KeyLength)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.buffer_size", d.Audit.BufferSize)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.enable_latency_histograms", d.Metrics.EnableLatencyHistograms)
}
