package goSession

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "sliding above absolute invalid",
			mutate:    func(c *Config) { c.Token.SlidingTTL = c.Token.AbsoluteTTL + time.Second },
			wantValid: false,
		},
		{
			name:      "sliding equal absolute valid",
			mutate:    func(c *Config) { c.Token.SlidingTTL = c.Token.AbsoluteTTL },
			wantValid: true,
		},
		{
			name:      "zero sliding invalid",
			mutate:    func(c *Config) { c.Token.SlidingTTL = 0 },
			wantValid: false,
		},
		{
			name:      "shared prefixes invalid",
			mutate:    func(c *Config) { c.Token.IndexPrefix = c.Token.RedisPrefix },
			wantValid: false,
		},
		{
			name:      "ip window zero invalid",
			mutate:    func(c *Config) { c.RateLimit.IPWindow = 0 },
			wantValid: false,
		},
		{
			name: "rate limit off ignores windows",
			mutate: func(c *Config) {
				c.RateLimit.Enabled = false
				c.RateLimit.IPWindow = 0
			},
			wantValid: true,
		},
		{
			name:      "account window disabled valid",
			mutate:    func(c *Config) { c.RateLimit.AccountMaxAttempts = 0 },
			wantValid: true,
		},
		{
			name:      "lockout cap below base invalid",
			mutate:    func(c *Config) { c.Lockout.BackoffCap = c.Lockout.BackoffBase / 2 },
			wantValid: false,
		},
		{
			name:      "lockout threshold zero invalid",
			mutate:    func(c *Config) { c.Lockout.Threshold = 0 },
			wantValid: false,
		},
		{
			name:      "oauth2 enabled without endpoints invalid",
			mutate:    func(c *Config) { c.OAuth2.Enabled = true },
			wantValid: false,
		},
		{
			name: "oauth2 enabled complete valid",
			mutate: func(c *Config) {
				c.OAuth2.Enabled = true
				c.OAuth2.ClientID = "id"
				c.OAuth2.AuthURL = "https://idp.example.com/auth"
				c.OAuth2.TokenURL = "https://idp.example.com/token"
				c.OAuth2.RedirectURL = "https://app.example.com/cb"
			},
			wantValid: true,
		},
		{
			name:      "cookie name with separator invalid",
			mutate:    func(c *Config) { c.Cookie.Name = "gs;session" },
			wantValid: false,
		},
		{
			name:      "weak argon2 invalid",
			mutate:    func(c *Config) { c.Password.Time = 0 },
			wantValid: false,
		},
		{
			name:      "audit buffer zero invalid",
			mutate:    func(c *Config) { c.Audit.BufferSize = 0 },
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tt.wantValid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, v, err := LoadConfig(LoadOptions{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Token.SlidingTTL != DefaultConfig().Token.SlidingTTL || cfg.Lockout.Threshold != 5 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if v == nil {
		t.Fatal("expected viper instance")
	}
}

func TestLoadConfigLayers(t *testing.T) {
	dir := t.TempDir()

	file := filepath.Join(dir, "gosession.yaml")
	yaml := "token:\n  sliding_ttl: 2h\nlockout:\n  threshold: 3\ncookie:\n  name: app_session\n"
	if err := os.WriteFile(file, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("GOSESSION_RATE_LIMIT_IP_MAX_ATTEMPTS=42\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("GOSESSION_RATE_LIMIT_IP_MAX_ATTEMPTS") })

	// Environment wins over the file.
	t.Setenv("GOSESSION_LOCKOUT_THRESHOLD", "7")

	cfg, _, err := LoadConfig(LoadOptions{ConfigFile: file, EnvFile: envFile})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Token.SlidingTTL != 2*time.Hour {
		t.Fatalf("expected file sliding ttl, got %v", cfg.Token.SlidingTTL)
	}
	if cfg.Lockout.Threshold != 7 {
		t.Fatalf("expected env threshold 7, got %d", cfg.Lockout.Threshold)
	}
	if cfg.Cookie.Name != "app_session" {
		t.Fatalf("expected file cookie name, got %q", cfg.Cookie.Name)
	}
	if cfg.RateLimit.IPMaxAttempts != 42 {
		t.Fatalf("expected .env override, got %d", cfg.RateLimit.IPMaxAttempts)
	}
}

func TestLoadConfigMissingFilesSkipped(t *testing.T) {
	dir := t.TempDir()
	_, _, err := LoadConfig(LoadOptions{
		ConfigFile: filepath.Join(dir, "absent.yaml"),
		EnvFile:    filepath.Join(dir, "absent.env"),
	})
	if err != nil {
		t.Fatalf("missing files must be skipped, got %v", err)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	t.Setenv("GOSESSION_TOKEN_SLIDING_TTL", "720h")
	if _, _, err := LoadConfig(LoadOptions{}); err == nil {
		t.Fatal("expected validation failure for sliding above absolute")
	}
}

func TestSessionCookieAttributes(t *testing.T) {
	cc := DefaultConfig().Cookie
	c := cc.SessionCookie("tok")
	if !c.HttpOnly || !c.Secure || c.Value != "tok" || c.MaxAge != int((7*24*time.Hour)/time.Second) {
		t.Fatalf("unexpected cookie %+v", c)
	}
	if cleared := cc.ClearedCookie(); cleared.MaxAge != -1 || cleared.Value != "" {
		t.Fatalf("unexpected cleared cookie %+v", cleared)
	}
}
