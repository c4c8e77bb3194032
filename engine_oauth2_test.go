package goSession_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"

	goSession "github.com/MrEthical07/goSession"
	"golang.org/x/oauth2"
)

type staticResolver struct {
	id  string
	err error
}

func (r staticResolver) ResolvePrincipal(context.Context, *oauth2.Token) (string, error) {
	return r.id, r.err
}

// newProviderServer answers the token endpoint. "good-code" is exchanged
// only when a PKCE verifier accompanies it.
func newProviderServer(t *testing.T, exchanges *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		exchanges.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if r.Form.Get("code") != "good-code" || r.Form.Get("code_verifier") == "" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Write([]byte(`{"access_token":"provider-token","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newOAuth2Fixture(t *testing.T) (*engineFixture, *atomic.Int32) {
	t.Helper()
	var exchanges atomic.Int32
	srv := newProviderServer(t, &exchanges)

	f := newEngineFixture(t, func(cfg *goSession.Config) {
		cfg.OAuth2.Enabled = true
		cfg.OAuth2.ClientID = "client-1"
		cfg.OAuth2.ClientSecret = "client-secret"
		cfg.OAuth2.AuthURL = "https://idp.example.com/authorize"
		cfg.OAuth2.TokenURL = srv.URL + "/token"
		cfg.OAuth2.RedirectURL = "https://app.example.com/auth/oauth2/callback"
		cfg.OAuth2.Scopes = []string{"openid", "email"}
	})
	return f, &exchanges
}

func stateFromURL(t *testing.T, raw string) url.Values {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	return u.Query()
}

func TestOAuth2LoginFlow(t *testing.T) {
	f, _ := newOAuth2Fixture(t)
	ctx := ipContext()

	authURL, err := f.engine.BeginOAuth2(ctx, "/dashboard?tab=1")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	q := stateFromURL(t, authURL)
	if q.Get("state") == "" || q.Get("client_id") != "client-1" {
		t.Fatalf("unexpected auth url %s", authURL)
	}
	if q.Get("code_challenge") == "" || q.Get("code_challenge_method") != "S256" {
		t.Fatalf("expected PKCE challenge in %s", authURL)
	}

	res, err := f.engine.CompleteOAuth2(ctx, q.Get("state"), "good-code")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.PrincipalID != aliceID || res.ReturnTo != "/dashboard?tab=1" {
		t.Fatalf("unexpected result %+v", res)
	}

	id, err := f.engine.ValidateToken(ctx, res.Token)
	if err != nil || id != aliceID {
		t.Fatalf("issued token invalid: id=%s err=%v", id, err)
	}
}

func TestOAuth2StateIsSingleUse(t *testing.T) {
	f, exchanges := newOAuth2Fixture(t)
	ctx := ipContext()

	authURL, err := f.engine.BeginOAuth2(ctx, "/")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	state := stateFromURL(t, authURL).Get("state")

	if _, err := f.engine.CompleteOAuth2(ctx, state, "good-code"); err != nil {
		t.Fatalf("first completion: %v", err)
	}
	_, err = f.engine.CompleteOAuth2(ctx, state, "good-code")
	if !errors.Is(err, goSession.ErrOAuth2StateInvalid) {
		t.Fatalf("expected replay rejected, got %v", err)
	}
	if n := exchanges.Load(); n != 1 {
		t.Fatalf("replayed state must not reach the provider, got %d exchanges", n)
	}
}

func TestOAuth2ConcurrentCallbacksOneWinner(t *testing.T) {
	f, _ := newOAuth2Fixture(t)
	ctx := ipContext()

	authURL, err := f.engine.BeginOAuth2(ctx, "/")
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	state := stateFromURL(t, authURL).Get("state")

	var (
		wg       sync.WaitGroup
		wins     atomic.Int32
		rejected atomic.Int32
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.CompleteOAuth2(ctx, state, "good-code")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, goSession.ErrOAuth2StateInvalid):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 || rejected.Load() != 1 {
		t.Fatalf("expected one winner and one rejection, got %d/%d", wins.Load(), rejected.Load())
	}
}

func TestOAuth2UnknownAndExpiredState(t *testing.T) {
	f, _ := newOAuth2Fixture(t)
	ctx := ipContext()

	if _, err := f.engine.CompleteOAuth2(ctx, "not-a-state", "good-code"); !errors.Is(err, goSession.ErrOAuth2StateInvalid) {
		t.Fatalf("expected ErrOAuth2StateInvalid, got %v", err)
	}

	authURL, _ := f.engine.BeginOAuth2(ctx, "/")
	state := stateFromURL(t, authURL).Get("state")
	f.advance(goSession.DefaultConfig().OAuth2.StateTTL + 1)
	if _, err := f.engine.CompleteOAuth2(ctx, state, "good-code"); !errors.Is(err, goSession.ErrOAuth2StateInvalid) {
		t.Fatalf("expected expired state rejected, got %v", err)
	}
}

func TestOAuth2ProviderRejectionIsInvalidCredentials(t *testing.T) {
	f, _ := newOAuth2Fixture(t)
	ctx := ipContext()

	authURL, _ := f.engine.BeginOAuth2(ctx, "/")
	state := stateFromURL(t, authURL).Get("state")

	_, err := f.engine.CompleteOAuth2(ctx, state, "bad-code")
	if !errors.Is(err, goSession.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	// The state was spent by the failed attempt.
	if _, err := f.engine.CompleteOAuth2(ctx, state, "good-code"); !errors.Is(err, goSession.ErrOAuth2StateInvalid) {
		t.Fatalf("expected spent state, got %v", err)
	}
}

func TestOAuth2RespectsAccountStatus(t *testing.T) {
	f, _ := newOAuth2Fixture(t)
	ctx := ipContext()

	if err := f.repo.SetStatus(aliceID, goSession.AccountDisabled); err != nil {
		t.Fatalf("disable: %v", err)
	}
	authURL, _ := f.engine.BeginOAuth2(ctx, "/")
	state := stateFromURL(t, authURL).Get("state")

	if _, err := f.engine.CompleteOAuth2(ctx, state, "good-code"); !errors.Is(err, goSession.ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
}

func TestOAuth2StateStoreOutage(t *testing.T) {
	f, _ := newOAuth2Fixture(t)
	ctx := ipContext()
	f.mr.Close()

	if _, err := f.engine.BeginOAuth2(ctx, "/"); !errors.Is(err, goSession.ErrInfrastructureUnavailable) {
		t.Fatalf("expected ErrInfrastructureUnavailable, got %v", err)
	}
	if _, err := f.engine.CompleteOAuth2(ctx, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", "good-code"); !errors.Is(err, goSession.ErrInfrastructureUnavailable) {
		t.Fatalf("expected ErrInfrastructureUnavailable, got %v", err)
	}
}

func TestOAuth2Disabled(t *testing.T) {
	f := newEngineFixture(t, nil)
	if f.engine.OAuth2Enabled() {
		t.Fatal("oauth2 should be off by default")
	}
	if _, err := f.engine.BeginOAuth2(context.Background(), "/"); !errors.Is(err, goSession.ErrOAuth2Disabled) {
		t.Fatalf("expected ErrOAuth2Disabled, got %v", err)
	}
}

func TestSanitizeReturnTo(t *testing.T) {
	cases := map[string]string{
		"":                         "/",
		"/":                        "/",
		"/account/settings":        "/account/settings",
		"/search?q=a+b":            "/search?q=a+b",
		"//evil.example.com/x":     "/",
		"https://evil.example.com": "/",
		"/\\evil.example.com":      "/",
		"relative/path":            "/",
		"/ok\r\nSet-Cookie: x=y":   "/",
	}
	for in, want := range cases {
		if got := goSession.SanitizeReturnTo(in); got != want {
			t.Errorf("SanitizeReturnTo(%q) = %q, want %q", in, got, want)
		}
	}
}
