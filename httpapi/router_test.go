package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/password"
	"github.com/MrEthical07/goSession/principal"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const testSecret = "correct horse battery"

type fixedResolver string

func (f fixedResolver) ResolvePrincipal(context.Context, *oauth2.Token) (string, error) {
	return string(f), nil
}

type apiFixture struct {
	handler http.Handler
	mr      *miniredis.Miniredis
	engine  *goSession.Engine
	reg     *prometheus.Registry
}

func newAPIFixture(t *testing.T, mutate func(*goSession.Config)) *apiFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { rdb.Close() })

	cfg := goSession.DefaultConfig()
	cfg.Password = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Cache.OperationTimeout = time.Second
	cfg.Audit.Enabled = false
	if mutate != nil {
		mutate(&cfg)
	}

	hasher, err := password.NewArgon2(cfg.Password)
	require.NoError(t, err)
	hash, err := hasher.Hash(testSecret)
	require.NoError(t, err)

	repo := principal.NewMemoryRepository()
	require.NoError(t, repo.Put(goSession.Principal{ID: "u-1", Identifier: "alice@example.com", CredentialHash: hash}))

	b := goSession.New().WithConfig(cfg).WithRedis(rdb).WithPrincipalRepository(repo).WithPasswordHasher(hasher)
	if cfg.OAuth2.Enabled {
		b = b.WithOAuth2IdentityResolver(fixedResolver("u-1"))
	}
	engine, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	reg := prometheus.NewRegistry()
	h := NewRouter(engine, Options{
		Logger:     zerolog.Nop(),
		Metrics:    http.NotFoundHandler(),
		Registerer: reg,
	})
	return &apiFixture{handler: h, mr: mr, engine: engine, reg: reg}
}

func (f *apiFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	return rr
}

func newLoginRequest(identifier, credential string) *http.Request {
	body, _ := json.Marshal(map[string]string{"identifier": identifier, "credential": credential})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func sessionCookie(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == "gs_session" {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestLoginSetsHardenedCookie(t *testing.T) {
	f := newAPIFixture(t, nil)

	rr := f.do(newLoginRequest("alice@example.com", testSecret))
	require.Equal(t, http.StatusNoContent, rr.Code)

	c := sessionCookie(t, rr)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
	assert.Len(t, c.Value, 43)

	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	req.AddCookie(c)
	rr = f.do(req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"principal_id":"u-1"}`, rr.Body.String())
}

func TestLoginRejectsBadInput(t *testing.T) {
	f := newAPIFixture(t, nil)

	rr := f.do(httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(newLoginRequest("", testSecret))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "malformed_request", decodeError(t, rr).Error)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"identifier":"a","credential":"b","admin":true}`))
	assert.Equal(t, http.StatusBadRequest, f.do(req).Code)
}

func TestLoginWrongSecretAndUnknownUserLookAlike(t *testing.T) {
	f := newAPIFixture(t, nil)

	wrong := f.do(newLoginRequest("alice@example.com", "not the secret"))
	unknown := f.do(newLoginRequest("bob@example.com", testSecret))

	require.Equal(t, http.StatusUnauthorized, wrong.Code)
	require.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())
	assert.Empty(t, wrong.Result().Cookies())
}

func TestLoginLockoutReportsRetryAfter(t *testing.T) {
	f := newAPIFixture(t, nil)

	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusUnauthorized, f.do(newLoginRequest("alice@example.com", "not the secret")).Code)
	}

	rr := f.do(newLoginRequest("alice@example.com", testSecret))
	require.Equal(t, http.StatusLocked, rr.Code)
	body := decodeError(t, rr)
	assert.Equal(t, "account_locked", body.Error)
	assert.Equal(t, 60, body.RetryAfter)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))
}

func TestLoginRateLimited(t *testing.T) {
	f := newAPIFixture(t, func(cfg *goSession.Config) {
		cfg.RateLimit.IPMaxAttempts = 2
	})

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusNoContent, f.do(newLoginRequest("alice@example.com", testSecret)).Code)
	}
	rr := f.do(newLoginRequest("alice@example.com", testSecret))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
}

func TestLogoutRevokesAndClearsCookie(t *testing.T) {
	f := newAPIFixture(t, nil)
	c := sessionCookie(t, f.do(newLoginRequest("alice@example.com", testSecret)))

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(c)
	rr := f.do(req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, -1, sessionCookie(t, rr).MaxAge)

	req = httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	req.AddCookie(c)
	assert.Equal(t, http.StatusUnauthorized, f.do(req).Code)

	// Logging out again, or without a cookie, still succeeds.
	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(c)
	assert.Equal(t, http.StatusNoContent, f.do(req).Code)
	assert.Equal(t, http.StatusNoContent, f.do(httptest.NewRequest(http.MethodPost, "/auth/logout", nil)).Code)
}

func TestLogoutRevokesBearerToken(t *testing.T) {
	f := newAPIFixture(t, nil)
	h := NewRouter(f.engine, Options{Logger: zerolog.Nop(), AllowBearerHeader: true})
	tok := sessionCookie(t, f.do(newLoginRequest("alice@example.com", testSecret))).Value

	serve := func(method, path string) int {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusOK, serve(http.MethodGet, "/auth/session"))
	require.Equal(t, http.StatusNoContent, serve(http.MethodPost, "/auth/logout"))
	assert.Equal(t, http.StatusUnauthorized, serve(http.MethodGet, "/auth/session"))
}

func TestLogoutAll(t *testing.T) {
	f := newAPIFixture(t, nil)
	first := sessionCookie(t, f.do(newLoginRequest("alice@example.com", testSecret)))
	second := sessionCookie(t, f.do(newLoginRequest("alice@example.com", testSecret)))

	req := httptest.NewRequest(http.MethodPost, "/auth/logout-all", nil)
	req.AddCookie(first)
	rr := f.do(req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"revoked":2}`, rr.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	req.AddCookie(second)
	assert.Equal(t, http.StatusUnauthorized, f.do(req).Code)

	assert.Equal(t, http.StatusUnauthorized, f.do(httptest.NewRequest(http.MethodPost, "/auth/logout-all", nil)).Code)
}

func TestSessionUnavailableWhenCacheDown(t *testing.T) {
	f := newAPIFixture(t, nil)
	c := sessionCookie(t, f.do(newLoginRequest("alice@example.com", testSecret)))
	f.mr.Close()

	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	req.AddCookie(c)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(req).Code)

	rr := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t, nil)
	rr := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestRequestMetricsUseRoutePattern(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	f.do(httptest.NewRequest(http.MethodGet, "/auth/oauth2/callback?state=x&code=secret", nil))

	families, err := f.reg.Gather()
	require.NoError(t, err)

	var routes []string
	for _, fam := range families {
		if fam.GetName() != "gosession_http_requests_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "route" {
					routes = append(routes, l.GetValue())
				}
			}
		}
	}
	assert.ElementsMatch(t, []string{"/healthz", "/auth/oauth2/callback"}, routes)
}

func TestOAuth2DisabledIsNotFound(t *testing.T) {
	f := newAPIFixture(t, nil)
	rr := f.do(httptest.NewRequest(http.MethodGet, "/auth/oauth2/authorize", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestOAuth2RedirectAndCallback(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"provider-token","token_type":"Bearer"}`))
	}))
	t.Cleanup(provider.Close)

	f := newAPIFixture(t, func(cfg *goSession.Config) {
		cfg.OAuth2.Enabled = true
		cfg.OAuth2.ClientID = "client-1"
		cfg.OAuth2.AuthURL = "https://idp.example.com/authorize"
		cfg.OAuth2.TokenURL = provider.URL + "/token"
		cfg.OAuth2.RedirectURL = "https://app.example.com/auth/oauth2/callback"
	})

	rr := f.do(httptest.NewRequest(http.MethodGet, "/auth/oauth2/authorize?return_to=%2Finbox", nil))
	require.Equal(t, http.StatusFound, rr.Code)
	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "idp.example.com", loc.Host)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	callback := "/auth/oauth2/callback?state=" + url.QueryEscape(state) + "&code=abc"
	rr = f.do(httptest.NewRequest(http.MethodGet, callback, nil))
	require.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/inbox", rr.Header().Get("Location"))
	sessionCookie(t, rr)

	rr = f.do(httptest.NewRequest(http.MethodGet, callback, nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "oauth2_state_invalid", decodeError(t, rr).Error)
}

func TestCORSPreflight(t *testing.T) {
	f := newAPIFixture(t, nil)
	h := NewRouter(f.engine, Options{Logger: zerolog.Nop(), AllowedOrigins: []string{"https://app.example.com"}})

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	rr := preflight("https://app.example.com")
	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))

	rr = preflight("https://evil.example.net")
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRetrySeconds(t *testing.T) {
	assert.Equal(t, 0, retrySeconds(0))
	assert.Equal(t, 1, retrySeconds(1))
	assert.Equal(t, 60, retrySeconds(60_000_000_000))
	assert.Equal(t, 61, retrySeconds(60_000_000_001))
}
