package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goSession "github.com/MrEthical07/goSession"
	"github.com/rs/zerolog"
)

// TokenValidator is satisfied by *goSession.Engine.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (string, error)
}

// GateConfig configures [Gate].
type GateConfig struct {
	// CookieName is the session cookie to read.
	CookieName string
	// AllowBearerHeader also accepts "Authorization: Bearer <token>" when no
	// cookie is present. Intended for non-browser clients.
	AllowBearerHeader bool
	Logger            zerolog.Logger
}

type gateContextKey struct{}

type gateResult struct {
	principalID string
	unavailable bool
}

// PrincipalFromContext returns the principal attached by [Gate].
func PrincipalFromContext(ctx context.Context) (string, bool) {
	res, ok := ctx.Value(gateContextKey{}).(*gateResult)
	if !ok || res.principalID == "" {
		return "", false
	}
	return res.principalID, true
}

// Gate validates the session token once per request. On success the
// principal ID is attached to the context and the token's sliding window has
// been renewed by the validator. On any failure the request continues
// unauthenticated. Nested Gates do not validate again.
func Gate(v TokenValidator, cfg GateConfig) func(http.Handler) http.Handler {
	log := cfg.Logger.With().Str("component", "gate").Logger()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, done := r.Context().Value(gateContextKey{}).(*gateResult); done {
				next.ServeHTTP(w, r)
				return
			}

			res := &gateResult{}
			if tok, ok := TokenFromRequest(r, cfg); ok && v != nil {
				id, err := v.ValidateToken(r.Context(), tok)
				switch {
				case err == nil:
					res.principalID = id
				case errors.Is(err, goSession.ErrInfrastructureUnavailable):
					res.unavailable = true
					log.Warn().Err(err).Msg("session validation unavailable")
				}
			}

			ctx := context.WithValue(r.Context(), gateContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSession rejects requests that [Gate] left unauthenticated: 401 when
// there is no valid session, 503 when the session store could not be
// reached. It must be mounted after Gate.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, _ := r.Context().Value(gateContextKey{}).(*gateResult)
		switch {
		case res != nil && res.principalID != "":
			next.ServeHTTP(w, r)
		case res != nil && res.unavailable:
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		default:
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}
	})
}

// TokenFromRequest returns the session token the way [Gate] reads it: the
// cookie first, then the Bearer header when cfg allows it.
func TokenFromRequest(r *http.Request, cfg GateConfig) (string, bool) {
	if cfg.CookieName != "" {
		if c, err := r.Cookie(cfg.CookieName); err == nil && c.Value != "" {
			return c.Value, true
		}
	}
	if cfg.AllowBearerHeader {
		return bearerToken(r.Header.Get("Authorization"))
	}
	return "", false
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
