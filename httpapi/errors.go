package httpapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/getsentry/sentry-go"
)

type errorBody struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func statusFor(err error) (int, string) {
	var ae *goSession.AuthError
	if errors.As(err, &ae) {
		switch ae.Kind {
		case goSession.KindInvalidCredentials, goSession.KindTokenInvalidOrExpired:
			return http.StatusUnauthorized, ae.Kind.String()
		case goSession.KindAccountLocked:
			return http.StatusLocked, ae.Kind.String()
		case goSession.KindRateLimitExceeded:
			return http.StatusTooManyRequests, ae.Kind.String()
		case goSession.KindAccountDisabled:
			return http.StatusForbidden, ae.Kind.String()
		case goSession.KindOAuth2StateInvalid:
			return http.StatusBadRequest, ae.Kind.String()
		case goSession.KindInfrastructureUnavailable:
			return http.StatusServiceUnavailable, ae.Kind.String()
		}
	}
	switch {
	case errors.Is(err, goSession.ErrOAuth2Disabled):
		return http.StatusNotFound, "oauth2_disabled"
	case errors.Is(err, goSession.ErrEngineNotReady):
		return http.StatusServiceUnavailable, "infrastructure_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func (a *api) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		sentry.CaptureException(err)
	}

	retry := 0
	if d, ok := goSession.RetryAfter(err); ok {
		retry = retrySeconds(d)
	}
	writeError(w, status, code, retry)
}

func writeError(w http.ResponseWriter, status int, code string, retryAfter int) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	writeJSON(w, status, errorBody{Error: code, RetryAfter: retryAfter})
}

// retrySeconds rounds up so clients never retry early.
func retrySeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
