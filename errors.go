package goSession

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers unknown identifiers and wrong credentials alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while a lockout is active.
	ErrAccountLocked = errors.New("account locked")
	// ErrRateLimitExceeded is returned when an attempt exceeds its window budget.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrTokenInvalidOrExpired is returned for any token that does not resolve to a live session.
	ErrTokenInvalidOrExpired = errors.New("token invalid or expired")
	// ErrOAuth2StateInvalid is returned for missing, expired, replayed or malformed OAuth2 state.
	ErrOAuth2StateInvalid = errors.New("oauth2 state invalid")
	// ErrInfrastructureUnavailable is returned when a backing store fails on a fail-closed path.
	ErrInfrastructureUnavailable = errors.New("infrastructure unavailable")
	// ErrAccountDisabled is returned only after a correct credential for a disabled account.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrOAuth2Disabled is returned by OAuth2 operations when no provider is configured.
	ErrOAuth2Disabled = errors.New("oauth2 disabled")
	// ErrEngineNotReady is returned when an Engine method is called on a nil or unbuilt engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrPrincipalNotFound is returned by PrincipalRepository lookups that match nothing.
	ErrPrincipalNotFound = errors.New("principal not found")
)

// AuthErrorKind classifies an [AuthError].
type AuthErrorKind uint8

const (
	KindInvalidCredentials AuthErrorKind = iota + 1
	KindAccountLocked
	KindRateLimitExceeded
	KindTokenInvalidOrExpired
	KindOAuth2StateInvalid
	KindInfrastructureUnavailable
	KindAccountDisabled
)

var kindSentinels = map[AuthErrorKind]error{
	KindInvalidCredentials:        ErrInvalidCredentials,
	KindAccountLocked:             ErrAccountLocked,
	KindRateLimitExceeded:         ErrRateLimitExceeded,
	KindTokenInvalidOrExpired:     ErrTokenInvalidOrExpired,
	KindOAuth2StateInvalid:        ErrOAuth2StateInvalid,
	KindInfrastructureUnavailable: ErrInfrastructureUnavailable,
	KindAccountDisabled:           ErrAccountDisabled,
}

func (k AuthErrorKind) String() string {
	switch k {
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindAccountLocked:
		return "account_locked"
	case KindRateLimitExceeded:
		return "rate_limit_exceeded"
	case KindTokenInvalidOrExpired:
		return "token_invalid_or_expired"
	case KindOAuth2StateInvalid:
		return "oauth2_state_invalid"
	case KindInfrastructureUnavailable:
		return "infrastructure_unavailable"
	case KindAccountDisabled:
		return "account_disabled"
	default:
		return "unknown"
	}
}

// AuthError is the error type returned by Engine operations. It matches its
// kind's sentinel under errors.Is and carries a retry hint for lockout and
// rate limiting.
type AuthError struct {
	Kind       AuthErrorKind
	RetryAfter time.Duration
	cause      error
}

func newAuthError(kind AuthErrorKind, retryAfter time.Duration, cause error) *AuthError {
	return &AuthError{Kind: kind, RetryAfter: retryAfter, cause: cause}
}

func (e *AuthError) Error() string {
	msg := kindSentinels[e.Kind]
	if msg == nil {
		return "auth error"
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", msg, e.RetryAfter.Round(time.Second))
	}
	return msg.Error()
}

// Unwrap exposes the kind sentinel and, for infrastructure failures, the
// underlying cause.
func (e *AuthError) Unwrap() []error {
	out := make([]error, 0, 2)
	if s := kindSentinels[e.Kind]; s != nil {
		out = append(out, s)
	}
	if e.cause != nil {
		out = append(out, e.cause)
	}
	return out
}

// RetryAfter extracts the retry hint from err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var ae *AuthError
	if errors.As(err, &ae) && ae.RetryAfter > 0 {
		return ae.RetryAfter, true
	}
	return 0, false
}
