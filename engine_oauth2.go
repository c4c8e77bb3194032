package goSession

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/MrEthical07/goSession/internal/lockout"
	"github.com/MrEthical07/goSession/oauthstate"
	"golang.org/x/oauth2"
)

// BeginOAuth2 creates a single-use state bound to returnTo (and a PKCE
// verifier when enabled) and returns the provider authorization URL.
// returnTo must be a same-origin path; anything else is replaced with "/".
func (e *Engine) BeginOAuth2(ctx context.Context, returnTo string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}
	if !e.OAuth2Enabled() {
		return "", ErrOAuth2Disabled
	}

	payload := oauthstate.Payload{ReturnTo: SanitizeReturnTo(returnTo)}
	var opts []oauth2.AuthCodeOption
	if e.config.OAuth2.UsePKCE {
		payload.CodeVerifier = oauth2.GenerateVerifier()
		opts = append(opts, oauth2.S256ChallengeOption(payload.CodeVerifier))
	}

	state, err := e.states.Issue(ctx, payload)
	if err != nil {
		return "", e.infraFailure(ctx, "issue oauth2 state", err)
	}

	e.metricInc(MetricOAuth2Started)
	return e.oauth2.AuthCodeURL(state, opts...), nil
}

// CompleteOAuth2 redeems state, exchanges code with the provider, resolves
// the local principal and issues a session token.
//
// The state is consumed before anything else and exactly once, whatever the
// later outcome. A state store failure is ErrInfrastructureUnavailable and
// is not retried, since a retry could redeem a state twice.
func (e *Engine) CompleteOAuth2(ctx context.Context, state, code string) (OAuth2Result, error) {
	if !e.ready() {
		return OAuth2Result{}, ErrEngineNotReady
	}
	if !e.OAuth2Enabled() {
		return OAuth2Result{}, ErrOAuth2Disabled
	}

	ip := clientIPFromContext(ctx)

	payload, err := e.states.Consume(ctx, state)
	if err != nil {
		if errors.Is(err, oauthstate.ErrStateInvalid) {
			e.metricInc(MetricOAuth2StateRejected)
			e.emitAudit(ctx, auditEventOAuth2Failure, false, "", "", ip, nil, map[string]string{
				"reason": KindOAuth2StateInvalid.String(),
			})
			return OAuth2Result{}, newAuthError(KindOAuth2StateInvalid, 0, nil)
		}
		return OAuth2Result{}, e.infraFailure(ctx, "consume oauth2 state", err)
	}

	if code == "" {
		return OAuth2Result{}, e.oauth2Failure(ctx, ip, "missing_code", nil)
	}

	var opts []oauth2.AuthCodeOption
	if payload.CodeVerifier != "" {
		opts = append(opts, oauth2.VerifierOption(payload.CodeVerifier))
	}

	exCtx, cancel := e.exchangeContext(ctx)
	tok, err := e.oauth2.Exchange(exCtx, code, opts...)
	cancel()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return OAuth2Result{}, e.oauth2Failure(ctx, ip, "exchange_rejected", err)
		}
		return OAuth2Result{}, e.infraFailure(ctx, "oauth2 exchange", err)
	}

	principalID, err := e.identities.ResolvePrincipal(ctx, tok)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return OAuth2Result{}, e.oauth2Failure(ctx, ip, "unknown_identity", nil)
		}
		return OAuth2Result{}, e.infraFailure(ctx, "resolve oauth2 identity", err)
	}

	p, err := e.principals.FindByID(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return OAuth2Result{}, e.oauth2Failure(ctx, ip, "unknown_principal", nil)
		}
		return OAuth2Result{}, e.infraFailure(ctx, "principal lookup", err)
	}

	now := e.now()
	if st := lockout.StateOf(p.Status == AccountLocked, p.FailedAttempts, p.LockedUntil, now); st.Kind == lockout.Locked {
		e.metricInc(MetricLoginLocked)
		return OAuth2Result{}, newAuthError(KindAccountLocked, st.RetryAfter(now), nil)
	}
	if p.Status == AccountDisabled {
		e.metricInc(MetricLoginDisabled)
		return OAuth2Result{}, newAuthError(KindAccountDisabled, 0, nil)
	}

	sessionToken, err := e.tokens.Issue(ctx, p.ID)
	if err != nil {
		return OAuth2Result{}, e.infraFailure(ctx, "issue token", err)
	}

	e.metricInc(MetricOAuth2Success)
	e.metricInc(MetricTokenIssued)
	e.emitAudit(ctx, auditEventOAuth2Success, true, p.ID, "", ip, nil, nil)

	return OAuth2Result{
		Token:       sessionToken,
		PrincipalID: p.ID,
		ReturnTo:    payload.ReturnTo,
	}, nil
}

func (e *Engine) oauth2Failure(ctx context.Context, ip, reason string, err error) error {
	e.metricInc(MetricOAuth2Failure)
	e.emitAudit(ctx, auditEventOAuth2Failure, false, "", "", ip, err, map[string]string{"reason": reason})
	return newAuthError(KindInvalidCredentials, 0, nil)
}

func (e *Engine) exchangeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.OAuth2.ExchangeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.config.OAuth2.ExchangeTimeout)
}

// SanitizeReturnTo keeps only same-origin absolute paths. Scheme-relative
// ("//host"), backslash and absolute URLs collapse to "/".
func SanitizeReturnTo(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.ContainsAny(raw, "\\\r\n") {
		return "/"
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" {
		return "/"
	}
	return u.RequestURI()
}
