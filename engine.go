package goSession

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goSession/internal/lockout"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/oauthstate"
	"github.com/MrEthical07/goSession/token"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// Engine is the authentication core: credential login with rate limiting and
// lockout, opaque session tokens, and OAuth2 login. Build one with [New].
//
// Engine is safe for concurrent use. Call Close on shutdown to flush audit
// events.
type Engine struct {
	config Config

	tokens         *token.Store
	ipLimiter      *rate.Limiter
	accountLimiter *rate.Limiter
	lockout        lockout.Policy
	states         *oauthstate.Guard
	oauth2         *oauth2.Config

	principals PrincipalRepository
	hasher     PasswordHasher
	dummyHash  string
	identities OAuth2IdentityResolver

	audit   *auditDispatcher
	metrics *Metrics
	log     zerolog.Logger
	now     func() time.Time
}

func (e *Engine) ready() bool {
	return e != nil && e.tokens != nil && e.principals != nil && e.hasher != nil
}

// Authenticate verifies identifier and credential and returns a new session
// token. The steps run in a fixed order:
//
//  1. IP and account rate windows. A denial stops here with no other effect.
//  2. Principal lookup. Unknown identifiers still pay for one hash.
//  3. Lock check, before any hash work on the real credential.
//  4. Verification. A mismatch bumps the durable counter and may lock.
//  5. Success resets the counter, then a token is issued.
//
// Errors are *AuthError values matching ErrRateLimitExceeded,
// ErrInvalidCredentials, ErrAccountLocked, ErrAccountDisabled or
// ErrInfrastructureUnavailable.
func (e *Engine) Authenticate(ctx context.Context, identifier, credential string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}

	identifier = NormalizeIdentifier(identifier)
	ip := clientIPFromContext(ctx)

	if err := e.checkLoginRate(ctx, ip, identifier); err != nil {
		return "", err
	}

	p, err := e.principals.FindByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			e.equalizeTiming(credential)
			e.metricInc(MetricLoginFailure)
			e.emitLoginFailure(ctx, "", identifier, ip, KindInvalidCredentials, nil)
			return "", newAuthError(KindInvalidCredentials, 0, nil)
		}
		return "", e.infraFailure(ctx, "principal lookup", err)
	}

	now := e.now()
	state := lockout.StateOf(p.Status == AccountLocked, p.FailedAttempts, p.LockedUntil, now)
	if state.Kind == lockout.Locked {
		retry := state.RetryAfter(now)
		e.metricInc(MetricLoginLocked)
		e.emitLoginFailure(ctx, p.ID, identifier, ip, KindAccountLocked, map[string]string{
			"retry_after": retry.Round(time.Second).String(),
		})
		return "", newAuthError(KindAccountLocked, retry, nil)
	}

	ok, err := e.hasher.Verify(credential, p.CredentialHash)
	if err != nil {
		e.log.Warn().Err(err).Str("principal_id", p.ID).Msg("stored credential hash unreadable; treating as mismatch")
	}
	if err != nil || !ok {
		return "", e.recordFailure(ctx, p, identifier, ip, now)
	}

	if p.Status == AccountDisabled {
		e.metricInc(MetricLoginDisabled)
		e.emitLoginFailure(ctx, p.ID, identifier, ip, KindAccountDisabled, nil)
		return "", newAuthError(KindAccountDisabled, 0, nil)
	}

	if err := e.principals.ResetFailedAttempts(ctx, p.ID); err != nil {
		return "", e.infraFailure(ctx, "reset failed attempts", err)
	}

	tok, err := e.tokens.Issue(ctx, p.ID)
	if err != nil {
		return "", e.infraFailure(ctx, "issue token", err)
	}

	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricTokenIssued)
	e.emitAudit(ctx, auditEventLoginSuccess, true, p.ID, identifier, ip, nil, nil)
	return tok, nil
}

func (e *Engine) checkLoginRate(ctx context.Context, ip, identifier string) error {
	checks := [...]struct {
		limiter *rate.Limiter
		scope   rate.Scope
		key     string
	}{
		{e.ipLimiter, rate.ScopeIP, ip},
		{e.accountLimiter, rate.ScopeAccount, identifier},
	}

	for _, c := range checks {
		if c.limiter == nil {
			continue
		}
		d, err := c.limiter.TryAcquire(ctx, c.scope, c.key)
		if err != nil {
			e.metricInc(MetricRateLimitDegraded)
			e.log.Warn().Err(err).Str("scope", string(c.scope)).Msg("rate limiter unavailable; failing open")
			continue
		}
		if !d.Allowed {
			e.metricInc(MetricLoginRateLimited)
			e.emitLoginFailure(ctx, "", identifier, ip, KindRateLimitExceeded, map[string]string{
				"scope": string(c.scope),
			})
			return newAuthError(KindRateLimitExceeded, d.RetryAfter, nil)
		}
	}
	return nil
}

func (e *Engine) recordFailure(ctx context.Context, p Principal, identifier, ip string, now time.Time) error {
	e.metricInc(MetricLoginFailure)

	count, err := e.principals.IncrementFailedAttempts(ctx, p.ID)
	if err != nil {
		return e.infraFailure(ctx, "increment failed attempts", err)
	}

	tr := e.lockout.OnFailure(count, p.LockCount, now)
	if tr.Lock {
		locked, err := e.principals.LockAccount(ctx, p.ID, tr.Until, e.lockout.Threshold, p.LockCount)
		switch {
		case err != nil:
			e.log.Error().Err(err).Str("principal_id", p.ID).Msg("lock account failed")
		case locked:
			e.metricInc(MetricAccountLocked)
			e.emitAudit(ctx, auditEventAccountLocked, true, p.ID, identifier, ip, nil, map[string]string{
				"lock_count": itoa(tr.LockCount),
				"until":      tr.Until.UTC().Format(time.RFC3339),
			})
		}
	}

	e.emitLoginFailure(ctx, p.ID, identifier, ip, KindInvalidCredentials, map[string]string{
		"failed_attempts": itoa(count),
	})
	return newAuthError(KindInvalidCredentials, 0, nil)
}

func (e *Engine) equalizeTiming(credential string) {
	_, _ = e.hasher.Verify(credential, e.dummyHash)
}

func (e *Engine) infraFailure(ctx context.Context, op string, err error) error {
	e.metricInc(MetricInfrastructureUnavailable)
	e.log.Error().Err(err).Str("op", op).Msg("backing store unavailable")
	e.emitAudit(ctx, auditEventInfrastructureFailure, false, "", "", clientIPFromContext(ctx), err, map[string]string{"op": op})
	return newAuthError(KindInfrastructureUnavailable, 0, err)
}

// ValidateToken resolves a session token to its principal ID and renews the
// token's sliding window. A cache failure is reported as
// ErrInfrastructureUnavailable and never as a valid session.
func (e *Engine) ValidateToken(ctx context.Context, raw string) (string, error) {
	if !e.ready() {
		return "", ErrEngineNotReady
	}

	start := time.Now()
	entry, err := e.tokens.Validate(ctx, raw)
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}

	if err != nil {
		if errors.Is(err, token.ErrCacheUnavailable) {
			e.metricInc(MetricInfrastructureUnavailable)
			e.log.Error().Err(err).Msg("token validation unavailable; failing closed")
			return "", newAuthError(KindInfrastructureUnavailable, 0, err)
		}
		e.metricInc(MetricTokenRejected)
		return "", newAuthError(KindTokenInvalidOrExpired, 0, nil)
	}

	e.metricInc(MetricTokenValidated)
	return entry.PrincipalID, nil
}

// Logout revokes one token. It is idempotent and never fails the caller:
// a cache error is logged and the token will still lapse at its sliding
// expiry.
func (e *Engine) Logout(ctx context.Context, raw string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if raw == "" {
		return nil
	}

	if err := e.tokens.Revoke(ctx, raw); err != nil {
		e.log.Warn().Err(err).Msg("logout revoke failed")
		e.emitAudit(ctx, auditEventLogout, false, "", "", clientIPFromContext(ctx), err, nil)
		return nil
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, "", "", clientIPFromContext(ctx), nil, nil)
	return nil
}

// LogoutAll revokes every token of principalID and returns how many were
// live.
func (e *Engine) LogoutAll(ctx context.Context, principalID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}

	n, err := e.tokens.RevokeAll(ctx, principalID)
	if err != nil {
		if errors.Is(err, token.ErrInvalidPrincipal) {
			return 0, err
		}
		return 0, e.infraFailure(ctx, "revoke all", err)
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, principalID, "", clientIPFromContext(ctx), nil, map[string]string{
		"revoked": itoa(n),
	})
	return n, nil
}

// UnlockAccount clears an account's lockout and failure counter. Disabled
// accounts stay disabled.
func (e *Engine) UnlockAccount(ctx context.Context, principalID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.principals.ResetFailedAttempts(ctx, principalID); err != nil {
		if errors.Is(err, ErrPrincipalNotFound) {
			return err
		}
		return e.infraFailure(ctx, "unlock account", err)
	}
	e.emitAudit(ctx, auditEventAccountUnlocked, true, principalID, "", clientIPFromContext(ctx), nil, nil)
	return nil
}

// ActiveSessionCount is an upper bound on principalID's live tokens.
func (e *Engine) ActiveSessionCount(ctx context.Context, principalID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	n, err := e.tokens.ActiveCount(ctx, principalID)
	if err != nil {
		return 0, newAuthError(KindInfrastructureUnavailable, 0, err)
	}
	return n, nil
}

// Ping reports whether the token cache is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.tokens.Ping(ctx); err != nil {
		return newAuthError(KindInfrastructureUnavailable, 0, err)
	}
	return nil
}

// Cookie returns the session cookie settings.
func (e *Engine) Cookie() CookieConfig {
	if e == nil {
		return DefaultConfig().Cookie
	}
	return e.config.Cookie
}

// OAuth2Enabled reports whether BeginOAuth2 and CompleteOAuth2 are usable.
func (e *Engine) OAuth2Enabled() bool {
	return e != nil && e.oauth2 != nil && e.states != nil
}

// MetricsSnapshot returns a copy of the in-process counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return (*Metrics)(nil).Snapshot()
	}
	return e.metrics.Snapshot()
}

// AuditDropped is the number of audit events dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Close flushes buffered audit events. The Engine must not be used after.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}
