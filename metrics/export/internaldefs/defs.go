package internaldefs

import (
	goSession "github.com/MrEthical07/goSession"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: goSession.MetricLoginSuccess, Name: "gosession_login_success_total", Help: "Successful credential logins."},
	{ID: goSession.MetricLoginFailure, Name: "gosession_login_failure_total", Help: "Credential logins rejected as invalid."},
	{ID: goSession.MetricLoginRateLimited, Name: "gosession_login_rate_limited_total", Help: "Login attempts denied by a rate window."},
	{ID: goSession.MetricLoginLocked, Name: "gosession_login_locked_total", Help: "Login attempts against a locked account."},
	{ID: goSession.MetricLoginDisabled, Name: "gosession_login_disabled_total", Help: "Correct credentials for a disabled account."},
	{ID: goSession.MetricAccountLocked, Name: "gosession_account_locked_total", Help: "Lock events written by the lockout policy."},
	{ID: goSession.MetricRateLimitDegraded, Name: "gosession_rate_limit_degraded_total", Help: "Rate checks skipped because the cache was unavailable."},
	{ID: goSession.MetricTokenIssued, Name: "gosession_token_issued_total", Help: "Session tokens issued."},
	{ID: goSession.MetricTokenValidated, Name: "gosession_token_validated_total", Help: "Session tokens validated."},
	{ID: goSession.MetricTokenRejected, Name: "gosession_token_rejected_total", Help: "Session tokens rejected as invalid or expired."},
	{ID: goSession.MetricLogout, Name: "gosession_logout_total", Help: "Single-token logouts."},
	{ID: goSession.MetricLogoutAll, Name: "gosession_logout_all_total", Help: "Logout-everywhere operations."},
	{ID: goSession.MetricOAuth2Started, Name: "gosession_oauth2_started_total", Help: "OAuth2 authorization redirects issued."},
	{ID: goSession.MetricOAuth2Success, Name: "gosession_oauth2_success_total", Help: "Completed OAuth2 logins."},
	{ID: goSession.MetricOAuth2StateRejected, Name: "gosession_oauth2_state_rejected_total", Help: "OAuth2 callbacks with missing, expired or replayed state."},
	{ID: goSession.MetricOAuth2Failure, Name: "gosession_oauth2_failure_total", Help: "OAuth2 callbacks rejected after state validation."},
	{ID: goSession.MetricInfrastructureUnavailable, Name: "gosession_infrastructure_unavailable_total", Help: "Operations failed by an unavailable backing store."},
}

var HistogramDefs = []HistogramDef{
	{ID: goSession.MetricValidateLatency, Name: "gosession_validate_latency_seconds", Help: "Token validation latency."},
}

// HistogramUpperBounds are the finite bucket bounds in seconds. The engine
// keeps one more bucket for +Inf.
var HistogramUpperBounds = []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1}

var HistogramBoundSuffix = []string{
	"0_001",
	"0_002",
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"inf",
}

const AuditDroppedName = "gosession_audit_dropped_total"

const AuditDroppedHelp = "Audit events dropped on a full dispatcher buffer."

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
