package internaldefs

import (
	goAuthCore "github.com/MrEthical07/goAuthCore"
)

// CounterDef names one goAuthCore counter for exporters.
type CounterDef struct {
	ID   goAuthCore.MetricID
	Name string
	Help string
}

// HistogramDef names one goAuthCore latency histogram for exporters.
type HistogramDef struct {
	ID   goAuthCore.MetricID
	Name string
	Help string
}

// CounterDefs lists every counter in MetricID order.
var CounterDefs = []CounterDef{
	{ID: goAuthCore.MetricLoginSuccess, Name: "goauthcore_login_success_total", Help: "Completed logins."},
	{ID: goAuthCore.MetricLoginFailure, Name: "goauthcore_login_failure_total", Help: "Logins rejected by the provider or directory."},
	{ID: goAuthCore.MetricLogout, Name: "goauthcore_logout_total", Help: "Logouts, explicit or forced."},
	{ID: goAuthCore.MetricRefreshSuccess, Name: "goauthcore_refresh_success_total", Help: "Token refreshes that replaced the session."},
	{ID: goAuthCore.MetricRefreshFailure, Name: "goauthcore_refresh_failure_total", Help: "Token refreshes that failed or were superseded."},
	{ID: goAuthCore.MetricSessionExpired, Name: "goauthcore_session_expired_total", Help: "Sessions dropped after a failed background refresh."},
	{ID: goAuthCore.MetricSessionRestored, Name: "goauthcore_session_restored_total", Help: "Sessions resumed from the session store."},
	{ID: goAuthCore.MetricRoleSwitch, Name: "goauthcore_role_switch_total", Help: "Successful role switches."},
	{ID: goAuthCore.MetricRoleSwitchFailure, Name: "goauthcore_role_switch_failure_total", Help: "Rejected role switches."},
	{ID: goAuthCore.MetricTenantSwitch, Name: "goauthcore_tenant_switch_total", Help: "Successful tenant switches."},
	{ID: goAuthCore.MetricTenantSwitchFailure, Name: "goauthcore_tenant_switch_failure_total", Help: "Rejected tenant switches."},
	{ID: goAuthCore.MetricImpersonationStart, Name: "goauthcore_impersonation_start_total", Help: "Impersonation sessions started."},
	{ID: goAuthCore.MetricImpersonationStop, Name: "goauthcore_impersonation_stop_total", Help: "Impersonation sessions ended."},
	{ID: goAuthCore.MetricImpersonationDenied, Name: "goauthcore_impersonation_denied_total", Help: "Impersonation attempts refused."},
	{ID: goAuthCore.MetricProfileUpdate, Name: "goauthcore_profile_update_total", Help: "Profile updates accepted by the directory."},
	{ID: goAuthCore.MetricPasswordResetRequest, Name: "goauthcore_password_reset_request_total", Help: "Password reset emails requested."},
	{ID: goAuthCore.MetricSecurityPrefsUpdate, Name: "goauthcore_security_prefs_update_total", Help: "Persisted security preference changes."},
	{ID: goAuthCore.MetricSecurityPrefsRollback, Name: "goauthcore_security_prefs_rollback_total", Help: "Optimistic preference changes rolled back."},
	{ID: goAuthCore.MetricMFAEnrollStarted, Name: "goauthcore_mfa_enroll_started_total", Help: "TOTP enrollments started."},
	{ID: goAuthCore.MetricMFAVerifySuccess, Name: "goauthcore_mfa_verify_success_total", Help: "Verified TOTP enrollments."},
	{ID: goAuthCore.MetricMFAVerifyFailure, Name: "goauthcore_mfa_verify_failure_total", Help: "Rejected TOTP verification codes."},
	{ID: goAuthCore.MetricMFADisabled, Name: "goauthcore_mfa_disabled_total", Help: "MFA disables."},
	{ID: goAuthCore.MetricMFAReauthFailure, Name: "goauthcore_mfa_reauth_failure_total", Help: "MFA disables refused by password re-authentication."},
	{ID: goAuthCore.MetricMFAMetadataHealed, Name: "goauthcore_mfa_metadata_healed_total", Help: "Status reads that rewrote stale MFA metadata."},
	{ID: goAuthCore.MetricMFAReconciliationAmbiguity, Name: "goauthcore_mfa_reconciliation_ambiguity_total", Help: "MFA metadata flags that could not be interpreted."},
	{ID: goAuthCore.MetricMFAOrphansSwept, Name: "goauthcore_mfa_orphans_swept_total", Help: "Unverified factors removed by a sweep."},
	{ID: goAuthCore.MetricPermissionDenied, Name: "goauthcore_permission_denied_total", Help: "Negative permission checks."},
	{ID: goAuthCore.MetricPermissionInvalidFormat, Name: "goauthcore_permission_invalid_format_total", Help: "Checks against malformed permission strings."},
	{ID: goAuthCore.MetricSuperadminBypass, Name: "goauthcore_superadmin_bypass_total", Help: "Permission checks granted by the superadmin role."},
}

// HistogramDefs lists every latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: goAuthCore.MetricLoginLatency, Name: "goauthcore_login_latency_seconds", Help: "Login round-trip latency."},
}

// HistogramUpperBounds are the bucket upper bounds in seconds, excluding +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters that
// flatten a histogram into gauges.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// AuditDroppedName is the counter for events the audit dispatcher discarded.
const AuditDroppedName = "goauthcore_audit_dropped_total"

// AuditDroppedHelp describes AuditDroppedName.
const AuditDroppedHelp = "Audit events dropped due to dispatcher backpressure."

// NormalizeBuckets pads or truncates raw to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
