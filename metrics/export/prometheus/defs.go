package prometheus

import "github.com/MrEthical07/taskauth"

type counterDef struct {
	ID   taskauth.MetricID
	Name string
	Help string
}

var counterDefs = []counterDef{
	{ID: taskauth.MetricLoginSuccess, Name: "taskauth_login_success_total", Help: "Successful logins."},
	{ID: taskauth.MetricLoginFailure, Name: "taskauth_login_failure_total", Help: "Failed logins."},
	{ID: taskauth.MetricLoginLocked, Name: "taskauth_login_locked_total", Help: "Logins rejected because the account was locked."},
	{ID: taskauth.MetricAccountLocked, Name: "taskauth_account_locked_total", Help: "Accounts locked after repeated failures."},
	{ID: taskauth.MetricRefreshSuccess, Name: "taskauth_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: taskauth.MetricRefreshInvalid, Name: "taskauth_refresh_invalid_total", Help: "Rejected refresh tokens."},
	{ID: taskauth.MetricRefreshReused, Name: "taskauth_refresh_reused_total", Help: "Refresh tokens presented after rotation."},
	{ID: taskauth.MetricSessionCreated, Name: "taskauth_session_created_total", Help: "Created sessions."},
	{ID: taskauth.MetricSessionRevoked, Name: "taskauth_session_revoked_total", Help: "Revoked sessions."},
	{ID: taskauth.MetricLogout, Name: "taskauth_logout_total", Help: "Logouts."},
	{ID: taskauth.MetricRegisterSuccess, Name: "taskauth_register_success_total", Help: "Registered accounts."},
	{ID: taskauth.MetricRegisterDuplicate, Name: "taskauth_register_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: taskauth.MetricPasswordResetRequest, Name: "taskauth_password_reset_request_total", Help: "Password reset requests."},
	{ID: taskauth.MetricPasswordResetSuccess, Name: "taskauth_password_reset_success_total", Help: "Completed password resets."},
	{ID: taskauth.MetricPasswordResetFailure, Name: "taskauth_password_reset_failure_total", Help: "Rejected password resets."},
	{ID: taskauth.MetricPasswordChangeSuccess, Name: "taskauth_password_change_success_total", Help: "Completed password changes."},
	{ID: taskauth.MetricPasswordChangeFailure, Name: "taskauth_password_change_failure_total", Help: "Rejected password changes."},
	{ID: taskauth.MetricVerifyFailure, Name: "taskauth_verify_failure_total", Help: "Rejected access tokens."},
	{ID: taskauth.MetricAPIKeyValid, Name: "taskauth_apikey_valid_total", Help: "Accepted API keys."},
	{ID: taskauth.MetricAPIKeyInvalid, Name: "taskauth_apikey_invalid_total", Help: "Rejected API keys."},
	{ID: taskauth.MetricCacheFailOpen, Name: "taskauth_cache_fail_open_total", Help: "Checks that failed open on a cache fault."},
	{ID: taskauth.MetricIPBlocked, Name: "taskauth_ip_blocked_total", Help: "Addresses added to the block list."},
	{ID: taskauth.MetricBlockedRequest, Name: "taskauth_blocked_request_total", Help: "Requests rejected from blocked addresses."},
	{ID: taskauth.MetricRateLimitExceeded, Name: "taskauth_rate_limit_exceeded_total", Help: "Requests rejected by a rate limit tier."},
	{ID: taskauth.MetricSuspiciousRequest, Name: "taskauth_suspicious_request_total", Help: "Requests that scored above zero."},
	{ID: taskauth.MetricSuspiciousBlocked, Name: "taskauth_suspicious_blocked_total", Help: "Requests rejected for their suspicion score."},
	{ID: taskauth.MetricCSRFMismatch, Name: "taskauth_csrf_mismatch_total", Help: "Requests rejected for a CSRF token mismatch."},
}

const (
	validateLatencyName = "taskauth_validate_latency_seconds"
	validateLatencyHelp = "Access token validation latency."
)

var histogramBounds = [...]string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

func cumulative(raw []uint64) [len(histogramBounds)]uint64 {
	var out [len(histogramBounds)]uint64
	var running uint64
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
