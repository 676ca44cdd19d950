package audit

// Security and API key event names. The engine maps these to counters.
const (
	EventIPBlocked                = "ip_blocked"
	EventIPUnblocked              = "ip_unblocked"
	EventRateLimitExceeded        = "rate_limit_exceeded"
	EventSuspiciousRequest        = "suspicious_request"
	EventSuspiciousRequestBlocked = "suspicious_request_blocked"
	EventBlockedRequest           = "blocked_request"
	EventCSRFMismatch             = "csrf_mismatch"
	EventPermissionDenied         = "permission_denied"

	EventAPIKeyRejected  = "api_key_rejected"
	EventAPIKeyValidated = "api_key_validated"
	EventAPIKeyCreated   = "api_key_created"
	EventAPIKeyRevoked   = "api_key_revoked"
	EventAPIKeyExpired   = "api_key_expired"
)
