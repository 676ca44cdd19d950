package taskauth

import (
	"context"
	"errors"
	"time"

	internalaudit "github.com/MrEthical07/taskauth/internal/audit"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginLocked           = "login_locked"
	auditEventAccountLocked         = "account_locked"
	auditEventRefreshSuccess        = "refresh_success"
	auditEventRefreshInvalid        = "refresh_invalid"
	auditEventRefreshReuseDetected  = "refresh_reuse_detected"
	auditEventLogout                = "logout"
	auditEventRegisterSuccess       = "account_creation_success"
	auditEventRegisterDuplicate     = "account_creation_duplicate"
	auditEventPasswordResetRequest  = "password_reset_request"
	auditEventPasswordResetConfirm  = "password_reset_confirm"
	auditEventPasswordChangeSuccess = "password_change_success"
	auditEventPasswordChangeFailure = "password_change_failure"
	auditEventProfileUpdate         = "profile_update"
)

// Security pipeline and API key event names.
const (
	EventIPBlocked                = internalaudit.EventIPBlocked
	EventIPUnblocked              = internalaudit.EventIPUnblocked
	EventRateLimitExceeded        = internalaudit.EventRateLimitExceeded
	EventSuspiciousRequest        = internalaudit.EventSuspiciousRequest
	EventSuspiciousRequestBlocked = internalaudit.EventSuspiciousRequestBlocked
	EventBlockedRequest           = internalaudit.EventBlockedRequest
	EventCSRFMismatch             = internalaudit.EventCSRFMismatch
	EventPermissionDenied         = internalaudit.EventPermissionDenied
	EventAPIKeyRejected           = internalaudit.EventAPIKeyRejected
	EventAPIKeyValidated          = internalaudit.EventAPIKeyValidated
	EventAPIKeyCreated            = internalaudit.EventAPIKeyCreated
	EventAPIKeyRevoked            = internalaudit.EventAPIKeyRevoked
	EventAPIKeyExpired            = internalaudit.EventAPIKeyExpired
)

// AuditErrorCode is the stable error label recorded on audit events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrAccountDisabled    AuditErrorCode = "account_disabled"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrValidation         AuditErrorCode = "validation"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrRefreshReuse       AuditErrorCode = "refresh_reuse"
	auditErrSessionRevoked     AuditErrorCode = "session_revoked"
	auditErrForbidden          AuditErrorCode = "forbidden"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["request_id"] = rid
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        ClientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

// RecordSecurityEvent counts a security pipeline event and forwards it to the
// audit sink. It satisfies [AuditSink] through [Engine.SecuritySink].
func (e *Engine) RecordSecurityEvent(ctx context.Context, event AuditEvent) {
	if e == nil {
		return
	}
	switch event.EventType {
	case EventIPBlocked:
		e.metricInc(MetricIPBlocked)
	case EventBlockedRequest:
		e.metricInc(MetricBlockedRequest)
	case EventRateLimitExceeded:
		e.metricInc(MetricRateLimitExceeded)
	case EventSuspiciousRequest:
		e.metricInc(MetricSuspiciousRequest)
	case EventSuspiciousRequestBlocked:
		e.metricInc(MetricSuspiciousBlocked)
	case EventCSRFMismatch:
		e.metricInc(MetricCSRFMismatch)
	case EventAPIKeyRejected:
		e.metricInc(MetricAPIKeyInvalid)
	case EventAPIKeyValidated:
		e.metricInc(MetricAPIKeyValid)
	}
	if e.audit == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now().UTC()
	}
	if event.IP == "" {
		event.IP = ClientIPFromContext(ctx)
	}
	e.audit.Emit(ctx, event)
}

// SecuritySink returns an [AuditSink] backed by [Engine.RecordSecurityEvent].
func (e *Engine) SecuritySink() AuditSink {
	return AuditSinkFunc(e.RecordSecurityEvent)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrCurrentPasswordInvalid):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrAccountExists):
		return auditErrDuplicate
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrRefreshReused):
		return auditErrRefreshReuse
	case errors.Is(err, ErrRefreshInvalid),
		errors.Is(err, ErrRefreshExpired),
		errors.Is(err, ErrResetInvalid),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenMalformed),
		errors.Is(err, ErrTokenMissing):
		return auditErrInvalidToken
	case errors.Is(err, ErrSessionRevoked):
		return auditErrSessionRevoked
	case errors.Is(err, ErrForbidden):
		return auditErrForbidden
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrCacheUnavailable),
		isCacheFault(err):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
