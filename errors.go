package taskauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/taskauth/cache"
	"github.com/MrEthical07/taskauth/session"
)

var (
	// ErrInvalidCredentials is returned for an unknown handle or a wrong password.
	// The two cases are indistinguishable to callers.
	ErrInvalidCredentials = errors.New("Invalid email or password")
	// ErrAccountLocked is the sentinel behind [LockedError].
	ErrAccountLocked = errors.New("Account is temporarily locked")
	// ErrAccountDisabled is returned when the principal is deactivated.
	ErrAccountDisabled = errors.New("Account is deactivated")
	// ErrAccountExists is returned by Register for a duplicate email or username.
	ErrAccountExists = errors.New("User with this email or username already exists")
	// ErrPrincipalNotFound is returned by credential stores for a missing principal.
	ErrPrincipalNotFound = errors.New("user not found")
	// ErrValidation is the sentinel behind [ValidationError].
	ErrValidation = errors.New("Validation failed")

	// ErrTokenMissing is returned when no bearer token was presented.
	ErrTokenMissing = errors.New("Access token required")
	// ErrTokenExpired is returned for an access token past its expiry.
	ErrTokenExpired = errors.New("Token expired")
	// ErrTokenMalformed is returned for any other access token verification failure.
	ErrTokenMalformed = errors.New("Invalid token")
	// ErrSessionRevoked is returned when the session an access token names no longer exists.
	ErrSessionRevoked = errors.New("Session expired or revoked")

	// ErrRefreshInvalid is returned for a refresh token that fails verification
	// or whose chain was cleared.
	ErrRefreshInvalid = errors.New("Invalid or expired refresh token")
	// ErrRefreshExpired is returned for a refresh token past its expiry.
	ErrRefreshExpired = errors.New("Refresh token expired")
	// ErrRefreshReused is returned for a valid refresh token that is no longer
	// the active one for its principal.
	ErrRefreshReused = errors.New("Refresh token has been superseded")

	// ErrResetInvalid is returned for an unknown or expired password reset token.
	ErrResetInvalid = errors.New("Invalid or expired password reset token")
	// ErrCurrentPasswordInvalid is returned by ChangePassword when the current password does not match.
	ErrCurrentPasswordInvalid = errors.New("Current password is incorrect")

	// ErrForbidden is returned for permission and role denials.
	ErrForbidden = errors.New("Insufficient permissions")
	// ErrRateLimited is the sentinel behind [RateLimitError].
	ErrRateLimited = errors.New("Too many requests")

	// ErrStoreUnavailable wraps credential store faults. These fail closed.
	ErrStoreUnavailable = errors.New("credential store unavailable")
	// ErrCacheUnavailable wraps cache faults on paths that cannot fail open.
	ErrCacheUnavailable = errors.New("Service temporarily unavailable")
	// ErrEngineNotReady is returned when an Engine was not built through [Builder.Build].
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInvalidConfig is returned by [Config.Validate].
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ValidationError carries field-level messages for a rejected input.
type ValidationError struct {
	Message string
	Details []string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return ErrValidation.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func newValidationError(details ...string) *ValidationError {
	return &ValidationError{Message: ErrValidation.Error(), Details: details}
}

// LockedError reports a locked principal and when the lock lapses.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return ErrAccountLocked.Error() + " due to multiple failed login attempts"
}

func (e *LockedError) Unwrap() error { return ErrAccountLocked }

// RateLimitError reports a rejected request and when to retry.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s, retry after %s", ErrRateLimited.Error(), e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// Kind is the caller-facing error category.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindUnauthorized
	KindAccountLocked
	KindForbidden
	KindRateLimited
)

// String returns the name used in error bodies.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindUnauthorized:
		return "UnauthorizedError"
	case KindAccountLocked:
		return "AccountLocked"
	case KindForbidden:
		return "ForbiddenError"
	case KindRateLimited:
		return "TooManyRequests"
	default:
		return "InternalError"
	}
}

// KindOf classifies err. Unknown errors are [KindInternal].
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrAccountExists),
		errors.Is(err, ErrResetInvalid),
		errors.Is(err, ErrCurrentPasswordInvalid):
		return KindValidation
	case errors.Is(err, ErrAccountLocked):
		return KindAccountLocked
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrAccountDisabled),
		errors.Is(err, ErrTokenMissing),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenMalformed),
		errors.Is(err, ErrSessionRevoked),
		errors.Is(err, ErrRefreshInvalid),
		errors.Is(err, ErrRefreshExpired),
		errors.Is(err, ErrRefreshReused):
		return KindUnauthorized
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	default:
		return KindInternal
	}
}

// PublicMessage returns the message safe to show a caller for err. Internal
// faults never leak their cause.
func PublicMessage(err error) string {
	if KindOf(err) == KindInternal {
		if errors.Is(err, ErrCacheUnavailable) {
			return ErrCacheUnavailable.Error()
		}
		return "Internal server error"
	}
	var le *LockedError
	if errors.As(err, &le) {
		return le.Error()
	}
	for _, sentinel := range publicSentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

var publicSentinels = []error{
	ErrValidation,
	ErrAccountExists,
	ErrResetInvalid,
	ErrCurrentPasswordInvalid,
	ErrInvalidCredentials,
	ErrAccountDisabled,
	ErrTokenMissing,
	ErrTokenExpired,
	ErrTokenMalformed,
	ErrSessionRevoked,
	ErrRefreshInvalid,
	ErrRefreshExpired,
	ErrRefreshReused,
	ErrForbidden,
	ErrRateLimited,
}

func storeErr(err error) error {
	if err == nil || errors.Is(err, ErrPrincipalNotFound) || errors.Is(err, ErrAccountExists) || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func isCacheFault(err error) bool {
	return errors.Is(err, cache.ErrUnavailable) || errors.Is(err, session.ErrCacheUnavailable)
}
