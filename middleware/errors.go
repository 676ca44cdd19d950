package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/taskauth"
	"github.com/MrEthical07/taskauth/internal/respond"
)

// StatusFor maps err to an HTTP status through [taskauth.KindOf].
func StatusFor(err error) int {
	switch taskauth.KindOf(err) {
	case taskauth.KindValidation:
		return http.StatusBadRequest
	case taskauth.KindUnauthorized:
		return http.StatusUnauthorized
	case taskauth.KindAccountLocked:
		return http.StatusLocked
	case taskauth.KindForbidden:
		return http.StatusForbidden
	case taskauth.KindRateLimited:
		return http.StatusTooManyRequests
	}
	if errors.Is(err, taskauth.ErrCacheUnavailable) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// WriteError writes the standard error body for err.
func WriteError(w http.ResponseWriter, err error) {
	extra := map[string]any{}

	var ve *taskauth.ValidationError
	if errors.As(err, &ve) && len(ve.Details) > 0 {
		extra["details"] = ve.Details
	}
	var le *taskauth.LockedError
	if errors.As(err, &le) {
		extra["lockedUntil"] = le.Until.UTC().Format(time.RFC3339)
	}
	var re *taskauth.RateLimitError
	if errors.As(err, &re) {
		secs := int(re.RetryAfter.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		extra["retryAfter"] = secs
	}

	respond.Error(w, StatusFor(err), taskauth.KindOf(err).String(), taskauth.PublicMessage(err), extra)
}
