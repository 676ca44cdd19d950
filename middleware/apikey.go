package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/taskauth"
	"github.com/MrEthical07/taskauth/apikey"
	"github.com/MrEthical07/taskauth/cache"
	"github.com/MrEthical07/taskauth/internal/rate"
	"github.com/MrEthical07/taskauth/internal/respond"
	"github.com/MrEthical07/taskauth/security"
	"go.uber.org/zap"
)

// DefaultAPIKeyExempt lists the path prefixes that never need a key.
var DefaultAPIKeyExempt = []string{
	"/health",
	"/api-docs",
	"/api/v1/auth/login",
	"/api/v1/auth/register",
	"/api/v1/auth/forgot-password",
}

type identityContextKey struct{}

// IdentityFromContext returns the key identity attached by [APIKey].
func IdentityFromContext(ctx context.Context) (*apikey.Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(*apikey.Identity)
	return id, ok
}

// APIKeyOptions configures [APIKey].
type APIKeyOptions struct {
	// Exempt path prefixes. Nil means [DefaultAPIKeyExempt].
	Exempt []string
	// Cache backs the per-key hourly ceiling. Nil disables it.
	Cache  cache.Cache
	Window time.Duration
	Logger *zap.Logger
}

// APIKey requires a valid x-api-key header outside the exempt prefixes and
// enforces each key's hourly ceiling. Ceiling faults fail open.
func APIKey(svc *apikey.Service, opts APIKeyOptions) func(http.Handler) http.Handler {
	exempt := opts.Exempt
	if exempt == nil {
		exempt = DefaultAPIKeyExempt
	}
	window := opts.Window
	if window <= 0 {
		window = time.Hour
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var counter *rate.Counter
	if opts.Cache != nil {
		counter = rate.New(opts.Cache, "apikey:rate")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range exempt {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			raw := r.Header.Get("X-API-Key")
			if raw == "" {
				respond.Error(w, http.StatusUnauthorized, "UnauthorizedError", "API key required", nil)
				return
			}

			id, err := svc.Validate(r.Context(), raw, security.ClientIP(r))
			switch {
			case errors.Is(err, apikey.ErrInvalidKey):
				respond.Error(w, http.StatusUnauthorized, "UnauthorizedError", apikey.ErrInvalidKey.Error(), nil)
				return
			case err != nil:
				logger.Error("api key validation failed", zap.Error(err))
				respond.Error(w, http.StatusInternalServerError, "InternalError", "Error validating API key", nil)
				return
			}

			if counter != nil && id.RateLimit > 0 {
				d, err := counter.Hit(r.Context(), rate.Window{Limit: id.RateLimit, Window: window}, id.KeyID)
				if err != nil {
					logger.Warn("api key ceiling unavailable, allowing request", zap.String("key_id", id.KeyID), zap.Error(err))
				} else if !d.Allowed {
					secs := int(d.ResetIn.Round(time.Second) / time.Second)
					if secs < 1 {
						secs = 1
					}
					w.Header().Set("Retry-After", strconv.Itoa(secs))
					respond.Error(w, http.StatusTooManyRequests, "TooManyRequests", "API key rate limit exceeded",
						map[string]any{"retryAfter": secs})
					return
				}
			}

			ctx := context.WithValue(r.Context(), identityContextKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope admits key identities granting perm. It must run after [APIKey].
// Denials go to sink as permission_denied events; a nil sink drops them.
func RequireScope(sink taskauth.AuditSink, perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				respond.Error(w, http.StatusUnauthorized, "UnauthorizedError", "API key required", nil)
				return
			}
			if !apikey.HasPermission(id, perm) {
				if sink != nil {
					sink.Emit(r.Context(), taskauth.AuditEvent{
						Timestamp: time.Now().UTC(),
						EventType: taskauth.EventPermissionDenied,
						IP:        taskauth.ClientIPFromContext(r.Context()),
						Path:      r.URL.Path,
						Error:     "forbidden",
						Metadata:  map[string]string{"key_id": id.KeyID, "required": perm},
					})
				}
				respond.Error(w, http.StatusForbidden, "ForbiddenError", "Insufficient permissions", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
