package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/taskauth"
	"github.com/MrEthical07/taskauth/security"
	chimw "github.com/go-chi/chi/v5/middleware"
)

type principalContextKey struct{}
type claimsContextKey struct{}

// PrincipalFromContext returns the principal attached by [Guard].
func PrincipalFromContext(ctx context.Context) (*taskauth.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*taskauth.Principal)
	return p, ok
}

// ClaimsFromContext returns the verified access claims attached by [Guard]
// or [RequireToken].
func ClaimsFromContext(ctx context.Context) (*taskauth.Claims, bool) {
	c, ok := ctx.Value(claimsContextKey{}).(*taskauth.Claims)
	return c, ok
}

// WithPrincipal attaches p and its claims to ctx.
func WithPrincipal(ctx context.Context, p *taskauth.Principal, c *taskauth.Claims) context.Context {
	ctx = context.WithValue(ctx, principalContextKey{}, p)
	return context.WithValue(ctx, claimsContextKey{}, c)
}

// ClientContext records the caller's address, user agent and request id on
// the request context so sessions and audit events carry them.
func ClientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := taskauth.WithClientIP(r.Context(), security.ClientIP(r))
		ctx = taskauth.WithUserAgent(ctx, r.UserAgent())
		if id := chimw.GetReqID(ctx); id != "" {
			ctx = taskauth.WithRequestID(ctx, id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Guard requires a bearer access token whose session is live and whose
// principal is active and unlocked.
func Guard(engine *taskauth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteError(w, taskauth.ErrEngineNotReady)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteError(w, taskauth.ErrTokenMissing)
				return
			}

			p, claims, err := engine.Authenticate(r.Context(), token)
			if err != nil {
				WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p, claims)))
		})
	}
}

// RequireToken admits any bearer access token whose session is live and
// attaches its claims. The principal is not loaded, so locked or deactivated
// users still pass; use it for routes such as logout that must stay reachable.
func RequireToken(engine *taskauth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteError(w, taskauth.ErrEngineNotReady)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteError(w, taskauth.ErrTokenMissing)
				return
			}

			claims, err := engine.Verify(r.Context(), token)
			if err != nil {
				WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsContextKey{}, claims)))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
