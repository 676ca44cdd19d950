package middleware

import (
	"net/http"

	"github.com/MrEthical07/taskauth"
)

func deny(engine *taskauth.Engine, w http.ResponseWriter, r *http.Request, userID, required string) {
	engine.RecordSecurityEvent(r.Context(), taskauth.AuditEvent{
		EventType: taskauth.EventPermissionDenied,
		UserID:    userID,
		Path:      r.URL.Path,
		Error:     "forbidden",
		Metadata:  map[string]string{"required": required},
	})
	WriteError(w, taskauth.ErrForbidden)
}

// RequirePermission admits principals whose role grants perm. It must run
// after [Guard].
func RequirePermission(engine *taskauth.Engine, perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				WriteError(w, taskauth.ErrTokenMissing)
				return
			}
			if !engine.HasPermission(p.Role, perm) {
				deny(engine, w, r, p.ID, perm)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole admits principals holding one of roles. It must run after [Guard].
func RequireRole(engine *taskauth.Engine, roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				WriteError(w, taskauth.ErrTokenMissing)
				return
			}
			if _, ok := allowed[p.Role]; !ok {
				deny(engine, w, r, p.ID, "role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
