package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/MrEthical07/taskauth/internal/audit"
	"github.com/MrEthical07/taskauth/internal/respond"
)

// CSRF is a double-submit cookie guard. Requests carrying an API key are
// exempt, as are safe methods.
type CSRF struct {
	cfg    CSRFConfig
	events audit.Sink
	now    func() time.Time
}

// NewCSRF returns a guard for cfg.
func NewCSRF(cfg CSRFConfig, events audit.Sink) *CSRF {
	if events == nil {
		events = audit.NoOpSink{}
	}
	return &CSRF{cfg: cfg, events: events, now: time.Now}
}

// IssueToken sets a fresh token cookie on w and returns the token.
func (c *CSRF) IssueToken(w http.ResponseWriter) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)
	http.SetCookie(w, &http.Cookie{
		Name:     c.cfg.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  c.now().Add(c.cfg.TokenTTL),
		MaxAge:   int(c.cfg.TokenTTL / time.Second),
		Secure:   c.cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
	return token, nil
}

// Middleware enforces the token when the guard is enabled.
func (c *CSRF) Middleware(next http.Handler) http.Handler {
	if !c.cfg.Enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("X-API-Key") != "" {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get(c.cfg.HeaderName)
		cookie, err := r.Cookie(c.cfg.CookieName)
		if header == "" || err != nil || cookie.Value == "" ||
			subtle.ConstantTimeCompare([]byte(header), []byte(cookie.Value)) != 1 {
			c.events.Emit(r.Context(), audit.Event{
				Timestamp: c.now().UTC(),
				EventType: audit.EventCSRFMismatch,
				IP:        ClientIP(r),
				UserAgent: r.UserAgent(),
				Path:      r.URL.Path,
			})
			respond.Error(w, http.StatusForbidden, "ForbiddenError", "CSRF token mismatch", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
