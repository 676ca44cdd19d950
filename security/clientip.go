package security

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the caller's address without its port. Proxy headers are
// not consulted here; mount chi's RealIP ahead of the pipeline when the
// service runs behind a trusted proxy.
func ClientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if addr == "" {
		return "0.0.0.0"
	}
	return addr
}
