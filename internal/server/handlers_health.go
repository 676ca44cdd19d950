package server

import (
	"net/http"

	"github.com/MrEthical07/taskauth/internal/respond"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]any{
		"status":    "OK",
		"timestamp": respond.Now().UTC(),
	})
}

// handleReadyz reports 503 when the credential store is unreachable. A cache
// outage only degrades service.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	h := s.engine.Health(r.Context())
	checks := map[string]string{"store": "ok", "cache": "ok"}
	if h.Store != nil {
		checks["store"] = "error: " + h.Store.Error()
	}
	if h.Cache != nil {
		checks["cache"] = "error: " + h.Cache.Error()
	}

	status, code := "ok", http.StatusOK
	switch {
	case !h.Ready():
		status, code = "unavailable", http.StatusServiceUnavailable
	case h.Degraded():
		status = "degraded"
	}
	respond.JSON(w, code, map[string]any{"status": status, "checks": checks})
}
