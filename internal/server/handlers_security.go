package server

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/MrEthical07/taskauth"
	"github.com/MrEthical07/taskauth/internal/respond"
	"github.com/MrEthical07/taskauth/security"
)

func (s *Server) securityError(w http.ResponseWriter, err error) {
	s.logger.Warn("security store unavailable", zap.Error(err))
	respond.Error(w, http.StatusServiceUnavailable, "ServiceUnavailable", "Security state is unavailable", nil)
}

func (s *Server) handleSecurityStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.shield.Status(r.Context())
	if err != nil {
		s.securityError(w, err)
		return
	}
	respond.OK(w, http.StatusOK, "", st)
}

type blockRequest struct {
	IP              string `json:"ip"`
	Reason          string `json:"reason"`
	DurationSeconds int    `json:"durationSeconds"`
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if net.ParseIP(req.IP) == nil {
		respond.Error(w, http.StatusBadRequest, "ValidationError", "A valid IP address is required", nil)
		return
	}
	if req.DurationSeconds < 0 {
		respond.Error(w, http.StatusBadRequest, "ValidationError", "Duration must not be negative", nil)
		return
	}
	if req.Reason == "" {
		req.Reason = "Manual block"
	}

	b, err := s.shield.Block(r.Context(), req.IP, req.Reason, time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		s.securityError(w, err)
		return
	}
	respond.OK(w, http.StatusCreated, "IP address blocked", b)
}

func (s *Server) handleUnblock(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if net.ParseIP(ip) == nil {
		respond.Error(w, http.StatusBadRequest, "ValidationError", "A valid IP address is required", nil)
		return
	}
	if err := s.shield.Unblock(r.Context(), ip); err != nil {
		s.securityError(w, err)
		return
	}
	respond.OK(w, http.StatusOK, "IP address unblocked", nil)
}

func (s *Server) handleFlood(w http.ResponseWriter, r *http.Request) {
	s.engine.RecordSecurityEvent(r.Context(), taskauth.AuditEvent{
		EventType: taskauth.EventRateLimitExceeded,
		IP:        security.ClientIP(r),
		UserAgent: r.UserAgent(),
		Path:      r.URL.Path,
		Metadata:  map[string]string{"tier": "flood"},
	})
	w.Header().Set("Retry-After", "60")
	respond.Error(w, http.StatusTooManyRequests, "TooManyRequests", "Too many requests", map[string]any{"retryAfter": 60})
}
