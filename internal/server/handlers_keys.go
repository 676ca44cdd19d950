package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/MrEthical07/taskauth/apikey"
	"github.com/MrEthical07/taskauth/internal/respond"
	"github.com/MrEthical07/taskauth/middleware"
)

func (s *Server) keyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apikey.ErrInvalidRequest):
		respond.Error(w, http.StatusBadRequest, "ValidationError", err.Error(), nil)
	case errors.Is(err, apikey.ErrNotFound):
		respond.Error(w, http.StatusNotFound, "NotFound", "API key not found", nil)
	default:
		s.fail(w, err)
	}
}

func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req apikey.GenerateRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	p, _ := middleware.PrincipalFromContext(r.Context())
	req.CreatedBy = p.ID

	created, err := s.keys.Generate(r.Context(), req)
	if err != nil {
		s.keyError(w, err)
		return
	}
	respond.OK(w, http.StatusCreated, "API key created. Store it now; it will not be shown again.", created)
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.keys.List(r.Context(), r.URL.Query().Get("owner"))
	if err != nil {
		s.keyError(w, err)
		return
	}
	respond.OK(w, http.StatusOK, "", map[string]any{"apiKeys": keys, "total": len(keys)})
}

func (s *Server) handleKeyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.keys.Stats(r.Context(), chi.URLParam(r, "keyID"))
	if err != nil {
		s.keyError(w, err)
		return
	}
	respond.OK(w, http.StatusOK, "", stats)
}

func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	if err := s.keys.Revoke(r.Context(), chi.URLParam(r, "keyID"), p.ID); err != nil {
		s.keyError(w, err)
		return
	}
	respond.OK(w, http.StatusOK, "API key revoked", nil)
}

func (s *Server) handleServiceIdentity(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		s.logger.Error("service route reached without an api key identity", zap.String("path", r.URL.Path))
		respond.Error(w, http.StatusUnauthorized, "UnauthorizedError", "API key required", nil)
		return
	}
	respond.OK(w, http.StatusOK, "", id)
}
