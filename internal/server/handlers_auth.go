package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/MrEthical07/taskauth"
	"github.com/MrEthical07/taskauth/internal/respond"
	"github.com/MrEthical07/taskauth/middleware"
	"go.uber.org/zap"
)

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return err
	}
	return &taskauth.ValidationError{Message: "Invalid request body", Details: []string{"Request body must be valid JSON"}}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		respond.Error(w, http.StatusRequestEntityTooLarge, "PayloadTooLarge", "Request payload too large", nil)
		return
	}
	if middleware.StatusFor(err) >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	middleware.WriteError(w, err)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req taskauth.RegisterRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	profile, err := s.engine.Register(r.Context(), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	respond.OK(w, http.StatusCreated, "User registered successfully", map[string]any{"user": profile})
}

type loginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	handle := req.Email
	if handle == "" {
		handle = req.Username
	}
	res, err := s.engine.Login(r.Context(), handle, req.Password)
	if err != nil {
		s.fail(w, err)
		return
	}
	respond.OK(w, http.StatusOK, "Login successful", res)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if req.RefreshToken == "" {
		s.fail(w, &taskauth.ValidationError{Details: []string{"Refresh token is required"}})
		return
	}
	pair, err := s.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.fail(w, err)
		return
	}
	respond.OK(w, http.StatusOK, "Token refreshed successfully", map[string]any{"tokens": pair})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFromContext(r.Context())
	if err := s.engine.Logout(r.Context(), claims.UserID, claims.SessionID); err != nil {
		s.logger.Warn("logout cleanup incomplete", zap.Error(err))
	}
	respond.OK(w, http.StatusOK, "Logout successful", nil)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	respond.OK(w, http.StatusOK, "", map[string]any{"user": p.Profile()})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var upd taskauth.ProfileUpdate
	if err := decode(r, &upd); err != nil {
		s.fail(w, err)
		return
	}
	p, _ := middleware.PrincipalFromContext(r.Context())
	profile, err := s.engine.UpdateProfile(r.Context(), p.ID, upd)
	if err != nil {
		s.fail(w, err)
		return
	}
	respond.OK(w, http.StatusOK, "Profile updated successfully", map[string]any{"user": profile})
}

type forgotRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.engine.ForgotPassword(r.Context(), req.Email); err != nil {
		s.fail(w, err)
		return
	}
	respond.OK(w, http.StatusOK, "If an account with that email exists, a password reset link has been sent.", nil)
}

type resetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.engine.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		s.fail(w, err)
		return
	}
	respond.OK(w, http.StatusOK, "Password has been reset successfully", nil)
}

type changeRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changeRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, err)
		return
	}
	claims, _ := middleware.ClaimsFromContext(r.Context())
	if err := s.engine.ChangePassword(r.Context(), claims.UserID, claims.SessionID, req.CurrentPassword, req.NewPassword); err != nil {
		s.fail(w, err)
		return
	}
	respond.OK(w, http.StatusOK, "Password changed successfully", nil)
}

func (s *Server) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	token, err := s.csrf.IssueToken(w)
	if err != nil {
		s.fail(w, err)
		return
	}
	respond.OK(w, http.StatusOK, "", map[string]any{"csrfToken": token})
}
