package api

import (
	"net/http"
	"strings"

	"github.com/ecozone/authcore/internal/auth"
)

// authResponse is returned by register and login.
type authResponse struct {
	Success bool           `json:"success"`
	User    auth.UserView  `json:"user"`
	Tokens  auth.TokenPair `json:"tokens"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	Success bool             `json:"success"`
	Tokens  auth.AccessToken `json:"tokens"`
}

type userResponse struct {
	Success bool           `json:"success"`
	User    *auth.UserView `json:"user"`
}

type successResponse struct {
	Success bool `json:"success"`
}

// requestMeta captures the caller details recorded on sessions and audit entries.
func requestMeta(r *http.Request) auth.RequestMeta {
	return auth.RequestMeta{
		ClientIP:  clientIP(r),
		UserAgent: r.UserAgent(),
	}
}

// handleRegister creates an account and returns it with a token pair.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if !decodeJSON(w, r, &in) {
		return
	}

	res, err := s.service.Register(r.Context(), in, requestMeta(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{Success: true, User: res.User, Tokens: res.Tokens})
}

// handleLogin verifies credentials and returns the user with a token pair.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in auth.LoginInput
	if !decodeJSON(w, r, &in) {
		return
	}

	res, err := s.service.Login(r.Context(), in, requestMeta(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Success: true, User: res.User, Tokens: res.Tokens})
}

// handleRefresh exchanges a refresh token for a new access token.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		s.writeServiceError(w, r, auth.NewValidationError("refreshToken", "is required"))
		return
	}

	tok, err := s.service.Refresh(r.Context(), req.RefreshToken, requestMeta(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Success: true, Tokens: *tok})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Logout(r.Context(), principal(r), requestMeta(r)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if _, err := s.service.LogoutAll(r.Context(), principal(r), requestMeta(r)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	user, err := s.service.Profile(r.Context(), principal(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{Success: true, User: user})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.Sessions(r.Context(), principal(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []auth.SessionView{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"sessions": sessions,
	})
}

// handleChangePassword replaces the caller's password. All sessions,
// including the one making this request, end on success.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var in auth.ChangePasswordInput
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := s.service.ChangePassword(r.Context(), principal(r), in, requestMeta(r)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}
