package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ecozone/authcore/internal/auth"
)

type setStatusRequest struct {
	IsActive *bool `json:"isActive"`
}

// handleSetUserStatus activates or deactivates an account. Office only.
//
// PATCH /users/{id}/status
// Body: {"isActive": false}
func (s *Server) handleSetUserStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.IsActive == nil {
		s.writeServiceError(w, r, auth.NewValidationError("isActive", "is required"))
		return
	}

	user, err := s.service.SetActive(r.Context(), principal(r), chi.URLParam(r, "id"), *req.IsActive, requestMeta(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{Success: true, User: user})
}

// handleUnlockUser clears a lockout. Office only.
//
// POST /users/{id}/unlock
func (s *Server) handleUnlockUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.service.Unlock(r.Context(), principal(r), chi.URLParam(r, "id"), requestMeta(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{Success: true, User: user})
}
