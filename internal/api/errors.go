package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ecozone/authcore/internal/auth"
	"github.com/ecozone/authcore/internal/zone"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Success          bool              `json:"success"`
	Code             string            `json:"code"`
	Message          string            `json:"message"`
	RemainingMinutes int               `json:"remainingMinutes,omitempty"`
	Fields           map[string]string `json:"fields,omitempty"`
}

// Error codes that are not token codes from the auth package.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeValidation         = "VALIDATION_ERROR"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeAccountInactive    = "ACCOUNT_INACTIVE"
	CodeEmailNotVerified   = "EMAIL_NOT_VERIFIED"
	CodePermissionDenied   = "PERMISSION_DENIED"
	CodeNotFound           = "NOT_FOUND"
	CodeConflict           = "CONFLICT"
	CodeAccountLocked      = "ACCOUNT_LOCKED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeInternal           = "INTERNAL_ERROR"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// writeServiceError maps an error from the auth or zone packages onto a
// status code and body. Anything unrecognised is logged and reported as 500.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		locked     *auth.LockedError
		validation *auth.ValidationError
	)
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:    CodeValidation,
			Message: "validation failed",
			Fields:  validation.Fields,
		})
	case errors.As(err, &locked):
		writeJSON(w, http.StatusLocked, errorResponse{
			Code:             CodeAccountLocked,
			Message:          fmt.Sprintf("account locked, try again in %d minute(s)", locked.RemainingMinutes),
			RemainingMinutes: locked.RemainingMinutes,
		})
	case errors.Is(err, auth.ErrAccountLocked):
		writeError(w, http.StatusLocked, CodeAccountLocked, "account locked")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, "invalid email or password")
	case errors.Is(err, auth.ErrTokenMissing):
		writeError(w, http.StatusUnauthorized, auth.TokenCodeMissing, "authentication required")
	case errors.Is(err, auth.ErrTokenInvalid):
		// The precise cause stays in logs and audit details.
		writeError(w, http.StatusUnauthorized, auth.TokenCodeInvalid, "invalid or expired token")
	case errors.Is(err, auth.ErrUserInactive):
		writeError(w, http.StatusUnauthorized, CodeAccountInactive, "account is deactivated")
	case errors.Is(err, auth.ErrEmailNotVerified):
		writeError(w, http.StatusForbidden, CodeEmailNotVerified, "email address not verified")
	case errors.Is(err, auth.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, CodePermissionDenied, "access denied")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, http.StatusConflict, CodeConflict, "an account with this email already exists")
	case errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, "user not found")
	case errors.Is(err, zone.ErrZoneNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, "zone not found")
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", r.Context().Value(ctxKeyRequestID),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
	}
}

// decodeJSON reads the request body into v. It writes a 400 and returns
// false when the body is missing, malformed or too large.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, CodeBadRequest, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid JSON body")
		return false
	}
	return true
}
