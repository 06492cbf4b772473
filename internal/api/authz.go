package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ecozone/authcore/internal/audit"
	"github.com/ecozone/authcore/internal/auth"
)

// accessTokenCookie is the cookie consulted when neither the header nor
// the query string carries a token.
const accessTokenCookie = "accessToken"

// extractToken returns the access token from the Authorization header,
// then the token query parameter, then the accessToken cookie.
func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return token
			}
		}
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if c, err := r.Cookie(accessTokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return ""
}

// authMiddleware authenticates the request and attaches the principal.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.authorizer.Authenticate(r.Context(), extractToken(r))
		if err != nil {
			s.logger.Debug("authentication failed",
				"path", r.URL.Path,
				"code", auth.TokenErrorCode(err),
				"error", err,
			)
			s.writeServiceError(w, r, err)
			return
		}

		if s.activity != nil && !s.activity.Track(p.UserID, p.SessionID, s.now().UTC()) {
			s.logger.Debug("activity queue full, update dropped", "user_id", p.UserID)
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

// principal returns the authenticated principal. Only valid behind authMiddleware.
func principal(r *http.Request) *auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

// requireRole rejects principals whose user type is not allowed.
func (s *Server) requireRole(allowed ...auth.UserType) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := principal(r)
			if err := auth.CheckRole(p, allowed...); err != nil {
				s.recordDenied(r, p, "role", "")
				s.writeServiceError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireZone applies the zone guard to the {zone} URL parameter, falling
// back to the zone query parameter.
func (s *Server) requireZone(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := chi.URLParam(r, "zone")
		if target == "" {
			target = r.URL.Query().Get("zone")
		}
		p := principal(r)
		if err := auth.CheckZone(p, target); err != nil {
			s.recordDenied(r, p, "zone", target)
			s.writeServiceError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) recordDenied(r *http.Request, p *auth.Principal, guard, target string) {
	if s.dispatcher == nil || p == nil {
		return
	}
	details := map[string]any{
		"guard":    guard,
		"path":     r.URL.Path,
		"userType": string(p.UserType),
	}
	if target != "" {
		details["zone"] = target
	}
	s.dispatcher.Record(r.Context(), audit.Entry{
		UserID:   p.UserID,
		Action:   audit.ActionAccessDenied,
		Result:   audit.ResultFailed,
		ClientIP: clientIP(r),
		Details:  details,
	})
}
