package api

import (
	"net/http"
	"strconv"

	"github.com/ecozone/authcore/internal/audit"
)

// handleListAuditLogs returns paginated audit log entries with optional filters.
//
// Query parameters:
//   - action: filter by action (login, register, account_locked, ...)
//   - userId: filter by user
//   - result: success or failed
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Action: q.Get("action"),
		UserID: q.Get("userId"),
		Result: audit.Result(q.Get("result")),
	}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"logs":    result.Logs,
		"total":   result.Total,
		"limit":   result.Limit,
		"offset":  result.Offset,
	})
}
