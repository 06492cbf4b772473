package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ecozone/authcore/internal/zone"
)

// handleListZones returns every registered zone.
//
// GET /zones
// Response: {"success": true, "zones": [...]}
func (s *Server) handleListZones(w http.ResponseWriter, r *http.Request) {
	zones, err := s.zones.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if zones == nil {
		zones = []zone.Zone{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "zones": zones})
}

// handleGetZone returns one zone. The zone guard has already run.
//
// GET /zones/{zone}
// Response: {"success": true, "zone": {...}}
func (s *Server) handleGetZone(w http.ResponseWriter, r *http.Request) {
	z, err := s.zones.GetByName(r.Context(), chi.URLParam(r, "zone"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "zone": z})
}
