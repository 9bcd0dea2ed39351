package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openhearth/smarthome-core/internal/household"
)

// handleListHouseholds returns the households the caller belongs to.
func (s *Server) handleListHouseholds(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(r)
	if !ok {
		writeUnauthorized(w, "authentication required")
		return
	}

	households, err := s.households.ListByMember(r.Context(), claims.Subject)
	if err != nil {
		writeInternalError(w, "failed to list households")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"households": households, "count": len(households)})
}

// handleListMembers returns the members of a household the caller belongs to.
func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(r)
	if !ok {
		writeUnauthorized(w, "authentication required")
		return
	}

	householdID := chi.URLParam(r, "id")

	member, err := s.canAccessHousehold(r.Context(), claims, householdID)
	if err != nil {
		writeInternalError(w, "failed to check membership")
		return
	}
	if !member {
		writeForbidden(w, "not a member of this household")
		return
	}

	if _, err := s.households.GetByID(r.Context(), householdID); err != nil {
		if errors.Is(err, household.ErrNotFound) {
			writeNotFound(w, "household not found")
			return
		}
		writeInternalError(w, "failed to load household")
		return
	}

	members, err := s.households.ListMembers(r.Context(), householdID)
	if err != nil {
		writeInternalError(w, "failed to list members")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"members": members, "count": len(members)})
}
