package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/openhearth/smarthome-core/internal/audit"
	"github.com/openhearth/smarthome-core/internal/auth"
	"github.com/openhearth/smarthome-core/internal/device"
	"github.com/openhearth/smarthome-core/internal/engine"
)

// createDeviceRequest is the request body for POST /devices.
type createDeviceRequest struct {
	ID          string      `json:"id,omitempty"`
	HouseholdID string      `json:"household_id"`
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Data        device.Data `json:"data,omitempty"`
}

// patchDeviceRequest is the request body for PATCH /devices/{id}.
// Data routes through the command dispatcher (publish + pending);
// Name is metadata and is written directly with no publish.
type patchDeviceRequest struct {
	Name *string     `json:"name,omitempty"`
	Data device.Data `json:"data,omitempty"`
}

// handleCreateDevice registers a new device in a household.
// New devices start with status unknown: nothing has been heard from
// them yet.
func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(r)
	if !ok {
		writeUnauthorized(w, "authentication required")
		return
	}

	var req createDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.HouseholdID == "" {
		writeBadRequest(w, "household_id is required")
		return
	}

	member, err := s.canAccessHousehold(r.Context(), claims, req.HouseholdID)
	if err != nil {
		writeInternalError(w, "failed to check membership")
		return
	}
	if !member {
		writeForbidden(w, "not a member of this household")
		return
	}

	if req.Data != nil {
		if err := engine.ValidatePatchData(req.Data); err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
	}

	ownerID := claims.Subject
	dev := &device.Device{
		ID:          req.ID,
		Name:        req.Name,
		Type:        req.Type,
		HouseholdID: req.HouseholdID,
		OwnerID:     &ownerID,
		Status:      device.StatusUnknown,
		Data:        req.Data,
	}
	if dev.ID == "" {
		dev.ID = uuid.NewString()
	}

	if err := s.devices.Create(r.Context(), dev); err != nil {
		switch {
		case errors.Is(err, device.ErrInvalidDevice):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		case errors.Is(err, device.ErrDeviceExists):
			writeError(w, http.StatusConflict, ErrCodeConflict, "device already exists")
		default:
			writeInternalError(w, "failed to create device")
		}
		return
	}

	s.hub.Emit(engine.EventDeviceNew, dev.HouseholdID, dev)
	s.recordAudit(r.Context(), &audit.Entry{
		HouseholdID: dev.HouseholdID,
		Action:      audit.ActionCreate,
		EntityType:  audit.EntityDevice,
		EntityID:    dev.ID,
		UserID:      claims.Subject,
		Details:     map[string]any{"name": dev.Name, "type": dev.Type},
	})

	writeJSON(w, http.StatusCreated, dev)
}

// handleListDevices returns all devices in a household the caller belongs to.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(r)
	if !ok {
		writeUnauthorized(w, "authentication required")
		return
	}

	householdID := chi.URLParam(r, "householdId")

	member, err := s.canAccessHousehold(r.Context(), claims, householdID)
	if err != nil {
		writeInternalError(w, "failed to check membership")
		return
	}
	if !member {
		writeForbidden(w, "not a member of this household")
		return
	}

	devices, err := s.devices.ListByHousehold(r.Context(), householdID)
	if err != nil {
		writeInternalError(w, "failed to list devices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(r)
	if !ok {
		writeUnauthorized(w, "authentication required")
		return
	}

	dev, ok := s.loadAccessibleDevice(w, r, claims, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, dev)
}

// handlePatchDevice applies a partial update to a device.
//
// A data patch goes through the command dispatcher: it is published to
// the device and the stored record turns pending. A rename is pure
// metadata and bypasses the command path entirely. A body carrying both
// applies the rename first, then dispatches.
func (s *Server) handlePatchDevice(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(r)
	if !ok {
		writeUnauthorized(w, "authentication required")
		return
	}

	var req patchDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Name == nil && len(req.Data) == 0 {
		writeBadRequest(w, "nothing to update: provide name and/or data")
		return
	}

	dev, ok := s.loadAccessibleDevice(w, r, claims, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if req.Name != nil {
		if *req.Name == "" {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "name cannot be empty")
			return
		}
		if err := s.devices.Rename(r.Context(), dev.ID, *req.Name); err != nil {
			if errors.Is(err, device.ErrDeviceNotFound) {
				writeNotFound(w, "device not found")
				return
			}
			writeInternalError(w, "failed to rename device")
			return
		}
		dev.Name = *req.Name
		s.recordAudit(r.Context(), &audit.Entry{
			HouseholdID: dev.HouseholdID,
			Action:      audit.ActionRename,
			EntityType:  audit.EntityDevice,
			EntityID:    dev.ID,
			UserID:      claims.Subject,
			Details:     map[string]any{"name": dev.Name},
		})
	}

	if len(req.Data) > 0 {
		snapshot, err := s.dispatcher.Dispatch(r.Context(), dev.ID, dev.HouseholdID, claims.Subject, req.Data)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
		return
	}

	// Rename-only: no command was published, emit the update directly.
	// Re-read the stored record first so the response and the event carry
	// the post-rename snapshot, not the state loaded before the write.
	updated, err := s.devices.GetByID(r.Context(), dev.ID)
	if err != nil {
		writeInternalError(w, "failed to load device")
		return
	}
	s.hub.Emit(engine.EventDeviceUpdate, updated.HouseholdID, updated)
	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteDevice removes a device.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	claims, ok := callerClaims(r)
	if !ok {
		writeUnauthorized(w, "authentication required")
		return
	}

	dev, ok := s.loadAccessibleDevice(w, r, claims, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if err := s.devices.Delete(r.Context(), dev.ID); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to delete device")
		return
	}

	s.recordAudit(r.Context(), &audit.Entry{
		HouseholdID: dev.HouseholdID,
		Action:      audit.ActionDelete,
		EntityType:  audit.EntityDevice,
		EntityID:    dev.ID,
		UserID:      claims.Subject,
	})

	writeJSON(w, http.StatusNoContent, nil)
}

// loadAccessibleDevice loads a device and enforces household scoping for
// the caller. On failure it writes the error response and returns false.
// A device in a household the caller cannot access reads as not found,
// never as forbidden: existence itself is scoped.
func (s *Server) loadAccessibleDevice(w http.ResponseWriter, r *http.Request, claims *auth.CustomClaims, id string) (*device.Device, bool) {
	dev, err := s.devices.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return nil, false
		}
		writeInternalError(w, "failed to load device")
		return nil, false
	}

	member, err := s.canAccessHousehold(r.Context(), claims, dev.HouseholdID)
	if err != nil {
		writeInternalError(w, "failed to check membership")
		return nil, false
	}
	if !member {
		writeNotFound(w, "device not found")
		return nil, false
	}

	return dev, true
}
