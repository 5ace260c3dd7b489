package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-discovery/internal/audit"
	"github.com/nerrad567/gray-logic-discovery/internal/device"
)

// handleListKnown returns all known devices, optionally filtered by protocol.
func (s *Server) handleListKnown(w http.ResponseWriter, r *http.Request) {
	devices := s.devices.ListKnown()

	if protocol := r.URL.Query().Get("protocol"); protocol != "" {
		filtered := devices[:0]
		for _, d := range devices {
			if d.Protocol == protocol {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetKnown returns one known device by identity.
func (s *Server) handleGetKnown(w http.ResponseWriter, r *http.Request) {
	dev, err := s.devices.GetKnown(chi.URLParam(r, "identity"))
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleCreateKnown registers a device as known without going through the inbox.
func (s *Server) handleCreateKnown(w http.ResponseWriter, r *http.Request) {
	var dev device.KnownDevice
	if err := json.NewDecoder(r.Body).Decode(&dev); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.devices.AddKnown(r.Context(), dev); err != nil {
		switch {
		case errors.Is(err, device.ErrInvalidDevice):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		case errors.Is(err, device.ErrDeviceExists):
			writeConflict(w, "device is already known")
		default:
			writeInternalError(w, "failed to create device")
		}
		return
	}

	created, err := s.devices.GetKnown(dev.Identity)
	if err != nil {
		created = dev
	}
	s.recordAudit(r, audit.ActionCreate, audit.EntityKnownDevice, created.Identity, map[string]string{
		"protocol": created.Protocol,
	})
	writeJSON(w, http.StatusCreated, created)
}

// handleDeleteKnown removes a known device. Frames from it will be
// announced again.
func (s *Server) handleDeleteKnown(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")

	if err := s.devices.RemoveKnown(r.Context(), identity); err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to delete device")
		return
	}

	s.recordAudit(r, audit.ActionDelete, audit.EntityKnownDevice, identity, nil)
	w.WriteHeader(http.StatusNoContent)
}
