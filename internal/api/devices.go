package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/sphere-bridge/internal/command"
	"github.com/nerrad567/sphere-bridge/internal/mapper"
)

// handleListDevices returns every projected device, sorted by ID.
// Optional filters: ?location_id= and ?sphere_id=.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	snap := s.devices.Load()
	locationID := r.URL.Query().Get("location_id")
	sphereID := r.URL.Query().Get("sphere_id")

	devices := make([]mapper.Device, 0, len(snap.Devices))
	for _, d := range snap.Devices {
		if locationID != "" && d.LocationID != locationID {
			continue
		}
		if sphereID != "" && d.SphereID != sphereID {
			continue
		}
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })

	writeJSON(w, http.StatusOK, map[string]any{
		"devices":    devices,
		"count":      len(devices),
		"generation": snap.RawGeneration,
	})
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, ok := s.devices.Device(id)
	if !ok {
		writeNotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// switchRequest is the body of PUT /devices/{id}/switch.
type switchRequest struct {
	On *bool `json:"on"`
}

// dimRequest is the body of PUT /devices/{id}/dim. Level is a fraction in [0,1].
type dimRequest struct {
	Level *float64 `json:"level"`
}

// commandResponse is returned for an accepted command.
type commandResponse struct {
	DeviceID  string `json:"device_id"`
	Class     string `json:"class"`
	Transport string `json:"transport"`
	Status    string `json:"status"`
}

func (s *Server) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.On == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "on is required")
		return
	}

	res := s.commands.SetOnOff(r.Context(), chi.URLParam(r, "id"), *req.On)
	s.writeCommandResult(w, res)
}

func (s *Server) handleDim(w http.ResponseWriter, r *http.Request) {
	var req dimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Level == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "level is required")
		return
	}
	if *req.Level < 0 || *req.Level > 1 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "level must be between 0 and 1")
		return
	}

	res := s.commands.SetDim(r.Context(), chi.URLParam(r, "id"), *req.Level)
	s.writeCommandResult(w, res)
}

// writeCommandResult maps a dispatcher result to an HTTP response.
func (s *Server) writeCommandResult(w http.ResponseWriter, res command.Result) {
	switch {
	case res.OK():
		writeJSON(w, http.StatusOK, commandResponse{
			DeviceID:  res.DeviceID,
			Class:     string(res.Class),
			Transport: res.Transport,
			Status:    "ok",
		})
	case errors.Is(res.Err, command.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(res.Err, command.ErrInFlight):
		writeError(w, http.StatusConflict, ErrCodeConflict, "another "+string(res.Class)+" command is in progress")
	case errors.Is(res.Err, command.ErrDeviceLocked):
		writeError(w, http.StatusLocked, ErrCodeLocked, "device is locked")
	case errors.Is(res.Err, command.ErrCommand):
		s.logger.Warn("device command failed", "device_id", res.DeviceID, "class", res.Class, "error", res.Err)
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, res.Err.Error())
	default:
		s.logger.Error("device command error", "device_id", res.DeviceID, "error", res.Err)
		writeInternalError(w, "command failed")
	}
}
