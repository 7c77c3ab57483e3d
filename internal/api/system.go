package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/sphere-bridge/internal/cloud"
	"github.com/nerrad567/sphere-bridge/internal/mirror"
	"github.com/nerrad567/sphere-bridge/internal/sphere"
)

// handleHealth returns the bridge status. It always answers 200; "status"
// is "waiting_for_credentials" until the first successful login.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.bridge.Status()
	status := "ok"
	if !st.LoggedIn {
		status = "waiting_for_credentials"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"bridge":  st,
	})
}

// credentialsRequest is the body of PUT /credentials.
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleSetCredentials logs in with new credentials and refreshes.
func (s *Server) handleSetCredentials(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	err := s.bridge.SetCredentials(r.Context(), req.Email, req.Password)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.bridge.Status())
	case errors.Is(err, sphere.ErrCredentials):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "email and password are required")
	case errors.Is(err, cloud.ErrAuth):
		writeUnauthorized(w, "cloud rejected the credentials")
	default:
		s.logger.Error("setting credentials failed", "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, "cloud login failed")
	}
}

// handleRefresh runs a full refresh and returns the resulting status.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	err := s.bridge.Refresh(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.bridge.Status())
	case errors.Is(err, mirror.ErrNotLoggedIn):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "no cloud credentials set")
	default:
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
	}
}
