package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/sphere-bridge/internal/presence"
)

// handleListPresence returns stored presence per user and the users per
// location from the current projection.
func (s *Server) handleListPresence(w http.ResponseWriter, _ *http.Request) {
	users := s.people.All()
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })

	writeJSON(w, http.StatusOK, map[string]any{
		"users":       users,
		"by_location": s.devices.Load().PresenceByLocation,
	})
}

// handlePresenceCondition reports whether the current user is in a room.
// Both room_id and room_name must match.
func (s *Server) handlePresenceCondition(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")
	roomName := r.URL.Query().Get("room_name")
	if roomID == "" || roomName == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "room_id and room_name are required")
		return
	}

	in, err := s.presence.EvaluateCondition(r.Context(), roomID, roomName)
	if err != nil {
		if errors.Is(err, presence.ErrNoUser) {
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "no user logged in")
			return
		}
		// The poll failed; the answer falls back to stored presence.
		s.logger.Warn("presence condition poll failed", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"room_id":   roomID,
		"room_name": roomName,
		"in_room":   in,
	})
}

func (s *Server) handleListTriggers(w http.ResponseWriter, _ *http.Request) {
	triggers := s.presence.Triggers()
	writeJSON(w, http.StatusOK, map[string]any{
		"triggers": triggers,
		"count":    len(triggers),
	})
}

func (s *Server) handleCreateTrigger(w http.ResponseWriter, r *http.Request) {
	var t presence.Trigger
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if t.RoomID == "" || t.RoomName == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "room_id and room_name are required")
		return
	}

	writeJSON(w, http.StatusCreated, s.presence.Register(t))
}

func (s *Server) handleDeleteTrigger(w http.ResponseWriter, r *http.Request) {
	if !s.presence.Unregister(chi.URLParam(r, "id")) {
		writeNotFound(w, "trigger not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
