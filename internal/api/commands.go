package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/sphere-bridge/internal/audit"
)

// handleListCommands pages through the command journal.
//
// Query parameters: device_id, class, transport, outcome, limit, offset.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "command journal is disabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		DeviceID:  q.Get("device_id"),
		Class:     q.Get("class"),
		Transport: q.Get("transport"),
		Outcome:   q.Get("outcome"),
	}

	var err error
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if filter.Offset, err = strconv.Atoi(v); err != nil {
			writeBadRequest(w, "offset must be an integer")
			return
		}
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing commands failed", "error", err)
		writeInternalError(w, "failed to list commands")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
