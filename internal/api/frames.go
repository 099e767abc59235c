package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/obloq-bridge/internal/journal"
)

// handleListFrames returns journalled frames, newest first.
//
// Query parameters: limit, offset, direction (in|out), kind (status|payload),
// session.
func (s *Server) handleListFrames(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeUnavailable(w, "frame journal disabled")
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{
		Direction: q.Get("direction"),
		Kind:      q.Get("kind"),
		SessionID: q.Get("session"),
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}
	switch filter.Direction {
	case "", "in", "out":
	default:
		writeBadRequest(w, "direction must be in or out")
		return
	}
	switch filter.Kind {
	case "", "status", "payload":
	default:
		writeBadRequest(w, "kind must be status or payload")
		return
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list frames", "error", err)
		writeInternalError(w, "failed to list frames")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
