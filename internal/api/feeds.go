package api

import (
	"errors"
	"io"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/obloq-bridge/internal/bridges/obloq"
)

// PublishResponse is the body of a successful feed publish.
type PublishResponse struct {
	Feed      string `json:"feed"`
	Message   string `json:"message"`
	Connected bool   `json:"connected"`
}

// handleListFeeds returns the last value seen on each feed, sorted by feed.
// When the bridge has not seen a feed since start-up the journal's stored
// value is used.
func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	if s.bridge == nil && s.journal == nil {
		writeUnavailable(w, "feed values not available")
		return
	}

	values := make(map[string]obloq.StateMessage)
	if s.journal != nil {
		stored, err := s.journal.FeedValues(r.Context())
		if err != nil {
			s.logger.Error("failed to load stored feed values", "error", err)
		}
		for _, v := range stored {
			values[v.Feed] = obloq.StateMessage{
				Feed:      v.Feed,
				Value:     v.Value,
				Timestamp: v.UpdatedAt,
			}
		}
	}
	if s.bridge != nil {
		for feed, v := range s.bridge.Values() {
			values[feed] = v
		}
	}

	feeds := make([]obloq.StateMessage, 0, len(values))
	for _, v := range values {
		feeds = append(feeds, v)
	}
	sort.Slice(feeds, func(i, j int) bool { return feeds[i].Feed < feeds[j].Feed })

	writeJSON(w, http.StatusOK, map[string]any{
		"feeds": feeds,
		"count": len(feeds),
	})
}

// handlePublishFeed publishes the request body to a cloud feed.
//
// The body is plain text or {"value": ...}. Returns 202 once the frame is
// on the serial line; the module does not acknowledge cloud delivery.
func (s *Server) handlePublishFeed(w http.ResponseWriter, r *http.Request) {
	if s.bridge == nil {
		writeUnavailable(w, "bridge not running")
		return
	}

	feed := chi.URLParam(r, "feed")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "request body too large or unreadable")
		return
	}

	value, err := obloq.ParseCommandPayload(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	if err := s.bridge.PublishFeed(r.Context(), feed, value); err != nil {
		switch {
		case errors.Is(err, obloq.ErrInvalidFeed), errors.Is(err, obloq.ErrInvalidMessage):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		case errors.Is(err, obloq.ErrClosed), errors.Is(err, obloq.ErrTransport):
			writeError(w, http.StatusServiceUnavailable, ErrCodeLinkDown, err.Error())
		default:
			s.logger.Error("feed publish failed", "feed", feed, "error", err)
			writeInternalError(w, "publish failed")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, PublishResponse{
		Feed:      feed,
		Message:   obloq.FormatMessage(value),
		Connected: s.link.State() == obloq.StateConnected,
	})
}
