package api

import (
	"net/http"
	"time"
)

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	BridgeHealth string `json:"bridge_health,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	State         string    `json:"state"`
	User          string    `json:"user,omitempty"`
	Subscriptions []string  `json:"subscriptions"`
	LastError     string    `json:"last_error,omitempty"`
	LastActivity  string    `json:"last_activity,omitempty"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Version       string    `json:"version"`
	Counters      LinkStats `json:"counters"`
}

// LinkStats mirrors the connection counters.
type LinkStats struct {
	FramesTx              uint64 `json:"frames_tx"`
	FramesRx              uint64 `json:"frames_rx"`
	StatusRx              uint64 `json:"status_rx"`
	PayloadsDispatched    uint64 `json:"payloads_dispatched"`
	PayloadsUnrouted      uint64 `json:"payloads_unrouted"`
	HandshakesOK          uint64 `json:"handshakes_ok"`
	HandshakesFailed      uint64 `json:"handshakes_failed"`
	ReconnectAttempts     uint64 `json:"reconnect_attempts"`
	ReconnectsTotal       uint64 `json:"reconnects_total"`
	ReplayedSubscriptions uint64 `json:"replayed_subscriptions"`
	ErrorsTotal           uint64 `json:"errors_total"`
}

// handleHealth reports liveness. It always answers 200 while the process
// serves requests; bridge health is informational.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
	}
	if s.bridge != nil {
		status, reason := s.bridge.Health()
		resp.BridgeHealth = string(status)
		resp.Reason = reason
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStatus returns the module connection state and counters.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	stats := s.link.Stats()

	resp := StatusResponse{
		State:         s.link.State().String(),
		User:          s.link.User(),
		Subscriptions: s.link.Subscriptions(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Version:       s.version,
		Counters: LinkStats{
			FramesTx:              stats.FramesTx,
			FramesRx:              stats.FramesRx,
			StatusRx:              stats.StatusRx,
			PayloadsDispatched:    stats.PayloadsDispatched,
			PayloadsUnrouted:      stats.PayloadsUnrouted,
			HandshakesOK:          stats.HandshakesOK,
			HandshakesFailed:      stats.HandshakesFailed,
			ReconnectAttempts:     stats.ReconnectAttempts,
			ReconnectsTotal:       stats.ReconnectsTotal,
			ReplayedSubscriptions: stats.ReplayedSubscriptions,
			ErrorsTotal:           stats.ErrorsTotal,
		},
	}
	if resp.Subscriptions == nil {
		resp.Subscriptions = []string{}
	}
	if err := s.link.LastError(); err != nil {
		resp.LastError = err.Error()
	}
	if !stats.LastActivity.IsZero() {
		resp.LastActivity = stats.LastActivity.UTC().Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, resp)
}
