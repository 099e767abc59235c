package obloq

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Local bus topics. The bridge mirrors cloud feeds onto the site MQTT broker
// so that local consumers never talk to the module directly.
const (
	// TopicPrefix is the root of every bridge topic.
	TopicPrefix = "obloq"

	// BridgeID identifies this bridge in health messages.
	BridgeID = "obloq"
)

// StateTopic returns the retained topic carrying the last value of a feed.
//
// Example: obloq/state/temperature
func StateTopic(feed string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, feed)
}

// CommandTopic returns the topic local clients publish to in order to send a
// value to a cloud feed.
//
// Example: obloq/command/setpoint
func CommandTopic(feed string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, feed)
}

// CommandSubscribeTopic returns the wildcard covering every command topic.
func CommandSubscribeTopic() string {
	return TopicPrefix + "/command/+"
}

// HealthTopic returns the retained bridge health topic.
func HealthTopic() string {
	return TopicPrefix + "/health"
}

// FeedFromCommandTopic extracts the feed from obloq/command/{feed}.
func FeedFromCommandTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != TopicPrefix || parts[1] != "command" || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}

// StateMessage is published when a feed value arrives from the cloud.
// Topic: obloq/state/{feed}
// QoS: 1, Retained: Yes
type StateMessage struct {
	// Feed is the feed key on the account.
	Feed string `json:"feed"`

	// Topic is the cloud topic ({user}/f/{feed}).
	Topic string `json:"topic"`

	// Value is the payload text as the module delivered it.
	Value string `json:"value"`

	// Numeric is set when Value parses as a number.
	Numeric *float64 `json:"numeric,omitempty"`

	// Timestamp is when the line was received (UTC).
	Timestamp time.Time `json:"timestamp"`
}

// NewStateMessage builds a state message for a received payload.
func NewStateMessage(feed, topic, value string) StateMessage {
	msg := StateMessage{
		Feed:      feed,
		Topic:     topic,
		Value:     value,
		Timestamp: time.Now().UTC(),
	}
	if f, ok := ParseNumeric(value); ok {
		msg.Numeric = &f
	}
	return msg
}

// CommandMessage is the optional JSON form of a command payload.
// A plain-text payload is sent to the feed verbatim.
// Topic: obloq/command/{feed}
type CommandMessage struct {
	// Value is the message to publish: a string or a number.
	Value any `json:"value"`
}

// ParseCommandPayload extracts the value from a command payload.
//
// Accepted forms:
//   - {"value": 21.5} or {"value": "on"}
//   - any other text, trimmed, used as-is
func ParseCommandPayload(payload []byte) (any, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return nil, ErrInvalidMessage
	}

	if strings.HasPrefix(text, "{") {
		var cmd CommandMessage
		if err := json.Unmarshal([]byte(text), &cmd); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
		}
		switch v := cmd.Value.(type) {
		case nil:
			return nil, fmt.Errorf("%w: missing value", ErrInvalidMessage)
		case string, float64, bool:
			return v, nil
		default:
			return nil, fmt.Errorf("%w: value must be a string or number", ErrInvalidMessage)
		}
	}

	return text, nil
}

// ParseNumeric parses a payload as a decimal number.
func ParseNumeric(value string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy means the local bus and the broker session are both up.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded means one side is down.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting is published once during Start.
	HealthStarting HealthStatus = "starting"

	// HealthStopping is published once during Stop.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports bridge status on the local bus.
// Topic: obloq/health
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string            `json:"bridge"`
	Timestamp     time.Time         `json:"timestamp"`
	Status        HealthStatus      `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Connection    *ConnectionStatus `json:"connection,omitempty"`
	Statistics    *BridgeStatistics `json:"statistics,omitempty"`
	Reason        string            `json:"reason,omitempty"`
}

// ConnectionStatus describes the broker session held by the module.
type ConnectionStatus struct {
	Status        string   `json:"status"`
	Host          string   `json:"host"`
	Subscriptions []string `json:"subscriptions"`
}

// BridgeStatistics contains operational counters.
type BridgeStatistics struct {
	FramesSent         uint64 `json:"frames_sent"`
	FramesReceived     uint64 `json:"frames_received"`
	PayloadsDispatched uint64 `json:"payloads_dispatched"`
	PayloadsUnrouted   uint64 `json:"payloads_unrouted"`
	Reconnects         uint64 `json:"reconnects"`
	Errors             uint64 `json:"errors"`
}

// NewHealthMessage builds a health message from connection statistics.
func NewHealthMessage(version string, status HealthStatus, stats Stats, host string, subscriptions []string, startTime time.Time) HealthMessage {
	if subscriptions == nil {
		subscriptions = []string{}
	}
	return HealthMessage{
		Bridge:        BridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Connection: &ConnectionStatus{
			Status:        stats.State.String(),
			Host:          host,
			Subscriptions: subscriptions,
		},
		Statistics: &BridgeStatistics{
			FramesSent:         stats.FramesTx,
			FramesReceived:     stats.FramesRx,
			PayloadsDispatched: stats.PayloadsDispatched,
			PayloadsUnrouted:   stats.PayloadsUnrouted,
			Reconnects:         stats.ReconnectsTotal,
			Errors:             stats.ErrorsTotal,
		},
	}
}
