package api

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/obloq-bridge/internal/bridges/obloq"
)

// metricsNamespace prefixes every link metric.
const metricsNamespace = "obloq"

// StatsSource supplies link counters to the collector.
type StatsSource interface {
	Stats() obloq.Stats
}

// LinkCollector exposes connection counters as Prometheus metrics.
// Values are read from the connection on every scrape.
type LinkCollector struct {
	source StatsSource

	framesTx      *prometheus.Desc
	framesRx      *prometheus.Desc
	statusRx      *prometheus.Desc
	payloads      *prometheus.Desc
	handshakes    *prometheus.Desc
	reconnects    *prometheus.Desc
	attempts      *prometheus.Desc
	replayed      *prometheus.Desc
	errors        *prometheus.Desc
	connected     *prometheus.Desc
	subscriptions *prometheus.Desc
	lastActivity  *prometheus.Desc
}

// NewLinkCollector creates a collector over source.
func NewLinkCollector(source StatsSource) *LinkCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, labels, nil)
	}

	return &LinkCollector{
		source:        source,
		framesTx:      desc("frames_sent_total", "Frames written to the module."),
		framesRx:      desc("frames_received_total", "Lines read from the module."),
		statusRx:      desc("status_lines_total", "Status lines read from the module."),
		payloads:      desc("payloads_total", "Payload lines by routing outcome.", "outcome"),
		handshakes:    desc("handshakes_total", "Broker handshakes by result.", "result"),
		reconnects:    desc("reconnects_total", "Sessions restored by the supervisor."),
		attempts:      desc("reconnect_attempts_total", "Handshakes started by the supervisor."),
		replayed:      desc("replayed_subscriptions_total", "Subscribe frames re-sent after reconnect."),
		errors:        desc("errors_total", "Transport and protocol errors."),
		connected:     desc("connected", "1 while the broker session is up."),
		subscriptions: desc("subscriptions", "Feeds in the replay registry."),
		lastActivity:  desc("last_activity_timestamp_seconds", "Unix time of the last frame in either direction."),
	}
}

// Describe implements prometheus.Collector.
func (c *LinkCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.framesTx
	ch <- c.framesRx
	ch <- c.statusRx
	ch <- c.payloads
	ch <- c.handshakes
	ch <- c.reconnects
	ch <- c.attempts
	ch <- c.replayed
	ch <- c.errors
	ch <- c.connected
	ch <- c.subscriptions
	ch <- c.lastActivity
}

// Collect implements prometheus.Collector.
func (c *LinkCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()

	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}

	counter(c.framesTx, s.FramesTx)
	counter(c.framesRx, s.FramesRx)
	counter(c.statusRx, s.StatusRx)
	counter(c.payloads, s.PayloadsDispatched, "dispatched")
	counter(c.payloads, s.PayloadsUnrouted, "unrouted")
	counter(c.handshakes, s.HandshakesOK, "ok")
	counter(c.handshakes, s.HandshakesFailed, "failed")
	counter(c.reconnects, s.ReconnectsTotal)
	counter(c.attempts, s.ReconnectAttempts)
	counter(c.replayed, s.ReplayedSubscriptions)
	counter(c.errors, s.ErrorsTotal)

	connected := 0.0
	if s.State == obloq.StateConnected {
		connected = 1
	}
	gauge(c.connected, connected)
	gauge(c.subscriptions, float64(s.Subscriptions))

	if !s.LastActivity.IsZero() {
		gauge(c.lastActivity, float64(s.LastActivity.UnixNano())/1e9)
	}
}
