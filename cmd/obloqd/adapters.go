package main

import (
	"github.com/nerrad567/obloq-bridge/internal/bridges/obloq"
	"github.com/nerrad567/obloq-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/obloq-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/obloq-bridge/internal/journal"
)

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The difference is the Subscribe handler signature:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - OBLOQ bridge expects: func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements obloq.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements obloq.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements obloq.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// metricFanout sends feed values to every configured sink.
type metricFanout []obloq.MetricWriter

// newMetricFanout skips sinks that are not configured.
func newMetricFanout(influx *influxdb.Client, recorder *journal.Recorder) metricFanout {
	var sinks metricFanout
	if influx != nil {
		sinks = append(sinks, influx)
	}
	if recorder != nil {
		sinks = append(sinks, recorder)
	}
	return sinks
}

// WriteFeedValue implements obloq.MetricWriter.
func (f metricFanout) WriteFeedValue(feed, value string) {
	for _, sink := range f {
		sink.WriteFeedValue(feed, value)
	}
}

// pointWriter is the InfluxDB write used by the link reporter.
type pointWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]interface{})
}

// linkFields converts link statistics to InfluxDB fields.
func linkFields(s obloq.Stats) map[string]interface{} {
	return map[string]interface{}{
		"connected":         s.State == obloq.StateConnected,
		"frames_tx":         int64(s.FramesTx),
		"frames_rx":         int64(s.FramesRx),
		"payloads":          int64(s.PayloadsDispatched),
		"payloads_unrouted": int64(s.PayloadsUnrouted),
		"handshakes_failed": int64(s.HandshakesFailed),
		"reconnects":        int64(s.ReconnectsTotal),
		"errors":            int64(s.ErrorsTotal),
		"subscriptions":     s.Subscriptions,
	}
}
