package influxdb

import (
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	// MeasurementFeedValue holds one point per value received on a cloud feed.
	MeasurementFeedValue = "feed_value"

	// MeasurementLink holds periodic serial link counters.
	MeasurementLink = "obloq_link"
)

// WriteFeedValue records a value received on a cloud feed.
//
// Numeric payloads are stored in the float field "value"; every payload is
// also kept verbatim in the string field "raw" so text feeds are not lost.
// The write is non-blocking; data is batched and sent asynchronously.
//
// Example:
//
//	client.WriteFeedValue("temperature", "19.2")
//	client.WriteFeedValue("door", "open")
func (c *Client) WriteFeedValue(feed, value string) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(feedPoint(feed, value, time.Now()))
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Example:
//
//	client.WritePoint("obloq_link",
//	    map[string]string{"host": "io.adafruit.com"},
//	    map[string]interface{}{"reconnects": 3})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// feedPoint builds the point for one feed value.
func feedPoint(feed, value string, ts time.Time) *write.Point {
	fields := map[string]interface{}{
		"raw": value,
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
		fields["value"] = f
	}

	return write.NewPoint(
		MeasurementFeedValue,
		map[string]string{"feed": feed},
		fields,
		ts,
	)
}
