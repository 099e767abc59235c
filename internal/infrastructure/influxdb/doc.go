// Package influxdb records cloud feed history in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health monitoring.
//
// # Measurements
//
//   - feed_value: one point per payload received on a feed, tagged by feed.
//     Field "raw" always holds the payload; field "value" holds it as a
//     float when it parses as one.
//   - obloq_link: periodic serial link counters (frames, reconnects, errors).
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteFeedValue("temperature", "19.2")
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via the
// SetOnError callback. Connection and health check errors are returned
// directly.
package influxdb
