// Package api provides the local HTTP status API for the OBLOQ bridge.
//
// It exposes link state, feed values and the frame journal to field tools,
// accepts feed publishes, and serves Prometheus metrics for the serial link.
//
// Routes:
//
//	GET  /api/v1/health          liveness plus bridge health
//	GET  /api/v1/status          connection state, subscriptions, counters
//	GET  /api/v1/feeds           last value per feed
//	POST /api/v1/feeds/{feed}    publish the request body to a cloud feed
//	GET  /api/v1/frames          journalled frames, newest first
//	GET  /metrics                Prometheus exposition
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
