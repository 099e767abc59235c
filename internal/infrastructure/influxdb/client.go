package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/obloq-bridge/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	// Batching used when config.yaml leaves batch_size or flush_interval
	// unset. Feed values arrive a few per minute, so a 10 s flush keeps
	// Grafana close to live without a write per value.
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Client writes feed history and serial link counters to InfluxDB v2.
//
// Writes go through the non-blocking batch API: WriteFeedValue and
// WritePoint return at once and failures arrive on the SetOnError
// callback. A Client is safe for concurrent use; after Close every write
// is dropped silently.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.InfluxDBConfig

	closed    atomic.Bool
	closeOnce sync.Once

	onError   func(err error)
	onErrorMu sync.RWMutex
}

// Connect pings the server and opens the batch write API for the
// configured org and bucket. It returns ErrDisabled when the influxdb
// section is switched off, so callers can skip the sink.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := ping(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		cfg:      cfg,
	}
	go c.forwardErrors(c.writeAPI.Errors())

	return c, nil
}

// writeOptions maps the batching settings onto client options.
// Zero or negative values fall back to the defaults.
func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize) // #nosec G115 -- positive, checked above
	}
	flush := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}

	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds())) // #nosec G115 -- positive duration
}

// ping reports whether the server answers and calls itself healthy.
func ping(ctx context.Context, client influxdb2.Client) error {
	healthy, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !healthy {
		return errors.New("ping: server not healthy")
	}
	return nil
}

// forwardErrors hands async write failures to the error callback until the
// write API closes the channel.
func (c *Client) forwardErrors(errs <-chan error) {
	for err := range errs {
		c.onErrorMu.RLock()
		callback := c.onError
		c.onErrorMu.RUnlock()

		if callback != nil {
			callback(fmt.Errorf("%w: %w", ErrWriteFailed, err))
		}
	}
}

// Close flushes buffered points and shuts the client down. Safe to call
// more than once.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writeAPI.Flush()
		c.client.Close()
	})
	return nil
}

// HealthCheck pings the server, bounded by ctx and a 5 s ceiling.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := ping(ctx, c.client); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// IsConnected reports whether the client is open. It does not touch the
// network; HealthCheck does.
func (c *Client) IsConnected() bool {
	return c.client != nil && !c.closed.Load()
}

// SetOnError sets the callback for failed batch writes. Errors wrap
// ErrWriteFailed.
func (c *Client) SetOnError(callback func(err error)) {
	c.onErrorMu.Lock()
	c.onError = callback
	c.onErrorMu.Unlock()
}

// Flush blocks until buffered points are written. No-op after Close.
func (c *Client) Flush() {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}
