package obloq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Bridge operation constants.
const (
	// commandTimeout bounds a cloud publish triggered by a local command.
	commandTimeout = 5 * time.Second
)

// Bridge connects one OBLOQ module to the site MQTT bus.
// It handles:
//   - Bringing the module up: Wi-Fi, broker session, feed subscriptions
//   - Publishing cloud feed values to obloq/state/{feed}
//   - Forwarding obloq/command/{feed} messages to the cloud feed
//   - Feeding values to the metrics sink and frames to the journal
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	conn     *Connection
	mqtt     MQTTClient
	metrics  MetricWriter
	recorder FrameRecorder
	health   *HealthReporter

	wifi    WifiCredentials
	account Credentials
	feeds   []string

	// Last value per feed, served by the API.
	values   map[string]StateMessage
	valuesMu sync.RWMutex

	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	// stopMu makes the stopped check and wg.Add atomic with Stop.
	stopMu  sync.Mutex
	stopped bool

	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the local bus client used by the bridge.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// MetricWriter receives feed values for time series storage.
// It is optional.
type MetricWriter interface {
	WriteFeedValue(feed, value string)
}

// FrameRecorder receives every frame crossing the serial link.
// It is optional.
type FrameRecorder interface {
	RecordFrame(dir Direction, line string, kind LineKind)
}

// WifiCredentials is the network the module joins at start-up.
type WifiCredentials struct {
	SSID     string
	Password string
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Connection is the module connection. Required.
	Connection *Connection

	// MQTTClient is the local bus client. Required.
	MQTTClient MQTTClient

	// Wifi is joined during Start when SSID is set. Leave empty when the
	// module keeps its association across restarts.
	Wifi WifiCredentials

	// Account is the Adafruit IO account. Required.
	Account Credentials

	// Feeds are subscribed in order during Start. At most MaxSubscriptions
	// are replayed after a reconnect.
	Feeds []string

	// Host is reported in health messages. Default: DefaultHost.
	Host string

	// HealthInterval is how often health is published. Default: 30s.
	HealthInterval time.Duration

	// Version is reported in health messages.
	Version string

	// Metrics is optional.
	Metrics MetricWriter

	// Recorder is optional.
	Recorder FrameRecorder

	// Logger is optional.
	Logger Logger
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Connection == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Account.IsEmpty() {
		return nil, ErrNoCredentials
	}
	for _, feed := range opts.Feeds {
		if feed == "" {
			return nil, ErrInvalidFeed
		}
		if err := ValidateField(feed); err != nil {
			return nil, err
		}
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		conn:      opts.Connection,
		mqtt:      opts.MQTTClient,
		metrics:   opts.Metrics,
		recorder:  opts.Recorder,
		wifi:      opts.Wifi,
		account:   opts.Account,
		feeds:     append([]string(nil), opts.Feeds...),
		values:    make(map[string]StateMessage),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		Version:   opts.Version,
		Host:      opts.Host,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Source:    opts.Connection,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start brings the module online and begins bridging.
//
// A refused broker handshake is not fatal: the connection's supervisory
// loop keeps retrying and replays the feed subscriptions once accepted.
//
// Returns:
//   - error: If the local command subscription fails or the serial link
//     is unusable
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	if b.recorder != nil {
		b.conn.SetFrameObserver(b.recorder.RecordFrame)
	}
	b.conn.SetOnStatus(b.handleStatus)

	if b.wifi.SSID != "" {
		if err := b.conn.ConnectWifi(ctx, b.wifi.SSID, b.wifi.Password); err != nil {
			return fmt.Errorf("wifi connect: %w", err)
		}
	}

	ok, err := b.conn.ConnectBroker(ctx, b.account.User, b.account.Key)
	if err != nil {
		return fmt.Errorf("broker connect: %w", err)
	}
	if !ok {
		b.logWarn("cloud broker refused the session, will retry in background",
			"user", b.account.User, "error", b.conn.LastError())
	}

	for _, feed := range b.feeds {
		added, err := b.conn.Subscribe(ctx, feed, b.feedHandler(feed))
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", feed, err)
		}
		if !added {
			b.logWarn("feed not added to replay registry", "feed", feed)
		}
	}

	if err := b.mqtt.Subscribe(CommandSubscribeTopic(), 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", CommandSubscribeTopic())

	b.health.Start(ctx)

	b.logInfo("bridge started",
		"feeds", len(b.feeds),
		"broker_connected", ok)

	return nil
}

// Stop ends the broker session and shuts the bridge down.
// The Connection itself is left open; its owner closes it.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.stopMu.Lock()
		b.stopped = true
		b.stopMu.Unlock()

		close(b.done)
		b.ctxCancel()
		b.wg.Wait()

		b.health.Stop()

		if err := b.conn.Disconnect(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
			b.logError("broker disconnect failed", err)
		}

		b.logInfo("bridge stopped")
	})
}

// Values returns the last value seen on each feed.
func (b *Bridge) Values() map[string]StateMessage {
	b.valuesMu.RLock()
	defer b.valuesMu.RUnlock()

	out := make(map[string]StateMessage, len(b.values))
	for k, v := range b.values {
		out[k] = v
	}
	return out
}

// Health returns the current bridge health.
func (b *Bridge) Health() (HealthStatus, string) {
	return b.health.Status()
}

// PublishFeed validates a value and publishes it to a cloud feed.
func (b *Bridge) PublishFeed(ctx context.Context, feed string, value any) error {
	if feed == "" {
		return ErrInvalidFeed
	}
	if err := ValidateField(feed); err != nil {
		return err
	}
	if err := ValidateField(FormatMessage(value)); err != nil {
		return err
	}
	return b.conn.Publish(ctx, feed, value)
}

// SetLogger sets the logger for this bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

// feedHandler returns the payload handler for one feed.
func (b *Bridge) feedHandler(feed string) Handler {
	topic := Topic(b.account.User, feed)

	return func(payload string) {
		msg := NewStateMessage(feed, topic, payload)

		b.valuesMu.Lock()
		b.values[feed] = msg
		b.valuesMu.Unlock()

		if b.metrics != nil {
			b.metrics.WriteFeedValue(feed, payload)
		}

		data, err := json.Marshal(msg)
		if err != nil {
			b.logError("failed to marshal state", err)
			return
		}
		if err := b.mqtt.Publish(StateTopic(feed), data, 1, true); err != nil {
			b.logError("failed to publish state", err)
			return
		}
		b.logDebug("feed value bridged", "feed", feed, "value", payload)
	}
}

// handleStatus publishes health promptly when the module reports a change.
func (b *Bridge) handleStatus(line Line) {
	if !line.IsBrokerConnect() && !line.IsWifi() {
		return
	}
	b.logDebug("module status", "line", line.Raw)

	b.stopMu.Lock()
	if b.stopped {
		b.stopMu.Unlock()
		return
	}
	b.wg.Add(1)
	b.stopMu.Unlock()

	go func() {
		defer b.wg.Done()
		if err := b.health.PublishNow(); err != nil {
			b.logError("failed to publish health", err)
		}
	}()
}

// handleMQTTMessage forwards a local command to the cloud feed.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	select {
	case <-b.done:
		return
	default:
	}

	feed, ok := FeedFromCommandTopic(topic)
	if !ok {
		b.logWarn("ignoring command on unexpected topic", "topic", topic)
		return
	}

	value, err := ParseCommandPayload(payload)
	if err != nil {
		b.logWarn("invalid command payload", "topic", topic, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	if err := b.PublishFeed(ctx, feed, value); err != nil {
		b.logError("failed to publish command to cloud", fmt.Errorf("feed %s: %w", feed, err))
		return
	}
	b.logInfo("command forwarded", "feed", feed)
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}
