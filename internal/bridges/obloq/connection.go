package obloq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Module timing. The module processes one command at a time and does not
// flow-control the UART, so every command is followed by a fixed pause.
const (
	// defaultWifiSettle covers association; the module streams unstructured
	// progress text during this time.
	defaultWifiSettle = 4000 * time.Millisecond

	// defaultBrokerSettle is the pause between broker connect and reading
	// the reply.
	defaultBrokerSettle = 600 * time.Millisecond

	// defaultSubscribeSettle follows every subscribe, including replays.
	defaultSubscribeSettle = 300 * time.Millisecond

	// defaultReconnectPeriod is the supervisory loop tick.
	defaultReconnectPeriod = 10 * time.Second

	// defaultHandshakeTimeout bounds the wait for the broker reply after
	// the settle pause.
	defaultHandshakeTimeout = 2 * time.Second

	// readRetryDelay throttles the receive loop after a recoverable error.
	readRetryDelay = 100 * time.Millisecond

	// callbackQueueSize is the buffer between the receive loop and the
	// callback worker.
	callbackQueueSize = 100
)

// ConnectionState is the broker session state.
type ConnectionState int32

const (
	// StateDisconnected means no broker session is acknowledged.
	StateDisconnected ConnectionState = iota

	// StateConnecting means a broker handshake is in flight.
	StateConnecting

	// StateConnected means the module acknowledged the last broker connect.
	StateConnected
)

// String returns the lowercase state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Credentials is an Adafruit IO account.
type Credentials struct {
	User string
	Key  string
}

// IsEmpty reports whether the credentials cannot be used for a handshake.
func (c Credentials) IsEmpty() bool {
	return c.User == "" || c.Key == ""
}

// Timing holds the module pauses. Zero fields take the defaults.
type Timing struct {
	WifiSettle       time.Duration
	BrokerSettle     time.Duration
	SubscribeSettle  time.Duration
	ReconnectPeriod  time.Duration
	HandshakeTimeout time.Duration
}

// DefaultTiming returns the pauses the module firmware needs.
func DefaultTiming() Timing {
	return Timing{
		WifiSettle:       defaultWifiSettle,
		BrokerSettle:     defaultBrokerSettle,
		SubscribeSettle:  defaultSubscribeSettle,
		ReconnectPeriod:  defaultReconnectPeriod,
		HandshakeTimeout: defaultHandshakeTimeout,
	}
}

// withDefaults fills zero fields from DefaultTiming.
func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.WifiSettle == 0 {
		t.WifiSettle = d.WifiSettle
	}
	if t.BrokerSettle == 0 {
		t.BrokerSettle = d.BrokerSettle
	}
	if t.SubscribeSettle == 0 {
		t.SubscribeSettle = d.SubscribeSettle
	}
	if t.ReconnectPeriod == 0 {
		t.ReconnectPeriod = d.ReconnectPeriod
	}
	if t.HandshakeTimeout == 0 {
		t.HandshakeTimeout = d.HandshakeTimeout
	}
	return t
}

// Options configures a Connection.
type Options struct {
	// Host is the broker host sent in connect frames. Default: DefaultHost.
	Host string

	// Port is the broker port sent in connect frames. Default: DefaultPort.
	Port int

	// Timing overrides the module pauses. Zero fields take the defaults.
	Timing Timing

	// Logger is optional.
	Logger Logger
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Direction tells whether a frame was sent or received.
type Direction string

const (
	// DirectionOut is a frame written to the module.
	DirectionOut Direction = "out"

	// DirectionIn is a line read from the module.
	DirectionIn Direction = "in"
)

// FrameObserver is notified of every frame crossing the transport.
// Outbound frames are redacted before the observer sees them.
type FrameObserver func(dir Direction, line string, kind LineKind)

// callbackJob is one queued callback: a payload for a handler, or a
// status line for the status hook when status is set.
type callbackJob struct {
	handler Handler
	topic   string
	payload string
	status  *Line
}

// Stats holds operational statistics.
type Stats struct {
	FramesTx              uint64
	FramesRx              uint64
	StatusRx              uint64
	PayloadsDispatched    uint64
	PayloadsUnrouted      uint64
	HandshakesOK          uint64
	HandshakesFailed      uint64
	ReconnectAttempts     uint64
	ReconnectsTotal       uint64
	ReplayedSubscriptions uint64
	ErrorsTotal           uint64
	LastActivity          time.Time
	State                 ConnectionState
	Subscriptions         int
}

// Connection owns one module: its broker session state, credentials,
// subscription registry and the background goroutines that serve it.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Payload handlers are invoked sequentially on the receive goroutine.
//
// Supervision:
//   - The first ConnectBroker call arms a loop that re-runs the broker
//     handshake every ReconnectPeriod while the session is down, then
//     replays every registered subscription in order.
//   - Disconnect pauses supervision until the next ConnectBroker.
//   - Close stops both goroutines and closes the transport.
type Connection struct {
	transport Transport
	host      string
	port      int
	timing    Timing

	// State guarded by mu: session state, credentials, registry.
	mu          sync.Mutex
	state       ConnectionState
	creds       Credentials
	registry    *Registry
	supervising bool
	lastErr     error

	// sendMu serialises outbound frames across callers and the loop.
	sendMu sync.Mutex

	// handshakeMu serialises broker handshakes.
	handshakeMu sync.Mutex

	// waiter receives broker connect replies while a handshake is open.
	waiterMu  sync.Mutex
	waiter    chan Line
	waitEcho  string
	dispatch  *Dispatcher
	onStatus  func(Line)
	observer  FrameObserver
	callbackM sync.RWMutex

	// callbackQueue feeds the single callback worker, which keeps arrival
	// order and lets handlers call back into the Connection.
	callbackQueue chan callbackJob

	receiveOnce   sync.Once
	superviseOnce sync.Once
	done          *closeOnce

	// wg tracks the receive and supervisory goroutines. The callback
	// worker is not tracked: Close may run on it.
	wg sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	framesTx              atomic.Uint64
	framesRx              atomic.Uint64
	statusRx              atomic.Uint64
	payloadsDispatched    atomic.Uint64
	payloadsUnrouted      atomic.Uint64
	handshakesOK          atomic.Uint64
	handshakesFailed      atomic.Uint64
	reconnectAttempts     atomic.Uint64
	reconnectsTotal       atomic.Uint64
	replayedSubscriptions atomic.Uint64
	errorsTotal           atomic.Uint64
	lastActivity          atomic.Int64
}

// NewConnection creates a Connection over an open transport.
//
// No goroutine is started and nothing is sent until the first operation.
//
// Parameters:
//   - transport: Line transport to the module
//   - opts: Endpoint, timing and logger options
//
// Returns:
//   - *Connection: Idle connection in StateDisconnected
func NewConnection(transport Transport, opts Options) *Connection {
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}

	c := &Connection{
		transport: transport,
		host:      opts.Host,
		port:      opts.Port,
		timing:    opts.Timing.withDefaults(),
		state:     StateDisconnected,
		registry:  NewRegistry(),
		dispatch:  NewDispatcher(),
		done:      newCloseOnce(),
		logger:    opts.Logger,

		callbackQueue: make(chan callbackJob, callbackQueueSize),
	}
	c.lastActivity.Store(time.Now().Unix())
	return c
}

// ConnectWifi asks the module to join a Wi-Fi network.
//
// The module streams free-form progress text while associating; it is not
// parsed. Status lines in the Wi-Fi group reach the SetOnStatus hook, which
// is the place to observe association if the firmware reports it. No state
// transition is recorded here.
//
// Parameters:
//   - ctx: Cancels the settle pause
//   - ssid: Network name
//   - password: Network passphrase
//
// Returns:
//   - error: If the frame cannot be sent, the connection is closed,
//     or ctx ends during the pause
func (c *Connection) ConnectWifi(ctx context.Context, ssid, password string) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.startReceiving()

	if err := c.send(EncodeWifiConnect(ssid, password)); err != nil {
		return err
	}
	c.logInfo("wifi association requested", "ssid", ssid)

	return c.pause(ctx, c.timing.WifiSettle)
}

// ConnectBroker stores the account and performs the broker handshake:
// send the connect frame, wait BrokerSettle, read the reply.
//
// The session becomes StateConnected only when the reply contains the
// success code; a rejection or a missing reply leaves StateDisconnected
// and is available from LastError. The supervisory loop is armed on the
// first call and re-enabled by every call.
//
// Parameters:
//   - ctx: Cancels the settle pause and the reply wait
//   - user: Adafruit IO user name
//   - key: Adafruit IO key
//
// Returns:
//   - bool: true if the module acknowledged the connection
//   - error: Transport failure, Close, or ctx cancellation only
func (c *Connection) ConnectBroker(ctx context.Context, user, key string) (bool, error) {
	if c.isClosed() {
		return false, ErrClosed
	}

	creds := Credentials{User: user, Key: key}

	c.mu.Lock()
	c.creds = creds
	c.supervising = true
	c.mu.Unlock()

	c.startReceiving()
	c.startSupervisor()

	ok, err := c.handshake(ctx, creds)
	if err != nil {
		return false, err
	}
	if ok {
		c.logInfo("broker connected", "host", c.host, "user", user)
	} else {
		c.logWarn("broker connect failed", "host", c.host, "user", user, "error", c.LastError())
	}
	return ok, nil
}

// Subscribe registers a feed handler and asks the module to subscribe.
//
// The topic is built from the stored broker user. The registry refuses
// duplicates and a sixth distinct topic without signalling an error; the
// frame is sent and the handler registered either way, and the returned
// bool tells whether the topic entered the replay registry.
//
// Parameters:
//   - ctx: Cancels the settle pause
//   - feed: Feed key on the account (e.g. "temperature")
//   - handler: Invoked with each payload for the feed
//
// Returns:
//   - bool: true if the topic was newly added to the registry
//   - error: ErrInvalidFeed, ErrNoCredentials, or a transport failure
func (c *Connection) Subscribe(ctx context.Context, feed string, handler Handler) (bool, error) {
	if c.isClosed() {
		return false, ErrClosed
	}
	if strings.TrimSpace(feed) == "" {
		return false, ErrInvalidFeed
	}

	c.mu.Lock()
	user := c.creds.User
	if user == "" {
		c.mu.Unlock()
		return false, ErrNoCredentials
	}
	topic := Topic(user, feed)
	added := c.registry.Add(topic)
	full := !added && !c.registry.Contains(topic)
	c.mu.Unlock()

	if full {
		c.setLastError(fmt.Errorf("%w: %s not registered", ErrRegistryFull, topic))
		c.logWarn("subscription registry full, topic will not be replayed",
			"topic", topic, "capacity", MaxSubscriptions)
	}

	if handler != nil {
		c.dispatch.Register(topic, handler)
	}

	if err := c.send(EncodeSubscribe(topic)); err != nil {
		return added, err
	}
	c.logInfo("subscribed", "topic", topic, "registered", added)

	if err := c.pause(ctx, c.timing.SubscribeSettle); err != nil {
		return added, err
	}

	c.startReceiving()
	return added, nil
}

// Publish sends a message to a feed.
//
// The message may be a string or a number; numbers are written in plain
// decimal. Publishing is fire-and-forget: the frame is sent even when the
// session is down (the module drops it), and only a transport failure is
// returned.
func (c *Connection) Publish(ctx context.Context, feed string, message any) error {
	if c.isClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(feed) == "" {
		return ErrInvalidFeed
	}

	c.mu.Lock()
	user := c.creds.User
	connected := c.state == StateConnected
	c.mu.Unlock()

	if user == "" {
		return ErrNoCredentials
	}
	if !connected {
		c.logWarn("publishing while broker session is down", "feed", feed, "error", ErrNotConnected)
	}

	return c.send(EncodePublish(Topic(user, feed), message))
}

// Disconnect ends the broker session.
//
// The state becomes StateDisconnected whether or not the module replies,
// and supervision pauses until the next ConnectBroker. Calling it again has
// the same effect.
func (c *Connection) Disconnect(_ context.Context) error {
	c.mu.Lock()
	c.state = StateDisconnected
	c.supervising = false
	c.mu.Unlock()

	if c.isClosed() {
		return ErrClosed
	}

	if err := c.send(EncodeDisconnect()); err != nil {
		return err
	}
	c.logInfo("broker disconnected")
	return nil
}

// IsConnected reports whether the last broker handshake succeeded and no
// disconnect happened since. It never blocks on I/O and is safe to call
// from a payload handler.
func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected
}

// State returns the current session state.
func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// User returns the stored broker user.
func (c *Connection) User() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds.User
}

// Subscriptions returns the registered topics in replay order.
func (c *Connection) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.All()
}

// LastError returns the most recent failure that was absorbed rather than
// returned (handshake timeout or rejection, full registry, read errors).
func (c *Connection) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// SetOnStatus sets a hook for status lines (acknowledgements, Wi-Fi reports).
// The hook runs on the callback worker, in order with payload handlers.
func (c *Connection) SetOnStatus(callback func(Line)) {
	c.callbackM.Lock()
	c.onStatus = callback
	c.callbackM.Unlock()
}

// SetFrameObserver sets a hook that sees every frame in both directions.
func (c *Connection) SetFrameObserver(observer FrameObserver) {
	c.callbackM.Lock()
	c.observer = observer
	c.callbackM.Unlock()
}

// SetLogger sets the logger for this connection.
func (c *Connection) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// Stats returns current operational statistics.
func (c *Connection) Stats() Stats {
	c.mu.Lock()
	state := c.state
	subs := c.registry.Len()
	c.mu.Unlock()

	return Stats{
		FramesTx:              c.framesTx.Load(),
		FramesRx:              c.framesRx.Load(),
		StatusRx:              c.statusRx.Load(),
		PayloadsDispatched:    c.payloadsDispatched.Load(),
		PayloadsUnrouted:      c.payloadsUnrouted.Load(),
		HandshakesOK:          c.handshakesOK.Load(),
		HandshakesFailed:      c.handshakesFailed.Load(),
		ReconnectAttempts:     c.reconnectAttempts.Load(),
		ReconnectsTotal:       c.reconnectsTotal.Load(),
		ReplayedSubscriptions: c.replayedSubscriptions.Load(),
		ErrorsTotal:           c.errorsTotal.Load(),
		LastActivity:          time.Unix(c.lastActivity.Load(), 0),
		State:                 state,
		Subscriptions:         subs,
	}
}

// HealthCheck returns ErrNotConnected unless the broker session is up.
func (c *Connection) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("obloq health check: %w", ctx.Err())
	default:
	}
	if c.isClosed() {
		return ErrClosed
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close stops the supervisory and receive goroutines and closes the
// transport. Safe to call multiple times, including from a payload handler
// or status hook; a callback already running is not waited for and
// queued callbacks are discarded.
func (c *Connection) Close() error {
	c.done.Close()

	c.mu.Lock()
	c.state = StateDisconnected
	c.supervising = false
	c.mu.Unlock()

	var err error
	if c.transport != nil {
		err = c.transport.Close()
	}

	c.wg.Wait()
	c.logInfo("connection closed")

	if err != nil && !isStreamEnd(err) {
		return err
	}
	return nil
}

// handshake runs one broker connect exchange and records the outcome.
// It returns an error only when the exchange could not be carried out.
func (c *Connection) handshake(ctx context.Context, creds Credentials) (bool, error) {
	c.handshakeMu.Lock()
	defer c.handshakeMu.Unlock()

	c.setState(StateConnecting)

	frame := EncodeBrokerConnect(c.host, c.port, creds.User, creds.Key)
	replies := c.openWaiter(frame)
	defer c.closeWaiter()

	if err := c.send(frame); err != nil {
		c.failHandshake(err)
		return false, err
	}

	if err := c.pause(ctx, c.timing.BrokerSettle); err != nil {
		c.failHandshake(err)
		return false, err
	}

	timer := time.NewTimer(c.timing.HandshakeTimeout)
	defer timer.Stop()

	var reply Line
	select {
	case reply = <-replies:
	case <-timer.C:
		c.failHandshake(ErrHandshakeTimeout)
		return false, nil
	case <-ctx.Done():
		c.failHandshake(ctx.Err())
		return false, ctx.Err()
	case <-c.done.Done():
		c.failHandshake(ErrClosed)
		return false, ErrClosed
	}

	if !IsBrokerConnectSuccess(reply.Raw) {
		c.failHandshake(fmt.Errorf("%w: %s", ErrHandshakeRejected, reply.Raw))
		return false, nil
	}

	c.mu.Lock()
	if !c.supervising {
		// Disconnect or Close landed while the reply was pending.
		c.state = StateDisconnected
		c.mu.Unlock()
		c.logDebug("broker acknowledged after disconnect, session left down")
		return false, nil
	}
	c.state = StateConnected
	c.lastErr = nil
	c.mu.Unlock()
	c.handshakesOK.Add(1)
	return true, nil
}

// failHandshake marks the session down after a failed exchange.
func (c *Connection) failHandshake(err error) {
	c.mu.Lock()
	c.state = StateDisconnected
	c.lastErr = err
	c.mu.Unlock()
	c.handshakesFailed.Add(1)
}

// openWaiter starts collecting broker connect replies. The echo of the
// frame being sent is not a reply and is skipped.
func (c *Connection) openWaiter(frame Frame) <-chan Line {
	ch := make(chan Line, 1)
	c.waiterMu.Lock()
	c.waiter = ch
	c.waitEcho = string(frame)
	c.waiterMu.Unlock()
	return ch
}

// closeWaiter stops collecting broker connect replies.
func (c *Connection) closeWaiter() {
	c.waiterMu.Lock()
	c.waiter = nil
	c.waitEcho = ""
	c.waiterMu.Unlock()
}

// offerReply hands a broker connect line to an open handshake.
func (c *Connection) offerReply(line Line) {
	c.waiterMu.Lock()
	defer c.waiterMu.Unlock()

	if c.waiter == nil || line.Raw == c.waitEcho {
		return
	}
	select {
	case c.waiter <- line:
	default:
		// A reply is already pending; the handshake reads only one.
	}
}

// startSupervisor arms the reconnect loop once per Connection.
func (c *Connection) startSupervisor() {
	c.superviseOnce.Do(func() {
		c.wg.Add(1)
		go c.superviseLoop()
	})
}

// superviseLoop re-runs the handshake while the session is down.
func (c *Connection) superviseLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.timing.ReconnectPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done.Done():
			return
		case <-ticker.C:
			c.superviseTick()
		}
	}
}

// superviseTick performs one supervisory check.
func (c *Connection) superviseTick() {
	c.mu.Lock()
	due := c.supervising && c.state == StateDisconnected && !c.creds.IsEmpty()
	creds := c.creds
	c.mu.Unlock()

	if !due || c.isClosed() {
		return
	}

	c.reconnectAttempts.Add(1)
	c.logDebug("attempting broker reconnection", "user", creds.User)

	ok, err := c.handshake(context.Background(), creds)
	if err != nil {
		if !errors.Is(err, ErrClosed) {
			c.errorsTotal.Add(1)
			c.logError("reconnect: handshake could not run", err)
		}
		return
	}
	if !ok {
		c.logDebug("reconnect: broker refused or did not answer", "error", c.LastError())
		return
	}

	c.reconnectsTotal.Add(1)
	c.logInfo("broker reconnected", "total_reconnects", c.reconnectsTotal.Load())
	c.replaySubscriptions()
}

// replaySubscriptions re-sends every registered subscribe frame in order.
func (c *Connection) replaySubscriptions() {
	topics := c.Subscriptions()

	for _, topic := range topics {
		if c.isClosed() {
			return
		}
		if err := c.send(EncodeSubscribe(topic)); err != nil {
			c.errorsTotal.Add(1)
			c.logError("replay subscribe failed", err)
			return
		}
		c.replayedSubscriptions.Add(1)

		if err := c.pause(context.Background(), c.timing.SubscribeSettle); err != nil {
			return
		}
	}

	if len(topics) > 0 {
		c.logInfo("subscriptions restored", "count", len(topics))
	}
}

// startReceiving arms the shared line listener and the callback worker
// once per Connection.
func (c *Connection) startReceiving() {
	c.receiveOnce.Do(func() {
		c.wg.Add(1)
		go c.receiveLoop()
		go c.callbackWorker()
	})
}

// receiveLoop reads lines until the transport ends or Close is called.
func (c *Connection) receiveLoop() {
	defer c.wg.Done()

	for {
		if c.isClosed() {
			return
		}

		raw, err := c.transport.ReadLine()
		if err != nil {
			if c.isClosed() {
				return
			}
			if isStreamEnd(err) {
				c.logWarn("transport ended, receive loop stopping", "error", err)
				c.setState(StateDisconnected)
				c.setLastError(fmt.Errorf("%w: %w", ErrTransport, err))
				return
			}

			c.errorsTotal.Add(1)
			c.setLastError(err)
			c.logError("read failed", err)

			select {
			case <-c.done.Done():
				return
			case <-time.After(readRetryDelay):
			}
			continue
		}

		c.handleLine(raw)
	}
}

// handleLine classifies one inbound line and routes it.
func (c *Connection) handleLine(raw string) {
	c.framesRx.Add(1)
	c.lastActivity.Store(time.Now().Unix())

	line := ParseLine(raw)
	c.observe(DirectionIn, line.Raw, line.Kind)

	if IsBrokerConnectSuccess(line.Raw) || line.IsBrokerConnect() {
		c.offerReply(line)
	}

	if line.Kind == KindStatus {
		c.statusRx.Add(1)
		c.enqueue(callbackJob{status: &line})
		return
	}

	handler, topic, ok := c.dispatch.Route(line)
	if !ok {
		if strings.TrimSpace(line.Text) != "" {
			c.payloadsUnrouted.Add(1)
			c.logDebug("payload without handler", "topic", topic)
		}
		return
	}

	c.enqueue(callbackJob{handler: handler, topic: topic, payload: line.Text})
}

// enqueue hands a callback to the worker. It blocks while the queue is
// full, which stops the receive loop reading, and gives up on Close.
func (c *Connection) enqueue(job callbackJob) {
	if job.status != nil && !c.hasStatusHook() {
		return
	}
	select {
	case c.callbackQueue <- job:
	case <-c.done.Done():
	}
}

// callbackWorker runs payload handlers and the status hook in arrival order.
func (c *Connection) callbackWorker() {
	for {
		select {
		case <-c.done.Done():
			c.drainCallbackQueue()
			return
		case job := <-c.callbackQueue:
			if c.isClosed() {
				c.drainCallbackQueue()
				return
			}
			if job.status != nil {
				c.notifyStatus(*job.status)
				continue
			}
			c.invoke(job.handler, job.topic, job.payload)
		}
	}
}

// drainCallbackQueue discards callbacks queued at shutdown.
func (c *Connection) drainCallbackQueue() {
	for {
		select {
		case <-c.callbackQueue:
		default:
			return
		}
	}
}

// hasStatusHook reports whether a status hook is set.
func (c *Connection) hasStatusHook() bool {
	c.callbackM.RLock()
	defer c.callbackM.RUnlock()
	return c.onStatus != nil
}

// invoke runs a payload handler with panic recovery.
func (c *Connection) invoke(handler Handler, topic, payload string) {
	defer func() {
		if r := recover(); r != nil {
			c.errorsTotal.Add(1)
			c.logError("payload handler panic", fmt.Errorf("topic %s: %v", topic, r))
		}
	}()

	c.payloadsDispatched.Add(1)
	handler(payload)
}

// notifyStatus runs the status hook with panic recovery.
func (c *Connection) notifyStatus(line Line) {
	c.callbackM.RLock()
	callback := c.onStatus
	c.callbackM.RUnlock()

	if callback == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.errorsTotal.Add(1)
			c.logError("status callback panic", fmt.Errorf("%v", r))
		}
	}()
	callback(line)
}

// observe forwards a frame to the frame observer, if any.
func (c *Connection) observe(dir Direction, line string, kind LineKind) {
	c.callbackM.RLock()
	observer := c.observer
	c.callbackM.RUnlock()

	if observer != nil {
		observer(dir, line, kind)
	}
}

// send writes one frame under the send lock.
func (c *Connection) send(frame Frame) error {
	if c.isClosed() {
		return ErrClosed
	}

	c.sendMu.Lock()
	err := c.transport.WriteLine(string(frame))
	c.sendMu.Unlock()

	redactedFrame := RedactFrame(string(frame))
	if err != nil {
		c.errorsTotal.Add(1)
		c.logError("send failed", fmt.Errorf("frame %s: %w", redactedFrame, err))
		if !errors.Is(err, ErrTransport) {
			err = fmt.Errorf("%w: %w", ErrTransport, err)
		}
		return err
	}

	c.framesTx.Add(1)
	c.lastActivity.Store(time.Now().Unix())
	c.observe(DirectionOut, redactedFrame, Classify(string(frame)))
	c.logDebug("frame sent", "frame", redactedFrame)
	return nil
}

// pause waits for a settle interval. It ends early on Close or ctx.
func (c *Connection) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done.Done():
		return ErrClosed
	}
}

func (c *Connection) setState(state ConnectionState) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *Connection) setLastError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

// isClosed returns true if the connection has been closed.
func (c *Connection) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

func (c *Connection) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Connection) logDebug(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (c *Connection) logInfo(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *Connection) logWarn(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (c *Connection) logError(msg string, err error) {
	if logger := c.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}
