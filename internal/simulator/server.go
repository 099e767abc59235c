package simulator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/obloq-bridge/internal/bridges/obloq"
)

// Simulator defaults.
const (
	// DefaultAddr listens on a random loopback port.
	DefaultAddr = "127.0.0.1:0"

	// DefaultIP is reported in the Wi-Fi associated reply.
	DefaultIP = "192.168.1.50"
)

// Module reply frames.
const (
	replyConnectOK      = "|4|1|1|1|"
	replyConnectFailed  = "|4|1|1|2|"
	replySubscribeOK    = "|4|1|2|1|"
	replySubscribeFail  = "|4|1|2|2|"
	replyPublishOK      = "|4|1|3|1|"
	replyPublishFail    = "|4|1|3|2|"
	replyDisconnectOK   = "|4|1|4|1|"
	wifiAssociatedFrame = "|2|3|%s|"
	taggedMessageFrame  = "|4|1|5|%s|%s|"
)

// Logger interface for optional logging.
type Logger interface {
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Config configures a Server.
type Config struct {
	// Addr is the TCP listen address. Default: DefaultAddr.
	Addr string

	// Backend is the broker behind the module. Required.
	Backend Backend

	// IP is reported when Wi-Fi associates. Default: DefaultIP.
	IP string

	// TaggedMessages delivers |4|1|5|{topic}|{message}| frames instead of
	// bare payload lines.
	TaggedMessages bool

	// Echo repeats every command frame back before its reply, as some
	// firmware builds do.
	Echo bool

	// ReplyDelay is applied before every reply.
	ReplyDelay time.Duration

	// Logger is optional.
	Logger Logger
}

// Server accepts TCP connections and runs one emulated module per
// connection.
//
// Thread Safety: All methods are safe for concurrent use.
type Server struct {
	cfg      Config
	listener net.Listener

	sessions atomic.Int64

	mu    sync.Mutex
	conns map[*moduleSession]struct{}

	wg        sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}

	// watchDone is closed when the context watcher started by Start exits.
	watchDone chan struct{}
}

// New creates a server. Call Start to begin listening.
func New(cfg Config) (*Server, error) {
	if cfg.Backend == nil {
		return nil, ErrNoBackend
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.IP == "" {
		cfg.IP = DefaultIP
	}
	return &Server{
		cfg:       cfg,
		conns:     make(map[*moduleSession]struct{}),
		done:      make(chan struct{}),
		watchDone: make(chan struct{}),
	}, nil
}

// Start binds the listen address and serves connections until ctx is
// cancelled or Close is called.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()

	go func() {
		defer close(s.watchDone)
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()

	s.logInfo("OBLOQ simulator listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, e.g. "127.0.0.1:54321".
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Sessions returns the number of connections served since Start.
func (s *Server) Sessions() int {
	return int(s.sessions.Load())
}

// Close stops listening and closes every open connection.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)

		if s.listener != nil {
			err = s.listener.Close()
		}

		s.mu.Lock()
		for m := range s.conns {
			m.close()
		}
		s.mu.Unlock()

		s.wg.Wait()
	})
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.logError("accept failed", err)
			}
			return
		}

		m := &moduleSession{
			server:    s,
			transport: obloq.NewStreamTransport(conn),
			remote:    conn.RemoteAddr().String(),
		}

		s.mu.Lock()
		s.conns[m] = struct{}{}
		s.mu.Unlock()
		s.sessions.Add(1)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			m.serve()

			s.mu.Lock()
			delete(s.conns, m)
			s.mu.Unlock()
		}()
	}
}

func (s *Server) logInfo(msg string, keysAndValues ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Info(msg, keysAndValues...)
	}
}

func (s *Server) logError(msg string, err error, keysAndValues ...any) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}

// moduleSession is one emulated module.
type moduleSession struct {
	server    *Server
	transport *obloq.StreamTransport
	remote    string

	mu      sync.Mutex
	broker  Session
	stopped bool
}

func (m *moduleSession) serve() {
	defer m.close()
	m.server.logInfo("module attached", "remote", m.remote)

	for {
		raw, err := m.transport.ReadLine()
		if err != nil {
			m.server.logInfo("module detached", "remote", m.remote)
			return
		}
		if raw == "" {
			continue
		}
		m.handle(raw)
	}
}

// handle answers one command frame.
func (m *moduleSession) handle(raw string) {
	line := obloq.ParseLine(raw)
	if line.Kind != obloq.KindStatus {
		// The firmware ignores anything it does not recognise.
		return
	}
	if m.server.cfg.Echo {
		m.reply(raw)
	}

	codes := line.Codes
	switch {
	case len(codes) >= 3 && codes[0] == "2" && codes[1] == "1":
		m.joinWifi(codes[2])
	case len(codes) >= 7 && codes[0] == "4" && codes[2] == "1":
		m.connectBroker(codes[3], codes[4], codes[5], codes[6])
	case len(codes) >= 4 && codes[0] == "4" && codes[2] == "2":
		m.subscribe(codes[3])
	case len(codes) >= 4 && codes[0] == "4" && codes[2] == "3":
		m.publish(codes[3], strings.Join(codes[4:], "|"))
	case len(codes) >= 3 && codes[0] == "4" && codes[2] == "4":
		m.disconnect()
		m.reply(replyDisconnectOK)
	}
}

func (m *moduleSession) joinWifi(credentials string) {
	ssid, _, _ := strings.Cut(credentials, ",")
	m.server.logInfo("wifi joined", "remote", m.remote, "ssid", ssid)
	m.reply(fmt.Sprintf(wifiAssociatedFrame, m.server.cfg.IP))
}

func (m *moduleSession) connectBroker(host, portText, user, key string) {
	m.disconnect()

	port, err := strconv.Atoi(portText)
	if err != nil {
		m.reply(replyConnectFailed)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), pahoTimeout)
	defer cancel()

	session, err := m.server.cfg.Backend.Connect(ctx, host, port, user, key)
	if err != nil {
		m.server.logError("broker connect refused", err, "user", user)
		m.reply(replyConnectFailed)
		return
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		_ = session.Close()
		return
	}
	m.broker = session
	m.mu.Unlock()

	m.reply(replyConnectOK)
}

func (m *moduleSession) subscribe(topic string) {
	session := m.session()
	if session == nil {
		m.reply(replySubscribeFail)
		return
	}
	if err := session.Subscribe(topic, m.deliver); err != nil {
		m.reply(replySubscribeFail)
		return
	}
	m.reply(replySubscribeOK)
}

func (m *moduleSession) publish(topic, message string) {
	session := m.session()
	if session == nil {
		m.reply(replyPublishFail)
		return
	}
	if err := session.Publish(topic, message); err != nil {
		m.reply(replyPublishFail)
		return
	}
	m.reply(replyPublishOK)
}

// deliver forwards a broker message to the serial side.
func (m *moduleSession) deliver(topic, message string) {
	if m.server.cfg.TaggedMessages {
		m.reply(fmt.Sprintf(taggedMessageFrame, topic, message))
		return
	}
	m.reply(message)
}

func (m *moduleSession) session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.broker
}

func (m *moduleSession) disconnect() {
	m.mu.Lock()
	session := m.broker
	m.broker = nil
	m.mu.Unlock()

	if session != nil {
		_ = session.Close()
	}
}

func (m *moduleSession) reply(line string) {
	if d := m.server.cfg.ReplyDelay; d > 0 {
		time.Sleep(d)
	}
	_ = m.transport.WriteLine(line)
}

func (m *moduleSession) close() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.mu.Unlock()

	m.disconnect()
	_ = m.transport.Close()
}
