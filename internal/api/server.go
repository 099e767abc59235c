package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/obloq-bridge/internal/bridges/obloq"
	"github.com/nerrad567/obloq-bridge/internal/infrastructure/config"
	"github.com/nerrad567/obloq-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/obloq-bridge/internal/journal"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// LinkStatus is the read side of the module connection.
// *obloq.Connection satisfies it.
type LinkStatus interface {
	State() obloq.ConnectionState
	User() string
	Subscriptions() []string
	Stats() obloq.Stats
	LastError() error
}

// FeedBridge publishes to cloud feeds and reports the values seen on them.
// *obloq.Bridge satisfies it.
type FeedBridge interface {
	PublishFeed(ctx context.Context, feed string, value any) error
	Values() map[string]obloq.StateMessage
	Health() (obloq.HealthStatus, string)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Link    LinkStatus
	Bridge  FeedBridge         // optional: feed endpoints return 503 without it
	Journal journal.Repository // optional: frame endpoints return 503 without it
	Version string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware and the Prometheus
// registry. The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	link      LinkStatus
	bridge    FeedBridge
	journal   journal.Repository
	version   string
	startTime time.Time
	registry  *prometheus.Registry
	server    *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing or metrics fail to register
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Link == nil {
		return nil, fmt.Errorf("link status is required")
	}

	registry := prometheus.NewRegistry()
	if err := registry.Register(NewLinkCollector(deps.Link)); err != nil {
		return nil, fmt.Errorf("registering link collector: %w", err)
	}
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("registering go collector: %w", err)
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		link:      deps.Link,
		bridge:    deps.Bridge,
		journal:   deps.Journal,
		version:   deps.Version,
		startTime: time.Now(),
		registry:  registry,
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
