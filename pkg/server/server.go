package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/collab/pkg/assistant"
	"github.com/vango-dev/collab/pkg/channel"
	"github.com/vango-dev/collab/pkg/docstore"
	"github.com/vango-dev/collab/pkg/lock"
	"github.com/vango-dev/collab/pkg/middleware"
	"github.com/vango-dev/collab/pkg/relay"
)

// Deps are the backends a Server is composed from. Every field is optional:
// relay channels need Bus, the lock API needs Locks, the paragraph API
// needs Store, and /metrics is mounted only with a Gatherer.
type Deps struct {
	Bus      relay.Bus
	Locks    *lock.Manager
	Store    docstore.Store
	Asker    assistant.Asker
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server is the collaboration HTTP/WebSocket server.
type Server struct {
	config    *ServerConfig
	deps      Deps
	endpoints []*channel.Endpoint
	byName    map[string]*channel.Endpoint
	upgrader  websocket.Upgrader
	router    chi.Router
	logger    *slog.Logger

	// ctx bounds every connection; cancelled on Shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	conns sync.WaitGroup

	mu         sync.Mutex
	closing    bool
	httpServer *http.Server
	shutdown   sync.Once
	shutErr    error
}

// New creates a server for config. A nil config uses DefaultServerConfig.
func New(config *ServerConfig, deps Deps) (*Server, error) {
	if config == nil {
		config = DefaultServerConfig()
	} else {
		config = config.Clone()
	}
	config.fillDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config: config,
		deps:   deps,
		byName: make(map[string]*channel.Endpoint, len(config.Channels)),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		logger: logger.With("component", "server"),
	}

	opts := []channel.Option{channel.WithRelayConfig(config.RelayConfig)}
	if deps.Asker != nil {
		opts = append(opts, channel.WithAsker(deps.Asker))
	}
	for _, cc := range config.Channels {
		ep, err := channel.New(cc, deps.Bus, logger, opts...)
		if err != nil {
			return nil, NewChannelError(cc.Name, "create", err)
		}
		s.endpoints = append(s.endpoints, ep)
		s.byName[cc.Name] = ep
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Prometheus())
	r.Use(middleware.OpenTelemetry())

	for _, ep := range s.endpoints {
		r.Get(ep.Config().Path, s.websocketHandler(ep))
	}

	r.Get("/healthz", s.handleHealth)
	if s.deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/locks", s.handleListLocks)
		r.Post("/locks/{doc}/{para}", s.handleAcquireLock)
		r.Delete("/locks/{doc}/{para}", s.handleReleaseLock)
		r.Get("/locks/{doc}/{para}", s.handleLockOwner)
		r.Delete("/admin/locks/{key}", s.handleForceUnlock)

		r.Get("/documents/{doc}/paragraphs/{para}", s.handleGetParagraph)
		r.Put("/documents/{doc}/paragraphs/{para}", s.handlePutParagraph)
	})
	return r
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start spawns every relay channel's subscriber. ctx bounds the
// subscribers; Shutdown also stops them.
func (s *Server) Start(ctx context.Context) {
	for _, ep := range s.endpoints {
		ep.Start(ctx)
	}
}

// Run listens on the configured address and serves until SIGINT or SIGTERM
// is received or ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return NewChannelError("", "listen", err)
	}
	return s.Serve(ctx, ln)
}

// Serve starts the endpoints and serves HTTP on ln until ctx is cancelled
// or the listener fails. It always shuts the server down before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	s.Start(s.ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", ln.Addr().String(), "channels", len(s.endpoints))
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		shutErr := s.Shutdown(context.Background())
		if errors.Is(err, http.ErrServerClosed) {
			return shutErr
		}
		return err

	case <-ctx.Done():
		s.logger.Info("shutting down...")
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the server. Relays stop first so no bus
// message is fanned out to a connection being torn down; then every
// channel's connections are closed and the HTTP server drains. Subsequent
// calls return the first call's result.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		s.mu.Lock()
		s.closing = true
		httpServer := s.httpServer
		s.mu.Unlock()

		for _, ep := range s.endpoints {
			ep.StopRelay()
		}
		for _, ep := range s.endpoints {
			ep.CloseConnections()
		}
		s.cancel()
		s.waitConns(ctx)

		if httpServer != nil {
			if err := httpServer.Shutdown(ctx); err != nil {
				s.logger.Error("shutdown error", "error", err)
				s.shutErr = err
				return
			}
		}
		s.logger.Info("server shutdown complete")
	})
	return s.shutErr
}

// waitConns waits for connection goroutines or until ctx is done.
func (s *Server) waitConns(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("connections still draining at shutdown deadline")
	}
}

// Endpoints returns the server's channel endpoints in configuration order.
func (s *Server) Endpoints() []*channel.Endpoint {
	return s.endpoints
}

// Endpoint returns the endpoint for the named channel.
func (s *Server) Endpoint(name string) (*channel.Endpoint, bool) {
	ep, ok := s.byName[name]
	return ep, ok
}

// Config returns the server configuration.
func (s *Server) Config() *ServerConfig {
	return s.config
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}
