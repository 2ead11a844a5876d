// Package api provides the HTTP API and WebSocket server of the CmControl
// device client.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/cmcontrol-device/internal/apontamento"
	"github.com/nerrad567/cmcontrol-device/internal/diagnostics"
	"github.com/nerrad567/cmcontrol-device/internal/infrastructure/config"
	"github.com/nerrad567/cmcontrol-device/internal/infrastructure/database"
	"github.com/nerrad567/cmcontrol-device/internal/infrastructure/logging"
	"github.com/nerrad567/cmcontrol-device/internal/journal"
	"github.com/nerrad567/cmcontrol-device/internal/protocol"
	"github.com/nerrad567/cmcontrol-device/internal/session"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ExchangeChannel is the WebSocket channel carrying diagnostics events.
const ExchangeChannel = "exchange"

// Device is the part of the CmControl client the API drives.
type Device interface {
	Device() string
	IsConnected() bool
	SessionState() session.State
	IsTokenValid() bool
	PendingRequests() int
	LastExchange() diagnostics.Exchange

	ApontarSerial(ctx context.Context, serial string, evidencias ...protocol.Evidence) (protocol.Response, error)
	ApontarVinculo(ctx context.Context, seriais []string, evidencias ...protocol.Evidence) (protocol.Response, error)
	ApontarLote(ctx context.Context, seriais []string) []apontamento.BatchResult
	ValidarRota(ctx context.Context, serial string) (protocol.Response, error)
	OrdemTransporte(ctx context.Context, codigo, acao string, apontamentos ...protocol.Apontamento) (protocol.Response, error)
}

// EventSource feeds diagnostics events to the WebSocket stream.
type EventSource interface {
	AddListener(fn func(diagnostics.Event))
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.HTTPConfig
	Logger   *logging.Logger
	Device   Device
	Events   EventSource        // optional: enables the exchange stream
	Journal  journal.Repository // optional: enables /api/v1/journal
	DB       *database.DB       // optional: pool stats in /api/v1/status
	Gatherer prometheus.Gatherer
	Version  string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.HTTPConfig
	logger    *logging.Logger
	device    Device
	events    EventSource
	journal   journal.Repository
	db        *database.DB
	gatherer  prometheus.Gatherer
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Device == nil {
		return nil, fmt.Errorf("device client is required")
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		device:    deps.Device,
		events:    deps.Events,
		journal:   deps.Journal,
		db:        deps.DB,
		gatherer:  gatherer,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.Config.WebSocket, deps.Logger),
	}
	if s.events != nil {
		s.events.AddListener(func(ev diagnostics.Event) {
			s.hub.Broadcast(ExchangeChannel, ev)
		})
	}
	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

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

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
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
