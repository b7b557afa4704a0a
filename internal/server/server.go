package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/clipvault/clipvault/internal/config"
	"github.com/clipvault/clipvault/internal/events"
	"github.com/clipvault/clipvault/internal/history"
	"github.com/clipvault/clipvault/internal/logger"
	"github.com/clipvault/clipvault/internal/metrics"
	"github.com/clipvault/clipvault/internal/pressure"
	"github.com/clipvault/clipvault/internal/rules"
)

// Deps collects the daemon components the control API exposes. Inject
// forwards operator pressure overrides; main wires it to the configured
// pressure path.
type Deps struct {
	History *history.History
	Library *rules.Library
	Hub     *events.Hub
	Metrics *metrics.Metrics
	Inject  func(pressure.Level)
	Version string
}

// Server is the local control API: history access, rule management,
// pressure overrides, metrics, and the event stream.
type Server struct {
	config  *config.Config
	logger  *logger.Logger
	history *history.History
	library *rules.Library
	hub     *events.Hub
	metrics *metrics.Metrics
	inject  func(pressure.Level)
	version string
	router  *mux.Router
	server  *http.Server
}

// New creates the control API server
func New(cfg *config.Config, deps Deps, log *logger.Logger) *Server {
	s := &Server{
		config:  cfg,
		logger:  log.WithComponent("server"),
		history: deps.History,
		library: deps.Library,
		hub:     deps.Hub,
		metrics: deps.Metrics,
		inject:  deps.Inject,
		version: deps.Version,
		router:  mux.NewRouter(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes. The WebSocket and metrics
// endpoints stay off the logging middleware: the former hijacks the
// connection, the latter is scraped constantly.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
	if s.hub != nil && s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.wsPath(), s.handleWebSocket).Methods("GET")
	}

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.loggingMiddleware)

	api.HandleFunc("/info", s.handleInfo).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")

	api.HandleFunc("/items", s.handleListItems).Methods("GET")
	api.HandleFunc("/items", s.handleAddItem).Methods("POST")
	api.HandleFunc("/items/{id}", s.handleGetItem).Methods("GET")
	api.HandleFunc("/items/{id}", s.handleDeleteItem).Methods("DELETE")
	api.HandleFunc("/items/{id}/image", s.handleGetImage).Methods("GET")

	api.HandleFunc("/rules", s.handleExportRules).Methods("GET")
	api.HandleFunc("/rules", s.handleImportRules).Methods("PUT")
	api.HandleFunc("/rules/{name}/enable", s.handleEnableRule).Methods("POST")
	api.HandleFunc("/rules/{name}/disable", s.handleDisableRule).Methods("POST")

	api.HandleFunc("/pressure", s.handlePressure).Methods("POST")
}

func (s *Server) wsPath() string {
	if s.config.WebSocket.Path != "" {
		return s.config.WebSocket.Path
	}
	return "/ws"
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info("Starting control API",
		zap.String("addr", s.server.Addr),
		zap.Bool("websocket", s.config.WebSocket.Enabled),
	)
	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping control API")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.HandleWebSocket(w, r)
}
