package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof" // Import for side effects (registers pprof handlers)
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/viewfinder/internal/config"
	"github.com/zsiec/viewfinder/internal/converter"
	"github.com/zsiec/viewfinder/internal/display"
	"github.com/zsiec/viewfinder/internal/errors"
	"github.com/zsiec/viewfinder/internal/frame"
	"github.com/zsiec/viewfinder/internal/health"
	"github.com/zsiec/viewfinder/internal/logger"
	"github.com/zsiec/viewfinder/internal/pipeline"
	"github.com/zsiec/viewfinder/internal/registry"
	"github.com/zsiec/viewfinder/internal/relay"
)

const healthInterval = 30 * time.Second

// FrameStore is the read side of the relay used by the frame endpoints.
type FrameStore interface {
	Latest() (*frame.DisplayFrame, bool)
	Stats() relay.Stats
}

// StatusProvider reports pipeline counters.
type StatusProvider interface {
	Stats() pipeline.Stats
}

// ConverterStats reports converter counters.
type ConverterStats interface {
	Stats() converter.Stats
}

// Deps are the components the API reads from. Registry and Stream are
// optional.
type Deps struct {
	Frames    FrameStore
	Pipeline  StatusProvider
	Converter ConverterStats
	Registry  registry.Registry
	Stream    *display.MJPEGStreamer
	Health    *health.Manager

	// Display holds the defaults for /api/v1/frame.
	Display config.DisplayConfig
}

// Server serves the viewfinder API over plain HTTP and, optionally, HTTP/3.
type Server struct {
	config       *config.ServerConfig
	router       *mux.Router
	http3Server  *http3.Server
	httpServer   *http.Server
	logger       *logrus.Logger
	healthMgr    *health.Manager
	errorHandler *errors.ErrorHandler
	deps         Deps
	routesOnce   sync.Once

	// bounds every registry call made by a request
	registryTimeout time.Duration

	// Additional handlers can be registered
	additionalRoutes []func(*mux.Router)
}

// New creates a new server instance. Routes are registered by Handler or
// Start, after any RegisterRoutes calls.
func New(cfg *config.ServerConfig, log *logrus.Logger, deps Deps) *Server {
	healthMgr := deps.Health
	if healthMgr == nil {
		healthMgr = health.NewManager(logger.NewLogrusAdapter(logrus.NewEntry(log)))
	}

	return &Server{
		config:           cfg,
		router:           mux.NewRouter(),
		logger:           log,
		healthMgr:        healthMgr,
		errorHandler:     errors.NewErrorHandler(log),
		deps:             deps,
		registryTimeout:  defaultRegistryTimeout,
		additionalRoutes: make([]func(*mux.Router), 0),
	}
}

// Handler registers the routes on first use and returns the router.
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(s.setupRoutes)
	return s.router
}

// Start serves until ctx is cancelled, then shuts the listeners down.
func (s *Server) Start(ctx context.Context) error {
	handler := s.Handler()

	go s.healthMgr.StartPeriodicChecks(ctx, healthInterval)

	errCh := make(chan error, 2)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	s.logger.WithField("port", s.config.HTTPPort).Info("Starting HTTP server")
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if s.config.HTTP3.Enabled {
		if err := s.startHTTP3(handler, errCh); err != nil {
			_ = s.httpServer.Close()
			return fmt.Errorf("failed to start HTTP/3 server: %w", err)
		}
	}

	select {
	case err := <-errCh:
		_ = s.Shutdown()
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

func (s *Server) startHTTP3(handler http.Handler, errCh chan<- error) error {
	cfg := s.config.HTTP3

	cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		return fmt.Errorf("failed to load TLS certificates: %w", err)
	}

	s.http3Server = &http3.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler,
		TLSConfig: http3.ConfigureTLSConfig(&tls.Config{
			MinVersion:   tls.VersionTLS13,
			Certificates: []tls.Certificate{cert},
		}),
		QUICConfig: &quic.Config{
			MaxIncomingStreams: cfg.MaxIncomingStreams,
			MaxIdleTimeout:     cfg.MaxIdleTimeout,
		},
	}

	s.logger.WithField("port", cfg.Port).Info("Starting HTTP/3 server")
	go func() {
		if err := s.http3Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http3 server: %w", err)
		}
	}()
	return nil
}

// Shutdown stops both listeners. Open MJPEG streams end when the relay
// stops, so the plain listener gets ShutdownTimeout to drain.
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down HTTP server")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var firstErr error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			firstErr = fmt.Errorf("failed to shutdown http server: %w", err)
			_ = s.httpServer.Close()
		}
	}
	// http3.Server.Close doesn't wait for open requests
	if s.http3Server != nil {
		if err := s.http3Server.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to shutdown http3 server: %w", err)
		}
	}

	s.logger.Info("HTTP server shutdown complete")
	return firstErr
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(logger.RequestLoggerMiddleware(s.logger))
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.errorHandler.Middleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.corsMiddleware)

	healthHandler := health.NewHandler(s.healthMgr)
	s.router.HandleFunc("/health", healthHandler.HandleHealth).Methods("GET")
	s.router.HandleFunc("/ready", healthHandler.HandleReady).Methods("GET")
	s.router.HandleFunc("/live", healthHandler.HandleLive).Methods("GET")

	s.router.HandleFunc("/version", s.handleVersion).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/frame", s.handleFrame).Methods("GET")
	api.HandleFunc("/frame/info", s.handleFrameInfo).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/sessions", s.handleSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleSession).Methods("GET")
	if s.deps.Stream != nil {
		api.HandleFunc("/stream.mjpeg", s.handleStream).Methods("GET")
	}

	if s.config.DebugEndpoints {
		s.setupDebugEndpoints()
	}

	for _, registerFunc := range s.additionalRoutes {
		registerFunc(s.router)
	}

	s.router.NotFoundHandler = http.HandlerFunc(s.errorHandler.HandleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.errorHandler.HandleMethodNotAllowed)
}

// setupDebugEndpoints exposes pprof and listener info.
func (s *Server) setupDebugEndpoints() {
	s.logger.Info("Enabling debug endpoints")

	s.router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	s.router.HandleFunc("/debug/info", func(w http.ResponseWriter, r *http.Request) {
		info := map[string]interface{}{
			"protocols": map[string]bool{
				"http11": true,
				"http3":  s.config.HTTP3.Enabled,
			},
			"ports": map[string]int{
				"http":  s.config.HTTPPort,
				"http3": s.config.HTTP3.Port,
			},
			"mjpeg":         s.deps.Stream != nil,
			"registry":      s.deps.Registry != nil,
			"debug_enabled": true,
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(info)
	}).Methods("GET")
}

// RegisterRoutes adds additional route handlers to the server
func (s *Server) RegisterRoutes(registerFunc func(*mux.Router)) {
	s.additionalRoutes = append(s.additionalRoutes, registerFunc)
}

// GetRouter returns the router for testing.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}
