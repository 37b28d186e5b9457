// Package server exposes the task engine over HTTP: task submission,
// snapshots, markdown digests, a websocket progress stream, health and
// Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"drillflow/internal/config"
	"drillflow/internal/logging"
	"drillflow/internal/observability"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the drillflow HTTP API.
type Server struct {
	config     config.ServerConfig
	manager    *TaskManager
	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader
	logger     logging.Logger
	tracer     *observability.TracerProvider
	gatherer   prometheus.Gatherer
	version    string
	startTime  time.Time

	quit     chan struct{}
	quitOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) { s.logger = logging.OrNop(logger) }
}

// WithTracer sets the tracer for request spans.
func WithTracer(tracer *observability.TracerProvider) Option {
	return func(s *Server) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		if gatherer != nil {
			s.gatherer = gatherer
		}
	}
}

// WithVersion sets the version reported by /healthz.
func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// New builds the server and its routes.
func New(cfg config.ServerConfig, manager *TaskManager, opts ...Option) *Server {
	s := &Server{
		config:    cfg,
		manager:   manager,
		logger:    logging.Nop(),
		tracer:    observability.NoopTracer(),
		gatherer:  prometheus.DefaultGatherer,
		version:   "dev",
		startTime: time.Now(),
		quit:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(ObservabilityMiddleware(s.tracer, s.logger))
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		if s.allowAllOrigins() {
			corsConfig.AllowAllOrigins = true
		} else {
			corsConfig.AllowOrigins = cfg.AllowedOrigins
		}
		corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
		corsConfig.AllowWebSockets = true
		engine.Use(cors.New(corsConfig))
	}
	s.engine = engine
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	api := s.engine.Group("/v1")
	api.Use(JSONMiddleware())
	tasks := api.Group("/tasks")
	{
		tasks.POST("", s.handleCreateTask)
		tasks.GET("", s.handleListTasks)
		tasks.GET("/:id", s.handleGetTask)
		tasks.GET("/:id/summary", s.handleTaskSummary)
		tasks.GET("/:id/markdown", s.handleTaskMarkdown)
		tasks.GET("/:id/events", s.handleTaskEvents)
	}
}

func (s *Server) allowAllOrigins() bool {
	return slices.Contains(s.config.AllowedOrigins, "*")
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.allowAllOrigins() {
		return true
	}
	return slices.Contains(s.config.AllowedOrigins, origin)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("Starting drillflow API on %s", s.config.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

// Stop closes progress streams, stops accepting requests and waits for
// running tasks to be persisted.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping drillflow API")
	s.quitOnce.Do(func() { close(s.quit) })

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http: %w", err))
	}
	if err := s.manager.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tasks: %w", err))
	}
	return errors.Join(errs...)
}
