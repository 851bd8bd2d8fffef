package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/sirupsen/logrus"

	"example.com/backstage/services/shortage/config"
	"example.com/backstage/services/shortage/internal/api/handlers"
	"example.com/backstage/services/shortage/internal/api/middleware"
	"example.com/backstage/services/shortage/internal/services"
	"example.com/backstage/services/shortage/internal/telemetry"
	"example.com/backstage/services/shortage/internal/tracing"
)

// Server represents the HTTP server
type Server struct {
	config          config.Config
	router          *gin.Engine
	httpServer      *http.Server
	shortageService *services.ShortageService
	metrics         *telemetry.Collector
	tracer          tracing.Tracer
	accessLog       *logrus.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg config.Config, shortageService *services.ShortageService, metrics *telemetry.Collector, tracer tracing.Tracer) *Server {
	if tracer == nil {
		tracer = &tracing.NewRelicTracer{}
	}
	if metrics == nil {
		metrics = telemetry.GetCollector()
	}

	accessLog := logrus.New()
	accessLog.SetFormatter(&logrus.JSONFormatter{})
	if cfg.Environment == "development" {
		accessLog.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	server := &Server{
		config:          cfg,
		shortageService: shortageService,
		metrics:         metrics,
		tracer:          tracer,
		accessLog:       accessLog,
	}

	server.router = server.setupRouter()
	server.httpServer = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      server.router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
	}

	return server
}

// Router exposes the configured handler
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	if s.config.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(s.accessLog))
	router.Use(middleware.Metrics(s.metrics))
	if s.config.Server.CorsEnabled {
		router.Use(middleware.CORS(s.config.Server.CorsOrigins))
	}
	if app := s.tracer.Application(); app != nil {
		router.Use(middleware.NewRelicMiddleware(app))
	}

	v1 := router.Group("/api/v1")

	shortageHandler := handlers.NewShortageHandler(s.shortageService, s.tracer, s.metrics)
	shortageHandler.RegisterRoutes(v1)

	metricsHandler := handlers.NewMetricsHandler(s.metrics)
	metricsHandler.RegisterRoutes(v1)

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.Server.Address).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
