package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/imgfirewall/internal/api/http"
	"github.com/GriffinCanCode/imgfirewall/internal/api/middleware"
	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/config"
	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/logging"
	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/imgfirewall/internal/service"
	"github.com/GriffinCanCode/imgfirewall/internal/settings"
	"github.com/GriffinCanCode/imgfirewall/internal/ws"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	store    settings.Store
	settings *settings.Service
	sandbox  Sandbox
	scanner  *service.Scanner
	tracer   *tracing.Tracer
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	logger := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)
	logger.Info("Initializing imgfirewall server",
		zap.String("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Path),
		zap.String("sandbox", cfg.Sandbox.URL),
	)

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("api", logger)

	index, err := LoadIndex(cfg.Model)
	if err != nil {
		tracer.Close()
		return nil, err
	}

	store, err := settings.OpenSQLite(cfg.Store.Path)
	if err != nil {
		tracer.Close()
		return nil, fmt.Errorf("open settings store: %w", err)
	}
	settingsSvc := settings.NewService(store, index, logger)
	if st, err := settingsSvc.Settings(context.Background()); err == nil {
		logger.SetVerbose(st.Logging.Verbose)
	}
	settingsSvc.OnChange(func(st settings.Settings) {
		logger.SetVerbose(st.Logging.Verbose)
	})

	sb, err := NewSandbox(cfg, index, logger, metrics)
	if err != nil {
		store.Close()
		tracer.Close()
		return nil, err
	}
	scanner, err := service.NewScanner(sb, settingsSvc, settingsSvc, ScanConfig(cfg.Scan), logger, metrics)
	if err != nil {
		store.Close()
		tracer.Close()
		return nil, err
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics, "/metrics", "/metrics/json"))
	router.Use(middleware.CORS(cfg.Server.CORSOrigins))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(settingsSvc, index, scanner, sb, logger)
	aggregator := apihttp.NewMetricsAggregator(metrics, sb.MetricsURL(), logger)
	apihttp.RegisterRoutes(router, handlers, aggregator)
	router.GET("/api/scan/stream", ws.NewHandler(scanner, logger).HandleConnection)

	logger.Info("Server initialized successfully",
		zap.Int("categories", len(index.IDs())),
		zap.String("sandbox_mode", sb.Mode()),
	)

	return &Server{
		router:   router,
		store:    store,
		settings: settingsSvc,
		sandbox:  sb,
		scanner:  scanner,
		tracer:   tracer,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
	}, nil
}

// Router returns the configured gin engine.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Settings returns the settings service.
func (s *Server) Settings() *settings.Service {
	return s.settings
}

// Scanner returns the page scanner.
func (s *Server) Scanner() *service.Scanner {
	return s.scanner
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	return serve(ctx, addr, s.router, s.logger)
}

// Close releases the store and flushes logs.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")
	s.tracer.Close()

	var err error
	if cerr := s.store.Close(); cerr != nil {
		s.logger.Error("Failed to close settings store", zap.Error(cerr))
		err = fmt.Errorf("failed to close settings store: %w", cerr)
	}
	_ = s.logger.Sync()
	return err
}

// serve runs an http.Server on addr until ctx ends.
func serve(ctx context.Context, addr string, handler http.Handler, logger *logging.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
