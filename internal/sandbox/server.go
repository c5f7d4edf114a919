package sandbox

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/imgfirewall/internal/inference"
	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/logging"
	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/imgfirewall/internal/policy"
	"github.com/GriffinCanCode/imgfirewall/internal/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // host and sandbox are co-located
	},
}

// Server exposes the sandbox over websocket. Every connection gets its
// own Handler; all handlers share one Executor, so the model loads once
// per process.
type Server struct {
	executor *inference.Executor
	engine   *policy.Engine
	cfg      Config
	logger   *logging.Logger
	metrics  *monitoring.Metrics
}

// NewServer creates a sandbox server.
func NewServer(executor *inference.Executor, engine *policy.Engine, cfg Config, logger *logging.Logger, metrics *monitoring.Metrics) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Server{
		executor: executor,
		engine:   engine,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
}

// Router returns the gin engine serving /sandbox, /health and /metrics.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if s.metrics != nil {
		router.Use(monitoring.Middleware(s.metrics, "/metrics"))
		router.GET("/metrics", monitoring.Handler(s.metrics))
	}
	router.GET("/health", s.health)
	router.GET("/sandbox", s.HandleConnection)
	return router
}

func (s *Server) health(c *gin.Context) {
	_, loaded := s.executor.Loaded()
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"modelLoaded": loaded,
	})
}

// HandleConnection upgrades the request and serves the sandbox protocol on
// it until the peer disconnects.
func (s *Server) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	ch := protocol.NewWSChannel(conn)
	defer ch.Close()

	s.metrics.IncSandboxConnections()
	defer s.metrics.DecSandboxConnections()

	h := NewHandler(s.executor, s.engine, s.cfg, s.logger, s.metrics)
	if err := h.Serve(c.Request.Context(), ch); err != nil {
		s.logger.Warn("sandbox connection ended", zap.Error(err))
	}
}
