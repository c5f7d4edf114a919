package server

import (
	"context"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/imgfirewall/internal/inference"
	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/config"
	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/logging"
	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/imgfirewall/internal/policy"
	"github.com/GriffinCanCode/imgfirewall/internal/sandbox"
)

// SandboxServer runs the inference sandbox as its own process, serving the
// channel protocol over websocket.
type SandboxServer struct {
	sandbox  *sandbox.Server
	executor *inference.Executor
	logger   *logging.Logger
	config   *config.Config
}

// NewSandboxServer builds the sandbox process from cfg.
func NewSandboxServer(cfg *config.Config) (*SandboxServer, error) {
	logger := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)
	metrics := monitoring.NewMetrics()

	index, err := LoadIndex(cfg.Model)
	if err != nil {
		return nil, err
	}
	executor := NewExecutor(cfg.Model, logger, metrics)

	logger.Info("Initializing sandbox",
		zap.String("port", cfg.Sandbox.Port),
		zap.String("model", cfg.Model.Path),
		zap.Int("top_k", cfg.Sandbox.TopK),
	)
	return &SandboxServer{
		sandbox:  sandbox.NewServer(executor, policy.NewEngine(index), SandboxConfig(cfg.Sandbox), logger, metrics),
		executor: executor,
		logger:   logger,
		config:   cfg,
	}, nil
}

// Warm loads the model ahead of the first connection.
func (s *SandboxServer) Warm(ctx context.Context) error {
	_, err := s.executor.Ready(ctx)
	return err
}

// Run serves until ctx is cancelled.
func (s *SandboxServer) Run(ctx context.Context) error {
	addr := s.config.Server.Host + ":" + s.config.Sandbox.Port
	return serve(ctx, addr, s.sandbox.Router(), s.logger)
}

// Close flushes logs.
func (s *SandboxServer) Close() error {
	_ = s.logger.Sync()
	return nil
}
