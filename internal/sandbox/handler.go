package sandbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/GriffinCanCode/imgfirewall/internal/inference"
	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/logging"
	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/imgfirewall/internal/policy"
	"github.com/GriffinCanCode/imgfirewall/internal/protocol"
	"github.com/GriffinCanCode/imgfirewall/internal/shared/id"
)

// Config tunes a Handler.
type Config struct {
	// TopK is the number of predictions evaluated per image.
	TopK int
	// Concurrency bounds the classify requests processed at once.
	Concurrency int64
}

// Handler answers classify requests arriving on a channel. It has no view
// of the page: its inputs are protocol messages and the model.
type Handler struct {
	executor *inference.Executor
	engine   *policy.Engine
	cfg      Config
	sem      *semaphore.Weighted
	logger   *logging.Logger
	metrics  *monitoring.Metrics
}

// NewHandler creates a handler. The executor may be shared between
// handlers; the semaphore is not.
func NewHandler(executor *inference.Executor, engine *policy.Engine, cfg Config, logger *logging.Logger, metrics *monitoring.Metrics) *Handler {
	if cfg.TopK <= 0 {
		cfg.TopK = inference.DefaultTopK
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		executor: executor,
		engine:   engine,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(cfg.Concurrency),
		logger:   logger.Named("sandbox"),
		metrics:  metrics,
	}
}

// Serve runs the sandbox side of one channel until ctx is cancelled or the
// channel closes. It announces SANDBOX_READY, warms the model up in the
// background and sends MODEL_LOADED once the model is available.
func (h *Handler) Serve(ctx context.Context, ch protocol.Channel) error {
	instance := id.NewInstanceID()
	logger := h.logger.With(zap.String("instance", instance.String()))

	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := ch.Send(ctx, protocol.SandboxReady{Instance: instance.String()}); err != nil {
		return err
	}
	logger.Info("sandbox ready")

	var announce sync.Once
	announceLoaded := func() {
		announce.Do(func() {
			msg := protocol.ModelLoaded{Categories: h.engine.Index().Categories()}
			if err := ch.Send(ctx, msg); err != nil {
				logger.Warn("model loaded notice not delivered", zap.Error(err))
			}
		})
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := h.executor.Ready(ctx); err != nil {
			logger.Warn("model warm-up failed", zap.Error(err))
			return
		}
		announceLoaded()
	}()

	for {
		msg, err := ch.Receive(ctx)
		if err != nil {
			if protocol.IsProtocolError(err) {
				logger.Warn("dropping malformed message", zap.Error(err))
				continue
			}
			if errors.Is(err, protocol.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		switch m := msg.(type) {
		case protocol.Classify:
			if err := h.sem.Acquire(ctx, 1); err != nil {
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer h.sem.Release(1)
				v, err := h.Classify(ctx, m)
				if err != nil {
					logger.Warn("classify failed, no verdict sent",
						zap.Int64("id", m.ID), zap.Error(err))
					return
				}
				announceLoaded()
				if err := ch.Send(ctx, v); err != nil {
					logger.Warn("verdict not delivered", zap.Int64("id", m.ID), zap.Error(err))
				}
			}()
		case protocol.SandboxReady, protocol.ModelLoaded, protocol.Verdict:
			logger.Debug("ignoring host-bound message", zap.String("type", string(m.Kind())))
		}
	}
}

// Classify runs inference on the request payload and applies its policy
// snapshot to each of the top predictions. The first evaluation is the
// primary decision.
func (h *Handler) Classify(ctx context.Context, req protocol.Classify) (protocol.Verdict, error) {
	start := time.Now()
	preds, err := h.executor.Infer(ctx, req.Payload, h.cfg.TopK)
	if err != nil {
		h.metrics.RecordClassify("error", time.Since(start))
		return protocol.Verdict{}, err
	}

	settings := req.Settings.Clone()
	evals := make([]policy.Evaluation, len(preds))
	for i, p := range preds {
		evals[i] = h.engine.Evaluate(p, settings)
	}
	h.metrics.RecordClassify("ok", time.Since(start))

	v := protocol.NewVerdict(req.ID, preds, evals)
	h.logger.Debug("verdict",
		zap.Int64("id", req.ID),
		zap.Bool("block", v.ShouldBlock),
		zap.String("summary", evals[0].Summary))
	return v, nil
}
