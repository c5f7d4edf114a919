package inference

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/logging"
	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/imgfirewall/internal/policy"
)

// Executor owns the model lifecycle. Initialization is lazy and shared: any
// number of concurrent callers wait on a single in-flight load. A failed
// load is not cached, so the next caller retries.
type Executor struct {
	loader  Loader
	logger  *logging.Logger
	metrics *monitoring.Metrics

	group singleflight.Group

	mu       sync.RWMutex
	model    Model
	onLoaded []func(Model)
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithMetrics records model loads and inference timings.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithOnLoaded registers a hook run once, after the first successful load.
func WithOnLoaded(fn func(Model)) Option {
	return func(e *Executor) { e.onLoaded = append(e.onLoaded, fn) }
}

// NewExecutor creates an executor that loads its model from loader on
// first use.
func NewExecutor(loader Loader, opts ...Option) *Executor {
	e := &Executor{
		loader: loader,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Loaded returns the model if initialization has completed.
func (e *Executor) Loaded() (Model, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model, e.model != nil
}

// Ready returns the loaded model, initializing it if needed. Cancelling ctx
// stops this caller from waiting but does not abort the shared load.
func (e *Executor) Ready(ctx context.Context) (Model, error) {
	if m, ok := e.Loaded(); ok {
		return m, nil
	}

	ch := e.group.DoChan("model", func() (any, error) {
		if m, ok := e.Loaded(); ok {
			return m, nil
		}
		return e.load(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Model), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Executor) load(ctx context.Context) (Model, error) {
	start := time.Now()
	m, err := e.loader.Load(ctx)
	if err != nil {
		e.metrics.RecordModelLoad("error")
		e.logger.Error("model load failed", zap.Error(err))
		return nil, fmt.Errorf("load model: %w", err)
	}

	e.mu.Lock()
	e.model = m
	hooks := e.onLoaded
	e.onLoaded = nil
	e.mu.Unlock()

	e.metrics.RecordModelLoad("ok")
	e.logger.Info("model loaded",
		zap.Stringer("input", m.InputShape()),
		zap.Int("classes", m.Classes()),
		zap.Duration("duration", time.Since(start)))

	for _, hook := range hooks {
		hook(m)
	}
	return m, nil
}

// Infer decodes payload, preprocesses it for the model, runs prediction
// and returns the top k classes.
func (e *Executor) Infer(ctx context.Context, payload string, k int) ([]policy.RawPrediction, error) {
	m, err := e.Ready(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	img, err := Decode(payload)
	if err != nil {
		return nil, err
	}
	input := Preprocess(img, m.InputShape(), m.Normalization())

	scores, err := m.Predict(ctx, input)
	if err != nil {
		return nil, err
	}
	if c := m.Classes(); len(scores) == 0 || (c > 0 && len(scores) != c) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrScoreCount, len(scores), c)
	}

	preds := TopK(scores, k)
	e.logger.Debug("inference complete",
		zap.Int("top_class", preds[0].ClassID),
		zap.Float64("top_confidence", preds[0].Confidence),
		zap.Duration("duration", time.Since(start)))
	return preds, nil
}
