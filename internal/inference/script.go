package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
)

var ErrNoPredict = errors.New("script does not define predict(input, width, height)")

// ScriptConfig describes a JavaScript model.
type ScriptConfig struct {
	Source        string
	Shape         Shape
	Normalization Normalization
	Classes       int
	Weights       map[string][]float32
	Timeout       time.Duration
}

// scriptModel runs predict(input, width, height) in an isolated goja
// runtime. The runtime is not safe for concurrent use, so calls serialize.
type scriptModel struct {
	cfg     ScriptConfig
	mu      sync.Mutex
	vm      *goja.Runtime
	predict goja.Callable
}

// NewScriptModel evaluates the script and resolves its predict function.
// The global scope has no require, process, module, exports or timers.
func NewScriptModel(cfg ScriptConfig) (Model, error) {
	if err := cfg.Shape.validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	vm := goja.New()
	vm.SetMaxCallStackSize(1024)
	for _, name := range []string{"require", "process", "module", "exports", "setTimeout", "setInterval"} {
		vm.Set(name, goja.Undefined())
	}

	weights := vm.NewObject()
	for name, values := range cfg.Weights {
		weights.Set(name, values)
	}
	vm.Set("weights", weights)

	m := &scriptModel{cfg: cfg, vm: vm}
	if _, err := m.run(context.Background(), func() (goja.Value, error) {
		return vm.RunString(cfg.Source)
	}); err != nil {
		return nil, fmt.Errorf("evaluate model script: %w", err)
	}

	predict, ok := goja.AssertFunction(vm.Get("predict"))
	if !ok {
		return nil, ErrNoPredict
	}
	m.predict = predict
	return m, nil
}

func (m *scriptModel) InputShape() Shape            { return m.cfg.Shape }
func (m *scriptModel) Normalization() Normalization { return m.cfg.Normalization }
func (m *scriptModel) Classes() int                 { return m.cfg.Classes }

func (m *scriptModel) Predict(ctx context.Context, input []float32) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	val, err := m.run(ctx, func() (goja.Value, error) {
		return m.predict(goja.Undefined(),
			m.vm.ToValue(input),
			m.vm.ToValue(m.cfg.Shape.Width),
			m.vm.ToValue(m.cfg.Shape.Height))
	})
	if err != nil {
		return nil, fmt.Errorf("script predict: %w", err)
	}

	var scores []float64
	if err := m.vm.ExportTo(val, &scores); err != nil {
		return nil, fmt.Errorf("script predict: result is not a number array: %w", err)
	}
	if m.cfg.Classes > 0 && len(scores) != m.cfg.Classes {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrScoreCount, len(scores), m.cfg.Classes)
	}

	out := make([]float32, len(scores))
	for i, v := range scores {
		out[i] = float32(v)
	}
	return out, nil
}

// run executes fn with the configured timeout and ctx wired to the
// runtime's interrupt.
func (m *scriptModel) run(ctx context.Context, fn func() (goja.Value, error)) (goja.Value, error) {
	timer := time.NewTimer(m.cfg.Timeout)
	defer timer.Stop()
	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		select {
		case <-timer.C:
			m.vm.Interrupt("execution timeout exceeded")
		case <-ctx.Done():
			m.vm.Interrupt("context cancelled")
		case <-done:
		}
	}()

	val, err := fn()
	close(done)
	<-exited
	m.vm.ClearInterrupt()
	return val, err
}
