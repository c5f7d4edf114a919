package inference

import (
	"context"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// linearModel is a single dense layer followed by softmax.
type linearModel struct {
	shape  Shape
	norm   Normalization
	kernel *mat.Dense // inputs × classes
	bias   []float64
}

// NewLinearModel builds a dense softmax classifier from weights named
// "*kernel" (shape [inputs, classes]) and "*bias" (shape [classes]).
func NewLinearModel(shape Shape, norm Normalization, weights map[string][]float32) (Model, error) {
	if err := shape.validate(); err != nil {
		return nil, err
	}
	kernel, ok := findWeight(weights, "kernel")
	if !ok {
		return nil, fmt.Errorf("%w: kernel", ErrMissingWeight)
	}
	bias, ok := findWeight(weights, "bias")
	if !ok {
		return nil, fmt.Errorf("%w: bias", ErrMissingWeight)
	}

	inputs := shape.Size()
	classes := len(bias)
	if classes == 0 || len(kernel) != inputs*classes {
		return nil, fmt.Errorf("%w: kernel has %d values, want %d×%d",
			ErrWeightSize, len(kernel), inputs, classes)
	}

	return &linearModel{
		shape:  shape,
		norm:   norm,
		kernel: mat.NewDense(inputs, classes, widen(kernel)),
		bias:   widen(bias),
	}, nil
}

func (m *linearModel) InputShape() Shape            { return m.shape }
func (m *linearModel) Normalization() Normalization { return m.norm }
func (m *linearModel) Classes() int                 { return len(m.bias) }

func (m *linearModel) Predict(ctx context.Context, input []float32) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(input) != m.shape.Size() {
		return nil, fmt.Errorf("%w: input has %d values, want %d", ErrInvalidShape, len(input), m.shape.Size())
	}

	x := mat.NewVecDense(len(input), widen(input))
	var logits mat.VecDense
	logits.MulVec(m.kernel.T(), x)

	scores := make([]float64, len(m.bias))
	copy(scores, logits.RawVector().Data)
	floats.Add(scores, m.bias)
	softmax(scores)

	out := make([]float32, len(scores))
	for i, v := range scores {
		out[i] = float32(v)
	}
	return out, nil
}

// softmax normalizes scores in place.
func softmax(scores []float64) {
	max := floats.Max(scores)
	for i, v := range scores {
		scores[i] = math.Exp(v - max)
	}
	floats.Scale(1/floats.Sum(scores), scores)
}

func findWeight(weights map[string][]float32, suffix string) ([]float32, bool) {
	if w, ok := weights[suffix]; ok {
		return w, true
	}
	for name, w := range weights {
		if strings.HasSuffix(name, "/"+suffix) {
			return w, true
		}
	}
	return nil, false
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
