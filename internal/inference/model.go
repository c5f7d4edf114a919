package inference

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotLoaded        = errors.New("model not loaded")
	ErrUnknownFormat    = errors.New("unknown model format")
	ErrInvalidShape     = errors.New("invalid input shape")
	ErrMissingWeight    = errors.New("missing weight")
	ErrWeightSize       = errors.New("weight data does not match manifest")
	ErrUnsupportedDType = errors.New("unsupported weight dtype")
	ErrScoreCount       = errors.New("model returned wrong number of scores")
)

// DefaultInputSize is the side length of the square MobileNet input.
const DefaultInputSize = 224

// Shape is the fixed input resolution of a model, height × width × channels.
type Shape struct {
	Height   int `json:"height"`
	Width    int `json:"width"`
	Channels int `json:"channels"`
}

// Size returns the number of input values.
func (s Shape) Size() int {
	return s.Height * s.Width * s.Channels
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.Height, s.Width, s.Channels)
}

func (s Shape) validate() error {
	if s.Height <= 0 || s.Width <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidShape, s)
	}
	if s.Channels != 1 && s.Channels != 3 {
		return fmt.Errorf("%w: %d channels", ErrInvalidShape, s.Channels)
	}
	return nil
}

// Normalization maps a pixel value v in [0,255] to v*Scale + Offset.
type Normalization struct {
	Scale  float64 `json:"scale"`
	Offset float64 `json:"offset"`
}

// MobileNet is the [-1, 1] input range MobileNet was trained on.
var MobileNet = Normalization{Scale: 1.0 / 127.5, Offset: -1}

// Model is an opaque classifier over a fixed-size image input.
type Model interface {
	InputShape() Shape
	Normalization() Normalization
	Classes() int
	// Predict returns one score per class for a preprocessed input.
	Predict(ctx context.Context, input []float32) ([]float32, error)
}

// Loader produces a ready model.
type Loader interface {
	Load(ctx context.Context) (Model, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context) (Model, error)

func (f LoaderFunc) Load(ctx context.Context) (Model, error) {
	return f(ctx)
}
