package inference

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/bytedance/sonic"
)

// ManifestFile is the name of the model manifest inside an artifact source.
const ManifestFile = "model.json"

// Model formats understood by ManifestLoader.
const (
	FormatLinear = "linear"
	FormatScript = "script"
)

// Manifest describes a model artifact: its input, its output and the weight
// shards that hold its parameters.
type Manifest struct {
	Format          string         `json:"format"`
	InputShape      []int          `json:"inputShape"`
	Classes         int            `json:"classes"`
	Normalization   *Normalization `json:"normalization,omitempty"`
	WeightsManifest []WeightGroup  `json:"weightsManifest"`
	Script          string         `json:"script,omitempty"`
}

// WeightGroup lists shard files and the weights packed into them, in order.
type WeightGroup struct {
	Paths   []string     `json:"paths"`
	Weights []WeightSpec `json:"weights"`
}

// WeightSpec describes one tensor inside the concatenated shard data.
type WeightSpec struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
	DType string `json:"dtype"`
}

// Elements returns the number of values in the tensor.
func (w WeightSpec) Elements() int {
	n := 1
	for _, d := range w.Shape {
		n *= d
	}
	return n
}

// ParseManifest decodes a model.json document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := sonic.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// Shape returns the manifest input shape, defaulting to 224x224x3. A
// leading batch dimension of 1 or -1 is ignored.
func (m *Manifest) Shape() (Shape, error) {
	dims := m.InputShape
	if len(dims) == 4 {
		dims = dims[1:]
	}
	var s Shape
	switch len(dims) {
	case 0:
		s = Shape{Height: DefaultInputSize, Width: DefaultInputSize, Channels: 3}
	case 3:
		s = Shape{Height: dims[0], Width: dims[1], Channels: dims[2]}
	default:
		return Shape{}, fmt.Errorf("%w: %v", ErrInvalidShape, m.InputShape)
	}
	return s, s.validate()
}

// Norm returns the manifest normalization or the MobileNet default.
func (m *Manifest) Norm() Normalization {
	if m.Normalization == nil {
		return MobileNet
	}
	return *m.Normalization
}

// Specs flattens the weight specs of every group in manifest order.
func (m *Manifest) Specs() []WeightSpec {
	var specs []WeightSpec
	for _, g := range m.WeightsManifest {
		specs = append(specs, g.Weights...)
	}
	return specs
}

// Paths flattens the shard paths of every group in manifest order.
func (m *Manifest) Paths() []string {
	var paths []string
	for _, g := range m.WeightsManifest {
		paths = append(paths, g.Paths...)
	}
	return paths
}

// SplitWeights slices concatenated shard data into named float32 tensors
// following the order of specs.
func SplitWeights(specs []WeightSpec, data []byte) (map[string][]float32, error) {
	out := make(map[string][]float32, len(specs))
	offset := 0
	for _, spec := range specs {
		if spec.DType != "" && spec.DType != "float32" {
			return nil, fmt.Errorf("%w: %s is %s", ErrUnsupportedDType, spec.Name, spec.DType)
		}
		n := spec.Elements()
		end := offset + n*4
		if end > len(data) {
			return nil, fmt.Errorf("%w: %s needs %d bytes at offset %d, have %d",
				ErrWeightSize, spec.Name, n*4, offset, len(data))
		}
		values := make([]float32, n)
		for i := range values {
			values[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[offset+i*4:]))
		}
		out[spec.Name] = values
		offset = end
	}
	if offset != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrWeightSize, len(data)-offset)
	}
	return out, nil
}
