package inference

import (
	"bytes"
	"context"
	"fmt"
	"time"
)

// ManifestLoader builds a model from a model.json manifest and its shards.
type ManifestLoader struct {
	Source        ArtifactSource
	ScriptTimeout time.Duration
}

// Load reads the manifest, concatenates every shard in manifest order and
// constructs the model for the declared format.
func (l ManifestLoader) Load(ctx context.Context) (Model, error) {
	data, err := readAll(ctx, l.Source, ManifestFile)
	if err != nil {
		return nil, err
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	shape, err := manifest.Shape()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	for _, path := range manifest.Paths() {
		shard, err := readAll(ctx, l.Source, path)
		if err != nil {
			return nil, err
		}
		buf.Write(shard)
	}
	weights, err := SplitWeights(manifest.Specs(), buf.Bytes())
	if err != nil {
		return nil, err
	}

	switch manifest.Format {
	case FormatLinear, "":
		return NewLinearModel(shape, manifest.Norm(), weights)
	case FormatScript:
		if manifest.Script == "" {
			return nil, fmt.Errorf("script model: manifest names no script")
		}
		src, err := readAll(ctx, l.Source, manifest.Script)
		if err != nil {
			return nil, err
		}
		return NewScriptModel(ScriptConfig{
			Source:        string(src),
			Shape:         shape,
			Normalization: manifest.Norm(),
			Classes:       manifest.Classes,
			Weights:       weights,
			Timeout:       l.ScriptTimeout,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, manifest.Format)
	}
}
