package inference

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/GriffinCanCode/imgfirewall/internal/policy"
)

func TestTopK(t *testing.T) {
	tests := []struct {
		name   string
		scores []float32
		k      int
		want   []policy.RawPrediction
	}{
		{
			name:   "descending confidence",
			scores: []float32{0.1, 0.5, 0.05, 0.35},
			k:      3,
			want:   []policy.RawPrediction{{ClassID: 1, Confidence: 0.5}, {ClassID: 3, Confidence: float64(float32(0.35))}, {ClassID: 0, Confidence: float64(float32(0.1))}},
		},
		{
			name:   "ties broken by lower class id",
			scores: []float32{0.25, 0.25, 0.25, 0.25},
			k:      3,
			want:   []policy.RawPrediction{{ClassID: 0, Confidence: 0.25}, {ClassID: 1, Confidence: 0.25}, {ClassID: 2, Confidence: 0.25}},
		},
		{
			name:   "tie straddling the cut",
			scores: []float32{0, 0.5, 0.25, 0.25},
			k:      2,
			want:   []policy.RawPrediction{{ClassID: 1, Confidence: 0.5}, {ClassID: 2, Confidence: 0.25}},
		},
		{
			name:   "k larger than class count",
			scores: []float32{0.5, 0.5},
			k:      3,
			want:   []policy.RawPrediction{{ClassID: 0, Confidence: 0.5}, {ClassID: 1, Confidence: 0.5}},
		},
		{
			name:   "nan ranks last",
			scores: []float32{float32(math.NaN()), 0.5, 0.25},
			k:      3,
			want:   []policy.RawPrediction{{ClassID: 1, Confidence: 0.5}, {ClassID: 2, Confidence: 0.25}, {ClassID: 0, Confidence: 0}},
		},
		{
			name:   "default k",
			scores: []float32{0.5, 0.25, 0.125, 0.0625, 0.0625},
			k:      0,
			want:   []policy.RawPrediction{{ClassID: 0, Confidence: 0.5}, {ClassID: 1, Confidence: 0.25}, {ClassID: 2, Confidence: 0.125}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TopK(tt.scores, tt.k))
		})
	}
}

func TestTopKDoesNotReorderInput(t *testing.T) {
	scores := []float32{0.1, 0.9, 0.5}
	TopK(scores, 2)
	assert.Equal(t, []float32{0.1, 0.9, 0.5}, scores)
}
