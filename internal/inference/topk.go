package inference

import (
	"cmp"
	"math"
	"slices"

	"github.com/GriffinCanCode/imgfirewall/internal/policy"
)

// DefaultTopK is the number of predictions evaluated per image.
const DefaultTopK = 3

// TopK returns the k highest scores as predictions, ordered by confidence
// descending. Equal confidences are ordered by lower class id first; NaN
// scores rank last and report zero confidence.
func TopK(scores []float32, k int) []policy.RawPrediction {
	if k <= 0 {
		k = DefaultTopK
	}
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}

	slices.SortFunc(idx, func(a, b int) int {
		sa, sb := rank(scores[a]), rank(scores[b])
		if c := cmp.Compare(sb, sa); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})

	if k > len(idx) {
		k = len(idx)
	}
	out := make([]policy.RawPrediction, k)
	for i, classID := range idx[:k] {
		out[i] = policy.RawPrediction{ClassID: classID, Confidence: confidence(scores[classID])}
	}
	return out
}

func rank(v float32) float32 {
	if math.IsNaN(float64(v)) {
		return float32(math.Inf(-1))
	}
	return v
}

func confidence(v float32) float64 {
	if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
		return 0
	}
	return float64(v)
}
