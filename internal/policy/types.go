package policy

import "math"

// FallbackThreshold applies when neither the policy nor the category
// supplies a confidence threshold.
const FallbackThreshold = 0.70

const (
	ReasonNotMatched     = "not matched to any content category"
	ReasonBelowThreshold = "confidence below threshold"
	reasonMatchedPrefix  = "content matched: "
)

// RawPrediction is one (class, confidence) pair produced by the model.
type RawPrediction struct {
	ClassID    int     `json:"classId"`
	Confidence float64 `json:"confidence"`
}

// Classification is a raw prediction mapped onto content categories.
type Classification struct {
	ClassID           int      `json:"classId"`
	Confidence        float64  `json:"confidence"`
	MatchedCategories []string `json:"matchedCategories"`
	IsFlagged         bool     `json:"isFlagged"`
	PrimaryCategory   string   `json:"primaryCategory,omitempty"`
}

// Config is the policy snapshot applied to one classification request.
type Config struct {
	Enabled            bool               `json:"enabled"`
	Categories         map[string]bool    `json:"categories,omitempty"`
	CategoryThresholds map[string]float64 `json:"categoryThresholds,omitempty"`
	GlobalThreshold    *float64           `json:"globalThreshold,omitempty"`
}

// Clone returns a deep copy so later edits to the source never leak into an
// in-flight request.
func (c Config) Clone() Config {
	out := Config{Enabled: c.Enabled}
	if c.Categories != nil {
		out.Categories = make(map[string]bool, len(c.Categories))
		for k, v := range c.Categories {
			out.Categories[k] = v
		}
	}
	if c.CategoryThresholds != nil {
		out.CategoryThresholds = make(map[string]float64, len(c.CategoryThresholds))
		for k, v := range c.CategoryThresholds {
			out.CategoryThresholds[k] = v
		}
	}
	if c.GlobalThreshold != nil {
		g := *c.GlobalThreshold
		out.GlobalThreshold = &g
	}
	return out
}

// Threshold returns a pointer to v, for building configs inline.
func Threshold(v float64) *float64 {
	return &v
}

// BlockedCategory records one category that crossed its threshold.
type BlockedCategory struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Threshold  float64 `json:"threshold"`
}

// Decision is the block/allow verdict for one classification.
type Decision struct {
	ShouldBlock       bool              `json:"shouldBlock"`
	Reason            string            `json:"reason"`
	BlockedCategories []BlockedCategory `json:"blockedCategories"`
}

// Evaluation bundles a classification with its decision, as carried in
// verdict messages.
type Evaluation struct {
	Classification
	Decision
	Summary string `json:"summary"`
}

func percent(v float64) int {
	return int(math.Round(v * 100))
}
