package policy

import (
	"fmt"
	"strings"

	"github.com/GriffinCanCode/imgfirewall/internal/category"
)

// Engine turns raw model output into block decisions. It holds no mutable
// state and is safe for concurrent use.
type Engine struct {
	index *category.Index
}

// NewEngine creates an engine over a category index.
func NewEngine(index *category.Index) *Engine {
	return &Engine{index: index}
}

// Index returns the category index the engine reads from.
func (e *Engine) Index() *category.Index {
	return e.index
}

// Classify maps a class id onto its content categories.
func (e *Engine) Classify(classID int, confidence float64) Classification {
	matched := e.index.Lookup(classID)
	c := Classification{
		ClassID:           classID,
		Confidence:        confidence,
		MatchedCategories: matched,
		IsFlagged:         len(matched) > 0,
	}
	if c.MatchedCategories == nil {
		c.MatchedCategories = []string{}
	}
	if c.IsFlagged {
		c.PrimaryCategory = matched[0]
	}
	return c
}

// ShouldBlock applies cfg to a classification. Every matched category is
// evaluated on its own; the decision blocks if any enabled category meets
// its resolved threshold.
func (e *Engine) ShouldBlock(c Classification, cfg Config) Decision {
	d := Decision{BlockedCategories: []BlockedCategory{}}
	if !c.IsFlagged {
		d.Reason = ReasonNotMatched
		return d
	}

	for _, cat := range c.MatchedCategories {
		if !e.enabled(cat, cfg) {
			continue
		}
		threshold := e.threshold(cat, cfg)
		if c.Confidence >= threshold {
			d.ShouldBlock = true
			d.BlockedCategories = append(d.BlockedCategories, BlockedCategory{
				Category:   cat,
				Confidence: c.Confidence,
				Threshold:  threshold,
			})
		}
	}

	if d.ShouldBlock {
		ids := make([]string, len(d.BlockedCategories))
		for i, b := range d.BlockedCategories {
			ids[i] = b.Category
		}
		d.Reason = reasonMatchedPrefix + strings.Join(ids, ", ")
	} else {
		d.Reason = ReasonBelowThreshold
	}
	return d
}

// Evaluate classifies one prediction and decides it under cfg.
func (e *Engine) Evaluate(p RawPrediction, cfg Config) Evaluation {
	c := e.Classify(p.ClassID, p.Confidence)
	d := e.ShouldBlock(c, cfg)
	return Evaluation{
		Classification: c,
		Decision:       d,
		Summary:        summarize(c, d),
	}
}

// enabled resolves: policy toggle, then the category default, then true.
func (e *Engine) enabled(cat string, cfg Config) bool {
	if v, ok := cfg.Categories[cat]; ok {
		return v
	}
	if def, ok := e.index.Category(cat); ok && def.EnabledByDefault != nil {
		return *def.EnabledByDefault
	}
	return true
}

// threshold resolves: policy per-category, category default, policy global,
// then FallbackThreshold.
func (e *Engine) threshold(cat string, cfg Config) float64 {
	if v, ok := cfg.CategoryThresholds[cat]; ok {
		return v
	}
	if def, ok := e.index.Category(cat); ok && def.ConfidenceThreshold != nil {
		return *def.ConfidenceThreshold
	}
	if cfg.GlobalThreshold != nil {
		return *cfg.GlobalThreshold
	}
	return FallbackThreshold
}

func summarize(c Classification, d Decision) string {
	if !c.IsFlagged {
		return fmt.Sprintf("class %d (%d%%): safe", c.ClassID, percent(c.Confidence))
	}
	matched := strings.Join(c.MatchedCategories, ", ")
	if d.ShouldBlock {
		return fmt.Sprintf("%s (%d%%): blocked", matched, percent(c.Confidence))
	}
	return fmt.Sprintf("%s (%d%%): allowed", matched, percent(c.Confidence))
}
