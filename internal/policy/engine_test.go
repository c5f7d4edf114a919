package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/imgfirewall/internal/category"
)

const testDocument = `
categories:
  violence:
    label: Violence
    imagenetClasses: [413, 764]
    enabledByDefault: true
    confidenceThreshold: 0.75
  weapons:
    label: Weapons
    imagenetClasses: [413, 764]
  gore:
    label: Gore
    imagenetClasses: [499]
    enabledByDefault: false
    confidenceThreshold: 0.85
`

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	idx, err := category.Parse([]byte(testDocument))
	require.NoError(t, err)
	return NewEngine(idx)
}

func TestClassifyUnknownClass(t *testing.T) {
	e := newTestEngine(t)

	for _, classID := range []int{0, 1, 504, 999} {
		c := e.Classify(classID, 0.99)
		assert.False(t, c.IsFlagged)
		assert.Empty(t, c.PrimaryCategory)
		assert.Empty(t, c.MatchedCategories)

		d := e.ShouldBlock(c, Config{Enabled: true, GlobalThreshold: Threshold(0)})
		assert.False(t, d.ShouldBlock)
		assert.Equal(t, ReasonNotMatched, d.Reason)
		assert.Empty(t, d.BlockedCategories)
	}
}

func TestClassifyOrdersMatchesByDocument(t *testing.T) {
	e := newTestEngine(t)

	c := e.Classify(413, 0.5)
	assert.True(t, c.IsFlagged)
	assert.Equal(t, []string{"violence", "weapons"}, c.MatchedCategories)
	assert.Equal(t, "violence", c.PrimaryCategory)
}

func TestShouldBlockWeapons(t *testing.T) {
	idx, err := category.Parse([]byte(`{"categories": {"weapons": {"label": "Weapons", "imagenetClasses": [413]}}}`))
	require.NoError(t, err)
	e := NewEngine(idx)

	cfg := Config{
		Enabled:            true,
		Categories:         map[string]bool{"weapons": true},
		CategoryThresholds: map[string]float64{"weapons": 0.80},
	}

	d := e.ShouldBlock(e.Classify(413, 0.82), cfg)
	assert.True(t, d.ShouldBlock)
	assert.Equal(t, "content matched: weapons", d.Reason)
	assert.Equal(t, []BlockedCategory{{Category: "weapons", Confidence: 0.82, Threshold: 0.80}}, d.BlockedCategories)

	cfg.Categories["weapons"] = false
	d = e.ShouldBlock(e.Classify(413, 0.82), cfg)
	assert.False(t, d.ShouldBlock)
	assert.Empty(t, d.BlockedCategories)
}

func TestThresholdPrecedence(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name       string
		classID    int
		confidence float64
		cfg        Config
		wantBlock  []BlockedCategory
	}{
		{
			name:       "policy threshold beats category default",
			classID:    499,
			confidence: 0.60,
			cfg: Config{
				Categories:         map[string]bool{"gore": true},
				CategoryThresholds: map[string]float64{"gore": 0.55},
			},
			wantBlock: []BlockedCategory{{Category: "gore", Confidence: 0.60, Threshold: 0.55}},
		},
		{
			name:       "category default beats global",
			classID:    499,
			confidence: 0.80,
			cfg: Config{
				Categories:      map[string]bool{"gore": true},
				GlobalThreshold: Threshold(0.10),
			},
			wantBlock: []BlockedCategory{},
		},
		{
			name:       "global applies when category has no default",
			classID:    413,
			confidence: 0.50,
			cfg: Config{
				Categories:      map[string]bool{"violence": false},
				GlobalThreshold: Threshold(0.40),
			},
			wantBlock: []BlockedCategory{{Category: "weapons", Confidence: 0.50, Threshold: 0.40}},
		},
		{
			name:       "fallback when nothing is configured",
			classID:    413,
			confidence: 0.70,
			cfg:        Config{Categories: map[string]bool{"violence": false}},
			wantBlock:  []BlockedCategory{{Category: "weapons", Confidence: 0.70, Threshold: FallbackThreshold}},
		},
		{
			name:       "disabled by category default",
			classID:    499,
			confidence: 0.99,
			cfg:        Config{},
			wantBlock:  []BlockedCategory{},
		},
		{
			name:       "all matched categories evaluated",
			classID:    764,
			confidence: 0.90,
			cfg:        Config{},
			wantBlock: []BlockedCategory{
				{Category: "violence", Confidence: 0.90, Threshold: 0.75},
				{Category: "weapons", Confidence: 0.90, Threshold: FallbackThreshold},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.ShouldBlock(e.Classify(tt.classID, tt.confidence), tt.cfg)
			assert.Equal(t, tt.wantBlock, d.BlockedCategories)
			assert.Equal(t, len(tt.wantBlock) > 0, d.ShouldBlock)
			if d.ShouldBlock {
				assert.Contains(t, d.Reason, "content matched: ")
			} else {
				assert.Equal(t, ReasonBelowThreshold, d.Reason)
			}
		})
	}
}

func TestReasonListsEveryBlockedCategory(t *testing.T) {
	e := newTestEngine(t)
	d := e.ShouldBlock(e.Classify(764, 0.95), Config{})
	assert.Equal(t, "content matched: violence, weapons", d.Reason)
}

func TestEvaluate(t *testing.T) {
	e := newTestEngine(t)

	ev := e.Evaluate(RawPrediction{ClassID: 764, Confidence: 0.9}, Config{})
	assert.True(t, ev.ShouldBlock)
	assert.Equal(t, "violence", ev.PrimaryCategory)
	assert.Equal(t, "violence, weapons (90%): blocked", ev.Summary)

	ev = e.Evaluate(RawPrediction{ClassID: 2, Confidence: 0.42}, Config{})
	assert.False(t, ev.ShouldBlock)
	assert.Equal(t, "class 2 (42%): safe", ev.Summary)
}

func TestConfigClone(t *testing.T) {
	orig := Config{
		Enabled:            true,
		Categories:         map[string]bool{"nsfw": true},
		CategoryThresholds: map[string]float64{"nsfw": 0.7},
		GlobalThreshold:    Threshold(0.6),
	}
	clone := orig.Clone()
	assert.Equal(t, orig, clone)

	orig.Categories["nsfw"] = false
	orig.CategoryThresholds["nsfw"] = 0.1
	*orig.GlobalThreshold = 0.2

	assert.True(t, clone.Categories["nsfw"])
	assert.InDelta(t, 0.7, clone.CategoryThresholds["nsfw"], 1e-9)
	assert.InDelta(t, 0.6, *clone.GlobalThreshold, 1e-9)
}
