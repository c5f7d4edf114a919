package settings

import (
	"time"

	"github.com/GriffinCanCode/imgfirewall/internal/category"
	"github.com/GriffinCanCode/imgfirewall/internal/policy"
)

// ExportVersion tags exported documents.
const ExportVersion = "2.0"

// MaxRecentBlocks bounds Stats.RecentBlocks.
const MaxRecentBlocks = 20

// Settings are the user preferences shared by every site.
type Settings struct {
	Enabled             bool               `json:"enabled" toml:"enabled"`
	Categories          map[string]bool    `json:"categories" toml:"categories"`
	CategoryThresholds  map[string]float64 `json:"category_thresholds" toml:"category_thresholds"`
	ConfidenceThreshold float64            `json:"confidence_threshold" toml:"confidence_threshold"`
	// AutoUnblurTimeout is in milliseconds; 0 leaves revealing to the user.
	AutoUnblurTimeout int         `json:"auto_unblur_timeout" toml:"auto_unblur_timeout"`
	DomainRules       DomainRules `json:"domain_rules" toml:"domain_rules"`
	Logging           LogPrefs    `json:"logging" toml:"logging"`
	UI                UIPrefs     `json:"ui" toml:"ui"`
}

// DomainRules hold host patterns. Patterns are doublestar globs matched
// against the host name, so "*.example.com" covers every subdomain.
type DomainRules struct {
	Whitelist []string                  `json:"whitelist" toml:"whitelist"`
	Blacklist []string                  `json:"blacklist" toml:"blacklist"`
	PerDomain map[string]DomainOverride `json:"per_domain" toml:"per_domain"`
}

// DomainOverride replaces parts of Settings for matching hosts.
type DomainOverride struct {
	Enabled             *bool              `json:"enabled,omitempty" toml:"enabled,omitempty"`
	Categories          map[string]bool    `json:"categories,omitempty" toml:"categories,omitempty"`
	CategoryThresholds  map[string]float64 `json:"category_thresholds,omitempty" toml:"category_thresholds,omitempty"`
	ConfidenceThreshold *float64           `json:"confidence_threshold,omitempty" toml:"confidence_threshold,omitempty"`
}

type LogPrefs struct {
	Enabled bool `json:"enabled" toml:"enabled"`
	Verbose bool `json:"verbose" toml:"verbose"`
}

type UIPrefs struct {
	ShowConfidence    bool `json:"show_confidence" toml:"show_confidence"`
	ShowCategoryLabel bool `json:"show_category_label" toml:"show_category_label"`
	// BlurIntensity is the blur radius in px, 1 to 30.
	BlurIntensity int `json:"blur_intensity" toml:"blur_intensity"`
}

// SiteSettings are Settings resolved for one host.
type SiteSettings struct {
	Settings
	Site        string `json:"site"`
	Whitelisted bool   `json:"whitelisted"`
}

// Policy converts resolved settings into the snapshot sent with classify
// requests.
func (s SiteSettings) Policy() policy.Config {
	cfg := policy.Config{
		Enabled:            s.Enabled,
		Categories:         s.Categories,
		CategoryThresholds: s.CategoryThresholds,
		GlobalThreshold:    policy.Threshold(s.ConfidenceThreshold),
	}
	return cfg.Clone()
}

// Stats are local counters of applied verdicts.
type Stats struct {
	TotalScanned int                    `json:"total_scanned" toml:"total_scanned"`
	TotalBlocked int                    `json:"total_blocked" toml:"total_blocked"`
	ByCategory   map[string]int         `json:"by_category" toml:"by_category"`
	ByDomain     map[string]DomainStats `json:"by_domain" toml:"by_domain"`
	RecentBlocks []RecentBlock          `json:"recent_blocks" toml:"recent_blocks"`
	LastReset    time.Time              `json:"last_reset" toml:"last_reset"`
	SessionStart time.Time              `json:"session_start" toml:"session_start"`
}

type DomainStats struct {
	Scanned int `json:"scanned" toml:"scanned"`
	Blocked int `json:"blocked" toml:"blocked"`
}

// RecentBlock records one blocked image. Confidence is a percentage.
type RecentBlock struct {
	ID         string    `json:"id" toml:"id"`
	Domain     string    `json:"domain" toml:"domain"`
	Category   string    `json:"category" toml:"category"`
	Confidence int       `json:"confidence" toml:"confidence"`
	Timestamp  time.Time `json:"timestamp" toml:"timestamp"`
}

// Export is the document produced by Service.Export.
type Export struct {
	Version    string    `json:"version" toml:"version"`
	ExportedAt time.Time `json:"exported_at" toml:"exported_at"`
	Settings   Settings  `json:"settings" toml:"settings"`
	Stats      Stats     `json:"stats" toml:"stats"`
}

// Defaults derives the default settings from the category index: each
// category's own toggle and threshold, a 0.70 global threshold, scanning
// enabled.
func Defaults(index *category.Index) Settings {
	s := Settings{
		Enabled:             true,
		Categories:          make(map[string]bool),
		CategoryThresholds:  make(map[string]float64),
		ConfidenceThreshold: policy.FallbackThreshold,
		DomainRules: DomainRules{
			Whitelist: []string{},
			Blacklist: []string{},
			PerDomain: map[string]DomainOverride{},
		},
		Logging: LogPrefs{Enabled: true},
		UI: UIPrefs{
			ShowConfidence:    true,
			ShowCategoryLabel: true,
			BlurIntensity:     20,
		},
	}
	for _, c := range index.Categories() {
		s.Categories[c.ID] = c.EnabledByDefault == nil || *c.EnabledByDefault
		threshold := policy.FallbackThreshold
		if c.ConfidenceThreshold != nil {
			threshold = *c.ConfidenceThreshold
		}
		s.CategoryThresholds[c.ID] = threshold
	}
	return s
}

// DefaultStats returns zeroed counters with one slot per category.
func DefaultStats(index *category.Index, now time.Time) Stats {
	st := Stats{
		ByCategory:   make(map[string]int),
		ByDomain:     make(map[string]DomainStats),
		RecentBlocks: []RecentBlock{},
		LastReset:    now.UTC(),
		SessionStart: now.UTC(),
	}
	for _, id := range index.IDs() {
		st.ByCategory[id] = 0
	}
	return st
}
