package settings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/imgfirewall/internal/category"
	"github.com/GriffinCanCode/imgfirewall/internal/infrastructure/logging"
	"github.com/GriffinCanCode/imgfirewall/internal/policy"
	"github.com/GriffinCanCode/imgfirewall/internal/shared/id"
)

const (
	settingsKey = "ai_firewall_settings"
	statsKey    = "ai_firewall_stats"
)

const (
	FormatJSON = "json"
	FormatTOML = "toml"
)

var (
	ErrInvalidSettings = errors.New("invalid settings")
	ErrUnknownProfile  = errors.New("unknown profile")
	ErrUnknownFormat   = errors.New("unknown export format")
)

// Service owns user settings and statistics. Writes are serialized;
// subscribers hear about every settings change.
type Service struct {
	store  Store
	index  *category.Index
	logger *logging.Logger
	now    func() time.Time

	mu sync.Mutex

	subMu   sync.Mutex
	subs    map[int]subscription
	nextSub int
}

type subscription func(Settings)

// NewService creates a service over store. Category defaults come from
// index.
func NewService(store Store, index *category.Index, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		store:  store,
		index:  index,
		logger: logger.Named("settings"),
		now:    time.Now,
		subs:   make(map[int]subscription),
	}
}

// Defaults returns the built-in settings.
func (s *Service) Defaults() Settings {
	return Defaults(s.index)
}

// Settings loads the stored settings merged over the defaults.
func (s *Service) Settings(ctx context.Context) (Settings, error) {
	m, err := s.settingsMap(ctx)
	if err != nil {
		return Settings{}, err
	}
	var out Settings
	if err := fromMap(m, &out); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return out, nil
}

func (s *Service) settingsMap(ctx context.Context) (map[string]any, error) {
	merged, err := toMap(s.Defaults())
	if err != nil {
		return nil, err
	}
	raw, err := s.store.Get(ctx, settingsKey)
	if errors.Is(err, ErrNotFound) {
		return merged, nil
	}
	if err != nil {
		return nil, err
	}
	var stored map[string]any
	if err := sonic.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode stored settings: %w", err)
	}
	deepMerge(merged, stored)
	return merged, nil
}

// SaveSettings validates and stores settings, then notifies subscribers.
func (s *Service) SaveSettings(ctx context.Context, settings Settings) error {
	s.mu.Lock()
	err := s.save(ctx, settings)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(settings)
	return nil
}

func (s *Service) save(ctx context.Context, settings Settings) error {
	if err := validate(settings); err != nil {
		return err
	}
	data, err := sonic.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return s.store.Put(ctx, settingsKey, data)
}

// edit runs a read-modify-write over the settings document.
func (s *Service) edit(ctx context.Context, fn func(m map[string]any) error) (Settings, error) {
	s.mu.Lock()
	m, err := s.settingsMap(ctx)
	if err == nil {
		err = fn(m)
	}
	var updated Settings
	if err == nil {
		if decodeErr := fromMap(m, &updated); decodeErr != nil {
			err = fmt.Errorf("%w: %v", ErrInvalidSettings, decodeErr)
		}
	}
	if err == nil {
		err = s.save(ctx, updated)
	}
	s.mu.Unlock()

	if err != nil {
		return Settings{}, err
	}
	s.notify(updated)
	return updated, nil
}

// UpdateSetting sets one value by dot-separated path, e.g.
// "categories.nsfw" or "ui.blur_intensity".
func (s *Service) UpdateSetting(ctx context.Context, path string, value any) (Settings, error) {
	return s.edit(ctx, func(m map[string]any) error {
		return setPath(m, path, value)
	})
}

// Patch deep-merges a partial settings document.
func (s *Service) Patch(ctx context.Context, patch map[string]any) (Settings, error) {
	return s.edit(ctx, func(m map[string]any) error {
		deepMerge(m, patch)
		return nil
	})
}

// WhitelistDomain adds host to the whitelist once.
func (s *Service) WhitelistDomain(ctx context.Context, host string) (Settings, error) {
	host = normalizeHost(host)
	if host == "" {
		return Settings{}, fmt.Errorf("%w: empty domain", ErrInvalidSettings)
	}
	return s.editTyped(ctx, func(st *Settings) {
		for _, d := range st.DomainRules.Whitelist {
			if d == host {
				return
			}
		}
		st.DomainRules.Whitelist = append(st.DomainRules.Whitelist, host)
	})
}

// RemoveWhitelistDomain drops host from the whitelist.
func (s *Service) RemoveWhitelistDomain(ctx context.Context, host string) (Settings, error) {
	host = normalizeHost(host)
	return s.editTyped(ctx, func(st *Settings) {
		kept := st.DomainRules.Whitelist[:0]
		for _, d := range st.DomainRules.Whitelist {
			if d != host {
				kept = append(kept, d)
			}
		}
		st.DomainRules.Whitelist = kept
	})
}

// ApplyProfile replaces toggles and thresholds with a named preset.
func (s *Service) ApplyProfile(ctx context.Context, name string) (Settings, error) {
	p, ok := s.index.Profile(name)
	if !ok {
		return Settings{}, fmt.Errorf("%w: %s", ErrUnknownProfile, name)
	}
	return s.editTyped(ctx, func(st *Settings) {
		for k, v := range p.Categories {
			st.Categories[k] = v
		}
		for k, v := range p.CategoryThresholds {
			st.CategoryThresholds[k] = v
		}
		if p.GlobalThreshold != nil {
			st.ConfidenceThreshold = *p.GlobalThreshold
		}
	})
}

func (s *Service) editTyped(ctx context.Context, fn func(st *Settings)) (Settings, error) {
	s.mu.Lock()
	current, err := s.Settings(ctx)
	if err == nil {
		fn(&current)
		err = s.save(ctx, current)
	}
	s.mu.Unlock()

	if err != nil {
		return Settings{}, err
	}
	s.notify(current)
	return current, nil
}

// SiteSettings resolves the settings for host.
func (s *Service) SiteSettings(ctx context.Context, host string) (SiteSettings, error) {
	st, err := s.Settings(ctx)
	if err != nil {
		return SiteSettings{}, err
	}
	return Resolve(st, host), nil
}

// PolicyConfig returns the policy for host. When the store cannot be read
// it falls back to the defaults and never fails.
func (s *Service) PolicyConfig(ctx context.Context, host string) (policy.Config, error) {
	site, err := s.SiteSettings(ctx, host)
	if err != nil {
		s.logger.Warn("failed to load settings, using defaults", zap.String("site", host), zap.Error(err))
		site = Resolve(s.Defaults(), host)
	}
	return site.Policy(), nil
}

// Subscribe calls fn with the policy for host after every settings change.
func (s *Service) Subscribe(host string, fn func(policy.Config)) func() {
	return s.OnChange(func(st Settings) {
		fn(Resolve(st, host).Policy())
	})
}

// OnChange calls fn with the full settings after every change. The returned
// func cancels the registration.
func (s *Service) OnChange(fn func(Settings)) func() {
	s.subMu.Lock()
	key := s.nextSub
	s.nextSub++
	s.subs[key] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, key)
		s.subMu.Unlock()
	}
}

func (s *Service) notify(settings Settings) {
	s.subMu.Lock()
	subs := make([]subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subMu.Unlock()

	for _, sub := range subs {
		sub(settings)
	}
}

// Stats loads the counters, or zeroed counters when none are stored.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	raw, err := s.store.Get(ctx, statsKey)
	if errors.Is(err, ErrNotFound) {
		return DefaultStats(s.index, s.now()), nil
	}
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	if err := sonic.Unmarshal(raw, &st); err != nil {
		return Stats{}, fmt.Errorf("decode stats: %w", err)
	}
	if st.ByCategory == nil {
		st.ByCategory = make(map[string]int)
	}
	if st.ByDomain == nil {
		st.ByDomain = make(map[string]DomainStats)
	}
	if st.RecentBlocks == nil {
		st.RecentBlocks = []RecentBlock{}
	}
	return st, nil
}

func (s *Service) saveStats(ctx context.Context, st Stats) error {
	data, err := sonic.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	return s.store.Put(ctx, statsKey, data)
}

// RecordOutcome counts one applied verdict for host.
func (s *Service) RecordOutcome(ctx context.Context, host string, blocked bool, categoryID string, confidence float64) error {
	host = normalizeHost(host)

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.Stats(ctx)
	if err != nil {
		return err
	}

	st.TotalScanned++
	d := st.ByDomain[host]
	d.Scanned++
	if blocked {
		st.TotalBlocked++
		d.Blocked++
		if _, known := st.ByCategory[categoryID]; known {
			st.ByCategory[categoryID]++
		}
	}
	st.ByDomain[host] = d

	if blocked && categoryID != "" {
		block := RecentBlock{
			ID:         id.NewBlockID().String(),
			Domain:     host,
			Category:   categoryID,
			Confidence: int(math.Round(confidence * 100)),
			Timestamp:  s.now().UTC(),
		}
		st.RecentBlocks = append([]RecentBlock{block}, st.RecentBlocks...)
		if len(st.RecentBlocks) > MaxRecentBlocks {
			st.RecentBlocks = st.RecentBlocks[:MaxRecentBlocks]
		}
	}
	return s.saveStats(ctx, st)
}

// ResetStats zeroes the counters.
func (s *Service) ResetStats(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveStats(ctx, DefaultStats(s.index, s.now()))
}

// Export renders settings and statistics in format.
func (s *Service) Export(ctx context.Context, format string) ([]byte, error) {
	st, err := s.Settings(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := s.Stats(ctx)
	if err != nil {
		return nil, err
	}
	doc := Export{
		Version:    ExportVersion,
		ExportedAt: s.now().UTC(),
		Settings:   st,
		Stats:      stats,
	}

	switch strings.ToLower(format) {
	case "", FormatJSON:
		return sonic.ConfigStd.MarshalIndent(doc, "", "  ")
	case FormatTOML:
		return toml.Marshal(doc)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}

// Import stores the settings and statistics found in data. Either section
// may be missing. An empty format is sniffed from the content.
func (s *Service) Import(ctx context.Context, data []byte, format string) error {
	format = strings.ToLower(format)
	if format == "" {
		format = FormatTOML
		if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
			format = FormatJSON
		}
	}

	var doc map[string]any
	switch format {
	case FormatJSON:
		if err := sonic.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}

	var (
		imported *Settings
		stats    *Stats
	)
	if raw, ok := doc["settings"].(map[string]any); ok {
		merged, err := toMap(s.Defaults())
		if err != nil {
			return err
		}
		deepMerge(merged, raw)
		var st Settings
		if err := fromMap(merged, &st); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
		}
		if err := validate(st); err != nil {
			return err
		}
		imported = &st
	}
	if raw, ok := doc["stats"].(map[string]any); ok {
		var st Stats
		if err := fromMap(raw, &st); err != nil {
			return fmt.Errorf("%w: stats: %v", ErrInvalidSettings, err)
		}
		stats = &st
	}

	s.mu.Lock()
	var err error
	if imported != nil {
		err = s.save(ctx, *imported)
	}
	if err == nil && stats != nil {
		err = s.saveStats(ctx, *stats)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if imported != nil {
		s.notify(*imported)
	}
	s.logger.Info("imported settings", zap.Bool("settings", imported != nil), zap.Bool("stats", stats != nil))
	return nil
}

func validate(st Settings) error {
	check := func(name string, v float64) error {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return fmt.Errorf("%w: %s threshold %v outside [0, 1]", ErrInvalidSettings, name, v)
		}
		return nil
	}

	if err := check("global", st.ConfidenceThreshold); err != nil {
		return err
	}
	ids := make([]string, 0, len(st.CategoryThresholds))
	for k := range st.CategoryThresholds {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	for _, k := range ids {
		if err := check(k, st.CategoryThresholds[k]); err != nil {
			return err
		}
	}
	for host, o := range st.DomainRules.PerDomain {
		for k, v := range o.CategoryThresholds {
			if err := check(host+"/"+k, v); err != nil {
				return err
			}
		}
		if o.ConfidenceThreshold != nil {
			if err := check(host, *o.ConfidenceThreshold); err != nil {
				return err
			}
		}
	}
	if st.AutoUnblurTimeout < 0 {
		return fmt.Errorf("%w: auto_unblur_timeout must not be negative", ErrInvalidSettings)
	}
	if st.UI.BlurIntensity < 0 || st.UI.BlurIntensity > 30 {
		return fmt.Errorf("%w: blur_intensity %d outside [0, 30]", ErrInvalidSettings, st.UI.BlurIntensity)
	}
	return nil
}
