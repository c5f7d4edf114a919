package settings

import (
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

func normalizeHost(host string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
}

// matchHost reports whether host matches a literal host or glob pattern.
func matchHost(pattern, host string) bool {
	pattern = normalizeHost(pattern)
	if pattern == "" {
		return false
	}
	if pattern == host {
		return true
	}
	ok, err := doublestar.Match(pattern, host)
	return err == nil && ok
}

func matchAny(patterns []string, host string) bool {
	for _, p := range patterns {
		if matchHost(p, host) {
			return true
		}
	}
	return false
}

// override finds the per-domain override for host. An exact key wins over
// patterns; among patterns the longest wins.
func override(rules map[string]DomainOverride, host string) (DomainOverride, bool) {
	if o, ok := rules[host]; ok {
		return o, true
	}
	keys := make([]string, 0, len(rules))
	for k := range rules {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	for _, k := range keys {
		if matchHost(k, host) {
			return rules[k], true
		}
	}
	return DomainOverride{}, false
}

// Resolve applies the domain rules in s to host. A whitelisted host is
// disabled unless a blacklist pattern also matches it.
func Resolve(s Settings, host string) SiteSettings {
	host = normalizeHost(host)
	out := SiteSettings{Settings: clone(s), Site: host}

	if matchAny(s.DomainRules.Whitelist, host) && !matchAny(s.DomainRules.Blacklist, host) {
		out.Enabled = false
		out.Whitelisted = true
		return out
	}

	if o, ok := override(s.DomainRules.PerDomain, host); ok {
		if o.Enabled != nil {
			out.Enabled = *o.Enabled
		}
		for k, v := range o.Categories {
			out.Categories[k] = v
		}
		for k, v := range o.CategoryThresholds {
			out.CategoryThresholds[k] = v
		}
		if o.ConfidenceThreshold != nil {
			out.ConfidenceThreshold = *o.ConfidenceThreshold
		}
	}
	return out
}

func clone(s Settings) Settings {
	out := s
	out.Categories = make(map[string]bool, len(s.Categories))
	for k, v := range s.Categories {
		out.Categories[k] = v
	}
	out.CategoryThresholds = make(map[string]float64, len(s.CategoryThresholds))
	for k, v := range s.CategoryThresholds {
		out.CategoryThresholds[k] = v
	}
	out.DomainRules.Whitelist = append([]string{}, s.DomainRules.Whitelist...)
	out.DomainRules.Blacklist = append([]string{}, s.DomainRules.Blacklist...)
	out.DomainRules.PerDomain = make(map[string]DomainOverride, len(s.DomainRules.PerDomain))
	for k, v := range s.DomainRules.PerDomain {
		out.DomainRules.PerDomain[k] = v
	}
	return out
}
