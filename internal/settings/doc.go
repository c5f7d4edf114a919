// Package settings stores user preferences and block statistics and
// resolves them into per-site policies.
//
// Documents are kept as JSON in a key/value Store (SQLite by default) and
// deep-merged over the defaults on every read, so documents written by
// older versions pick up new keys. Domain rules match host globs:
//
//	whitelist: ["*.example.org"]   scanning off for every subdomain
//	blacklist: ["ads.example.org"] scanning stays on here
//
// Service implements the policy source and statistics recorder used by
// the scan coordinator.
package settings
