// Package page acquires documents for scanning: over HTTP, from disk or
// from a string. Documents are converted to UTF-8 before parsing.
package page
