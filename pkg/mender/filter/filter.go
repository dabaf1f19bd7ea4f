// Package filter decides which manifest entries are in scope for a run.
package filter

import (
	"strings"

	"github.com/jamesainslie/mender/pkg/mender/types"
)

// DefaultOptionalRoot is the top-level folder holding optional heavy content.
const DefaultOptionalRoot = "Game-Cracked"

// Config is the exclusion configuration owned by the application settings.
type Config struct {
	// Excluded lists top-level folder names to skip. Matching is case-insensitive.
	Excluded []string

	// IncludeOptional opts in to the optional root.
	IncludeOptional bool

	// OptionalRoot overrides DefaultOptionalRoot when set.
	OptionalRoot string
}

// Optional returns the configured optional root name.
func (c Config) Optional() string {
	if c.OptionalRoot == "" {
		return DefaultOptionalRoot
	}
	return c.OptionalRoot
}

// TopSegment returns the first path segment of a '/'-separated path.
func TopSegment(path string) string {
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}

// IsOptional reports whether path lies under the optional root. Root names
// compare case-insensitively.
func (c Config) IsOptional(path string) bool {
	return strings.EqualFold(TopSegment(path), c.Optional())
}

// Include reports whether path is in scope under cfg. Only the top-level
// segment is consulted. The optional root is governed by IncludeOptional
// alone; every other root is included unless excluded.
func Include(path string, cfg Config) bool {
	if cfg.IsOptional(path) {
		return cfg.IncludeOptional
	}
	top := TopSegment(path)
	for _, ex := range cfg.Excluded {
		if strings.EqualFold(top, strings.TrimSpace(ex)) {
			return false
		}
	}
	return true
}

// Apply returns the entries of in that Include accepts, preserving order.
func Apply(in []types.ManifestEntry, cfg Config) []types.ManifestEntry {
	out := make([]types.ManifestEntry, 0, len(in))
	for _, e := range in {
		if Include(e.Path, cfg) {
			out = append(out, e)
		}
	}
	return out
}
