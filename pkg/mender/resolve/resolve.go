// Package resolve maps corruption groups to repair package references.
package resolve

import (
	"strings"

	"github.com/jamesainslie/mender/pkg/mender/types"
)

// DefaultBaseURL is where repair packages are published.
const DefaultBaseURL = "https://github.com/Leuansin/leuan-dlcs/releases/download"

// Optional-track package coordinates, relative to the base URL.
const (
	OptionalRoot = "latestupdateandcrack"
	OptionalKey  = "LatestUpdateAndCrack"
)

// Resolver builds package URLs. It performs no I/O.
type Resolver struct {
	base string
}

// New returns a Resolver for baseURL. Empty uses DefaultBaseURL.
// Supported schemes are whatever the installer's fetchers accept.
func New(baseURL string) *Resolver {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Resolver{base: strings.TrimRight(baseURL, "/")}
}

// BaseURL returns the normalized base URL.
func (r *Resolver) BaseURL() string {
	return r.base
}

// URL returns the package URL for a root segment and structural key.
func (r *Resolver) URL(root, key string) string {
	if root == "" {
		return r.base + "/" + key + ".zip"
	}
	return r.base + "/" + root + "/" + key + ".zip"
}

// Resolve returns one reference per distinct package URL, in the order
// the groups first name it.
func (r *Resolver) Resolve(groups []types.CorruptionGroup) []types.PackageRef {
	refs := make([]types.PackageRef, 0, len(groups))
	seen := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		url := r.URL(g.Root, g.Key)
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		refs = append(refs, types.PackageRef{URL: url, ExtractRoot: g.ExtractRoot, Key: g.Key})
	}
	return refs
}

// Optional returns the optional-track package, extracted over the tree root.
func (r *Resolver) Optional() types.PackageRef {
	return types.PackageRef{URL: r.URL(OptionalRoot, OptionalKey), Key: OptionalKey}
}
