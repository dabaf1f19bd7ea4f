package classify

import (
	"path"
	"regexp"
	"slices"
	"strings"
)

// Rule names reported on groups.
const (
	RuleExpansionUnit  = "expansion-unit"
	RuleInfrastructure = "infrastructure-root"
	RuleWholeSubtree   = "whole-subtree"
	RuleClientAsset    = "client-asset"
	RuleDefault        = "default"
)

// Path is a manifest path split for rule matching.
type Path struct {
	Raw string

	// Dirs holds the directory segments, top first. Empty for files at the
	// tree root.
	Dirs []string

	// Name is the final segment; Stem is Name without its last extension.
	Name string
	Stem string
}

// ParsePath splits a slash-separated manifest path.
func ParsePath(p string) Path {
	segs := strings.Split(strings.Trim(p, "/"), "/")
	name := segs[len(segs)-1]
	return Path{
		Raw:  p,
		Dirs: segs[:len(segs)-1],
		Name: name,
		Stem: strings.TrimSuffix(name, path.Ext(name)),
	}
}

// Top returns the top-level directory segment, or "" for a root-level file.
func (p Path) Top() string {
	return p.Dir(0)
}

// Dir returns directory segment i, or "" when the path is shallower.
func (p Path) Dir(i int) string {
	if i < len(p.Dirs) {
		return p.Dirs[i]
	}
	return ""
}

// Group is the package coordinates a rule assigns to a path.
type Group struct {
	Key         string
	Root        string
	ExtractRoot string
}

// Rule is one row of the classification table. Match decides whether the
// rule applies; Build derives the group. Build is only called after Match
// returned true.
type Rule struct {
	Name  string
	Match func(Path) bool
	Build func(Path) Group
}

// unitPattern compiles the expansion-unit matcher for prefixes, e.g.
// ^(EP|GP|SP|FP)\d+$.
func unitPattern(prefixes []string) *regexp.Regexp {
	if len(prefixes) == 0 {
		return regexp.MustCompile(`$^`)
	}
	quoted := make([]string, len(prefixes))
	for i, p := range prefixes {
		quoted[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(`^(` + strings.Join(quoted, "|") + `)\d+$`)
}

// ExpansionUnitRule repairs a whole content unit. Units live under the
// deltas root (Delta/EP05/...) or at the top level (EP05/...) unless
// cfg.DeltaUnitsOnly is set.
func ExpansionUnitRule(cfg Config) Rule {
	unit := unitPattern(cfg.UnitPrefixes)
	underDelta := func(p Path) bool {
		return p.Top() == cfg.DeltaRoot && len(p.Dirs) >= 2 && unit.MatchString(p.Dirs[1])
	}
	return Rule{
		Name: RuleExpansionUnit,
		Match: func(p Path) bool {
			if underDelta(p) {
				return true
			}
			return !cfg.DeltaUnitsOnly && len(p.Dirs) >= 1 && unit.MatchString(p.Top())
		},
		Build: func(p Path) Group {
			if underDelta(p) {
				return Group{
					Key:         p.Dirs[1],
					Root:        cfg.DeltaRoot,
					ExtractRoot: cfg.DeltaRoot + "/" + p.Dirs[1],
				}
			}
			return Group{Key: p.Top(), Root: p.Top(), ExtractRoot: p.Top()}
		},
	}
}

// InfrastructureRule maps each infrastructure root to its fixed package.
func InfrastructureRule(cfg Config) Rule {
	find := func(p Path) (InfraRoot, bool) {
		top := p.Top()
		for _, r := range cfg.InfraRoots {
			if r.Name == top {
				return r, true
			}
		}
		return InfraRoot{}, false
	}
	return Rule{
		Name: RuleInfrastructure,
		Match: func(p Path) bool {
			_, ok := find(p)
			return ok
		},
		Build: func(p Path) Group {
			r, _ := find(p)
			return Group{Key: r.Package, Root: r.Name, ExtractRoot: r.ExtractRoot}
		},
	}
}

// WholeSubtreeRule repairs Data/<sub> as one package for the configured
// subtree names.
func WholeSubtreeRule(cfg Config) Rule {
	return Rule{
		Name: RuleWholeSubtree,
		Match: func(p Path) bool {
			return p.Top() == cfg.DataRoot && len(p.Dirs) >= 2 && slices.Contains(cfg.Subtrees, p.Dirs[1])
		},
		Build: func(p Path) Group {
			return Group{
				Key:         cfg.DataRoot + "-" + p.Dirs[1],
				Root:        cfg.DataRoot,
				ExtractRoot: cfg.DataRoot + "/" + p.Dirs[1],
			}
		},
	}
}

// ClientAssetRule handles large, frequently patched files in the client
// subtree. Patterns are tried in order against the lowercased file name.
// A pattern with a Shared suffix maps every match to one package; the
// others get a package per file stem.
func ClientAssetRule(cfg Config) Rule {
	find := func(p Path) (AssetPattern, bool) {
		if p.Top() != cfg.DataRoot || p.Dir(1) != cfg.ClientDir {
			return AssetPattern{}, false
		}
		name := strings.ToLower(p.Name)
		for _, a := range cfg.AssetPatterns {
			if strings.Contains(name, a.Contains) {
				return a, true
			}
		}
		return AssetPattern{}, false
	}
	return Rule{
		Name: RuleClientAsset,
		Match: func(p Path) bool {
			_, ok := find(p)
			return ok
		},
		Build: func(p Path) Group {
			a, _ := find(p)
			prefix := cfg.DataRoot + "-" + cfg.ClientDir + "-"
			g := Group{Root: cfg.DataRoot, ExtractRoot: cfg.DataRoot + "/" + cfg.ClientDir}
			if a.Shared != "" {
				g.Key = prefix + a.Shared
			} else {
				g.Key = prefix + strings.ToLower(p.Stem)
			}
			return g
		},
	}
}

// DefaultRule builds one package per (directory, stem): the directory
// segments and the stem joined by "-". Root-level files use the stem alone.
func DefaultRule() Rule {
	return Rule{
		Name:  RuleDefault,
		Match: func(Path) bool { return true },
		Build: func(p Path) Group {
			if len(p.Dirs) == 0 {
				return Group{Key: p.Stem}
			}
			return Group{
				Key:         strings.Join(p.Dirs, "-") + "-" + p.Stem,
				Root:        p.Top(),
				ExtractRoot: strings.Join(p.Dirs, "/"),
			}
		},
	}
}
