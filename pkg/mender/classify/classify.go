// Package classify partitions failing scan outcomes into repair groups.
//
// Classification is a first-match-wins walk over a table of rules keyed on
// path shape. Each failing path lands in exactly one group, except paths
// under the optional root, which are set aside for the optional track.
package classify

import (
	"slices"
	"sort"

	"github.com/jamesainslie/mender/pkg/mender/filter"
	"github.com/jamesainslie/mender/pkg/mender/logging"
	"github.com/jamesainslie/mender/pkg/mender/types"
)

var logger = logging.Get("classify")

// InfraRoot is a top-level folder that is always repaired as a whole.
type InfraRoot struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Package     string `mapstructure:"package" yaml:"package"`
	ExtractRoot string `mapstructure:"extract_root" yaml:"extract_root"`
}

// AssetPattern matches client files by a lowercase substring of their name.
type AssetPattern struct {
	Contains string `mapstructure:"contains" yaml:"contains"`

	// Shared, when set, names the single package all matches share
	// (Data-Client-<Shared>). Otherwise each stem has its own package.
	Shared string `mapstructure:"shared" yaml:"shared"`
}

// Config holds the layout facts the rule table is built from.
type Config struct {
	UnitPrefixes  []string
	DeltaRoot     string
	InfraRoots    []InfraRoot
	DataRoot      string
	Subtrees      []string
	ClientDir     string
	AssetPatterns []AssetPattern
	OptionalRoot  string

	// DeltaUnitsOnly limits whole-unit repair to units under DeltaRoot.
	// Top-level unit folders then fall through to the remaining rules.
	DeltaUnitsOnly bool
}

// DefaultUnitPrefixes are the known expansion-unit code prefixes.
var DefaultUnitPrefixes = []string{"EP", "GP", "SP", "FP"}

// DefaultConfig returns the layout of a standard installation.
func DefaultConfig() Config {
	return Config{
		UnitPrefixes: append([]string(nil), DefaultUnitPrefixes...),
		DeltaRoot:    "Delta",
		InfraRoots: []InfraRoot{
			{Name: "Game", Package: "Game-Bin", ExtractRoot: "Game/Bin"},
			{Name: "__Installer", Package: "__Installer-FullFolder", ExtractRoot: "__Installer"},
			{Name: "Support", Package: "Support", ExtractRoot: "Support"},
		},
		DataRoot:  "Data",
		Subtrees:  []string{"Shared", "Simulation"},
		ClientDir: "Client",
		AssetPatterns: []AssetPattern{
			{Contains: "magalog"},
			{Contains: "string", Shared: "Strings"},
			{Contains: "resource"},
		},
		OptionalRoot: filter.DefaultOptionalRoot,
	}
}

// Rules returns the ordered rule table for cfg.
func Rules(cfg Config) []Rule {
	return []Rule{
		ExpansionUnitRule(cfg),
		InfrastructureRule(cfg),
		WholeSubtreeRule(cfg),
		ClientAssetRule(cfg),
		DefaultRule(),
	}
}

// Result is the partition of failing outcomes.
type Result struct {
	// Groups appear in order of their first member in the outcome list.
	Groups []types.CorruptionGroup

	// Optional lists failing paths under the optional root, sorted.
	Optional []string
}

// Paths returns every grouped path.
func (r Result) Paths() []string {
	var paths []string
	for _, g := range r.Groups {
		paths = append(paths, g.Members...)
	}
	return paths
}

// Classifier applies a rule table.
type Classifier struct {
	cfg   Config
	rules []Rule
}

// New returns a Classifier for cfg. Empty fields take their defaults.
func New(cfg Config) *Classifier {
	cfg = withDefaults(cfg)
	return &Classifier{cfg: cfg, rules: Rules(cfg)}
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.UnitPrefixes == nil {
		cfg.UnitPrefixes = def.UnitPrefixes
	}
	if cfg.DeltaRoot == "" {
		cfg.DeltaRoot = def.DeltaRoot
	}
	if cfg.InfraRoots == nil {
		cfg.InfraRoots = def.InfraRoots
	}
	if cfg.DataRoot == "" {
		cfg.DataRoot = def.DataRoot
	}
	if cfg.Subtrees == nil {
		cfg.Subtrees = def.Subtrees
	}
	if cfg.ClientDir == "" {
		cfg.ClientDir = def.ClientDir
	}
	if cfg.AssetPatterns == nil {
		cfg.AssetPatterns = def.AssetPatterns
	}
	if cfg.OptionalRoot == "" {
		cfg.OptionalRoot = def.OptionalRoot
	}
	return cfg
}

// Match returns the rule and group for a single path. ok is false for
// paths under the optional root.
func (c *Classifier) Match(p string) (rule string, g Group, ok bool) {
	if (filter.Config{OptionalRoot: c.cfg.OptionalRoot}).IsOptional(p) {
		return "", Group{}, false
	}
	parsed := ParsePath(p)
	for _, r := range c.rules {
		if r.Match(parsed) {
			return r.Name, r.Build(parsed), true
		}
	}
	// DefaultRule always matches.
	return "", Group{}, false
}

// Classify partitions the failing outcomes. Correct outcomes are ignored.
func (c *Classifier) Classify(outcomes []types.ScanOutcome) Result {
	var (
		res     Result
		index   = make(map[string]int)
		members = make(map[string]map[string]struct{})
	)
	for _, o := range outcomes {
		if !o.Status.Failing() {
			continue
		}
		rule, g, ok := c.Match(o.Path)
		if !ok {
			res.Optional = append(res.Optional, o.Path)
			continue
		}
		id := g.Root + "/" + g.Key
		i, seen := index[id]
		if !seen {
			i = len(res.Groups)
			index[id] = i
			members[id] = make(map[string]struct{})
			res.Groups = append(res.Groups, types.CorruptionGroup{
				Key:         g.Key,
				Rule:        rule,
				Root:        g.Root,
				ExtractRoot: g.ExtractRoot,
			})
		}
		if _, dup := members[id][o.Path]; dup {
			continue
		}
		members[id][o.Path] = struct{}{}
		res.Groups[i].Members = append(res.Groups[i].Members, o.Path)
	}

	for i := range res.Groups {
		sort.Strings(res.Groups[i].Members)
		logger.Info("group",
			"key", res.Groups[i].Key,
			"rule", res.Groups[i].Rule,
			"members", len(res.Groups[i].Members))
	}
	sort.Strings(res.Optional)
	res.Optional = slices.Compact(res.Optional)
	return res
}
