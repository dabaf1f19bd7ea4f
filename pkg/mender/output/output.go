// Package output renders run results in the formats selected with -o:
// pretty, plain, json, jsonl, yaml and template.
//
// Formatters are looked up by name in a registry:
//
//	formatter, err := output.Get("pretty")
//	if err != nil {
//	    return err
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, output.NewReport(res)); err != nil {
//	    return err
//	}
package output

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jamesainslie/mender/pkg/mender/logging"
	"github.com/jamesainslie/mender/pkg/mender/run"
	"github.com/jamesainslie/mender/pkg/mender/types"
)

var logger = logging.Get("output")

// Report is the formatter view of a finished run.
type Report struct {
	Mode  string `json:"mode" yaml:"mode"`
	State string `json:"state" yaml:"state"`
	Root  string `json:"root" yaml:"root"`
	OK    bool   `json:"ok" yaml:"ok"`
	Error string `json:"error,omitempty" yaml:"error,omitempty"`

	Stats     types.StatsSnapshot `json:"stats" yaml:"stats"`
	CacheHits int64               `json:"cache_hits" yaml:"cache_hits"`
	Elapsed   time.Duration       `json:"-" yaml:"-"`

	// Failing lists the corrupt and missing files found by the scan.
	Failing  []types.ScanOutcome    `json:"failing" yaml:"failing"`
	Groups   []types.CorruptionGroup `json:"groups,omitempty" yaml:"groups,omitempty"`
	Optional []string               `json:"optional,omitempty" yaml:"optional,omitempty"`
	Packages []run.PackageOutcome   `json:"packages,omitempty" yaml:"packages,omitempty"`
	Declined bool                   `json:"declined,omitempty" yaml:"declined,omitempty"`

	// Repaired and StillFailing are set once a repair has been verified.
	Repaired     []string            `json:"repaired,omitempty" yaml:"repaired,omitempty"`
	StillFailing []types.ScanOutcome `json:"still_failing,omitempty" yaml:"still_failing,omitempty"`
	Verified     bool                `json:"verified" yaml:"verified"`

	Orphans  []string `json:"orphans,omitempty" yaml:"orphans,omitempty"`
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// NewReport flattens a run result for display.
func NewReport(res *run.Result) *Report {
	r := &Report{
		Mode:     res.Mode,
		State:    res.State.String(),
		Root:     res.Root,
		OK:       res.OK(),
		Elapsed:  res.Elapsed,
		Groups:   res.Groups,
		Optional: res.Optional,
		Declined: res.Declined,
		Orphans:  res.Orphans,
		Failing:  []types.ScanOutcome{},
	}
	if res.Err != nil {
		r.Error = res.Err.Error()
	}
	if res.Scan != nil {
		r.Stats = res.Scan.Stats
		r.CacheHits = res.Scan.CacheHits
		if f := res.Scan.Failing(); f != nil {
			r.Failing = f
		}
		for _, e := range res.Scan.Errors {
			r.Warnings = append(r.Warnings, fmt.Sprintf("%s: %s", e.Path, e.Error))
		}
		if res.Scan.Cancelled {
			r.Warnings = append(r.Warnings, "scan cancelled before every file was checked")
		}
	}
	if len(res.Packages) > 0 {
		r.Packages = res.PackageOutcomes()
	}
	for _, in := range res.Installs {
		if in == nil {
			continue
		}
		for _, e := range in.Relocation {
			r.Warnings = append(r.Warnings, fmt.Sprintf("%s: %s", e.Path, e.Error))
		}
	}
	if res.Verify != nil {
		r.Verified = true
		r.Repaired = res.Verify.Repaired
		r.StillFailing = res.Verify.StillFailing
		if res.Verify.Cancelled {
			r.Warnings = append(r.Warnings, "verification cancelled before every repaired file was checked")
		}
	}
	return r
}

// Status returns the displayed status of a failing path, taking the
// verification pass into account.
func (r *Report) Status(o types.ScanOutcome) string {
	if !r.Verified {
		return o.Status.String()
	}
	for _, s := range r.StillFailing {
		if s.Path == o.Path {
			return s.Status.String()
		}
	}
	for _, p := range r.Repaired {
		if p == o.Path {
			return "repaired"
		}
	}
	return o.Status.String()
}

// Verdict is a one-line summary of the run outcome.
func (r *Report) Verdict() string {
	switch {
	case r.State == run.StateFailed.String():
		return "run failed"
	case r.State == run.StateCancelled.String():
		return "run cancelled"
	case len(r.Failing) == 0:
		return "all files correct"
	case r.Declined:
		return fmt.Sprintf("%d files need repair, repair declined", len(r.Failing))
	case !r.Verified && r.Mode == run.ModeVerify:
		return fmt.Sprintf("%d files need repair, run mender repair", len(r.Failing))
	case r.OK:
		return fmt.Sprintf("%d files repaired", len(r.Repaired))
	default:
		return fmt.Sprintf("%d files repaired, %d still failing", len(r.Repaired), len(r.Failing)-len(r.Repaired))
	}
}

// Formatter writes a report in one output format.
type Formatter interface {
	Format(w *bytes.Buffer, r *Report) error
}

// FormatterFactory creates a Formatter.
type FormatterFactory func() Formatter

// Registry maps format names to formatter factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]FormatterFactory)}
}

// Register adds or replaces a formatter factory.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown formatter: %s", name)
	}
	return factory(), nil
}

// Available returns the registered names, sorted.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry holds the built-in formatters.
var DefaultRegistry = NewRegistry()

// Register adds a formatter factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a formatter from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns the formatter names in the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}

// Render formats r with the named formatter.
func Render(name string, r *Report) (string, error) {
	f, err := Get(name)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := f.Format(&buf, r); err != nil {
		logger.Debug("format failed", "format", name, "error", err)
		return "", err
	}
	return buf.String(), nil
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	sec := d.Seconds()
	if sec < 1 {
		return fmt.Sprintf("%.0fms", sec*1000)
	}
	if sec < 60 {
		return fmt.Sprintf("%.1fs", sec)
	}
	minutes := int(sec) / 60
	seconds := int(sec) % 60
	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}

// formatDurationString formats a duration for machine-readable output.
func formatDurationString(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}
