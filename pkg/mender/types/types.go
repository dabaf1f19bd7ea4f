// Package types provides the core data types shared by every stage of a
// mender run: manifest entries, scan outcomes, corruption groups, package
// references, progress snapshots, and the error taxonomy.
package types

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Size constants for binary (IEC) units.
const (
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
)

// ManifestEntry is one expected file of the installation tree.
type ManifestEntry struct {
	// Path is relative to the installation root and always uses '/' separators.
	Path string `json:"path" yaml:"path"`

	// Digest is the expected SHA-256 of the file content, lowercase hex.
	Digest string `json:"digest" yaml:"digest"`
}

// Status is the verification result for a single manifest entry.
type Status int

// Possible outcomes of checking one file.
const (
	StatusCorrect Status = iota
	StatusCorrupt
	StatusMissing
)

// String returns the lowercase name of the status.
func (s Status) String() string {
	switch s {
	case StatusCorrect:
		return "correct"
	case StatusCorrupt:
		return "corrupt"
	case StatusMissing:
		return "missing"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler so reports carry readable statuses.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for the names String returns.
func (s *Status) UnmarshalText(text []byte) error {
	switch string(text) {
	case "correct":
		*s = StatusCorrect
	case "corrupt":
		*s = StatusCorrupt
	case "missing":
		*s = StatusMissing
	default:
		return fmt.Errorf("unknown status %q", text)
	}
	return nil
}

// Failing reports whether the status requires repair.
func (s Status) Failing() bool {
	return s == StatusCorrupt || s == StatusMissing
}

// ScanOutcome is the result of checking one in-scope manifest entry.
type ScanOutcome struct {
	Path   string `json:"path" yaml:"path"`
	Status Status `json:"status" yaml:"status"`

	// Err holds the read error when an unreadable file was recorded as corrupt.
	Err string `json:"error,omitempty" yaml:"error,omitempty"`
}

// ItemError pairs a path or URL with the error encountered while processing it.
type ItemError struct {
	Path  string `json:"path" yaml:"path"`
	Error string `json:"error" yaml:"error"`
}

// Stats holds the run counters. The run is the only writer; progress
// displays may read concurrently.
type Stats struct {
	Total   atomic.Int64
	Scanned atomic.Int64
	Correct atomic.Int64
	Corrupt atomic.Int64
	Missing atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Total   int64 `json:"total" yaml:"total"`
	Scanned int64 `json:"scanned" yaml:"scanned"`
	Correct int64 `json:"correct" yaml:"correct"`
	// Corrupt counts every failing entry, missing ones included.
	Corrupt int64 `json:"corrupt" yaml:"corrupt"`
	Missing int64 `json:"missing" yaml:"missing"`
}

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Total:   s.Total.Load(),
		Scanned: s.Scanned.Load(),
		Correct: s.Correct.Load(),
		Corrupt: s.Corrupt.Load(),
		Missing: s.Missing.Load(),
	}
}

// Record counts one finished entry.
func (s *Stats) Record(status Status) {
	switch status {
	case StatusCorrect:
		s.Correct.Add(1)
	case StatusMissing:
		s.Missing.Add(1)
		s.Corrupt.Add(1)
	case StatusCorrupt:
		s.Corrupt.Add(1)
	}
	s.Scanned.Add(1)
}

// ScanReport is the result of scanning the in-scope entries.
type ScanReport struct {
	// Outcomes holds one outcome per unique path, in manifest order.
	Outcomes []ScanOutcome `json:"outcomes" yaml:"outcomes"`

	Stats     StatsSnapshot `json:"stats" yaml:"stats"`
	Elapsed   time.Duration `json:"elapsed" yaml:"elapsed"`
	Errors    []ItemError   `json:"errors,omitempty" yaml:"errors,omitempty"`
	CacheHits int64         `json:"cache_hits" yaml:"cache_hits"`

	// Cancelled is set when the scan stopped early at a cancellation checkpoint.
	Cancelled bool `json:"cancelled" yaml:"cancelled"`
}

// Failing returns the corrupt and missing outcomes in report order.
func (r *ScanReport) Failing() []ScanOutcome {
	var failing []ScanOutcome
	for _, o := range r.Outcomes {
		if o.Status.Failing() {
			failing = append(failing, o)
		}
	}
	return failing
}

// FailingPaths returns the paths of Failing outcomes.
func (r *ScanReport) FailingPaths() []string {
	var paths []string
	for _, o := range r.Outcomes {
		if o.Status.Failing() {
			paths = append(paths, o.Path)
		}
	}
	return paths
}

// CorruptionGroup is a set of failing paths repaired by one package.
type CorruptionGroup struct {
	// Key is the structural key, also the package file stem.
	Key string `json:"key" yaml:"key"`

	// Rule names the classification rule that produced the group.
	Rule string `json:"rule" yaml:"rule"`

	// Root is the top-level segment the package is published under.
	Root string `json:"root" yaml:"root"`

	// ExtractRoot is where the package content belongs, relative to the tree root.
	ExtractRoot string `json:"extract_root" yaml:"extract_root"`

	// Members is sorted and free of duplicates.
	Members []string `json:"members" yaml:"members"`
}

// PackageRef identifies a downloadable repair archive.
type PackageRef struct {
	URL         string `json:"url" yaml:"url"`
	ExtractRoot string `json:"extract_root" yaml:"extract_root"`
	Key         string `json:"key" yaml:"key"`
}

// Name returns the archive file name of the package.
func (p PackageRef) Name() string {
	if i := strings.LastIndexByte(p.URL, '/'); i >= 0 {
		return p.URL[i+1:]
	}
	return p.URL
}

// InstallResult describes one installed package.
type InstallResult struct {
	Package    PackageRef    `json:"package" yaml:"package"`
	Bytes      int64         `json:"bytes" yaml:"bytes"`
	Extracted  int           `json:"extracted" yaml:"extracted"`
	Relocated  int           `json:"relocated" yaml:"relocated"`
	Elapsed    time.Duration `json:"elapsed" yaml:"elapsed"`
	Relocation []ItemError   `json:"relocation_errors,omitempty" yaml:"relocation_errors,omitempty"`
}

// VerifyReport splits previously failing paths after repair.
type VerifyReport struct {
	Repaired     []string      `json:"repaired" yaml:"repaired"`
	StillFailing []ScanOutcome `json:"still_failing" yaml:"still_failing"`
	Cancelled    bool          `json:"cancelled" yaml:"cancelled"`
}

// ScanProgress is emitted after every checked file.
type ScanProgress struct {
	CurrentPath string `json:"current_path"`
	Scanned     int64  `json:"scanned"`
	Total       int64  `json:"total"`
	Correct     int64  `json:"correct"`
	Corrupt     int64  `json:"corrupt"`
	CacheHits   int64  `json:"cache_hits"`
}

// InstallProgress is emitted while a package is downloaded and applied.
type InstallProgress struct {
	Package         string  `json:"package"`
	Phase           string  `json:"phase"`
	BytesDownloaded int64   `json:"bytes_downloaded"`
	TotalBytes      int64   `json:"total_bytes"`
	RateBps         float64 `json:"rate_bps"`
	Index           int     `json:"index"`
	Count           int     `json:"count"`
}

// Install phases reported in InstallProgress.
const (
	PhaseDownload = "download"
	PhaseExtract  = "extract"
	PhaseRelocate = "relocate"
)

// Observer receives progress from a run. Implementations must be safe for
// concurrent use; scan progress arrives from hashing workers.
type Observer interface {
	OnScan(ScanProgress)
	OnInstall(InstallProgress)
}

// NopObserver discards all progress.
type NopObserver struct{}

// OnScan implements Observer.
func (NopObserver) OnScan(ScanProgress) {}

// OnInstall implements Observer.
func (NopObserver) OnInstall(InstallProgress) {}

// FormatSize converts a size in bytes to a human-readable IEC string.
func FormatSize(bytes int64) string {
	if bytes < 0 {
		return "?"
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatRate formats a transfer rate in bytes per second.
func FormatRate(bps float64) string {
	if bps <= 0 {
		return "-"
	}
	return humanize.IBytes(uint64(bps)) + "/s"
}
