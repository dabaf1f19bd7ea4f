// Package history keeps a record of finished verify and repair runs.
package history

import (
	"time"

	"github.com/jamesainslie/mender/pkg/mender/run"
	"github.com/jamesainslie/mender/pkg/mender/types"
)

// Entry is one recorded run.
type Entry struct {
	ID        string        `json:"id" yaml:"id"`
	Timestamp time.Time     `json:"timestamp" yaml:"timestamp"`
	Mode      string        `json:"mode" yaml:"mode"`
	Root      string        `json:"root" yaml:"root"`
	State     string        `json:"state" yaml:"state"`
	OK        bool          `json:"ok" yaml:"ok"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
	Elapsed   time.Duration `json:"elapsed" yaml:"elapsed"`
	Summary   Summary       `json:"summary" yaml:"summary"`

	Failing  []types.ScanOutcome `json:"failing,omitempty" yaml:"failing,omitempty"`
	Packages []PackageRecord     `json:"packages,omitempty" yaml:"packages,omitempty"`
}

// Summary holds the run counters.
type Summary struct {
	Total        int64 `json:"total" yaml:"total"`
	Correct      int64 `json:"correct" yaml:"correct"`
	Corrupt      int64 `json:"corrupt" yaml:"corrupt"`
	Missing      int64 `json:"missing" yaml:"missing"`
	Groups       int   `json:"groups" yaml:"groups"`
	Repaired     int   `json:"repaired" yaml:"repaired"`
	StillFailing int   `json:"still_failing" yaml:"still_failing"`
}

// PackageRecord is one planned package and what happened to it.
type PackageRecord struct {
	Key    string `json:"key" yaml:"key"`
	URL    string `json:"url" yaml:"url"`
	Status string `json:"status" yaml:"status"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`
}

// FromResult builds an entry from a finished run. ID and Timestamp are
// assigned by Record.
func FromResult(res *run.Result) Entry {
	e := Entry{
		Mode:    res.Mode,
		Root:    res.Root,
		State:   res.State.String(),
		OK:      res.OK(),
		Elapsed: res.Elapsed,
	}
	if res.Err != nil {
		e.Error = res.Err.Error()
	}
	if res.Scan != nil {
		e.Summary.Total = res.Scan.Stats.Total
		e.Summary.Correct = res.Scan.Stats.Correct
		e.Summary.Corrupt = res.Scan.Stats.Corrupt
		e.Summary.Missing = res.Scan.Stats.Missing
		e.Failing = res.Scan.Failing()
	}
	e.Summary.Groups = len(res.Groups)
	if res.Verify != nil {
		e.Summary.Repaired = len(res.Verify.Repaired)
		e.Summary.StillFailing = len(res.Verify.StillFailing)
	}

	for _, o := range res.PackageOutcomes() {
		e.Packages = append(e.Packages, PackageRecord{
			Key:    o.Package.Key,
			URL:    o.Package.URL,
			Status: o.Status,
			Error:  o.Error,
		})
	}
	return e
}
