// Package verify re-checks the files a repair was meant to fix.
package verify

import (
	"context"
	"sort"

	"github.com/jamesainslie/mender/pkg/mender/logging"
	"github.com/jamesainslie/mender/pkg/mender/scanner"
	"github.com/jamesainslie/mender/pkg/mender/types"
)

var logger = logging.Get("verify")

// Options tunes a verification pass.
type Options struct {
	Workers  int
	Observer types.Observer
}

// Verify re-hashes paths under root against digests, the same manifest
// digests the scan used. Paths with no digest stay failing. Nothing else in
// the tree is read, and no failing file is retried.
func Verify(ctx context.Context, root string, paths []string, digests map[string]string) (*types.VerifyReport, error) {
	return New(Options{}).Verify(ctx, root, paths, digests)
}

// Verifier runs verification passes.
type Verifier struct {
	opts Options
}

// New returns a Verifier.
func New(opts Options) *Verifier {
	return &Verifier{opts: opts}
}

// Verify is the method form of the package-level Verify.
func (v *Verifier) Verify(ctx context.Context, root string, paths []string, digests map[string]string) (*types.VerifyReport, error) {
	report := &types.VerifyReport{Repaired: []string{}, StillFailing: []types.ScanOutcome{}}
	if len(paths) == 0 {
		return report, nil
	}

	entries := make([]types.ManifestEntry, 0, len(paths))
	for _, p := range paths {
		d, ok := digests[p]
		if !ok {
			report.StillFailing = append(report.StillFailing, types.ScanOutcome{
				Path:   p,
				Status: types.StatusCorrupt,
				Err:    "no manifest digest",
			})
			continue
		}
		entries = append(entries, types.ManifestEntry{Path: p, Digest: d})
	}

	s, err := scanner.New(scanner.Options{Root: root, Workers: v.opts.Workers, Observer: v.opts.Observer})
	if err != nil {
		return nil, err
	}
	scan, err := s.Scan(ctx, entries)
	if err != nil {
		return nil, err
	}

	for _, o := range scan.Outcomes {
		if o.Status == types.StatusCorrect {
			report.Repaired = append(report.Repaired, o.Path)
		} else {
			report.StillFailing = append(report.StillFailing, o)
		}
	}
	report.Cancelled = scan.Cancelled

	sort.Strings(report.Repaired)
	sort.Slice(report.StillFailing, func(i, j int) bool {
		return report.StillFailing[i].Path < report.StillFailing[j].Path
	})

	logger.Info("verification finished",
		"checked", len(paths),
		"repaired", len(report.Repaired),
		"still_failing", len(report.StillFailing),
		"cancelled", report.Cancelled)
	return report, nil
}
