package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jamesainslie/mender/pkg/mender/cache"
	"github.com/jamesainslie/mender/pkg/mender/digest"
	"github.com/jamesainslie/mender/pkg/mender/logging"
	"github.com/jamesainslie/mender/pkg/mender/types"
)

var logger = logging.Get("scanner")

// Scanner verifies manifest entries against files under a root.
type Scanner struct {
	opts Options
	root string

	cacheHits   atomic.Int64
	currentPath atomic.Value

	errors   []types.ItemError
	errorsMu sync.Mutex

	fresh   map[string]*cache.Entry
	freshMu sync.Mutex
}

// New returns a Scanner for opts.
func New(opts Options) (*Scanner, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	s := &Scanner{opts: opts}
	s.currentPath.Store("")
	return s, nil
}

// Stats returns the counters the scanner writes to.
func (s *Scanner) Stats() *types.Stats {
	return s.opts.Stats
}

// Scan checks every entry and returns one outcome per unique path.
//
// When a path appears more than once the later entry's digest is used.
// Cancellation is observed before each entry starts; hashes already in
// flight finish. A cancelled scan returns its partial report with
// Cancelled set and a nil error.
func (s *Scanner) Scan(ctx context.Context, entries []types.ManifestEntry) (*types.ScanReport, error) {
	start := time.Now()

	root, err := resolveRoot(s.opts.Root)
	if err != nil {
		return nil, err
	}
	s.root = root

	unique := dedupe(entries)
	stats := s.opts.Stats
	stats.Total.Store(int64(len(unique)))
	s.send()

	if len(unique) == 0 {
		return &types.ScanReport{Outcomes: []types.ScanOutcome{}, Stats: stats.Snapshot()}, nil
	}

	if s.opts.Cache != nil {
		s.fresh = make(map[string]*cache.Entry)
	}

	logger.Info("scan started", "root", root, "entries", len(unique), "workers", s.opts.Workers)

	outcomes := make([]types.ScanOutcome, len(unique))
	finished := make([]bool, len(unique))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, e := range unique {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			outcome, ok := s.check(gctx, e)
			if !ok {
				return nil
			}
			outcomes[i] = outcome
			finished[i] = true
			stats.Record(outcome.Status)
			s.currentPath.Store(e.Path)
			s.send()
			return nil
		})
	}
	_ = g.Wait()

	s.flushCache()

	report := &types.ScanReport{
		Outcomes:  make([]types.ScanOutcome, 0, len(unique)),
		Elapsed:   time.Since(start),
		Errors:    s.errors,
		CacheHits: s.cacheHits.Load(),
		Cancelled: ctx.Err() != nil,
	}
	for i, done := range finished {
		if done {
			report.Outcomes = append(report.Outcomes, outcomes[i])
		}
	}
	report.Stats = stats.Snapshot()
	s.send()

	logger.Info("scan finished",
		"scanned", report.Stats.Scanned,
		"correct", report.Stats.Correct,
		"corrupt", report.Stats.Corrupt,
		"missing", report.Stats.Missing,
		"cancelled", report.Cancelled,
		"elapsed", report.Elapsed)

	return report, nil
}

// check produces the outcome for one entry. ok is false when the hash was
// abandoned because ctx ended.
func (s *Scanner) check(ctx context.Context, e types.ManifestEntry) (outcome types.ScanOutcome, ok bool) {
	outcome.Path = e.Path
	full := filepath.Join(s.root, filepath.FromSlash(e.Path))

	info, err := os.Stat(full)
	switch {
	case errors.Is(err, os.ErrNotExist):
		outcome.Status = types.StatusMissing
		logger.Warn("missing", "path", e.Path)
		return outcome, true
	case err != nil:
		return s.unreadable(e.Path, err), true
	case info.IsDir():
		outcome.Status = types.StatusMissing
		logger.Warn("missing (directory in place of file)", "path", e.Path)
		return outcome, true
	}

	sum, err := s.digestOf(ctx, e.Path, full, info)
	if err != nil {
		if ctx.Err() != nil {
			return outcome, false
		}
		return s.unreadable(e.Path, err), true
	}

	if digest.Equal(sum, e.Digest) {
		outcome.Status = types.StatusCorrect
		logger.Debug("ok", "path", e.Path)
	} else {
		outcome.Status = types.StatusCorrupt
		logger.Warn("corrupt", "path", e.Path, "expected", e.Digest, "actual", sum)
	}
	return outcome, true
}

func (s *Scanner) digestOf(ctx context.Context, rel, full string, info os.FileInfo) (string, error) {
	if s.opts.Cache != nil {
		if cached, err := s.opts.Cache.Get(s.root, rel); err == nil && cached.Fresh(info) {
			s.cacheHits.Add(1)
			return cached.Digest, nil
		}
	}

	sum, err := digest.FileContext(ctx, full)
	if err != nil {
		return "", err
	}

	if s.fresh != nil {
		s.freshMu.Lock()
		s.fresh[rel] = cache.NewEntry(info, sum)
		s.freshMu.Unlock()
	}
	return sum, nil
}

// unreadable records an I/O failure; the entry counts as corrupt.
func (s *Scanner) unreadable(rel string, err error) types.ScanOutcome {
	if !errors.Is(err, types.ErrIO) {
		err = fmt.Errorf("%w: %w", types.ErrIO, err)
	}
	logger.Error("unreadable", "path", rel, "error", err)
	s.addError(rel, err)
	return types.ScanOutcome{Path: rel, Status: types.StatusCorrupt, Err: err.Error()}
}

func (s *Scanner) flushCache() {
	if s.opts.Cache == nil || len(s.fresh) == 0 {
		return
	}
	if err := s.opts.Cache.PutBatch(s.root, s.fresh); err != nil {
		logger.Warn("digest cache update failed", "error", err)
		s.addError("digest cache", err)
	}
}

func (s *Scanner) addError(path string, err error) {
	s.errorsMu.Lock()
	s.errors = append(s.errors, types.ItemError{Path: path, Error: err.Error()})
	s.errorsMu.Unlock()
}

// send delivers a progress snapshot. It runs on the worker that just
// finished an entry, so observers see every file.
func (s *Scanner) send() {
	current, _ := s.currentPath.Load().(string)
	snap := s.opts.Stats.Snapshot()
	s.opts.Observer.OnScan(types.ScanProgress{
		CurrentPath: current,
		Scanned:     snap.Scanned,
		Total:       snap.Total,
		Correct:     snap.Correct,
		Corrupt:     snap.Corrupt,
		CacheHits:   s.cacheHits.Load(),
	})
}

// dedupe keeps one entry per path, positioned at its first occurrence and
// carrying the digest of its last occurrence.
func dedupe(entries []types.ManifestEntry) []types.ManifestEntry {
	pos := make(map[string]int, len(entries))
	out := make([]types.ManifestEntry, 0, len(entries))
	for _, e := range entries {
		if i, seen := pos[e.Path]; seen {
			out[i].Digest = e.Digest
			continue
		}
		pos[e.Path] = len(out)
		out = append(out, e)
	}
	return out
}

// resolveRoot returns root as an absolute directory path.
func resolveRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %w", types.ErrInvalidRoot, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", types.ErrInvalidRoot, abs)
	}
	return abs, nil
}
