package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"

	"github.com/jamesainslie/mender/pkg/mender/filter"
	"github.com/jamesainslie/mender/pkg/mender/types"
)

// FindOrphans walks the top-level folders named by entries and returns the
// relative paths of regular files the manifest does not list. Nothing is
// modified. Walk errors are logged and skipped.
func (s *Scanner) FindOrphans(ctx context.Context, entries []types.ManifestEntry) ([]string, error) {
	root, err := resolveRoot(s.opts.Root)
	if err != nil {
		return nil, err
	}

	known := make(map[string]struct{}, len(entries))
	tops := make(map[string]struct{})
	for _, e := range entries {
		known[e.Path] = struct{}{}
		if strings.Contains(e.Path, "/") {
			tops[filter.TopSegment(e.Path)] = struct{}{}
		}
	}

	var (
		mu      sync.Mutex
		orphans []string
	)
	conf := fastwalk.Config{Follow: false}
	walk := func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			logger.Debug("orphan walk error", "path", path, "error", err)
			s.addError(path, err)
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if _, ok := known[rel]; ok {
			return nil
		}
		mu.Lock()
		orphans = append(orphans, rel)
		mu.Unlock()
		return nil
	}

	names := make([]string, 0, len(tops))
	for top := range tops {
		names = append(names, top)
	}
	sort.Strings(names)

	for _, top := range names {
		dir := filepath.Join(root, top)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if err := fastwalk.Walk(&conf, dir, walk); err != nil {
			return nil, err
		}
	}

	sort.Strings(orphans)
	logger.Info("orphan search finished", "roots", len(names), "orphans", len(orphans))
	return orphans, nil
}
