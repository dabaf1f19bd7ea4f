// Package installer downloads repair packages and applies them to an
// installation tree.
//
// A package is installed in three steps: download to a scratch directory,
// extract over the tree root, then move files an archive placed at the
// tree root into the package's extraction root. Packages are installed one
// at a time by the caller.
package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jamesainslie/mender/pkg/mender/logging"
	"github.com/jamesainslie/mender/pkg/mender/types"
)

var logger = logging.Get("installer")

// DefaultProgressInterval is the minimum gap between download progress events.
const DefaultProgressInterval = 500 * time.Millisecond

// ErrScratch is returned when the scratch directory cannot be created.
// No package can be installed without one.
var ErrScratch = errors.New("cannot create scratch directory")

// Options configures an Installer.
type Options struct {
	// Root is the installation tree packages are extracted into.
	Root string

	// Fetchers maps URL schemes to fetchers. Nil uses DefaultFetchers.
	Fetchers Fetchers

	// HTTPClient backs the default http(s) fetcher.
	HTTPClient *http.Client

	// UserAgent is sent by the default http(s) fetcher.
	UserAgent string

	// ScratchDir is the parent of per-package scratch directories.
	// Empty means os.TempDir().
	ScratchDir string

	// Observer receives install progress. Nil discards it.
	Observer types.Observer

	// ProgressInterval throttles download progress. Zero means
	// DefaultProgressInterval.
	ProgressInterval time.Duration
}

// Installer applies packages to one tree.
type Installer struct {
	opts Options
}

// New returns an Installer for opts.
func New(opts Options) *Installer {
	if opts.Fetchers == nil {
		opts.Fetchers = DefaultFetchers(opts.HTTPClient, opts.UserAgent)
	}
	if opts.Observer == nil {
		opts.Observer = types.NopObserver{}
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	return &Installer{opts: opts}
}

// Install downloads and applies ref. index and count position the package
// within the run for progress reporting (index is 1-based).
//
// Errors wrap types.ErrDownloadFailed, types.ErrExtractionFailed or
// ErrScratch. Relocation failures are not errors; they are listed in the
// result. A context error is returned unwrapped.
func (in *Installer) Install(ctx context.Context, ref types.PackageRef, index, count int) (*types.InstallResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	result := &types.InstallResult{Package: ref}
	name := ref.Name()

	scratch, err := os.MkdirTemp(in.opts.ScratchDir, "mender-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScratch, err)
	}
	defer os.RemoveAll(scratch)

	logger.Info("downloading", "package", name, "url", ref.URL, "index", index, "count", count)
	archive := filepath.Join(scratch, name)
	n, err := in.download(ctx, ref, archive, index, count)
	if err != nil {
		logger.Error("download failed", "package", name, "url", ref.URL, "error", err)
		return nil, err
	}
	result.Bytes = n

	in.emit(types.InstallProgress{Package: name, Phase: types.PhaseExtract, BytesDownloaded: n, TotalBytes: n, Index: index, Count: count})
	extracted, err := Extract(ctx, archive, in.opts.Root)
	result.Extracted = len(extracted)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error("extraction failed", "package", name, "extracted", len(extracted), "error", err)
		}
		return result, err
	}
	logger.Info("extracted", "package", name, "files", len(extracted))

	if misplaced := Misplaced(extracted, ref.ExtractRoot); len(misplaced) > 0 {
		in.emit(types.InstallProgress{Package: name, Phase: types.PhaseRelocate, BytesDownloaded: n, TotalBytes: n, Index: index, Count: count})
		result.Relocated, result.Relocation = Relocate(in.opts.Root, ref.ExtractRoot, misplaced)
		logger.Info("relocated", "package", name, "to", ref.ExtractRoot, "moved", result.Relocated, "failed", len(result.Relocation))
	}

	result.Elapsed = time.Since(start)
	return result, nil
}

func (in *Installer) download(ctx context.Context, ref types.PackageRef, dst string, index, count int) (int64, error) {
	fetcher, err := in.opts.Fetchers.For(ref.URL)
	if err != nil {
		return 0, err
	}
	body, size, err := fetcher.Open(ctx, ref.URL)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrScratch, err)
	}

	pw := &progressWriter{
		w:        out,
		emit:     in.emit,
		interval: in.opts.ProgressInterval,
		base:     types.InstallProgress{Package: ref.Name(), Phase: types.PhaseDownload, TotalBytes: size, Index: index, Count: count},
		last:     time.Now(),
	}
	pw.report(true)

	n, copyErr := io.Copy(pw, body)
	closeErr := out.Close()
	switch {
	case copyErr != nil && ctx.Err() != nil:
		return n, ctx.Err()
	case copyErr != nil:
		return n, fmt.Errorf("%w: %s: %w", types.ErrDownloadFailed, ref.URL, copyErr)
	case closeErr != nil:
		return n, fmt.Errorf("%w: %w", types.ErrDownloadFailed, closeErr)
	case size >= 0 && n != size:
		return n, fmt.Errorf("%w: %s: short read (%d of %d bytes)", types.ErrDownloadFailed, ref.URL, n, size)
	}
	pw.report(true)
	return n, nil
}

func (in *Installer) emit(p types.InstallProgress) {
	in.opts.Observer.OnInstall(p)
}

// progressWriter counts bytes and reports at most once per interval. The
// rate is measured over the bytes written since the previous report.
type progressWriter struct {
	w        io.Writer
	emit     func(types.InstallProgress)
	interval time.Duration
	base     types.InstallProgress

	written     int64
	last        time.Time
	lastWritten int64
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	p.report(false)
	return n, err
}

func (p *progressWriter) report(force bool) {
	now := time.Now()
	elapsed := now.Sub(p.last)
	if !force && elapsed < p.interval {
		return
	}
	ev := p.base
	ev.BytesDownloaded = p.written
	if elapsed > 0 && p.written > p.lastWritten {
		ev.RateBps = float64(p.written-p.lastWritten) / elapsed.Seconds()
	}
	p.last = now
	p.lastWritten = p.written
	p.emit(ev)
}
