// Package run drives a verification or repair run through its states:
// fetch the manifest, scan, classify and resolve, then optionally install
// packages and re-verify the files that were failing.
package run

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jamesainslie/mender/pkg/mender/cache"
	"github.com/jamesainslie/mender/pkg/mender/classify"
	"github.com/jamesainslie/mender/pkg/mender/filter"
	"github.com/jamesainslie/mender/pkg/mender/installer"
	"github.com/jamesainslie/mender/pkg/mender/logging"
	"github.com/jamesainslie/mender/pkg/mender/manifest"
	"github.com/jamesainslie/mender/pkg/mender/resolve"
	"github.com/jamesainslie/mender/pkg/mender/scanner"
	"github.com/jamesainslie/mender/pkg/mender/types"
	"github.com/jamesainslie/mender/pkg/mender/verify"
)

var logger = logging.Get("run")

// ManifestSource supplies manifest entries.
type ManifestSource interface {
	Fetch(ctx context.Context) ([]types.ManifestEntry, error)
}

// PackageInstaller applies one package to the tree.
type PackageInstaller interface {
	Install(ctx context.Context, ref types.PackageRef, index, count int) (*types.InstallResult, error)
}

// Plan is what a repair would do, shown to the Confirmer.
type Plan struct {
	Root     string
	Groups   []types.CorruptionGroup
	Optional []string
	Packages []types.PackageRef
}

// Confirmer approves a repair plan before any package is downloaded.
type Confirmer interface {
	Confirm(ctx context.Context, plan Plan) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, plan Plan) (bool, error)

// Confirm implements Confirmer.
func (f ConfirmFunc) Confirm(ctx context.Context, plan Plan) (bool, error) {
	return f(ctx, plan)
}

// AlwaysConfirm approves every plan.
var AlwaysConfirm = ConfirmFunc(func(context.Context, Plan) (bool, error) { return true, nil })

// Options configures a Runner.
type Options struct {
	// Root is the validated installation root.
	Root string

	// Manifest supplies the expected digests.
	Manifest ManifestSource

	// Filter selects in-scope entries. IncludeOptional also enables the
	// optional repair track.
	Filter filter.Config

	// Workers bounds hashing concurrency.
	Workers int

	// Cache, when set, reuses digests of unchanged files during the scan.
	Cache *cache.Store

	// Classifier groups failing paths. Nil uses the default layout.
	Classifier *classify.Classifier

	// Resolver builds package URLs. Nil uses the default base URL.
	Resolver *resolve.Resolver

	// Installer applies packages during Repair.
	Installer PackageInstaller

	// Observer receives scan and install progress.
	Observer types.Observer

	// OnState is called after each state transition.
	OnState func(from, to State)

	// FindOrphans lists unlisted local files after the scan.
	FindOrphans bool
}

// PackageFailure records a package that could not be applied.
type PackageFailure struct {
	Package types.PackageRef `json:"package" yaml:"package"`
	Error   string           `json:"error" yaml:"error"`
}

// Result is the outcome of a run.
type Result struct {
	Mode     string                  `json:"mode" yaml:"mode"`
	State    State                   `json:"state" yaml:"state"`
	Root     string                  `json:"root" yaml:"root"`
	Scan     *types.ScanReport       `json:"scan,omitempty" yaml:"scan,omitempty"`
	Groups   []types.CorruptionGroup `json:"groups,omitempty" yaml:"groups,omitempty"`
	Optional []string                `json:"optional,omitempty" yaml:"optional,omitempty"`
	Packages []types.PackageRef      `json:"packages,omitempty" yaml:"packages,omitempty"`
	Declined bool                    `json:"declined,omitempty" yaml:"declined,omitempty"`
	Installs []*types.InstallResult  `json:"installs,omitempty" yaml:"installs,omitempty"`
	Failures []PackageFailure        `json:"failures,omitempty" yaml:"failures,omitempty"`
	Verify   *types.VerifyReport     `json:"verify,omitempty" yaml:"verify,omitempty"`
	Orphans  []string                `json:"orphans,omitempty" yaml:"orphans,omitempty"`
	Err      error                   `json:"-" yaml:"-"`
	Started  time.Time               `json:"started" yaml:"started"`
	Elapsed  time.Duration           `json:"elapsed" yaml:"elapsed"`
}

// Run modes.
const (
	ModeVerify = "verify"
	ModeRepair = "repair"
)

// OK reports whether the tree ended fully correct: a verify run found
// nothing failing, or a repair run left nothing failing.
func (r *Result) OK() bool {
	if r.State != StateDone || r.Scan == nil {
		return false
	}
	if len(r.Scan.Failing()) == 0 {
		return true
	}
	if r.Verify == nil || r.Verify.Cancelled {
		return false
	}
	return len(r.Verify.StillFailing) == 0 && len(r.Failures) == 0 && len(r.unrepaired()) == 0
}

// unrepaired lists failing scan paths the verification pass did not cover.
func (r *Result) unrepaired() []string {
	checked := make(map[string]struct{}, len(r.Verify.Repaired)+len(r.Verify.StillFailing))
	for _, p := range r.Verify.Repaired {
		checked[p] = struct{}{}
	}
	for _, o := range r.Verify.StillFailing {
		checked[o.Path] = struct{}{}
	}
	var out []string
	for _, o := range r.Scan.Failing() {
		if _, ok := checked[o.Path]; !ok {
			out = append(out, o.Path)
		}
	}
	return out
}

// Package outcome statuses.
const (
	PackageInstalled = "installed"
	PackageFailed    = "failed"
	PackageSkipped   = "skipped"
)

// PackageOutcome pairs a planned package with what happened to it.
type PackageOutcome struct {
	Package types.PackageRef     `json:"package" yaml:"package"`
	Status  string               `json:"status" yaml:"status"`
	Error   string               `json:"error,omitempty" yaml:"error,omitempty"`
	Install *types.InstallResult `json:"install,omitempty" yaml:"install,omitempty"`
}

// PackageOutcomes returns one outcome per planned package, in plan order.
// Packages never attempted, because the run was declined or stopped, are
// skipped.
func (r *Result) PackageOutcomes() []PackageOutcome {
	installed := make(map[string]*types.InstallResult, len(r.Installs))
	for _, in := range r.Installs {
		if in != nil {
			installed[in.Package.URL] = in
		}
	}
	failed := make(map[string]string, len(r.Failures))
	for _, f := range r.Failures {
		failed[f.Package.URL] = f.Error
	}
	out := make([]PackageOutcome, 0, len(r.Packages))
	for _, p := range r.Packages {
		o := PackageOutcome{Package: p, Status: PackageSkipped}
		if in, ok := installed[p.URL]; ok {
			o.Status = PackageInstalled
			o.Install = in
		} else if msg, ok := failed[p.URL]; ok {
			o.Status = PackageFailed
			o.Error = msg
		}
		out = append(out, o)
	}
	return out
}

// Runner executes runs. A Runner is single-use.
type Runner struct {
	opts    Options
	machine *Machine
	digests map[string]string
}

// New returns a Runner in StateIdle.
func New(opts Options) *Runner {
	if opts.Classifier == nil {
		opts.Classifier = classify.New(classify.Config{OptionalRoot: opts.Filter.OptionalRoot})
	}
	if opts.Resolver == nil {
		opts.Resolver = resolve.New("")
	}
	if opts.Observer == nil {
		opts.Observer = types.NopObserver{}
	}
	return &Runner{opts: opts, machine: NewMachine(opts.OnState)}
}

// State returns the current run state.
func (r *Runner) State() State {
	return r.machine.State()
}

// History returns the states the run has passed through.
func (r *Runner) History() []State {
	return r.machine.History()
}

// Verify scans the tree and stops once repairs are planned.
func (r *Runner) Verify(ctx context.Context) (*Result, error) {
	res, err := r.scan(ctx, ModeVerify)
	if err != nil || res.State.Terminal() {
		return res, err
	}
	return r.finish(res, r.machine.To(StateDone))
}

// Repair scans the tree, asks confirm to approve the plan, installs the
// packages and re-verifies the files that were failing. A nil confirm
// approves every plan.
func (r *Runner) Repair(ctx context.Context, confirm Confirmer) (*Result, error) {
	if r.opts.Installer == nil {
		return nil, errors.New("run: repair requires an installer")
	}
	res, err := r.scan(ctx, ModeRepair)
	if err != nil || res.State.Terminal() {
		return res, err
	}

	if len(res.Packages) == 0 {
		logger.Info("nothing to repair")
		return r.finish(res, r.machine.To(StateDone))
	}

	if confirm == nil {
		confirm = AlwaysConfirm
	}
	ok, err := confirm.Confirm(ctx, Plan{Root: res.Root, Groups: res.Groups, Optional: res.Optional, Packages: res.Packages})
	if err != nil || !ok {
		if err != nil {
			logger.Warn("confirmation failed", "error", err)
		}
		res.Declined = true
		logger.Info("repair declined", "packages", len(res.Packages))
		return r.finish(res, r.machine.To(StateDone))
	}

	if err := r.machine.To(StateRepairing); err != nil {
		return r.finish(res, err)
	}
	if stop := r.install(ctx, res); stop != nil {
		return r.finish(res, stop)
	}

	if err := r.machine.To(StateVerifying); err != nil {
		return r.finish(res, err)
	}
	v := verify.New(verify.Options{Workers: r.opts.Workers, Observer: r.opts.Observer})
	report, err := v.Verify(ctx, res.Root, res.Scan.FailingPaths(), r.digests)
	if err != nil {
		return r.finish(res, err)
	}
	res.Verify = report
	return r.finish(res, r.machine.To(StateDone))
}

// scan runs FetchingManifest through AwaitingRepairConfirmation. The
// returned result is terminal when the run failed or was cancelled.
func (r *Runner) scan(ctx context.Context, mode string) (*Result, error) {
	res := &Result{Mode: mode, Root: r.opts.Root, Started: time.Now()}

	if err := r.machine.To(StateFetchingManifest); err != nil {
		return res, err
	}
	if err := checkRoot(r.opts.Root); err != nil {
		return r.fail(res, err)
	}
	if r.opts.Manifest == nil {
		return r.fail(res, fmt.Errorf("%w: no manifest source", types.ErrManifestUnavailable))
	}
	entries, err := r.opts.Manifest.Fetch(ctx)
	if err != nil {
		return r.fail(res, err)
	}
	entries = filter.Apply(entries, r.opts.Filter)
	r.digests = manifest.Index(entries)
	logger.Info("entries in scope", "count", len(entries), "excluded", r.opts.Filter.Excluded, "optional", r.opts.Filter.IncludeOptional)

	if err := r.machine.To(StateScanning); err != nil {
		return res, err
	}
	s, err := scanner.New(scanner.Options{
		Root:     r.opts.Root,
		Workers:  r.opts.Workers,
		Observer: r.opts.Observer,
		Cache:    r.opts.Cache,
	})
	if err != nil {
		return r.fail(res, err)
	}
	report, err := s.Scan(ctx, entries)
	if err != nil {
		return r.fail(res, err)
	}
	res.Scan = report
	if report.Cancelled {
		logger.Warn("scan cancelled", "scanned", report.Stats.Scanned, "total", report.Stats.Total)
		return r.finish(res, r.machine.To(StateCancelled))
	}

	if r.opts.FindOrphans {
		orphans, err := s.FindOrphans(ctx, entries)
		if err != nil && ctx.Err() == nil {
			logger.Warn("orphan search failed", "error", err)
		}
		res.Orphans = orphans
	}

	classified := r.opts.Classifier.Classify(report.Outcomes)
	res.Groups = classified.Groups
	res.Optional = classified.Optional
	res.Packages = r.opts.Resolver.Resolve(classified.Groups)
	if len(classified.Optional) > 0 {
		if r.opts.Filter.IncludeOptional {
			res.Packages = append(res.Packages, r.opts.Resolver.Optional())
		} else {
			logger.Info("optional track disabled, skipping", "paths", len(classified.Optional))
		}
	}

	if err := r.machine.To(StateAwaitingRepairConfirmation); err != nil {
		return res, err
	}
	return res, nil
}

// install applies packages in order. It returns a non-nil error only when
// the run must stop: the run is then Cancelled or Failed.
func (r *Runner) install(ctx context.Context, res *Result) error {
	count := len(res.Packages)
	for i, ref := range res.Packages {
		if ctx.Err() != nil {
			return r.cancel(res)
		}
		result, err := r.opts.Installer.Install(ctx, ref, i+1, count)
		switch {
		case err == nil:
			res.Installs = append(res.Installs, result)
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			return r.cancel(res)
		case errors.Is(err, installer.ErrScratch):
			res.Failures = append(res.Failures, PackageFailure{Package: ref, Error: err.Error()})
			logger.Error("installer cannot continue", "error", err)
			if terr := r.machine.To(StateFailed); terr != nil {
				return terr
			}
			return err
		default:
			res.Failures = append(res.Failures, PackageFailure{Package: ref, Error: err.Error()})
			logger.Error("package failed", "package", ref.Name(), "url", ref.URL, "error", err)
		}
	}
	return nil
}

func (r *Runner) cancel(res *Result) error {
	logger.Warn("repair cancelled", "installed", len(res.Installs), "packages", len(res.Packages))
	if err := r.machine.To(StateCancelled); err != nil {
		return err
	}
	return errStopped
}

// errStopped ends a run that reached a terminal state normally.
var errStopped = errors.New("run stopped")

func (r *Runner) fail(res *Result, err error) (*Result, error) {
	logger.Error("run failed", "state", r.machine.State(), "error", err)
	res.Err = err
	if terr := r.machine.To(StateFailed); terr != nil {
		err = terr
	}
	return r.finish(res, err)
}

// finish stamps the result and returns err as the run error. errStopped
// marks a normal stop and is not an error.
func (r *Runner) finish(res *Result, err error) (*Result, error) {
	res.State = r.machine.State()
	res.Elapsed = time.Since(res.Started)
	if err == nil || errors.Is(err, errStopped) {
		return res, nil
	}
	if res.Err == nil {
		res.Err = err
	}
	return res, err
}

func checkRoot(root string) error {
	if root == "" {
		return fmt.Errorf("%w: empty path", types.ErrInvalidRoot)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrInvalidRoot, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", types.ErrInvalidRoot, root)
	}
	return nil
}
