package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/mender/cmd/mender/tui"
	"github.com/jamesainslie/mender/pkg/mender/cache"
	"github.com/jamesainslie/mender/pkg/mender/classify"
	"github.com/jamesainslie/mender/pkg/mender/config"
	"github.com/jamesainslie/mender/pkg/mender/filter"
	"github.com/jamesainslie/mender/pkg/mender/gamedir"
	"github.com/jamesainslie/mender/pkg/mender/history"
	"github.com/jamesainslie/mender/pkg/mender/installer"
	"github.com/jamesainslie/mender/pkg/mender/manifest"
	"github.com/jamesainslie/mender/pkg/mender/output"
	"github.com/jamesainslie/mender/pkg/mender/resolve"
	"github.com/jamesainslie/mender/pkg/mender/run"
	"github.com/jamesainslie/mender/pkg/mender/tuner"
	"github.com/jamesainslie/mender/pkg/mender/types"
)

// annotationProgress marks commands that can show the live progress view.
const annotationProgress = "progress"

// session holds everything one verify or repair command needs.
type session struct {
	cfg       *config.Config
	mode      string
	root      string
	workers   int
	orphans   bool
	yes       bool
	formatter output.Formatter
	store     *cache.Store
	stdin     io.Reader
	stdout    io.Writer
	stderr    io.Writer
}

// runSession executes a verify or repair command end to end.
func runSession(cmd *cobra.Command, mode string, args []string) error {
	s, err := newSession(cmd, mode, args)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var res *run.Result
	if progressView(cmd) {
		res, err = tui.Run(mode, s.root, cancel, s.stderr, func(b *tui.Bridge) (*run.Result, error) {
			var confirm run.Confirmer = b
			if s.yes {
				confirm = run.AlwaysConfirm
			}
			return s.execute(ctx, b, b.OnState, confirm)
		})
	} else {
		printInfo("Checking %s", s.root)
		obs := &textObserver{w: s.stderr}
		var confirm run.Confirmer = run.AlwaysConfirm
		if !s.yes {
			confirm = &promptConfirmer{in: s.stdin, out: s.stderr}
		}
		res, err = s.execute(ctx, obs, nil, confirm)
	}
	if res == nil {
		return err
	}

	s.record(res)
	if err := s.report(res); err != nil {
		return err
	}
	return exitStatus(res, err)
}

func newSession(cmd *cobra.Command, mode string, args []string) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	var arg string
	if len(args) > 0 {
		if arg, err = config.ExpandPath(args[0]); err != nil {
			return nil, err
		}
	}
	root, err := gamedir.Prompt{Arg: arg, Default: cfg.DefaultPath}.Root()
	if err != nil {
		return nil, fmt.Errorf("no installation to check: %w (pass the install folder as an argument)", err)
	}

	formatter, err := pickFormatter()
	if err != nil {
		return nil, err
	}

	s := &session{
		cfg:       cfg,
		mode:      mode,
		root:      root,
		workers:   planWorkers(cfg.Workers),
		formatter: formatter,
		stdin:     cmd.InOrStdin(),
		stdout:    cmd.OutOrStdout(),
		stderr:    cmd.ErrOrStderr(),
	}
	if mode == run.ModeVerify {
		s.orphans, _ = cmd.Flags().GetBool("orphans")
	} else {
		s.yes, _ = cmd.Flags().GetBool("yes")
	}

	if cfg.Cache.Enabled {
		store, err := cache.Open(cfg.CacheDir())
		if err != nil {
			printInfo("Digest cache unavailable, hashing every file: %v", err)
		} else {
			s.store = store
		}
	}
	return s, nil
}

func (s *session) close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			printVerbose("Closing digest cache: %v", err)
		}
	}
}

// progressView reports whether cmd runs with the live progress view.
func progressView(cmd *cobra.Command) bool {
	if cmd.Annotations[annotationProgress] != "true" {
		return false
	}
	if viper.GetBool("no_progress") || getQuiet() {
		return false
	}
	if viper.GetString("output") != "pretty" {
		return false
	}
	return isTerminal(os.Stderr) && isTerminal(os.Stdin)
}

// execute builds the run components around obs and runs the mode.
func (s *session) execute(ctx context.Context, obs types.Observer, onState func(from, to run.State), confirm run.Confirmer) (*run.Result, error) {
	cfg := s.cfg
	timeout, err := time.ParseDuration(cfg.Manifest.Timeout)
	if err != nil {
		timeout = 0
	}
	ua := cfg.Packages.UserAgent
	if ua == "" {
		ua = userAgent()
	}

	filt := filter.Config{
		Excluded:        cfg.Exclude,
		IncludeOptional: cfg.IncludeOptional,
		OptionalRoot:    cfg.OptionalRoot,
	}
	ccfg := classify.DefaultConfig()
	ccfg.OptionalRoot = filt.Optional()
	if len(cfg.Classify.UnitPrefixes) > 0 {
		ccfg.UnitPrefixes = cfg.Classify.UnitPrefixes
	}
	ccfg.DeltaUnitsOnly = cfg.Classify.DeltaUnitsOnly

	opts := run.Options{
		Root:        s.root,
		Manifest:    manifest.New(manifest.Options{Source: cfg.Manifest.URL, Key: cfg.Manifest.Key, Timeout: timeout, UserAgent: ua}),
		Filter:      filt,
		Workers:     s.workers,
		Cache:       s.store,
		Classifier:  classify.New(ccfg),
		Resolver:    resolve.New(cfg.Packages.BaseURL),
		Observer:    obs,
		OnState:     onState,
		FindOrphans: s.orphans,
	}
	printVerbose("Manifest %s, packages %s, %d workers", cfg.Manifest.URL, cfg.Packages.BaseURL, s.workers)

	if s.mode == run.ModeVerify {
		return run.New(opts).Verify(ctx)
	}
	opts.Installer = installer.New(installer.Options{Root: s.root, UserAgent: ua, Observer: obs})
	return run.New(opts).Repair(ctx, confirm)
}

// record stores the run in history. Failures are reported, not fatal.
func (s *session) record(res *run.Result) {
	if !s.cfg.History.Enabled {
		return
	}
	h, err := history.New(s.cfg.HistoryDir())
	if err != nil {
		printVerbose("History disabled: %v", err)
		return
	}
	entry, err := h.Record(res)
	if err != nil {
		printVerbose("Failed to record run: %v", err)
		return
	}
	printVerbose("Recorded run %s", entry.ID)
}

func (s *session) report(res *run.Result) error {
	out, err := render(s.formatter, output.NewReport(res))
	if err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	fmt.Fprint(s.stdout, out)
	return nil
}

// exitStatus maps the run outcome to the process exit code.
func exitStatus(res *run.Result, err error) error {
	switch {
	case res.State == run.StateFailed:
		if err == nil {
			err = res.Err
		}
		if err != nil {
			printError("%v", err)
		}
		return &exitError{code: exitFailed}
	case res.State == run.StateCancelled:
		return &exitError{code: exitCancelled}
	case err != nil:
		return err
	case res.OK():
		return nil
	default:
		return &exitError{code: exitIncomplete}
	}
}

// planWorkers sizes the hashing pool, honoring an explicit override.
func planWorkers(override int) int {
	res, err := tuner.Detect()
	if err != nil {
		printVerbose("Failed to detect system resources, using defaults: %v", err)
		res = tuner.Resources{CPUCores: 4, AvailableRAM: 4 * types.GiB}
	}
	plan := tuner.CalculateWithOverride(res, override)
	printVerbose("System: %d CPUs, %s available, %d hashing workers",
		res.CPUCores, types.FormatSize(res.AvailableRAM), plan.HashWorkers)
	return plan.HashWorkers
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// textObserver prints install progress lines when no progress view runs.
type textObserver struct {
	w io.Writer
}

func (o *textObserver) OnScan(types.ScanProgress) {}

func (o *textObserver) OnInstall(p types.InstallProgress) {
	if getQuiet() {
		return
	}
	switch p.Phase {
	case types.PhaseDownload:
		fmt.Fprintf(o.w, "[%d/%d] %s  %s / %s  %s\n", p.Index, p.Count, p.Package,
			types.FormatSize(p.BytesDownloaded), types.FormatSize(p.TotalBytes), types.FormatRate(p.RateBps))
	default:
		fmt.Fprintf(o.w, "[%d/%d] %s  %s\n", p.Index, p.Count, p.Package, p.Phase)
	}
}

// promptConfirmer asks on the terminal before a repair downloads anything.
type promptConfirmer struct {
	in  io.Reader
	out io.Writer
}

func (c *promptConfirmer) Confirm(_ context.Context, plan run.Plan) (bool, error) {
	describePlan(c.out, plan)
	fmt.Fprint(c.out, "Download and install? [y/N] ")

	line, err := bufio.NewReader(c.in).ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(c.out)
		if err == io.EOF {
			return false, nil
		}
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// describePlan writes the packages a repair would install.
func describePlan(w io.Writer, plan run.Plan) {
	failing := len(plan.Optional)
	for _, g := range plan.Groups {
		failing += len(g.Members)
	}
	fmt.Fprintf(w, "%d failing files in %s, %d packages to install:\n", failing, plan.Root, len(plan.Packages))
	for _, p := range plan.Packages {
		fmt.Fprintf(w, "  %s\n", p.URL)
	}
}

// pickFormatter resolves -o, applying --template to the template formatter.
func pickFormatter() (output.Formatter, error) {
	name := viper.GetString("output")
	if tmpl := viper.GetString("template"); name == "template" && tmpl != "" {
		return output.NewTemplateFormatter(tmpl), nil
	}
	f, err := output.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w (available: %s)", err, strings.Join(output.Available(), ", "))
	}
	return f, nil
}

func render(f output.Formatter, r *output.Report) (string, error) {
	var buf bytes.Buffer
	if err := f.Format(&buf, r); err != nil {
		return "", err
	}
	return buf.String(), nil
}
