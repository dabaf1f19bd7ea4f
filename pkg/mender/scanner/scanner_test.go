package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/jamesainslie/mender/pkg/mender/cache"
	"github.com/jamesainslie/mender/pkg/mender/types"
)

// tree writes files under a temp root and returns the root.
func tree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func sum(t *testing.T, content string) string {
	t.Helper()
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}

type recorder struct {
	mu     sync.Mutex
	scans  []types.ScanProgress
	onScan func(types.ScanProgress)
}

func (r *recorder) OnScan(p types.ScanProgress) {
	r.mu.Lock()
	r.scans = append(r.scans, p)
	r.mu.Unlock()
	if r.onScan != nil {
		r.onScan(p)
	}
}

func (r *recorder) OnInstall(types.InstallProgress) {}

func statusByPath(report *types.ScanReport) map[string]types.Status {
	m := make(map[string]types.Status, len(report.Outcomes))
	for _, o := range report.Outcomes {
		m[o.Path] = o.Status
	}
	return m
}

func TestOptionsValidate(t *testing.T) {
	opts := Options{Root: "/games"}
	if err := opts.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if opts.Workers != DefaultWorkers || opts.Observer == nil || opts.Stats == nil {
		t.Errorf("Validate() did not fill defaults: %+v", opts)
	}

	empty := Options{}
	if err := empty.Validate(); !errors.Is(err, ErrNoRoot) {
		t.Errorf("Validate() error = %v, want ErrNoRoot", err)
	}
}

func TestScanClassifiesFiles(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := tree(t, map[string]string{
		"Data/Shared/good.dat": "good",
		"Data/Client/bad.data": "tampered",
		"EP05/Data/x.package":  "expansion",
		"Game/Bin/TS4_x64.exe": "exe",
	})
	entries := []types.ManifestEntry{
		{Path: "Data/Shared/good.dat", Digest: sum(t, "good")},
		{Path: "Data/Client/bad.data", Digest: sum(t, "original")},
		{Path: "Data/Shared/gone.dat", Digest: sum(t, "gone")},
		{Path: "EP05/Data/x.package", Digest: strings.ToUpper(sum(t, "expansion"))},
		{Path: "Game/Bin", Digest: sum(t, "dir")},
	}

	for _, workers := range []int{1, 4} {
		s, err := New(Options{Root: root, Workers: workers})
		if err != nil {
			t.Fatal(err)
		}
		report, err := s.Scan(context.Background(), entries)
		if err != nil {
			t.Fatalf("Scan() error = %v", err)
		}

		want := map[string]types.Status{
			"Data/Shared/good.dat": types.StatusCorrect,
			"Data/Client/bad.data": types.StatusCorrupt,
			"Data/Shared/gone.dat": types.StatusMissing,
			"EP05/Data/x.package":  types.StatusCorrect,
			"Game/Bin":             types.StatusMissing,
		}
		got := statusByPath(report)
		for path, status := range want {
			if got[path] != status {
				t.Errorf("workers=%d %s = %v, want %v", workers, path, got[path], status)
			}
		}

		wantStats := types.StatsSnapshot{Total: 5, Scanned: 5, Correct: 2, Corrupt: 3, Missing: 2}
		if report.Stats != wantStats {
			t.Errorf("workers=%d Stats = %+v, want %+v", workers, report.Stats, wantStats)
		}
		if report.Cancelled {
			t.Error("report should not be cancelled")
		}
		if report.Outcomes[0].Path != "Data/Shared/good.dat" {
			t.Errorf("outcomes not in manifest order: %+v", report.Outcomes)
		}
	}
}

func TestScanEmpty(t *testing.T) {
	s, err := New(Options{Root: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	report, err := s.Scan(context.Background(), nil)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(report.Outcomes) != 0 || report.Stats.Total != 0 || report.Cancelled {
		t.Errorf("Scan() = %+v, want empty report", report)
	}
}

func TestScanInvalidRoot(t *testing.T) {
	s, err := New(Options{Root: filepath.Join(t.TempDir(), "nope")})
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Scan(context.Background(), []types.ManifestEntry{{Path: "a", Digest: "b"}})
	if !errors.Is(err, types.ErrInvalidRoot) {
		t.Errorf("Scan() error = %v, want ErrInvalidRoot", err)
	}
}

func TestScanDuplicateLaterWins(t *testing.T) {
	root := tree(t, map[string]string{"Support/a.txt": "v2"})
	entries := []types.ManifestEntry{
		{Path: "Support/a.txt", Digest: sum(t, "v1")},
		{Path: "Support/other.txt", Digest: sum(t, "x")},
		{Path: "Support/a.txt", Digest: sum(t, "v2")},
	}

	s, _ := New(Options{Root: root, Workers: 2})
	report, err := s.Scan(context.Background(), entries)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(report.Outcomes) != 2 {
		t.Fatalf("len(Outcomes) = %d, want 2", len(report.Outcomes))
	}
	if got := statusByPath(report)["Support/a.txt"]; got != types.StatusCorrect {
		t.Errorf("Support/a.txt = %v, want correct (later entry wins)", got)
	}
	if report.Stats.Total != 2 {
		t.Errorf("Total = %d, want 2", report.Stats.Total)
	}
}

func TestScanCancelAfterThree(t *testing.T) {
	defer goleak.VerifyNone(t)

	files := make(map[string]string)
	var entries []types.ManifestEntry
	for i := 0; i < 10; i++ {
		rel := filepath.ToSlash(filepath.Join("Data", "Shared", string(rune('a'+i))+".dat"))
		files[rel] = rel
		entries = append(entries, types.ManifestEntry{Path: rel, Digest: sum(t, rel)})
	}
	root := tree(t, files)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	obs := &recorder{onScan: func(p types.ScanProgress) {
		if p.Scanned == 3 {
			cancel()
		}
	}}

	s, _ := New(Options{Root: root, Workers: 1, Observer: obs})
	report, err := s.Scan(ctx, entries)
	if err != nil {
		t.Fatalf("Scan() error = %v, want nil on cancellation", err)
	}
	if !report.Cancelled {
		t.Error("report.Cancelled = false, want true")
	}
	if report.Stats.Scanned != 3 {
		t.Errorf("Scanned = %d, want 3", report.Stats.Scanned)
	}
	if len(report.Outcomes) != 3 {
		t.Errorf("len(Outcomes) = %d, want 3", len(report.Outcomes))
	}
	for rel, content := range files {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil || string(data) != content {
			t.Errorf("%s modified by scan", rel)
		}
	}
}

func TestScanIdempotent(t *testing.T) {
	root := tree(t, map[string]string{"Data/a": "1", "Data/b": "2"})
	entries := []types.ManifestEntry{
		{Path: "Data/a", Digest: sum(t, "1")},
		{Path: "Data/b", Digest: sum(t, "changed")},
		{Path: "Data/c", Digest: sum(t, "3")},
	}

	run := func() []types.ScanOutcome {
		s, _ := New(Options{Root: root, Workers: 3})
		r, err := s.Scan(context.Background(), entries)
		if err != nil {
			t.Fatal(err)
		}
		return r.Outcomes
	}

	first, second := run(), run()
	if len(first) != len(second) {
		t.Fatalf("outcome counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("outcome %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestScanProgressPerFile(t *testing.T) {
	root := tree(t, map[string]string{"Data/a": "1", "Data/b": "2", "Data/c": "3"})
	entries := []types.ManifestEntry{
		{Path: "Data/a", Digest: sum(t, "1")},
		{Path: "Data/b", Digest: sum(t, "2")},
		{Path: "Data/c", Digest: sum(t, "x")},
	}
	obs := &recorder{}
	s, _ := New(Options{Root: root, Workers: 1, Observer: obs})
	if _, err := s.Scan(context.Background(), entries); err != nil {
		t.Fatal(err)
	}

	var scanned []int64
	for _, p := range obs.scans {
		scanned = append(scanned, p.Scanned)
	}
	// start, one per file, final
	want := []int64{0, 1, 2, 3, 3}
	if len(scanned) != len(want) {
		t.Fatalf("progress = %v, want %v", scanned, want)
	}
	for i := range want {
		if scanned[i] != want[i] {
			t.Fatalf("progress = %v, want %v", scanned, want)
		}
	}
	last := obs.scans[len(obs.scans)-1]
	if last.Total != 3 || last.Correct != 2 || last.Corrupt != 1 {
		t.Errorf("final progress = %+v", last)
	}
}

func TestScanUsesDigestCache(t *testing.T) {
	root := tree(t, map[string]string{"Data/a": "content"})
	entries := []types.ManifestEntry{{Path: "Data/a", Digest: sum(t, "content")}}

	store, err := cache.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	first, _ := New(Options{Root: root, Cache: store})
	r1, err := first.Scan(context.Background(), entries)
	if err != nil {
		t.Fatal(err)
	}
	if r1.CacheHits != 0 {
		t.Errorf("first scan CacheHits = %d, want 0", r1.CacheHits)
	}

	second, _ := New(Options{Root: root, Cache: store})
	r2, err := second.Scan(context.Background(), entries)
	if err != nil {
		t.Fatal(err)
	}
	if r2.CacheHits != 1 {
		t.Errorf("second scan CacheHits = %d, want 1", r2.CacheHits)
	}
	if statusByPath(r2)["Data/a"] != types.StatusCorrect {
		t.Error("cached digest should still verify as correct")
	}
}

func TestFindOrphans(t *testing.T) {
	root := tree(t, map[string]string{
		"Data/Shared/a.dat":   "a",
		"Data/Shared/new.dat": "extra",
		"Data/Client/b.dat":   "b",
		"Mods/mine.package":   "not a manifest root",
		"top.txt":             "root file",
	})
	entries := []types.ManifestEntry{
		{Path: "Data/Shared/a.dat", Digest: "x"},
		{Path: "Data/Client/b.dat", Digest: "y"},
		{Path: "top.txt", Digest: "z"},
	}

	s, _ := New(Options{Root: root})
	orphans, err := s.FindOrphans(context.Background(), entries)
	if err != nil {
		t.Fatalf("FindOrphans() error = %v", err)
	}
	if !sort.StringsAreSorted(orphans) {
		t.Errorf("orphans not sorted: %v", orphans)
	}
	if len(orphans) != 1 || orphans[0] != "Data/Shared/new.dat" {
		t.Errorf("FindOrphans() = %v, want [Data/Shared/new.dat]", orphans)
	}
}

func TestDedupe(t *testing.T) {
	got := dedupe([]types.ManifestEntry{
		{Path: "a", Digest: "1"},
		{Path: "b", Digest: "2"},
		{Path: "a", Digest: "3"},
	})
	if len(got) != 2 || got[0].Path != "a" || got[0].Digest != "3" || got[1].Path != "b" {
		t.Errorf("dedupe() = %+v", got)
	}
}
