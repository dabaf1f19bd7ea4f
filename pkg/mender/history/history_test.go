package history

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/jamesainslie/mender/pkg/mender/run"
	"github.com/jamesainslie/mender/pkg/mender/types"
)

func repairResult() *run.Result {
	ok := types.PackageRef{Key: "EP05", URL: "https://example.test/EP05/EP05.zip", ExtractRoot: "EP05"}
	bad := types.PackageRef{Key: "Game-Bin", URL: "https://example.test/Game/Game-Bin.zip", ExtractRoot: "Game/Bin"}
	skipped := types.PackageRef{Key: "Support", URL: "https://example.test/Support/Support.zip"}
	return &run.Result{
		Mode:  run.ModeRepair,
		State: run.StateDone,
		Root:  "/games/ts4",
		Scan: &types.ScanReport{
			Outcomes: []types.ScanOutcome{
				{Path: "EP05/a.package", Status: types.StatusCorrupt},
				{Path: "Game/Bin/x.dll", Status: types.StatusMissing},
				{Path: "Data/ok", Status: types.StatusCorrect},
			},
			Stats: types.StatsSnapshot{Total: 3, Scanned: 3, Correct: 1, Corrupt: 2, Missing: 1},
		},
		Groups:   []types.CorruptionGroup{{Key: "EP05"}, {Key: "Game-Bin"}},
		Packages: []types.PackageRef{ok, bad, skipped},
		Installs: []*types.InstallResult{{Package: ok}},
		Failures: []run.PackageFailure{{Package: bad, Error: "download failed: 404"}},
		Verify: &types.VerifyReport{
			Repaired:     []string{"EP05/a.package"},
			StillFailing: []types.ScanOutcome{{Path: "Game/Bin/x.dll", Status: types.StatusMissing}},
		},
		Elapsed: 2 * time.Second,
	}
}

func TestNew(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("New(\"\") error = nil, want error")
	}
	h, err := New(t.TempDir())
	if err != nil || h == nil {
		t.Fatalf("New() = %v, %v", h, err)
	}
}

func TestEnsureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "history")
	h, err := New(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.EnsureDir(); err != nil {
		t.Fatalf("EnsureDir() error = %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("directory not created: %v", err)
	}
}

func TestFromResult(t *testing.T) {
	e := FromResult(repairResult())

	if e.Mode != "repair" || e.State != "done" || e.OK {
		t.Errorf("entry header = %q %q ok=%v", e.Mode, e.State, e.OK)
	}
	want := Summary{Total: 3, Correct: 1, Corrupt: 2, Missing: 1, Groups: 2, Repaired: 1, StillFailing: 1}
	if e.Summary != want {
		t.Errorf("Summary = %+v, want %+v", e.Summary, want)
	}
	if len(e.Failing) != 2 {
		t.Errorf("Failing = %v, want 2 entries", e.Failing)
	}

	statuses := map[string]string{}
	for _, p := range e.Packages {
		statuses[p.Key] = p.Status
	}
	for key, want := range map[string]string{"EP05": run.PackageInstalled, "Game-Bin": run.PackageFailed, "Support": run.PackageSkipped} {
		if statuses[key] != want {
			t.Errorf("package %s status = %q, want %q", key, statuses[key], want)
		}
	}
	if e.Packages[1].Error == "" {
		t.Error("failed package has no error")
	}
}

func TestFromResultFailedRun(t *testing.T) {
	res := &run.Result{Mode: run.ModeVerify, State: run.StateFailed, Err: types.ErrManifestUnavailable}
	e := FromResult(res)
	if e.State != "failed" || e.Error == "" || e.OK {
		t.Errorf("entry = %+v", e)
	}
	if e.Summary != (Summary{}) {
		t.Errorf("Summary = %+v, want zero", e.Summary)
	}
}

func TestRecordAndGet(t *testing.T) {
	h, err := New(filepath.Join(t.TempDir(), "history"))
	if err != nil {
		t.Fatal(err)
	}

	entry, err := h.Record(repairResult())
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if !regexp.MustCompile(`^repair-\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}-[0-9a-f]{8}$`).MatchString(entry.ID) {
		t.Errorf("ID = %q has unexpected format", entry.ID)
	}
	if _, err := os.Stat(filepath.Join(h.Dir(), entry.ID+".json.tmp")); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}

	got, err := h.Get(entry.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != entry.ID || got.Summary != entry.Summary || len(got.Packages) != 3 {
		t.Errorf("Get() = %+v, want %+v", got, entry)
	}

	if _, err := h.Get("verify-missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrNotFound", err)
	}
	if _, err := h.Get("../escape"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(path) error = %v, want ErrNotFound", err)
	}
	if _, err := h.Get(""); err == nil {
		t.Error("Get(\"\") error = nil")
	}
}

func TestRecordKeepsFailingOutcomes(t *testing.T) {
	h, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	entry, err := h.Record(repairResult())
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	want := []types.ScanOutcome{
		{Path: "EP05/a.package", Status: types.StatusCorrupt},
		{Path: "Game/Bin/x.dll", Status: types.StatusMissing},
	}

	entries, err := h.List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("List() returned %d entries, want 1", len(entries))
	}
	got, err := h.Get(entry.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	for name, e := range map[string]Entry{"List": entries[0], "Get": *got} {
		if len(e.Failing) != len(want) {
			t.Fatalf("%s: Failing = %+v, want %+v", name, e.Failing, want)
		}
		for i := range want {
			if e.Failing[i] != want[i] {
				t.Errorf("%s: Failing[%d] = %+v, want %+v", name, i, e.Failing[i], want[i])
			}
		}
	}
}

func TestRecordNil(t *testing.T) {
	h, _ := New(t.TempDir())
	if _, err := h.Record(nil); err == nil {
		t.Error("Record(nil) error = nil")
	}
}

func TestListNewestFirst(t *testing.T) {
	h, _ := New(t.TempDir())

	var ids []string
	for i := 0; i < 3; i++ {
		e, err := h.Record(&run.Result{Mode: run.ModeVerify, State: run.StateDone})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, e.ID)
		time.Sleep(2 * time.Millisecond)
	}
	if err := os.WriteFile(filepath.Join(h.Dir(), "garbage.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	all, err := h.List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List() returned %d entries, want 3", len(all))
	}
	for i, e := range all {
		if e.ID != ids[len(ids)-1-i] {
			t.Errorf("List()[%d] = %s, want %s", i, e.ID, ids[len(ids)-1-i])
		}
	}

	limited, _ := h.List(2)
	if len(limited) != 2 || limited[0].ID != ids[2] {
		t.Errorf("List(2) = %v", limited)
	}
}

func TestListMissingDir(t *testing.T) {
	h, _ := New(filepath.Join(t.TempDir(), "nope"))
	entries, err := h.List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if entries == nil || len(entries) != 0 {
		t.Errorf("List() = %v, want empty slice", entries)
	}
}

func TestCleanup(t *testing.T) {
	h, _ := New(t.TempDir())
	old, _ := h.Record(&run.Result{Mode: run.ModeVerify})
	fresh, _ := h.Record(&run.Result{Mode: run.ModeVerify})

	past := time.Now().AddDate(0, 0, -10)
	if err := os.Chtimes(filepath.Join(h.Dir(), old.ID+".json"), past, past); err != nil {
		t.Fatal(err)
	}

	if n, _ := h.Cleanup(0); n != 0 {
		t.Errorf("Cleanup(0) removed %d, want 0", n)
	}
	n, err := h.Cleanup(7)
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Cleanup() removed %d, want 1", n)
	}
	if _, err := h.Get(old.ID); !errors.Is(err, ErrNotFound) {
		t.Error("old entry still present")
	}
	if _, err := h.Get(fresh.ID); err != nil {
		t.Errorf("fresh entry removed: %v", err)
	}
}

func TestConcurrentRecord(t *testing.T) {
	h, _ := New(t.TempDir())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.Record(&run.Result{Mode: run.ModeVerify}); err != nil {
				t.Errorf("Record() error = %v", err)
			}
		}()
	}
	wg.Wait()

	entries, _ := h.List(0)
	if len(entries) != 10 {
		t.Errorf("List() returned %d entries, want 10", len(entries))
	}
}
