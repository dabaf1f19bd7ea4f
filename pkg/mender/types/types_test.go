package types

import (
	"encoding/json"
	"sync"
	"testing"
)

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusCorrect, "correct"},
		{StatusCorrupt, "corrupt"},
		{StatusMissing, "missing"},
		{Status(9), "status(9)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.status.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusFailing(t *testing.T) {
	if StatusCorrect.Failing() {
		t.Error("correct must not be failing")
	}
	if !StatusCorrupt.Failing() || !StatusMissing.Failing() {
		t.Error("corrupt and missing must be failing")
	}
}

func TestScanOutcomeJSON(t *testing.T) {
	data, err := json.Marshal(ScanOutcome{Path: "Data/a.dat", Status: StatusMissing})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"path":"Data/a.dat","status":"missing"}`
	if string(data) != want {
		t.Errorf("Marshal() = %s, want %s", data, want)
	}
}

func TestScanOutcomeJSONDecode(t *testing.T) {
	for _, status := range []Status{StatusCorrect, StatusCorrupt, StatusMissing} {
		data, err := json.Marshal(ScanOutcome{Path: "Data/a.dat", Status: status, Err: "x"})
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		var got ScanOutcome
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", data, err)
		}
		if got.Status != status || got.Path != "Data/a.dat" || got.Err != "x" {
			t.Errorf("Unmarshal(%s) = %+v", data, got)
		}
	}

	var o ScanOutcome
	if err := json.Unmarshal([]byte(`{"path":"a","status":"broken"}`), &o); err == nil {
		t.Error("Unmarshal() accepted an unknown status")
	}
}

func TestStatsRecordConcurrent(t *testing.T) {
	var stats Stats
	stats.Total.Store(300)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); stats.Record(StatusCorrect) }()
		go func() { defer wg.Done(); stats.Record(StatusCorrupt) }()
		go func() { defer wg.Done(); stats.Record(StatusMissing) }()
	}
	wg.Wait()

	got := stats.Snapshot()
	want := StatsSnapshot{Total: 300, Scanned: 300, Correct: 100, Corrupt: 200, Missing: 100}
	if got != want {
		t.Errorf("Snapshot() = %+v, want %+v", got, want)
	}
}

func TestScanReportFailing(t *testing.T) {
	r := &ScanReport{Outcomes: []ScanOutcome{
		{Path: "a", Status: StatusCorrect},
		{Path: "b", Status: StatusMissing},
		{Path: "c", Status: StatusCorrupt},
	}}

	failing := r.Failing()
	if len(failing) != 2 || failing[0].Path != "b" || failing[1].Path != "c" {
		t.Errorf("Failing() = %+v", failing)
	}
}

func TestPackageRefName(t *testing.T) {
	p := PackageRef{URL: "https://example.com/base/Data/Data-Shared.zip"}
	if got := p.Name(); got != "Data-Shared.zip" {
		t.Errorf("Name() = %q", got)
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{1024, "1.0 KiB"},
		{1536 * 1024, "1.5 MiB"},
		{-1, "?"},
	}
	for _, tt := range tests {
		if got := FormatSize(tt.bytes); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}

func TestFormatRate(t *testing.T) {
	if got := FormatRate(0); got != "-" {
		t.Errorf("FormatRate(0) = %q", got)
	}
	if got := FormatRate(2048); got != "2.0 KiB/s" {
		t.Errorf("FormatRate(2048) = %q", got)
	}
}
