package manifest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jamesainslie/mender/pkg/mender/types"
)

const sample = `{
  "info": {"generated": "2025-01-01", "count": 3},
  "files": {
    "Game\\Bin\\TS4_x64.exe": "AAAA",
    "Data/Shared/a.dat": "bbbb",
    "Delta/EP05/x.package": "cccc"
  }
}`

func TestParse(t *testing.T) {
	entries, err := Parse(strings.NewReader(sample), "")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := []types.ManifestEntry{
		{Path: "Game/Bin/TS4_x64.exe", Digest: "aaaa"},
		{Path: "Data/Shared/a.dat", Digest: "bbbb"},
		{Path: "Delta/EP05/x.package", Digest: "cccc"},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseKeepsDuplicates(t *testing.T) {
	doc := `{"files": {"a/b.dat": "11", "a\\b.dat": "22"}}`
	entries, err := Parse(strings.NewReader(doc), "files")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if got := Index(entries)["a/b.dat"]; got != "22" {
		t.Errorf("Index() later duplicate should win, got %q", got)
	}
}

func TestParseEmptyFiles(t *testing.T) {
	entries, err := Parse(strings.NewReader(`{"files": {}}`), "files")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("len(entries) = %d, want 0", len(entries))
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `<html>`},
		{"array root", `[1, 2]`},
		{"missing key", `{"info": {}}`},
		{"files not object", `{"files": ["a"]}`},
		{"number digest", `{"files": {"a.dat": 12}}`},
		{"null digest", `{"files": {"a.dat": null}}`},
		{"nested digest", `{"files": {"a.dat": {"sha": "x"}}}`},
		{"empty digest", `{"files": {"a.dat": "  "}}`},
		{"empty path", `{"files": {"": "aa"}}`},
		{"truncated", `{"files": {"a.dat": "aa"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc), "files")
			if !errors.Is(err, types.ErrManifestMalformed) {
				t.Errorf("Parse() error = %v, want ErrManifestMalformed", err)
			}
		})
	}
}

func TestInvalid(t *testing.T) {
	good := strings.Repeat("ab", 32)
	entries := []types.ManifestEntry{
		{Path: "Game/Bin/a.exe", Digest: good},
		{Path: "Game/Bin/b.dll", Digest: "d41d8cd98f00b204e9800998ecf8427e"},
		{Path: "Data/c.dat", Digest: strings.Repeat("zz", 32)},
	}
	want := []string{"Game/Bin/b.dll", "Data/c.dat"}
	if diff := cmp.Diff(want, Invalid(entries)); diff != "" {
		t.Errorf("Invalid() mismatch (-want +got):\n%s", diff)
	}
	if got := Invalid(entries[:1]); got != nil {
		t.Errorf("Invalid() = %v, want nil", got)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`Game\Bin\TS4_x64.exe`, "Game/Bin/TS4_x64.exe"},
		{"./Data/Client/x", "Data/Client/x"},
		{"/Support/readme.txt", "Support/readme.txt"},
		{"../../etc/passwd", "etc/passwd"},
		{"Data//Shared/a", "Data/Shared/a"},
	}
	for _, tt := range tests {
		if got := NormalizePath(tt.in); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFetchHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "mender-test" {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sample))
	}))
	defer srv.Close()

	c := New(Options{Source: srv.URL + "/manifest.json", UserAgent: "mender-test"})
	entries, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("len(entries) = %d, want 3", len(entries))
	}
}

func TestFetchHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := New(Options{Source: srv.URL}).Fetch(context.Background())
	if !errors.Is(err, types.ErrManifestUnavailable) {
		t.Errorf("Fetch() error = %v, want ErrManifestUnavailable", err)
	}
}

func TestFetchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := New(Options{Source: addr}).Fetch(context.Background())
	if !errors.Is(err, types.ErrManifestUnavailable) {
		t.Errorf("Fetch() error = %v, want ErrManifestUnavailable", err)
	}
}

func TestFetchMalformedOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"files": {"a": 1}}`))
	}))
	defer srv.Close()

	_, err := New(Options{Source: srv.URL}).Fetch(context.Background())
	if !errors.Is(err, types.ErrManifestMalformed) {
		t.Errorf("Fetch() error = %v, want ErrManifestMalformed", err)
	}
}

func TestFetchLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.json")
	if err := os.WriteFile(path, []byte(`{"hashes": {"Support/a.txt": "AB"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, src := range []string{path, "file://" + filepath.ToSlash(path)} {
		entries, err := New(Options{Source: src, Key: "hashes"}).Fetch(context.Background())
		if err != nil {
			t.Fatalf("Fetch(%s) error = %v", src, err)
		}
		if len(entries) != 1 || entries[0].Digest != "ab" {
			t.Errorf("Fetch(%s) = %+v", src, entries)
		}
	}
}

func TestFetchNoSource(t *testing.T) {
	_, err := New(Options{}).Fetch(context.Background())
	if !errors.Is(err, types.ErrManifestUnavailable) {
		t.Errorf("Fetch() error = %v, want ErrManifestUnavailable", err)
	}
}
