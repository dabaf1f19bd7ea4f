package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	return home
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Manifest.URL != DefaultManifestURL {
		t.Errorf("Manifest.URL = %q, want %q", cfg.Manifest.URL, DefaultManifestURL)
	}
	if cfg.Manifest.Key != DefaultManifestKey {
		t.Errorf("Manifest.Key = %q, want %q", cfg.Manifest.Key, DefaultManifestKey)
	}
	if cfg.Packages.BaseURL != DefaultPackagesURL {
		t.Errorf("Packages.BaseURL = %q", cfg.Packages.BaseURL)
	}
	if !reflect.DeepEqual(cfg.Exclude, DefaultExclusions) {
		t.Errorf("Exclude = %v, want %v", cfg.Exclude, DefaultExclusions)
	}
	if cfg.IncludeOptional {
		t.Error("IncludeOptional = true, want false")
	}
	if cfg.OptionalRoot != DefaultOptionalRoot {
		t.Errorf("OptionalRoot = %q", cfg.OptionalRoot)
	}
	if !reflect.DeepEqual(cfg.Classify.UnitPrefixes, DefaultUnitPrefixes) {
		t.Errorf("UnitPrefixes = %v", cfg.Classify.UnitPrefixes)
	}
	if cfg.Classify.DeltaUnitsOnly {
		t.Error("DeltaUnitsOnly = true, want false")
	}
	if cfg.Workers != 0 {
		t.Errorf("Workers = %d, want 0", cfg.Workers)
	}
	if cfg.Cache.Enabled {
		t.Error("Cache.Enabled = true, want false")
	}
	if !cfg.History.Enabled {
		t.Error("History.Enabled = false, want true")
	}
	if cfg.History.RetentionDays != DefaultRetentionDays {
		t.Errorf("RetentionDays = %d", cfg.History.RetentionDays)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestLoad_FromFile(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ".config", "mender")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := `
manifest:
  url: https://mirror.test/hashes.json
  key: hashes
default_path: ~/games/ts4
exclude: [__Installer, Support]
include_optional: true
workers: 6
history:
  path: ~/mender-history
  retention_days: 7
logging:
  level: debug
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Manifest.URL != "https://mirror.test/hashes.json" || cfg.Manifest.Key != "hashes" {
		t.Errorf("Manifest = %+v", cfg.Manifest)
	}
	if cfg.DefaultPath != filepath.Join(home, "games", "ts4") {
		t.Errorf("DefaultPath = %q, want ~ expanded", cfg.DefaultPath)
	}
	if !reflect.DeepEqual(cfg.Exclude, []string{"__Installer", "Support"}) {
		t.Errorf("Exclude = %v", cfg.Exclude)
	}
	if !cfg.IncludeOptional || cfg.Workers != 6 {
		t.Errorf("IncludeOptional = %v, Workers = %d", cfg.IncludeOptional, cfg.Workers)
	}
	if cfg.HistoryDir() != filepath.Join(home, "mender-history") || cfg.History.RetentionDays != 7 {
		t.Errorf("History = %+v", cfg.History)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
	// Unset keys keep their defaults.
	if cfg.Packages.BaseURL != DefaultPackagesURL {
		t.Errorf("Packages.BaseURL = %q", cfg.Packages.BaseURL)
	}
}

func TestLoad_XDGConfigHome(t *testing.T) {
	isolate(t)
	xdgHome := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdgHome)

	dir := filepath.Join(xdgHome, "mender")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("workers: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Workers != 3 {
		t.Errorf("Workers = %d, want 3", cfg.Workers)
	}
}

func TestLoad_Env(t *testing.T) {
	isolate(t)
	t.Setenv("MENDER_WORKERS", "12")
	t.Setenv("MENDER_MANIFEST_URL", "file:///tmp/hashes.json")
	t.Setenv("MENDER_INCLUDE_OPTIONAL", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Workers != 12 {
		t.Errorf("Workers = %d, want 12", cfg.Workers)
	}
	if cfg.Manifest.URL != "file:///tmp/hashes.json" {
		t.Errorf("Manifest.URL = %q", cfg.Manifest.URL)
	}
	if !cfg.IncludeOptional {
		t.Error("IncludeOptional = false, want true")
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	home := isolate(t)
	dir := filepath.Join(home, ".config", "mender")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("workers: [unclosed\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(); err == nil {
		t.Error("Load() error = nil, want parse error")
	}
}

func TestWriteDefault(t *testing.T) {
	home := isolate(t)

	path, written, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if !written {
		t.Fatal("WriteDefault() did not write a file")
	}
	if path != filepath.Join(home, ".config", "mender", "config.yaml") {
		t.Errorf("path = %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), DefaultManifestURL) {
		t.Error("default config does not mention the manifest URL")
	}

	// The written file must load back to the defaults.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() after WriteDefault error = %v", err)
	}
	if cfg.Packages.BaseURL != DefaultPackagesURL || cfg.History.RetentionDays != DefaultRetentionDays {
		t.Errorf("round trip config = %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.Classify.UnitPrefixes, DefaultUnitPrefixes) {
		t.Errorf("UnitPrefixes = %v", cfg.Classify.UnitPrefixes)
	}

	if _, written, err := WriteDefault(); err != nil || written {
		t.Errorf("second WriteDefault() = written %v, err %v; want untouched", written, err)
	}
}

func TestLoggingOptions(t *testing.T) {
	isolate(t)
	v := viper.New()
	SetDefaults(v)
	v.Set("logging.rotation.max_size", "1MiB")
	v.Set("logging.rotation.max_backups", 5)
	cfg, err := Decode(v)
	if err != nil {
		t.Fatal(err)
	}

	opts, err := cfg.LoggingOptions()
	if err != nil {
		t.Fatalf("LoggingOptions() error = %v", err)
	}
	if opts.Rotation.MaxSize != 1<<20 || opts.Rotation.MaxBackups != 5 {
		t.Errorf("Rotation = %+v", opts.Rotation)
	}
	if opts.Components["cache"] != "warn" {
		t.Errorf("Components = %v", opts.Components)
	}

	cfg.Logging.Rotation.MaxSize = "lots"
	if _, err := cfg.LoggingOptions(); err == nil {
		t.Error("LoggingOptions() error = nil for invalid size")
	}
}

func TestExpandPath(t *testing.T) {
	home := isolate(t)

	tests := []struct {
		in, want string
	}{
		{"~/x", filepath.Join(home, "x")},
		{"/abs/path", "/abs/path"},
		{"", ""},
	}
	for _, tt := range tests {
		got, err := ExpandPath(tt.in)
		if err != nil {
			t.Fatalf("ExpandPath(%q) error = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDirs(t *testing.T) {
	cfg := &Config{}
	if cfg.HistoryDir() == "" || cfg.CacheDir() == "" {
		t.Error("default directories are empty")
	}
	cfg.Cache.Path = "/tmp/c"
	if cfg.CacheDir() != "/tmp/c" {
		t.Errorf("CacheDir() = %q", cfg.CacheDir())
	}
}
