package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/jamesainslie/mender/pkg/mender/cache"
	"github.com/jamesainslie/mender/pkg/mender/logging"
)

// EnvPrefix prefixes every environment override, e.g. MENDER_WORKERS.
const EnvPrefix = "MENDER"

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level"`
	Path       string            `mapstructure:"path"`
	Rotation   RotationConfig    `mapstructure:"rotation"`
	Components map[string]string `mapstructure:"components"`
}

// Config represents the application configuration.
type Config struct {
	Manifest struct {
		URL     string `mapstructure:"url"`
		Key     string `mapstructure:"key"`
		Timeout string `mapstructure:"timeout"`
	} `mapstructure:"manifest"`
	Packages struct {
		BaseURL   string `mapstructure:"base_url"`
		UserAgent string `mapstructure:"user_agent"`
	} `mapstructure:"packages"`
	DefaultPath     string   `mapstructure:"default_path"`
	Exclude         []string `mapstructure:"exclude"`
	IncludeOptional bool     `mapstructure:"include_optional"`
	OptionalRoot    string   `mapstructure:"optional_root"`
	Classify        struct {
		UnitPrefixes   []string `mapstructure:"unit_prefixes"`
		DeltaUnitsOnly bool     `mapstructure:"delta_units_only"`
	} `mapstructure:"classify"`
	Workers int `mapstructure:"workers"`
	Cache   struct {
		Enabled bool   `mapstructure:"enabled"`
		Path    string `mapstructure:"path"`
	} `mapstructure:"cache"`
	History struct {
		Enabled       bool   `mapstructure:"enabled"`
		Path          string `mapstructure:"path"`
		RetentionDays int    `mapstructure:"retention_days"`
	} `mapstructure:"history"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("manifest.url", DefaultManifestURL)
	v.SetDefault("manifest.key", DefaultManifestKey)
	v.SetDefault("manifest.timeout", "2m")
	v.SetDefault("packages.base_url", DefaultPackagesURL)
	v.SetDefault("packages.user_agent", "")
	v.SetDefault("default_path", "")
	v.SetDefault("exclude", DefaultExclusions)
	v.SetDefault("include_optional", false)
	v.SetDefault("optional_root", DefaultOptionalRoot)
	v.SetDefault("classify.unit_prefixes", DefaultUnitPrefixes)
	v.SetDefault("classify.delta_units_only", false)
	v.SetDefault("workers", 0)
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.path", "")
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "")
	v.SetDefault("history.retention_days", DefaultRetentionDays)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.rotation.max_size", DefaultLogMaxSize)
	v.SetDefault("logging.rotation.max_backups", DefaultLogMaxBackups)
	v.SetDefault("logging.components", map[string]string{
		"scanner":   "info",
		"installer": "info",
		"cache":     "warn",
	})
}

// Load reads configuration from the config file and MENDER_ environment
// variables. Config file locations, in order of precedence:
//   - $XDG_CONFIG_HOME/mender/config.yaml
//   - $HOME/.config/mender/config.yaml
func Load() (*Config, error) {
	v := viper.New()
	if err := Setup(v); err != nil {
		return nil, err
	}
	return Decode(v)
}

// Setup points v at the config file locations, binds the environment and
// registers defaults, then reads the file if present.
func Setup(v *viper.Viper) error {
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	v.AddConfigPath(dir)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

// Decode unmarshals v into a Config and expands ~ in paths.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for _, p := range []*string{&cfg.DefaultPath, &cfg.Cache.Path, &cfg.History.Path, &cfg.Logging.Path} {
		expanded, err := ExpandPath(*p)
		if err != nil {
			return nil, err
		}
		*p = expanded
	}
	return &cfg, nil
}

// LoggingOptions converts the logging section for logging.Init.
func (c *Config) LoggingOptions() (logging.Config, error) {
	rotation := logging.DefaultRotationConfig()
	if c.Logging.Rotation.MaxSize != "" {
		size, err := humanize.ParseBytes(c.Logging.Rotation.MaxSize)
		if err != nil {
			return logging.Config{}, fmt.Errorf("invalid logging.rotation.max_size %q: %w", c.Logging.Rotation.MaxSize, err)
		}
		rotation.MaxSize = int64(size)
	}
	if c.Logging.Rotation.MaxBackups > 0 {
		rotation.MaxBackups = c.Logging.Rotation.MaxBackups
	}
	return logging.Config{
		Level:      c.Logging.Level,
		Path:       c.Logging.Path,
		Rotation:   rotation,
		Components: c.Logging.Components,
	}, nil
}

// HistoryDir returns the configured history directory or the default.
func (c *Config) HistoryDir() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return filepath.Join(StateDir(), "history")
}

// CacheDir returns the configured digest cache directory or the default.
func (c *Config) CacheDir() string {
	if c.Cache.Path != "" {
		return c.Cache.Path
	}
	return cache.DefaultPath()
}

// ConfigDir returns the configuration directory.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, "mender"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "mender"), nil
}

// ConfigPath returns the config file path.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// StateDir returns $XDG_STATE_HOME/mender for logs and history.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "mender")
}

// WriteDefault writes a commented default config file unless one exists.
// It returns the path and whether a file was written.
func WriteDefault() (string, bool, error) {
	path, err := ConfigPath()
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	} else if !os.IsNotExist(err) {
		return "", false, fmt.Errorf("failed to check config file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(`# mender configuration

manifest:
  # Digest manifest: http(s) URL, file:// URL or local path
  url: %s
  # Top-level key holding the path to digest mapping
  key: %s
  timeout: 2m

packages:
  # Repair packages are fetched from <base_url>/<root>/<key>.zip.
  # s3+https://host/bucket/prefix mirrors are supported.
  base_url: %s

# Installation root used when none is given on the command line.
# Empty means auto-detect.
default_path: ""

# Top-level folders never checked or repaired
exclude:
  - __Installer

# Check and repair the optional folder
include_optional: false
optional_root: %s

classify:
  # Folder prefixes that mark expansion units (EP05, GP01, ...)
  unit_prefixes: [EP, GP, SP, FP]
  # Repair top-level unit folders (EP05/...) file by file instead of whole
  delta_units_only: false

# Hashing workers; 0 sizes the pool from CPU and memory
workers: 0

# Reuse digests of unchanged files between runs
cache:
  enabled: false
  path: ""

# Record every run
history:
  enabled: true
  path: ""
  retention_days: %d

logging:
  # debug, info, warn, error
  level: info
  # Empty means $XDG_STATE_HOME/mender/mender.log
  path: ""
  rotation:
    max_size: %s
    max_backups: %d
  components:
    scanner: info
    installer: info
    cache: warn
`, DefaultManifestURL, DefaultManifestKey, DefaultPackagesURL, DefaultOptionalRoot,
		DefaultRetentionDays, DefaultLogMaxSize, DefaultLogMaxBackups)

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", false, fmt.Errorf("failed to write default config: %w", err)
	}
	return path, true, nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, path[1:]), nil
}
