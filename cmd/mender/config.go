package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/mender/pkg/mender/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage mender configuration settings.

Configuration is loaded from:
  1. $XDG_CONFIG_HOME/mender/config.yaml (if set)
  2. ~/.config/mender/config.yaml

Environment variables can override config file settings using the MENDER_ prefix:
  MENDER_DEFAULT_PATH="D:\Games\The Sims 4"
  MENDER_WORKERS=8
  MENDER_MANIFEST_URL=file:///srv/manifest.json`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration settings from all sources.`,
	RunE:  runConfigShow,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit configuration file",
	Long: `Open the configuration file in your default editor.

The editor is determined by:
  1. $VISUAL environment variable
  2. $EDITOR environment variable
  3. Falls back to 'vi'

If the config file doesn't exist, a default one will be created first.`,
	RunE: runConfigEdit,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration file",
	Long:  `Create a default configuration file if one doesn't exist.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file.`,
	RunE:  runConfigPath,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

// envOverrides lists the variables config show reports when set.
var envOverrides = []string{
	"MENDER_MANIFEST_URL",
	"MENDER_MANIFEST_KEY",
	"MENDER_PACKAGES_BASE_URL",
	"MENDER_DEFAULT_PATH",
	"MENDER_EXCLUDE",
	"MENDER_INCLUDE_OPTIONAL",
	"MENDER_WORKERS",
	"MENDER_CACHE_ENABLED",
	"MENDER_HISTORY_ENABLED",
	"MENDER_LOGGING_LEVEL",
}

// runConfigShow displays the current configuration.
func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()

	// ConfigFileUsed names the searched path even when nothing was read.
	if configFile := viper.ConfigFileUsed(); configFile != "" && fileExists(configFile) {
		fmt.Fprintf(w, "Config file: %s\n\n", configFile)
	} else {
		fmt.Fprintf(w, "Config file: (using defaults, no file found)\n\n")
	}

	writeConfig(w, cfg)

	fmt.Fprintln(w, "\nEnvironment Overrides:")
	fmt.Fprintln(w, "----------------------")
	anyOverrides := false
	for _, name := range envOverrides {
		if val := os.Getenv(name); val != "" {
			fmt.Fprintf(w, "%s=%s\n", name, val)
			anyOverrides = true
		}
	}
	if !anyOverrides {
		fmt.Fprintln(w, "(none)")
	}
	return nil
}

// writeConfig prints the effective settings.
func writeConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "Current Configuration:")
	fmt.Fprintln(w, "----------------------")
	fmt.Fprintf(w, "manifest.url:           %s\n", cfg.Manifest.URL)
	fmt.Fprintf(w, "manifest.key:           %s\n", cfg.Manifest.Key)
	fmt.Fprintf(w, "manifest.timeout:       %s\n", cfg.Manifest.Timeout)
	fmt.Fprintf(w, "packages.base_url:      %s\n", cfg.Packages.BaseURL)
	fmt.Fprintf(w, "default_path:           %s\n", cfg.DefaultPath)
	fmt.Fprintf(w, "exclude:                %v\n", cfg.Exclude)
	fmt.Fprintf(w, "include_optional:       %t\n", cfg.IncludeOptional)
	fmt.Fprintf(w, "optional_root:          %s\n", cfg.OptionalRoot)
	fmt.Fprintf(w, "classify.unit_prefixes: %v\n", cfg.Classify.UnitPrefixes)
	fmt.Fprintf(w, "classify.delta_units_only: %t\n", cfg.Classify.DeltaUnitsOnly)
	fmt.Fprintf(w, "workers:                %d\n", cfg.Workers)
	fmt.Fprintf(w, "cache.enabled:          %t\n", cfg.Cache.Enabled)
	fmt.Fprintf(w, "cache.path:             %s\n", cfg.CacheDir())
	fmt.Fprintf(w, "history.enabled:        %t\n", cfg.History.Enabled)
	fmt.Fprintf(w, "history.path:           %s\n", cfg.HistoryDir())
	fmt.Fprintf(w, "history.retention:      %d days\n", cfg.History.RetentionDays)
	fmt.Fprintf(w, "logging.level:          %s\n", cfg.Logging.Level)
}

// runConfigEdit opens the config file in an editor.
func runConfigEdit(cmd *cobra.Command, args []string) error {
	configPath, _, err := config.WriteDefault()
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}
	if editor == "" {
		editor = "vi"
	}

	printVerbose("Opening %s with %s", configPath, editor)

	editorCmd := exec.Command(editor, configPath)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr

	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("editor command failed: %w", err)
	}
	return nil
}

// runConfigInit creates a default config file.
func runConfigInit(cmd *cobra.Command, args []string) error {
	configPath, written, err := config.WriteDefault()
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	if !written {
		printInfo("Config file already exists: %s", configPath)
		printInfo("Use 'mender config edit' to modify it.")
		return nil
	}
	printInfo("Created default config file: %s", configPath)
	return nil
}

// runConfigPath shows the config file path.
func runConfigPath(cmd *cobra.Command, args []string) error {
	configPath, err := config.ConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config directory: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), configPath)

	if _, err := os.Stat(configPath); err == nil {
		printVerbose("File exists")
	} else if os.IsNotExist(err) {
		printVerbose("File does not exist (will use defaults)")
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
