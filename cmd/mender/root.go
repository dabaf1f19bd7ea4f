package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/mender/pkg/mender/config"
	"github.com/jamesainslie/mender/pkg/mender/logging"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "mender",
		Short: "Verify and repair a game installation",
		Long: `Mender checks every file of an installation against the published
SHA-256 manifest, groups the damaged files by the package that restores
them, and downloads and installs those packages.

Examples:
  mender verify                      # Check the detected installation
  mender verify "D:\Games\The Sims 4" # Check a specific installation
  mender verify --orphans -o json    # Also list files the manifest does not know
  mender repair --yes                # Repair without asking
  mender history                     # Past runs`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initLogging,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ~/.config/mender/config.yaml)")
	flags.IntP("workers", "w", 0, "override hashing worker count (0=auto)")
	flags.StringSliceP("exclude", "e", nil, "top-level folders to skip (can be specified multiple times)")
	flags.StringP("output", "o", "pretty", "output format: pretty, plain, json, jsonl, yaml, template")
	flags.String("template", "", "template for -o template")
	flags.BoolP("no-progress", "n", false, "disable the live progress view")
	flags.BoolP("quiet", "q", false, "minimal output")
	flags.BoolP("verbose", "v", false, "debug output")
	flags.Bool("cache", false, "reuse digests of unchanged files from the digest cache")

	_ = viper.BindPFlag("workers", flags.Lookup("workers"))
	_ = viper.BindPFlag("exclude", flags.Lookup("exclude"))
	_ = viper.BindPFlag("output", flags.Lookup("output"))
	_ = viper.BindPFlag("template", flags.Lookup("template"))
	_ = viper.BindPFlag("no_progress", flags.Lookup("no-progress"))
	_ = viper.BindPFlag("quiet", flags.Lookup("quiet"))
	_ = viper.BindPFlag("verbose", flags.Lookup("verbose"))
	_ = viper.BindPFlag("cache.enabled", flags.Lookup("cache"))
}

// initConfig reads in the config file and environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	if err := config.Setup(viper.GetViper()); err != nil {
		printError("%v", err)
	}
}

// loadConfig decodes the merged file, environment and flag settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Decode(viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// initLogging configures file logging and console output for the command.
func initLogging(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts, err := cfg.LoggingOptions()
	if err != nil {
		return err
	}
	opts.ConsoleLevel = consoleLevel()
	// The progress view shows recent records itself.
	opts.Quiet = progressView(cmd)
	opts.BufferSize = 200
	if err := logging.Init(opts); err != nil {
		// A read-only state directory should not block a check.
		printVerbose("Logging disabled: %v", err)
	}
	return nil
}

// consoleLevel picks what is mirrored to stderr.
func consoleLevel() string {
	switch {
	case getQuiet():
		return ""
	case getVerbose():
		return "debug"
	default:
		return "warn"
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func getVerbose() bool {
	return viper.GetBool("verbose")
}

func getQuiet() bool {
	return viper.GetBool("quiet")
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if getVerbose() && !getQuiet() {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message to stderr unless quiet mode is enabled.
// Reports go to stdout; progress and notices go to stderr.
func printInfo(format string, args ...interface{}) {
	if !getQuiet() {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// exitError carries a process exit code without an error message.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// Exit codes.
const (
	exitOK         = 0
	exitFailed     = 1
	exitIncomplete = 2
	exitCancelled  = 130
)
