package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/mender/pkg/mender/config"
	"github.com/jamesainslie/mender/pkg/mender/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View run history",
	Long: `View the history of verify and repair runs.

Every finished run is recorded with its counters, the files that were
failing and the packages that were installed.`,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show details of a specific run",
	Long:  `Display detailed information about a specific run by its ID.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean up old history entries",
	Long:  `Remove history entries older than the retention period.`,
	RunE:  runHistoryClean,
}

var (
	historyLimit int
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of entries to show")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyCleanCmd)
	rootCmd.AddCommand(historyCmd)
}

// openHistory returns the history store for the configured directory.
func openHistory() (*history.History, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	h, err := history.New(cfg.HistoryDir())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open history: %w", err)
	}
	return h, cfg, nil
}

// runHistory lists recent runs.
func runHistory(cmd *cobra.Command, args []string) error {
	h, _, err := openHistory()
	if err != nil {
		return err
	}

	entries, err := h.List(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}

	if len(entries) == 0 {
		printInfo("No history entries found.")
		printInfo("Run 'mender verify' to check an installation.")
		return nil
	}

	writeHistory(cmd.OutOrStdout(), entries)
	printInfo("Use 'mender history show <id>' for details on a specific entry.")
	return nil
}

func writeHistory(w io.Writer, entries []history.Entry) {
	fmt.Fprintf(w, "\n%-42s  %-10s  %-8s  %-8s  %-8s\n", "ID", "STATE", "CHECKED", "FAILING", "REPAIRED")
	fmt.Fprintln(w, strings.Repeat("-", 84))
	for _, e := range entries {
		fmt.Fprintf(w, "%-42s  %-10s  %-8d  %-8d  %-8d\n",
			truncateString(e.ID, 42),
			entryState(e),
			e.Summary.Total,
			e.Summary.Corrupt,
			e.Summary.Repaired,
		)
	}
	fmt.Fprintln(w, strings.Repeat("-", 84))
}

// entryState folds OK into the terminal state name.
func entryState(e history.Entry) string {
	if e.State == "done" && !e.OK {
		return "failing"
	}
	return e.State
}

// runHistoryShow displays details of a specific run.
func runHistoryShow(cmd *cobra.Command, args []string) error {
	h, _, err := openHistory()
	if err != nil {
		return err
	}

	entry, err := h.Get(args[0])
	if err != nil {
		return fmt.Errorf("failed to get entry: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "\nRun Details")
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "ID:         %s\n", entry.ID)
	fmt.Fprintf(w, "Timestamp:  %s\n", entry.Timestamp.Local().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "Mode:       %s\n", entry.Mode)
	fmt.Fprintf(w, "Root:       %s\n", entry.Root)
	fmt.Fprintf(w, "State:      %s\n", entryState(*entry))
	fmt.Fprintf(w, "Elapsed:    %s\n", entry.Elapsed.Round(100*time.Millisecond))
	fmt.Fprintf(w, "Checked:    %d (%d correct, %d corrupt, %d missing)\n",
		entry.Summary.Total, entry.Summary.Correct, entry.Summary.Corrupt-entry.Summary.Missing, entry.Summary.Missing)
	if entry.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", entry.Error)
	}

	if len(entry.Packages) > 0 {
		fmt.Fprintln(w, "\nPackages:")
		fmt.Fprintln(w, strings.Repeat("-", 60))
		for _, p := range entry.Packages {
			line := fmt.Sprintf("%-10s  %s", p.Status, p.URL)
			if p.Error != "" {
				line += "  (" + p.Error + ")"
			}
			fmt.Fprintln(w, line)
		}
	}

	if len(entry.Failing) > 0 {
		fmt.Fprintln(w, "\nFailing files:")
		fmt.Fprintln(w, strings.Repeat("-", 60))

		limit := min(len(entry.Failing), 50)
		for _, o := range entry.Failing[:limit] {
			fmt.Fprintf(w, "%-8s  %s\n", o.Status, o.Path)
		}
		if len(entry.Failing) > limit {
			fmt.Fprintf(w, "\n... and %d more files\n", len(entry.Failing)-limit)
		}
	}
	return nil
}

// runHistoryClean removes old history entries.
func runHistoryClean(cmd *cobra.Command, args []string) error {
	h, cfg, err := openHistory()
	if err != nil {
		return err
	}

	retentionDays := cfg.History.RetentionDays
	if retentionDays <= 0 {
		retentionDays = config.DefaultRetentionDays
	}

	printInfo("Cleaning history entries older than %d days...", retentionDays)

	removed, err := h.Cleanup(retentionDays)
	if err != nil {
		return fmt.Errorf("failed to clean history: %w", err)
	}

	printInfo("Removed %d entries.", removed)
	return nil
}

// truncateString truncates a string to maxLen, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
