package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/mender/pkg/mender/run"
)

var repairCmd = &cobra.Command{
	Use:   "repair [root]",
	Short: "Download and install packages for damaged files",
	Long: `Repair checks the installation, groups the failing files by the package
that restores them, asks for confirmation, then downloads and extracts each
package and checks the repaired files again.

Files under the optional root (Game-Cracked by default) are only repaired
with --include-optional.

Exit status is 0 when every file ends correct, 2 when some files are still
failing or the repair was declined, 1 when the run failed and 130 when it
was interrupted.`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{annotationProgress: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(cmd, run.ModeRepair, args)
	},
}

func init() {
	flags := repairCmd.Flags()
	flags.Bool("include-optional", false, "also check and repair the optional root")
	flags.BoolP("yes", "y", false, "install without asking")
	_ = viper.BindPFlag("include_optional", flags.Lookup("include-optional"))
	rootCmd.AddCommand(repairCmd)
}
