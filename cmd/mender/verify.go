package main

import (
	"github.com/spf13/cobra"

	"github.com/jamesainslie/mender/pkg/mender/run"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [root]",
	Short: "Check every file against the manifest",
	Long: `Verify hashes every file the manifest lists and reports the ones that
are corrupt or missing. Nothing is downloaded or changed.

The installation root is taken from the argument, then default_path in the
config file, then the usual install locations.

Exit status is 0 when every file is correct, 2 when files need repair,
1 when the run failed and 130 when it was interrupted.`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{annotationProgress: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(cmd, run.ModeVerify, args)
	},
}

func init() {
	verifyCmd.Flags().Bool("orphans", false, "also list local files the manifest does not know")
	rootCmd.AddCommand(verifyCmd)
}
