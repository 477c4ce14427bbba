package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/4dn-dcic/foursight-sub000/internal/commands"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "foursight",
		Short: "Run status checks and browse their stored results",
		Long: `Foursight runs status checks against a data portal, stores every run under
a time-ordered identity and lets you compare the latest, primary and past results.
Actions attached to checks can be queued for remediation.`,
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return commands.LoadDotEnv(".env")
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&commands.ConfigDir, "dir", "C", ".", "directory containing foursight.yaml")

	root.AddCommand(
		commands.NewInitCmd(),
		commands.NewRunCmd(),
		commands.NewEnqueueCmd(),
		commands.NewWorkCmd(),
		commands.NewLatestCmd(),
		commands.NewPrimaryCmd(),
		commands.NewClosestCmd(),
		commands.NewHistoryCmd(),
		commands.NewDeleteCmd(),
		commands.NewArchiveCmd(),
		commands.NewChecksCmd(),
		commands.NewServeCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
