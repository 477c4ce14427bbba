package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// NewArchiveCmd creates the archive command.
func NewArchiveCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Copy stored results into the archive store",
		Long:  "Copies every registered check's results into the store named under archive in foursight.yaml. Without --once it repeats on archive.interval until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchive(cmd, once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single pass and exit")
	return cmd
}

func runArchive(cmd *cobra.Command, once bool) error {
	ctx := cmd.Context()
	d, err := openDeps(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	a, err := d.Archiver(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if once {
		st := a.RunOnce(ctx)
		fmt.Fprintf(out, "copied %d, unchanged %d, failed %d\n", st.Copied, st.Skipped, st.Failed)
		if st.Failed > 0 {
			return fmt.Errorf("%d key(s) could not be archived", st.Failed)
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.Start(ctx)
	color.Green("Archiving to %s store, Ctrl-C to stop", d.Config.Archive.Store.Backend)
	<-ctx.Done()
	a.Stop(context.Background())
	return nil
}
