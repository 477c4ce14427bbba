package commands

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/4dn-dcic/foursight-sub000/internal/result"
	"github.com/4dn-dcic/foursight-sub000/pkg/types"
)

// NewLatestCmd creates the latest command.
func NewLatestCmd() *cobra.Command {
	return newLookupCmd("latest", "Show the most recent stored run", func(cmd *cobra.Command, r *result.Reader) (*types.Envelope, error) {
		return r.GetLatest(cmd.Context()), nil
	})
}

// NewPrimaryCmd creates the primary command.
func NewPrimaryCmd() *cobra.Command {
	return newLookupCmd("primary", "Show the run stored as primary", func(cmd *cobra.Command, r *result.Reader) (*types.Envelope, error) {
		return r.GetPrimary(cmd.Context()), nil
	})
}

// NewClosestCmd creates the closest command.
func NewClosestCmd() *cobra.Command {
	var (
		hours, mins   int
		excludeErrors bool
	)
	cmd := newLookupCmd("closest", "Show the run closest to a time in the past", func(cmd *cobra.Command, r *result.Reader) (*types.Envelope, error) {
		var opts []result.ClosestOption
		if excludeErrors {
			opts = append(opts, result.WithoutErrors())
		}
		return r.GetClosest(cmd.Context(), hours, mins, opts...)
	})
	cmd.Flags().IntVar(&hours, "hours", 0, "hours ago")
	cmd.Flags().IntVar(&mins, "mins", 0, "minutes ago")
	cmd.Flags().BoolVar(&excludeErrors, "exclude-errors", false, "skip ERROR runs")
	return cmd
}

type lookupFunc func(cmd *cobra.Command, r *result.Reader) (*types.Envelope, error)

func newLookupCmd(use, short string, fn lookupFunc) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   use + " [name]",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()

			env, err := fn(cmd, d.Conn.Results(args[0]))
			if err != nil {
				return err
			}
			if env == nil {
				return fmt.Errorf("no %s result for %s", use, args[0])
			}
			return printEnvelope(cmd.OutOrStdout(), env, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	var (
		start, limit int
		after        string
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "history [name]",
		Short: "List stored runs newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var afterDate time.Time
			if after != "" {
				t, err := time.Parse(time.RFC3339, after)
				if err != nil {
					return fmt.Errorf("--after: %w", err)
				}
				afterDate = t
			}
			d, err := openDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()

			entries := d.Conn.Results(args[0]).GetResultHistory(cmd.Context(), start, limit, afterDate)
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintf(out, "No results for %s.\n", args[0])
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(out, "  %s  %-8s %v\n", e.Kwargs.UUID(), colorStatus(e.Status), e.Summary)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&start, "start", 0, "entries to skip")
	cmd.Flags().IntVar(&limit, "limit", 25, "entries to show")
	cmd.Flags().StringVar(&after, "after", "", "only runs after this RFC 3339 time")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	return cmd
}

// NewDeleteCmd creates the delete command.
func NewDeleteCmd() *cobra.Command {
	var (
		olderThan      time.Duration
		includePrimary bool
		dryRun         bool
	)
	cmd := &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete stored runs; the primary run is kept unless --include-primary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()

			opts := result.DeleteOptions{IncludePrimary: includePrimary, DryRun: dryRun}
			if olderThan > 0 {
				opts.PriorDate = time.Now().Add(-olderThan)
			}
			n, err := d.Conn.Results(args[0]).DeleteResults(cmd.Context(), opts)
			if err != nil {
				return err
			}
			verb := "deleted"
			if dryRun {
				verb = "would delete"
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "%s %d result(s) for %s\n", verb, n, args[0])
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "only delete runs older than this (e.g. 720h)")
	cmd.Flags().BoolVar(&includePrimary, "include-primary", false, "allow deleting the primary run")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "count matching runs without deleting")
	return cmd
}

// NewChecksCmd creates the checks command.
func NewChecksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checks",
		Short: "List registered checks and actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := openDeps(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()

			out := cmd.OutOrStdout()
			bold := color.New(color.Bold)
			for _, module := range d.Registry.Modules() {
				_, _ = bold.Fprintf(out, "%s\n", module)
				for _, desc := range d.Registry.List() {
					if desc.Module != module {
						continue
					}
					fmt.Fprintf(out, "  %-28s %-7s %s\n", desc.Function, desc.Kind, desc.Description)
				}
			}
			return nil
		},
	}
}
