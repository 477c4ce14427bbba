package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/4dn-dcic/foursight-sub000/internal/queue"
	"github.com/4dn-dcic/foursight-sub000/internal/runner"
	"github.com/4dn-dcic/foursight-sub000/internal/worker"
	"github.com/4dn-dcic/foursight-sub000/pkg/types"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	var (
		kwargs  []string
		primary bool
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "run [module/check]",
		Short: "Run a check or action now and store its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kw, err := parseKwargs(kwargs)
			if err != nil {
				return err
			}
			if primary {
				kw[types.KwargPrimary] = true
			}
			return runCheck(cmd, args[0], kw, asJSON)
		},
	}
	cmd.Flags().StringArrayVarP(&kwargs, "kwarg", "k", nil, "kwarg as key=value (repeatable)")
	cmd.Flags().BoolVar(&primary, "primary", false, "store the run as the primary result")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the stored result as JSON")
	return cmd
}

func runCheck(cmd *cobra.Command, checkString string, kw types.Kwargs, asJSON bool) error {
	ctx := cmd.Context()
	d, err := openDeps(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()

	env, err := d.Runner.RunCheckOrAction(ctx, d.Conn, checkString, kw)
	var de *runner.DispatchError
	if errors.As(err, &de) {
		return errors.New(de.Message)
	}
	if err != nil {
		return err
	}
	if env == nil {
		color.New(color.FgYellow).Fprintf(cmd.OutOrStdout(), "%s skipped: action already recorded for this check run\n", checkString)
		return nil
	}
	return printEnvelope(cmd.OutOrStdout(), env, asJSON)
}

// NewEnqueueCmd creates the enqueue command.
func NewEnqueueCmd() *cobra.Command {
	var (
		kwargs  []string
		primary bool
	)
	cmd := &cobra.Command{
		Use:   "enqueue [module/check...]",
		Short: "Queue checks for the worker; several checks share one run uuid",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kw, err := parseKwargs(kwargs)
			if err != nil {
				return err
			}
			if primary {
				kw[types.KwargPrimary] = true
			}
			return enqueue(cmd, args, kw)
		},
	}
	cmd.Flags().StringArrayVarP(&kwargs, "kwarg", "k", nil, "kwarg as key=value applied to every check (repeatable)")
	cmd.Flags().BoolVar(&primary, "primary", false, "mark the runs as primary")
	return cmd
}

func enqueue(cmd *cobra.Command, checkStrings []string, kw types.Kwargs) error {
	ctx := cmd.Context()
	d, err := openDeps(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	if d.Queue == nil {
		return errNoQueue
	}
	for _, cs := range checkStrings {
		if _, err := d.Runner.Resolve(cs); err != nil {
			return err
		}
	}

	var uuid string
	if len(checkStrings) == 1 {
		uuid, err = d.Queue.Enqueue(ctx, checkStrings[0], kw)
	} else {
		entries := make([]queue.Entry, len(checkStrings))
		for i, cs := range checkStrings {
			entries[i] = queue.Entry{CheckString: cs, Kwargs: kw}
		}
		uuid, err = d.Queue.EnqueueBatch(ctx, entries)
	}
	if err != nil {
		return err
	}
	color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "queued %d run(s) with uuid %s\n", len(checkStrings), uuid)
	return nil
}

// NewWorkCmd creates the work command.
func NewWorkCmd() *cobra.Command {
	var (
		once bool
		wait int32
	)
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Pull queued runs and execute them until the queue is empty",
		RunE: func(cmd *cobra.Command, args []string) error {
			return work(cmd.Context(), cmd, once, wait)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run at most one queued message")
	cmd.Flags().Int32Var(&wait, "wait", 2, "long-poll seconds per receive")
	return cmd
}

func work(ctx context.Context, cmd *cobra.Command, once bool, wait int32) error {
	d, err := openDeps(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	if d.Queue == nil {
		return errNoQueue
	}

	w := worker.New(d.Queue, d.Runner, d.Conn, worker.WithLogger(d.Logger), worker.WithWaitSeconds(wait))
	out := cmd.OutOrStdout()
	if once {
		env, err := w.PullAndInvoke(ctx)
		if err != nil {
			return err
		}
		if env == nil {
			fmt.Fprintln(out, "nothing to do")
			return nil
		}
		return printEnvelope(out, env, false)
	}
	n, err := w.Drain(ctx)
	fmt.Fprintf(out, "handled %d message(s)\n", n)
	return err
}
