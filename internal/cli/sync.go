package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/diasync/diasync/internal/instance"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Start     bool
	Heartbeat bool
	Stop      bool
	Instance  string
	Scope     string
	Project   string
	RunID     string
	DryRun    bool
}

// NewSyncCommand creates the sync command (instance lifecycle).
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Register instance lifecycle",
		Long: `Record an instance lifecycle transition in the shared registry.

--start registers the instance and announces it on the bus; --heartbeat
refreshes its liveness; --stop releases every lease the instance holds
and announces the departure. Exactly one of the three must be given.

Example:
  diasync sync --start --instance ins-a --scope project:phoenix
  diasync sync --heartbeat --instance ins-a --scope project:phoenix`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Start, "start", false, "register the instance")
	cmd.Flags().BoolVar(&opts.Heartbeat, "heartbeat", false, "refresh instance liveness")
	cmd.Flags().BoolVar(&opts.Stop, "stop", false, "deregister the instance and release its leases")
	cmd.Flags().StringVar(&opts.Instance, "instance", "", "instance id (minted on --start when empty)")
	cmd.Flags().StringVar(&opts.Scope, "scope", "", "scope the instance works in")
	cmd.Flags().StringVar(&opts.Project, "project", "", "project slug")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "run id for the bus announcement")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "simulate without writing")
	cmd.MarkFlagsOneRequired("start", "heartbeat", "stop")
	cmd.MarkFlagsMutuallyExclusive("start", "heartbeat", "stop")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	st, _, err := openStore(opts.RootOptions)
	if err != nil {
		return f.Failure(err)
	}

	var res *instance.Result
	switch {
	case opts.Start:
		res, err = instance.Start(st, instance.StartOptions{
			Instance: opts.Instance,
			Scope:    opts.Scope,
			Project:  opts.Project,
			RunID:    opts.RunID,
			DryRun:   opts.DryRun,
		})
	case opts.Heartbeat:
		res, err = instance.Heartbeat(st, opts.Instance, opts.Scope, time.Now().UTC(), opts.DryRun)
	default:
		res, err = instance.Stop(st, instance.StopOptions{
			Instance: opts.Instance,
			Scope:    opts.Scope,
			DryRun:   opts.DryRun,
		})
	}
	if err != nil {
		return f.Failure(err)
	}

	text := fmt.Sprintf("instance %s %s", res.Instance.InstanceID, res.Instance.Event)
	if len(res.Released) > 0 {
		text += fmt.Sprintf(" (released %d lease(s))", len(res.Released))
	}
	if res.DryRun {
		text += " [dry-run]"
	}
	return f.Success(res, text)
}
