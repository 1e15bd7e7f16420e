package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/diasync/diasync/internal/project"
	"github.com/diasync/diasync/internal/views"
)

// CheckpointOptions holds flags for the checkpoint command.
type CheckpointOptions struct {
	*RootOptions
	Project  string
	Scope    string
	Instance string
	RunID    string
	Summary  string
	NowLines []string
	Next     []string
	Risks    []string
	DryRun   bool
}

// NewCheckpointCommand creates the checkpoint command.
func NewCheckpointCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckpointOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Write the project state capsule",
		Long: `Render the project's current state into projects/<slug>/state.md:
what is happening now, what comes next, the open risks, and the active
decisions and commitments folded from the views. The capsule is replaced
atomically and the write is recorded as a memory.checkpointed event.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpoint(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Project, "project", "", "project slug (required)")
	cmd.Flags().StringVar(&opts.Scope, "scope", "", "scope (default project:<slug>)")
	cmd.Flags().StringVar(&opts.Instance, "instance", "", "writing instance id")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "run id")
	cmd.Flags().StringVar(&opts.Summary, "summary", "", "one-line summary of the current state")
	cmd.Flags().StringSliceVar(&opts.NowLines, "now", nil, "current activity (repeatable)")
	cmd.Flags().StringSliceVar(&opts.Next, "next", nil, "upcoming work (repeatable)")
	cmd.Flags().StringSliceVar(&opts.Risks, "risk", nil, "open risks (repeatable)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "simulate without writing")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

func runCheckpoint(opts *CheckpointOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	st, _, err := openStore(opts.RootOptions)
	if err != nil {
		return f.Failure(err)
	}

	nowLines := opts.NowLines
	if opts.Summary != "" {
		nowLines = append([]string{opts.Summary}, nowLines...)
	}
	res, err := project.Checkpoint(st, project.CheckpointOptions{
		Project:   opts.Project,
		Scope:     opts.Scope,
		Instance:  opts.Instance,
		RunID:     opts.RunID,
		NowLines:  nowLines,
		NextLines: opts.Next,
		Risks:     opts.Risks,
		Lister:    views.ProjectLister(st),
		DryRun:    opts.DryRun,
	})
	if err != nil {
		return f.Failure(err)
	}

	text := fmt.Sprintf("checkpointed %s -> %s", opts.Project, res.Path)
	if res.DryRun {
		text += " [dry-run]"
	}
	return f.Success(res, text)
}
