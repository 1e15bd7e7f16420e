package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/diasync/diasync/internal/project"
)

// HandoffOptions holds flags for the handoff command.
type HandoffOptions struct {
	*RootOptions
	Project       string
	Scope         string
	Instance      string
	RunID         string
	Summary       string
	Next          []string
	Risks         []string
	OpenQuestions []string
	DryRun        bool
}

// NewHandoffCommand creates the handoff command.
func NewHandoffCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HandoffOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "handoff",
		Short: "Write the session resume capsule",
		Long: `Render a session handoff into projects/<slug>/resume.md: what this
session did, the first action for the next one, open risks and open
questions. The next session reads the capsule instead of replaying
ledger history.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHandoff(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Project, "project", "", "project slug (required)")
	cmd.Flags().StringVar(&opts.Scope, "scope", "", "scope (default project:<slug>)")
	cmd.Flags().StringVar(&opts.Instance, "instance", "", "handing-off instance id")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "run id")
	cmd.Flags().StringVar(&opts.Summary, "summary", "", "what this session accomplished (required)")
	cmd.Flags().StringSliceVar(&opts.Next, "next", nil, "first actions for the next session (repeatable)")
	cmd.Flags().StringSliceVar(&opts.Risks, "risk", nil, "open risks (repeatable)")
	cmd.Flags().StringSliceVar(&opts.OpenQuestions, "question", nil, "open questions (repeatable)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "simulate without writing")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("summary")

	return cmd
}

func runHandoff(opts *HandoffOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	st, _, err := openStore(opts.RootOptions)
	if err != nil {
		return f.Failure(err)
	}

	res, err := project.Handoff(st, project.HandoffOptions{
		Project:       opts.Project,
		Scope:         opts.Scope,
		Instance:      opts.Instance,
		RunID:         opts.RunID,
		Summary:       opts.Summary,
		NextActions:   opts.Next,
		Risks:         opts.Risks,
		OpenQuestions: opts.OpenQuestions,
		DryRun:        opts.DryRun,
	})
	if err != nil {
		return f.Failure(err)
	}

	text := fmt.Sprintf("handoff for %s -> %s", opts.Project, res.Path)
	if res.DryRun {
		text += " [dry-run]"
	}
	return f.Success(res, text)
}
