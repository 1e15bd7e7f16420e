package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/diasync/diasync/internal/project"
	"github.com/diasync/diasync/internal/views"
)

// AttachOptions holds flags for the attach command.
type AttachOptions struct {
	*RootOptions
	Project        string
	All            bool
	TopDecisions   int
	TopCommitments int
	DryRun         bool
}

// NewAttachCommand creates the attach command.
func NewAttachCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AttachOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Refresh the session attach capsule",
		Long: `Concatenate a project's resume and state capsules with its top
active decisions and commitments into views/attach/<slug>.md, the one
file a starting session loads. --all refreshes every project that has a
state capsule.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttach(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Project, "project", "", "project slug")
	cmd.Flags().BoolVar(&opts.All, "all", false, "refresh every project")
	cmd.Flags().IntVar(&opts.TopDecisions, "top-decisions", 0, "active decisions to include (default from policy)")
	cmd.Flags().IntVar(&opts.TopCommitments, "top-commitments", 0, "active commitments to include (default from policy)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "simulate without writing")
	cmd.MarkFlagsOneRequired("project", "all")
	cmd.MarkFlagsMutuallyExclusive("project", "all")

	return cmd
}

func runAttach(opts *AttachOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	st, pol, err := openStore(opts.RootOptions)
	if err != nil {
		return f.Failure(err)
	}
	lister := views.ProjectLister(st)

	if opts.All {
		results, err := project.AttachAll(st, lister, time.Now().UTC(), opts.DryRun)
		if err != nil {
			return f.Failure(err)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "refreshed %d attach capsule(s)", len(results))
		for _, r := range results {
			fmt.Fprintf(&b, "\n  %s -> %s", r.Project, r.Path)
		}
		if opts.DryRun {
			b.WriteString(" [dry-run]")
		}
		return f.Success(results, b.String())
	}

	topDecisions := opts.TopDecisions
	if topDecisions <= 0 {
		topDecisions = pol.TopDecisions
	}
	topCommitments := opts.TopCommitments
	if topCommitments <= 0 {
		topCommitments = pol.TopCommitments
	}
	res, err := project.Attach(st, project.AttachOptions{
		Project:        opts.Project,
		TopDecisions:   topDecisions,
		TopCommitments: topCommitments,
		Lister:         lister,
		DryRun:         opts.DryRun,
	})
	if err != nil {
		return f.Failure(err)
	}

	text := fmt.Sprintf("attach capsule for %s -> %s (%d decision(s), %d commitment(s))",
		res.Project, res.Path, res.Decisions, res.Commitments)
	if res.DryRun {
		text += " [dry-run]"
	}
	return f.Success(res, text)
}
