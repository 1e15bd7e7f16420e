package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/diasync/diasync/internal/governance"
	"github.com/diasync/diasync/internal/views"
)

// OptimizeOptions holds flags for the optimize command.
type OptimizeOptions struct {
	*RootOptions
	Execute    bool
	MaxActions int
	DryRun     bool
}

// NewOptimizeCommand creates the optimize command.
func NewOptimizeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OptimizeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Plan and run corrective actions",
		Long: `Turn open findings into an ordered action plan. Safe actions
(lease cleanup, attach refresh, reindex) run when --execute is given;
everything that changes knowledge content is planned for an operator
and never executed. A finding closes only after its metric re-checks
clean.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOptimize(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Execute, "execute", false, "run the safe actions")
	cmd.Flags().IntVar(&opts.MaxActions, "max-actions", 0, "action cap per run (default from policy)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "plan without persisting")

	return cmd
}

func runOptimize(opts *OptimizeOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	st, pol, err := openStore(opts.RootOptions)
	if err != nil {
		return f.Failure(err)
	}

	maxActions := opts.MaxActions
	if maxActions <= 0 {
		maxActions = pol.MaxActions
	}
	res, err := governance.Optimize(cmd.Context(), st, governance.OptimizeOptions{
		MaxActions: maxActions,
		Execute:    opts.Execute,
		DryRun:     opts.DryRun,
		Lister:     views.ProjectLister(st),
	})
	if err != nil {
		return f.Failure(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "planned %d action(s)", len(res.Plan.Actions))
	for _, a := range res.Plan.Actions {
		marker := "manual"
		if a.Safe {
			marker = "safe"
		}
		fmt.Fprintf(&b, "\n  [%s] %s: %s", marker, a.Action, a.Reason)
	}
	if opts.Execute {
		fmt.Fprintf(&b, "\nexecuted %d, closed %d finding(s)", len(res.Executed), len(res.Closed))
	}
	if res.DryRun {
		b.WriteString("\n[dry-run]")
	}
	return f.Success(res, b.String())
}
