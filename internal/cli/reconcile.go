package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/views"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions
	ObjectID        string
	Summary         string
	Horizon         string
	Salience        string
	Confidence      float64
	Tags            []string
	Assumptions     []string
	ReviewAfter     string
	Evidence        string
	Rationale       string
	ResolveConflict string
	WithLease       bool
	Instance        string
	RunID           string
	DryRun          bool
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Supersede an active object with a revision",
		Long: `Publish a revision that supersedes an existing active object. The
old object stays in the ledger; views simply stop treating it as active.

--resolve-conflict additionally closes an open conflict about the same
decision key. --with-lease refuses the supersede unless the caller holds
the live lease on (scope, decision key).

Example:
  diasync reconcile --object dec-20260115083000-9f2d11aa \
    --summary "use exponential backoff, max 5 retries" \
    --resolve-conflict cnf-20260115083200-7c01b3f2 --instance ins-a`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ObjectID, "object", "", "object id to supersede (required)")
	cmd.Flags().StringVar(&opts.Summary, "summary", "", "revised statement (required)")
	cmd.Flags().StringVar(&opts.Horizon, "horizon", "", "override horizon")
	cmd.Flags().StringVar(&opts.Salience, "salience", "", "override salience")
	cmd.Flags().Float64Var(&opts.Confidence, "confidence", 0, "override confidence")
	cmd.Flags().StringSliceVar(&opts.Tags, "tags", nil, "override tags")
	cmd.Flags().StringSliceVar(&opts.Assumptions, "assumption", nil, "override assumptions")
	cmd.Flags().StringVar(&opts.ReviewAfter, "review-after", "", "review date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.Evidence, "evidence", "", "evidence path under evidence/")
	cmd.Flags().StringVar(&opts.Rationale, "rationale", "", "rationale for the revision")
	cmd.Flags().StringVar(&opts.ResolveConflict, "resolve-conflict", "", "conflict id to close with this revision")
	cmd.Flags().BoolVar(&opts.WithLease, "with-lease", false, "require a held lease on the decision key")
	cmd.Flags().StringVar(&opts.Instance, "instance", "", "reconciling instance id")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "run id")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "simulate without writing")
	_ = cmd.MarkFlagRequired("object")
	_ = cmd.MarkFlagRequired("summary")

	return cmd
}

func runReconcile(opts *ReconcileOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	st, _, err := openStore(opts.RootOptions)
	if err != nil {
		return f.Failure(err)
	}

	var confidence *float64
	if cmd.Flags().Changed("confidence") {
		confidence = &opts.Confidence
	}
	res, err := views.Reconcile(cmd.Context(), st, views.ReconcileOptions{
		ObjectID:        opts.ObjectID,
		Summary:         opts.Summary,
		Horizon:         record.Horizon(opts.Horizon),
		Salience:        record.Salience(opts.Salience),
		Confidence:      confidence,
		Tags:            opts.Tags,
		Assumptions:     opts.Assumptions,
		ReviewAfter:     opts.ReviewAfter,
		Evidence:        opts.Evidence,
		Rationale:       opts.Rationale,
		ResolveConflict: opts.ResolveConflict,
		WithLease:       opts.WithLease,
		Instance:        opts.Instance,
		RunID:           opts.RunID,
		DryRun:          opts.DryRun,
	})
	if err != nil {
		return f.Failure(err)
	}

	text := fmt.Sprintf("superseded %s with %s", opts.ObjectID, res.Object.ObjectID)
	if res.Resolved != "" {
		text += fmt.Sprintf(", resolved %s", res.Resolved)
	}
	if res.DryRun {
		text += " [dry-run]"
	}
	return f.Success(res, text)
}
