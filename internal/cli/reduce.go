package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/diasync/diasync/internal/reduce"
)

// ReduceOptions holds flags for the reduce command.
type ReduceOptions struct {
	*RootOptions
	Scope    string
	Instance string
	Limit    int
	Reindex  bool
	DryRun   bool
}

// NewReduceCommand creates the reduce command.
func NewReduceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReduceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reduce",
		Short: "Fold published bus events into views",
		Long: `Converge unprocessed memory.published events into view objects.
Every event id is recorded in the processed ledger before its object is
written, so running reduce twice produces exactly the same views as
running it once. Concurrent revisions of the same decision key open a
conflict instead of overwriting.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReduce(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Scope, "scope", "", "restrict to one bus scope")
	cmd.Flags().StringVar(&opts.Instance, "instance", "", "reducing instance id")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "max events per pass (default from policy)")
	cmd.Flags().BoolVar(&opts.Reindex, "reindex", false, "rebuild the id catalog after the pass")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "simulate without writing")

	return cmd
}

func runReduce(opts *ReduceOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	st, pol, err := openStore(opts.RootOptions)
	if err != nil {
		return f.Failure(err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = pol.ReduceLimit
	}
	res, err := reduce.Run(cmd.Context(), st, reduce.Options{
		Scope:    opts.Scope,
		Instance: opts.Instance,
		Limit:    limit,
		Reindex:  opts.Reindex,
		DryRun:   opts.DryRun,
	})
	if err != nil {
		return f.Failure(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "reduced %d/%d event(s), %d duplicate(s)", len(res.Accepted), res.Scanned, res.Duplicates)
	if len(res.Conflicts) > 0 {
		fmt.Fprintf(&b, ", %d conflict(s): %s", len(res.Conflicts), strings.Join(res.Conflicts, " "))
	}
	if res.Reindexed {
		b.WriteString(", reindexed")
	}
	if res.DryRun {
		b.WriteString(" [dry-run]")
	}
	return f.Success(res, b.String())
}
