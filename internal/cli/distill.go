package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/diasync/diasync/internal/stream"
)

// DistillOptions holds flags for the distill command.
type DistillOptions struct {
	*RootOptions
	Scope    string
	Instance string
	Limit    int
	DryRun   bool
}

// NewDistillCommand creates the distill command.
func NewDistillCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DistillOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "distill",
		Short: "Promote captured entries into view objects",
		Long: `Scan this instance's private streams for captured entries that have
not been distilled yet, group them, and materialize the keepers as view
objects. Already-distilled event ids are skipped, so repeated runs are
idempotent.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDistill(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Scope, "scope", "", "restrict to one scope")
	cmd.Flags().StringVar(&opts.Instance, "instance", "", "restrict to one instance's streams")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "max events per pass (default from policy)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "simulate without writing")

	return cmd
}

func runDistill(opts *DistillOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	st, pol, err := openStore(opts.RootOptions)
	if err != nil {
		return f.Failure(err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = pol.DistillLimit
	}
	res, err := stream.Distill(st, stream.DistillOptions{
		Scope:    opts.Scope,
		Instance: opts.Instance,
		Limit:    limit,
		DryRun:   opts.DryRun,
	})
	if err != nil {
		return f.Failure(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "distilled %d object(s) from %d event(s)", len(res.Created), res.Scanned)
	if res.DryRun {
		b.WriteString(" [dry-run]")
	}
	for _, obj := range res.Created {
		fmt.Fprintf(&b, "\n  %s %s <- %s", obj.Type, obj.ObjectID, obj.EventID)
	}
	return f.Success(res, b.String())
}
