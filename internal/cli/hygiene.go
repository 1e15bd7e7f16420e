package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/diasync/diasync/internal/fault"
	"github.com/diasync/diasync/internal/hygiene"
)

// HygieneOptions holds flags for the hygiene command.
type HygieneOptions struct {
	*RootOptions
	Rotate   bool
	Archive  bool
	Prune    bool
	Reindex  bool
	MaxLines int
	Before   string // YYYY-MM
	DryRun   bool
}

// NewHygieneCommand creates the hygiene command.
func NewHygieneCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HygieneOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "hygiene",
		Short: "Rotate, archive and prune shards",
		Long: `Keep the store maintainable: split oversized shards, gzip shards
older than the archive boundary, drop archives past retention and
rebuild the id catalog. With no stage flags every stage runs.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHygiene(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Rotate, "rotate", false, "split shards over the line cap")
	cmd.Flags().BoolVar(&opts.Archive, "archive", false, "gzip shards before the month boundary")
	cmd.Flags().BoolVar(&opts.Prune, "prune", false, "remove archives past retention")
	cmd.Flags().BoolVar(&opts.Reindex, "reindex", false, "rebuild the id catalog")
	cmd.Flags().IntVar(&opts.MaxLines, "max-lines", 0, "rotation line cap (default from policy)")
	cmd.Flags().StringVar(&opts.Before, "before", "", "archive boundary month (YYYY-MM, default from policy)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "simulate without writing")

	return cmd
}

func runHygiene(opts *HygieneOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	st, pol, err := openStore(opts.RootOptions)
	if err != nil {
		return f.Failure(err)
	}

	// No stage selected means all stages.
	all := !opts.Rotate && !opts.Archive && !opts.Prune && !opts.Reindex

	maxLines := opts.MaxLines
	if maxLines <= 0 {
		maxLines = pol.RotateMaxLines
	}
	now := time.Now().UTC()
	before := now.AddDate(0, -pol.ArchiveBeforeMonths, 0)
	if opts.Before != "" {
		parsed, err := time.Parse("2006-01", opts.Before)
		if err != nil {
			return f.Failure(fault.Validationf("cli.hygiene", "invalid --before %q: want YYYY-MM", opts.Before))
		}
		before = parsed
	}

	res, err := hygiene.Run(cmd.Context(), st, hygiene.Options{
		Rotate:    all || opts.Rotate,
		MaxLines:  maxLines,
		Archive:   all || opts.Archive,
		Before:    before,
		Prune:     all || opts.Prune,
		Retention: now.AddDate(0, -pol.PruneRetentionMonths, 0),
		Reindex:   all || opts.Reindex,
		DryRun:    opts.DryRun,
		Now:       now,
	})
	if err != nil {
		return f.Failure(err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "rotated %d, archived %d, pruned %d shard(s)",
		len(res.Rotated), len(res.Archived), len(res.Pruned))
	if res.Reindexed != nil {
		fmt.Fprintf(&b, ", reindexed %d object(s)", res.Reindexed.Objects)
	}
	if res.DryRun {
		b.WriteString(" [dry-run]")
	}
	return f.Success(res, b.String())
}
