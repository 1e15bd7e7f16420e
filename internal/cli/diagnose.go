package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/diasync/diasync/internal/governance"
)

// DiagnoseOptions holds flags for the diagnose command.
type DiagnoseOptions struct {
	*RootOptions
	StaleSeconds int
	Scope        string
	Project      string
	DryRun       bool
}

// NewDiagnoseCommand creates the diagnose command.
func NewDiagnoseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DiagnoseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Score store health",
		Long: `Collect health metrics (stale instances, open conflicts, stale
leases, reduce lag, missing attach capsules, duplicate decision keys,
view freshness), score them 0-100, band the score green/yellow/red, and
open a finding per detected problem. The scorecard and a trend row are
appended to the governance ledgers.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiagnose(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.StaleSeconds, "stale-seconds", 0, "heartbeat age that marks an instance stale (default from policy)")
	cmd.Flags().StringVar(&opts.Scope, "scope", "", "restrict scoped metrics to one scope")
	cmd.Flags().StringVar(&opts.Project, "project", "", "project slug for opened findings")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "compute without persisting")

	return cmd
}

func runDiagnose(opts *DiagnoseOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	st, pol, err := openStore(opts.RootOptions)
	if err != nil {
		return f.Failure(err)
	}

	staleAfter := time.Duration(opts.StaleSeconds) * time.Second
	if opts.StaleSeconds <= 0 {
		staleAfter = time.Duration(pol.StaleAfterSeconds) * time.Second
	}
	res, err := governance.Diagnose(st, governance.DiagnoseOptions{
		StaleAfter: staleAfter,
		Scope:      opts.Scope,
		Project:    opts.Project,
		ViewFresh:  time.Duration(pol.ViewFreshSeconds) * time.Second,
		ViewAging:  time.Duration(pol.ViewAgingSeconds) * time.Second,
		DryRun:     opts.DryRun,
	})
	if err != nil {
		return f.Failure(err)
	}

	m := res.Scorecard.Metrics
	var b strings.Builder
	fmt.Fprintf(&b, "health %d (%s)", res.Scorecard.Score, res.Scorecard.Band)
	fmt.Fprintf(&b, "\n  stale instances:    %d", m.StaleInstances)
	fmt.Fprintf(&b, "\n  open conflicts:     %d", m.OpenConflicts)
	fmt.Fprintf(&b, "\n  stale leases:       %d", m.StaleLeases)
	fmt.Fprintf(&b, "\n  reduce lag:         %d", m.ReduceLag)
	fmt.Fprintf(&b, "\n  missing attach:     %d", m.MissingAttach)
	fmt.Fprintf(&b, "\n  duplicate keys:     %d", m.DuplicateDecisionKeys)
	fmt.Fprintf(&b, "\n  freshness penalty:  %d", m.FreshnessPenalty)
	fmt.Fprintf(&b, "\n  open findings:      %d (%d new)", res.OpenTotal, len(res.NewFindings))
	if res.DryRun {
		b.WriteString("\n[dry-run]")
	}
	return f.Success(res, b.String())
}
