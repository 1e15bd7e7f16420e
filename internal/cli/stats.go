package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/diasync/diasync/internal/governance"
	"github.com/diasync/diasync/internal/instance"
	"github.com/diasync/diasync/internal/lease"
	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/reduce"
	"github.com/diasync/diasync/internal/shard"
	"github.com/diasync/diasync/internal/views"
)

// StatsOptions holds flags for the stats command.
type StatsOptions struct {
	*RootOptions
	Scope string
}

// StatsResult is the store summary the stats command prints.
type StatsResult struct {
	Scope         string            `json:"scope,omitempty"`
	ActiveObjects map[string]int    `json:"active_objects"`
	OpenConflicts int               `json:"open_conflicts"`
	LiveLeases    int               `json:"live_leases"`
	Instances     map[string]int    `json:"instances"`
	ReduceLag     int               `json:"reduce_lag"`
	OpenFindings  int               `json:"open_findings"`
	LastScorecard *record.Scorecard `json:"last_scorecard,omitempty"`
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the store",
		Long: `Fold the ledgers into a one-screen summary: active objects per
family, open conflicts, live leases, known instances, reduce lag, open
findings and the latest health score.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Scope, "scope", "", "restrict scoped counts to one scope")

	return cmd
}

func runStats(opts *StatsOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	st, _, err := openStore(opts.RootOptions)
	if err != nil {
		return f.Failure(err)
	}

	res, err := collectStats(st, opts.Scope)
	if err != nil {
		return f.Failure(err)
	}

	var b strings.Builder
	b.WriteString("store summary")
	if res.Scope != "" {
		fmt.Fprintf(&b, " (scope %s)", res.Scope)
	}
	total := 0
	for _, n := range res.ActiveObjects {
		total += n
	}
	fmt.Fprintf(&b, "\n  active objects:  %d", total)
	for _, t := range []record.ObjectType{record.ObjectFact, record.ObjectDecision, record.ObjectCommitment} {
		if n := res.ActiveObjects[string(t)]; n > 0 {
			fmt.Fprintf(&b, "\n    %-12s %d", t, n)
		}
	}
	fmt.Fprintf(&b, "\n  open conflicts:  %d", res.OpenConflicts)
	fmt.Fprintf(&b, "\n  live leases:     %d", res.LiveLeases)
	fmt.Fprintf(&b, "\n  instances:       %d started, %d stopped", res.Instances[record.InstanceStarted]+res.Instances[record.InstanceHeartbeat], res.Instances[record.InstanceStopped])
	fmt.Fprintf(&b, "\n  reduce lag:      %d", res.ReduceLag)
	fmt.Fprintf(&b, "\n  open findings:   %d", res.OpenFindings)
	if res.LastScorecard != nil {
		fmt.Fprintf(&b, "\n  last health:     %d (%s) at %s", res.LastScorecard.Score, res.LastScorecard.Band, res.LastScorecard.TS)
	}
	return f.Success(res, b.String())
}

func collectStats(st *shard.Store, scope string) (*StatsResult, error) {
	res := &StatsResult{
		Scope:         scope,
		ActiveObjects: map[string]int{},
		Instances:     map[string]int{},
	}

	active, err := views.ActiveObjects(st, scope)
	if err != nil {
		return nil, err
	}
	for _, obj := range active {
		res.ActiveObjects[string(obj.Type)]++
	}

	conflicts, err := views.OpenConflicts(st)
	if err != nil {
		return nil, err
	}
	res.OpenConflicts = len(conflicts)

	leases, err := lease.Active(st, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	res.LiveLeases = len(leases)

	latest, err := instance.Latest(st)
	if err != nil {
		return nil, err
	}
	for _, op := range latest {
		res.Instances[op.Event]++
	}

	res.ReduceLag, err = reduce.LagCount(st, scope)
	if err != nil {
		return nil, err
	}

	findings, err := governance.OpenFindings(st)
	if err != nil {
		return nil, err
	}
	res.OpenFindings = len(findings)

	res.LastScorecard, err = lastScorecard(st)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func lastScorecard(st *shard.Store) (*record.Scorecard, error) {
	var last *record.Scorecard
	_, err := st.ReadLines(st.ScorecardsPath(), func(l shard.Line) error {
		var sc record.Scorecard
		if err := json.Unmarshal(l.Raw, &sc); err != nil {
			return nil
		}
		last = &sc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return last, nil
}
