package governance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/diasync/diasync/internal/fault"
	"github.com/diasync/diasync/internal/index"
	"github.com/diasync/diasync/internal/lease"
	"github.com/diasync/diasync/internal/project"
	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/shard"
)

// DefaultMaxActions caps executed actions per optimize run.
const DefaultMaxActions = 5

// Remediation actions. Safe actions append or regenerate derived state
// and may be auto-executed; unsafe ones touch knowledge content and are
// only ever planned.
const (
	ActionLeaseCleanup   = "lease.cleanup"
	ActionReindex        = "hygiene.reindex"
	ActionAttachRefresh  = "attach.refresh"
	ActionReconcile      = "reconcile.manual"
	ActionReconcileLease = "reconcile.with-lease"
	ActionSyncCleanup    = "sync.cleanup"
	ActionReviewManual   = "review.manual"
)

// ruleAction maps a finding rule to its remediation.
var ruleAction = map[string]struct {
	action string
	safe   bool
	reason string
}{
	RuleLeaseStale:      {ActionLeaseCleanup, true, "append release rows for leases that expired without one"},
	RuleAttachMissing:   {ActionAttachRefresh, true, "regenerate attach capsules from the ledgers"},
	RuleReduceLag:       {ActionReviewManual, false, "run a reduce pass; lag may indicate a wedged or absent reducer"},
	RuleInstanceStale:   {ActionSyncCleanup, false, "confirm the instance is gone, then sync --stop it"},
	RuleConflictBacklog: {ActionReconcile, false, "each conflict needs a human reconcile --resolve-conflict"},
	RuleDuplicateKey:    {ActionReconcileLease, false, "supersede the losing decision under a lease on its key"},
}

// OptimizeOptions parameterizes plan building and execution.
type OptimizeOptions struct {
	MaxActions int

	// Execute performs the safe actions; otherwise the run only plans.
	Execute bool

	// DryRun computes the plan without persisting even the plan row.
	DryRun bool

	// Lister backs the attach.refresh action (views.ProjectLister).
	Lister project.ObjectLister

	Now time.Time
	IDs record.IDSource
}

// OptimizeResult reports the plan, and in execute mode what actually
// ran and which findings the run verified closed.
type OptimizeResult struct {
	Plan     record.PlanRow        `json:"plan"`
	Executed []record.ExecutionRow `json:"executed"`
	Closed   []string              `json:"closed_findings"`
	DryRun   bool                  `json:"dry_run"`
}

// Optimize orders open findings by severity, builds a bounded action
// plan, and in execute mode performs the safe actions up to the cap.
// A finding closes only after its metric re-checks clean; execution
// alone is not proof of remediation.
func Optimize(ctx context.Context, st *shard.Store, opts OptimizeOptions) (*OptimizeResult, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	maxActions := opts.MaxActions
	if maxActions <= 0 {
		maxActions = DefaultMaxActions
	}
	ids := opts.IDs
	if ids == nil {
		ids = record.UUIDSource{}
	}

	open, err := OpenFindings(st)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(open, func(i, j int) bool {
		return severityRank(open[i].Severity) < severityRank(open[j].Severity)
	})

	plan := record.PlanRow{
		Schema:  record.SchemaPlan,
		PlanID:  ids.NewID(record.KindPlan, now),
		Actions: []record.PlannedAction{},
		TS:      record.FormatTS(now),
	}
	for _, f := range open {
		if len(plan.Actions) >= maxActions {
			break
		}
		r, ok := ruleAction[f.RuleID]
		if !ok {
			continue
		}
		plan.Actions = append(plan.Actions, record.PlannedAction{
			FindingID: f.FindingID,
			RuleID:    f.RuleID,
			Action:    r.action,
			Safe:      r.safe,
			Reason:    r.reason,
		})
	}
	// A rebuild after any executed remediation keeps the catalog honest.
	if opts.Execute && hasSafeAction(plan.Actions) && len(plan.Actions) < maxActions {
		plan.Actions = append(plan.Actions, record.PlannedAction{
			Action: ActionReindex,
			Safe:   true,
			Reason: "refresh the catalog after remediation",
		})
	}
	hash, err := record.LedgerHash(plan)
	if err != nil {
		return nil, fault.Validationf("governance.optimize", "compute hash: %v", err)
	}
	plan.Hash = hash

	res := &OptimizeResult{Plan: plan, Executed: []record.ExecutionRow{}, Closed: []string{}, DryRun: opts.DryRun}
	if opts.DryRun {
		return res, nil
	}
	if _, err := st.EnsureLayout(); err != nil {
		return nil, err
	}
	if err := st.AppendRecord(st.PlansPath(), plan); err != nil {
		return nil, err
	}
	if !opts.Execute {
		return res, nil
	}

	for _, action := range plan.Actions {
		if !action.Safe {
			continue
		}
		status, details := executeSafe(ctx, st, action, opts.Lister, now)
		row, err := executionRow(plan.PlanID, action, status, details, now, ids)
		if err != nil {
			return nil, err
		}
		if err := st.AppendRecord(st.ExecutionsPath(), row); err != nil {
			return nil, err
		}
		res.Executed = append(res.Executed, row)

		if status != record.ExecutionDone || action.FindingID == "" {
			continue
		}
		clean, err := remediated(st, action.RuleID, now)
		if err != nil {
			return nil, err
		}
		if clean {
			if _, err := CloseFinding(st, action.FindingID, "remediation verified by "+action.Action, now); err != nil {
				return nil, err
			}
			res.Closed = append(res.Closed, action.FindingID)
		}
	}

	slog.Info("optimize complete",
		"planned", len(plan.Actions),
		"executed", len(res.Executed),
		"closed", len(res.Closed),
	)
	return res, nil
}

// executeSafe runs one safe action and reports its outcome. Failures
// are recorded in the execution ledger, never propagated: one broken
// remediation must not abort the rest of the plan.
func executeSafe(ctx context.Context, st *shard.Store, action record.PlannedAction, lister project.ObjectLister, now time.Time) (string, string) {
	switch action.Action {
	case ActionLeaseCleanup:
		released, err := lease.CleanupStale(st, now)
		if err != nil {
			return record.ExecutionFailed, err.Error()
		}
		return record.ExecutionDone, fmt.Sprintf("released %d stale lease(s)", len(released))
	case ActionAttachRefresh:
		results, err := project.AttachAll(st, lister, now, false)
		if err != nil {
			return record.ExecutionFailed, err.Error()
		}
		return record.ExecutionDone, fmt.Sprintf("refreshed %d attach capsule(s)", len(results))
	case ActionReindex:
		stats, err := index.Rebuild(ctx, st)
		if err != nil {
			return record.ExecutionFailed, err.Error()
		}
		return record.ExecutionDone, fmt.Sprintf("indexed %d shard(s), %d object(s)", stats.Shards, stats.Objects)
	default:
		return record.ExecutionFailed, "action is not auto-executable"
	}
}

// remediated re-checks the metric behind a rule after its safe action
// ran.
func remediated(st *shard.Store, rule string, now time.Time) (bool, error) {
	switch rule {
	case RuleLeaseStale:
		stale, err := lease.StaleUnreleased(st, now)
		if err != nil {
			return false, err
		}
		return len(stale) == 0, nil
	case RuleAttachMissing:
		missing, err := project.MissingAttach(st)
		if err != nil {
			return false, err
		}
		return len(missing) == 0, nil
	default:
		return false, nil
	}
}

func executionRow(planID string, action record.PlannedAction, status, details string, now time.Time, ids record.IDSource) (record.ExecutionRow, error) {
	row := record.ExecutionRow{
		Schema:      record.SchemaExecution,
		ExecutionID: ids.NewID(record.KindExecution, now),
		PlanID:      planID,
		Action:      action.Action,
		FindingID:   action.FindingID,
		Status:      status,
		Details:     details,
		TS:          record.FormatTS(now),
	}
	hash, err := record.LedgerHash(row)
	if err != nil {
		return record.ExecutionRow{}, fault.Validationf("governance.optimize", "compute hash: %v", err)
	}
	row.Hash = hash
	return row, nil
}

func hasSafeAction(actions []record.PlannedAction) bool {
	for _, a := range actions {
		if a.Safe {
			return true
		}
	}
	return false
}

// severityRank orders findings for planning.
func severityRank(s string) int {
	switch s {
	case SeverityHigh:
		return 0
	case SeverityMedium:
		return 1
	default:
		return 2
	}
}
