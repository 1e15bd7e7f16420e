package governance

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/diasync/diasync/internal/fault"
	"github.com/diasync/diasync/internal/instance"
	"github.com/diasync/diasync/internal/lease"
	"github.com/diasync/diasync/internal/project"
	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/reduce"
	"github.com/diasync/diasync/internal/shard"
	"github.com/diasync/diasync/internal/views"
)

// Diagnose defaults.
const (
	DefaultStaleAfter = 1800 * time.Second
	MinStaleAfter     = 60 * time.Second

	// View freshness thresholds: reducer audit recency within Fresh
	// carries no penalty, within Aging the half penalty, beyond it the
	// full one.
	DefaultViewFresh = 24 * time.Hour
	DefaultViewAging = 72 * time.Hour
)

// DiagnoseOptions parameterizes one health pass.
type DiagnoseOptions struct {
	// StaleAfter is the heartbeat age beyond which an instance counts as
	// stale. Values below MinStaleAfter are raised to it.
	StaleAfter time.Duration

	// Scope narrows reduce-lag and duplicate-key metrics; empty means
	// store-wide.
	Scope   string
	Project string

	// ViewFresh / ViewAging override the freshness thresholds (policy).
	ViewFresh time.Duration
	ViewAging time.Duration

	// DryRun computes and returns the identical scorecard without
	// persisting scorecard, trend, or findings.
	DryRun bool

	Now time.Time
	IDs record.IDSource
}

// DiagnoseResult is the scorecard plus the findings this pass opened.
type DiagnoseResult struct {
	Scorecard   record.Scorecard   `json:"scorecard"`
	NewFindings []record.FindingOp `json:"new_findings"`
	OpenTotal   int                `json:"open_findings"`
	DryRun      bool               `json:"dry_run"`
}

// Penalty caps. Each input subtracts at most its cap from the score, so
// one runaway metric cannot zero the card on its own.
func penalty(n, per, cap int) int {
	p := n * per
	if p > cap {
		return cap
	}
	return p
}

// Score computes the health score and band for a metric snapshot.
// Monotone: increasing any single metric never raises the score, and
// the result is clamped to [0,100].
func Score(m record.HealthMetrics) (int, string) {
	score := 100
	score -= penalty(m.StaleInstances, 10, 20)
	score -= penalty(m.OpenConflicts, 8, 24)
	score -= penalty(m.StaleLeases, 8, 16)
	score -= penalty(m.ReduceLag, 1, 20)
	score -= penalty(m.MissingAttach, 5, 10)
	score -= m.FreshnessPenalty
	score -= penalty(m.DuplicateDecisionKeys, 10, 20)
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	switch {
	case score >= 85:
		return score, record.BandGreen
	case score >= 65:
		return score, record.BandYellow
	default:
		return score, record.BandRed
	}
}

// Diagnose computes the metric snapshot, scores it, and (outside dry
// run) persists a scorecard, a trend row, and any newly opened
// findings. A finding opens only when no open finding exists for the
// same (rule, scope, project).
func Diagnose(st *shard.Store, opts DiagnoseOptions) (*DiagnoseResult, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	staleAfter := opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if staleAfter < MinStaleAfter {
		staleAfter = MinStaleAfter
	}
	viewFresh := opts.ViewFresh
	if viewFresh <= 0 {
		viewFresh = DefaultViewFresh
	}
	viewAging := opts.ViewAging
	if viewAging <= 0 {
		viewAging = DefaultViewAging
	}

	metrics, detail, err := collectMetrics(st, opts.Scope, staleAfter, viewFresh, viewAging, now)
	if err != nil {
		return nil, err
	}
	score, band := Score(metrics)

	card := record.Scorecard{
		Schema:  record.SchemaScorecard,
		Scope:   opts.Scope,
		Project: record.Slugify(opts.Project),
		Metrics: metrics,
		Score:   score,
		Band:    band,
		TS:      record.FormatTS(now),
	}
	if opts.Project == "" {
		card.Project = ""
	}
	hash, err := record.LedgerHash(card)
	if err != nil {
		return nil, fault.Validationf("governance.diagnose", "compute hash: %v", err)
	}
	card.Hash = hash

	res := &DiagnoseResult{Scorecard: card, NewFindings: []record.FindingOp{}, DryRun: opts.DryRun}

	if opts.DryRun {
		open, err := OpenFindings(st)
		if err != nil {
			return nil, err
		}
		res.OpenTotal = len(open)
		return res, nil
	}

	if _, err := st.EnsureLayout(); err != nil {
		return nil, err
	}
	if err := st.AppendRecord(st.ScorecardsPath(), card); err != nil {
		return nil, err
	}

	for _, d := range detail {
		row, opened, err := OpenFinding(st, d.rule, opts.Scope, card.Project, d.summary, d.details, now, opts.IDs)
		if err != nil {
			return nil, err
		}
		if opened {
			res.NewFindings = append(res.NewFindings, row)
		}
	}

	open, err := OpenFindings(st)
	if err != nil {
		return nil, err
	}
	res.OpenTotal = len(open)

	trend := record.TrendRow{
		Schema:       record.SchemaTrend,
		Score:        score,
		Band:         band,
		OpenFindings: res.OpenTotal,
		TS:           record.FormatTS(now),
	}
	trendHash, err := record.LedgerHash(trend)
	if err != nil {
		return nil, fault.Validationf("governance.diagnose", "compute hash: %v", err)
	}
	trend.Hash = trendHash
	if err := st.AppendRecord(st.TrendsPath(), trend); err != nil {
		return nil, err
	}

	slog.Info("diagnose complete",
		"score", score,
		"band", band,
		"new_findings", len(res.NewFindings),
		"open_findings", res.OpenTotal,
	)
	return res, nil
}

// detected pairs a triggered rule with its finding text.
type detected struct {
	rule    string
	summary string
	details map[string]any
}

// collectMetrics reads every ledger family the score depends on.
func collectMetrics(st *shard.Store, scope string, staleAfter, viewFresh, viewAging time.Duration, now time.Time) (record.HealthMetrics, []detected, error) {
	var m record.HealthMetrics
	var found []detected

	staleInstances, err := instance.Stale(st, staleAfter, now)
	if err != nil {
		return m, nil, err
	}
	m.StaleInstances = len(staleInstances)
	if m.StaleInstances > 0 {
		ids := make([]string, 0, len(staleInstances))
		for _, s := range staleInstances {
			ids = append(ids, s.InstanceID)
		}
		found = append(found, detected{
			rule:    RuleInstanceStale,
			summary: fmt.Sprintf("%d instance(s) silent beyond %s", m.StaleInstances, staleAfter),
			details: map[string]any{"instances": ids},
		})
	}

	conflicts, err := views.OpenConflicts(st)
	if err != nil {
		return m, nil, err
	}
	m.OpenConflicts = len(conflicts)
	if m.OpenConflicts > 0 {
		found = append(found, detected{
			rule:    RuleConflictBacklog,
			summary: fmt.Sprintf("%d conflict(s) open and unreconciled", m.OpenConflicts),
			details: map[string]any{"conflicts": conflictIDs(conflicts)},
		})
	}

	staleLeases, err := lease.StaleUnreleased(st, now)
	if err != nil {
		return m, nil, err
	}
	m.StaleLeases = len(staleLeases)
	if m.StaleLeases > 0 {
		found = append(found, detected{
			rule:    RuleLeaseStale,
			summary: fmt.Sprintf("%d lease(s) expired without release", m.StaleLeases),
			details: map[string]any{"leases": leaseKeys(staleLeases)},
		})
	}

	m.ReduceLag, err = reduce.LagCount(st, scope)
	if err != nil {
		return m, nil, err
	}
	if m.ReduceLag > 0 {
		found = append(found, detected{
			rule:    RuleReduceLag,
			summary: fmt.Sprintf("%d published event(s) await reduction", m.ReduceLag),
			details: map[string]any{"lag": m.ReduceLag},
		})
	}

	missing, err := project.MissingAttach(st)
	if err != nil {
		return m, nil, err
	}
	m.MissingAttach = len(missing)
	if m.MissingAttach > 0 {
		found = append(found, detected{
			rule:    RuleAttachMissing,
			summary: fmt.Sprintf("%d project(s) have state but no attach capsule", m.MissingAttach),
			details: map[string]any{"projects": missing},
		})
	}

	dups, err := views.DuplicateActiveDecisionKeys(st, scope)
	if err != nil {
		return m, nil, err
	}
	m.DuplicateDecisionKeys = len(dups)
	if m.DuplicateDecisionKeys > 0 {
		found = append(found, detected{
			rule:    RuleDuplicateKey,
			summary: fmt.Sprintf("%d decision key(s) held by more than one active object", m.DuplicateDecisionKeys),
			details: map[string]any{"keys": dups},
		})
	}

	m.FreshnessPenalty, err = freshnessPenalty(st, viewFresh, viewAging, m.ReduceLag, now)
	if err != nil {
		return m, nil, err
	}

	return m, found, nil
}

// freshnessPenalty grades reducer recency: 0 within fresh, 5 within
// aging, 10 beyond. An empty audit trail is fine while nothing awaits
// reduction, and the full penalty once something does.
func freshnessPenalty(st *shard.Store, fresh, aging time.Duration, lag int, now time.Time) (int, error) {
	last, err := reduce.LastAuditTS(st)
	if err != nil {
		return 0, err
	}
	if last.IsZero() {
		if lag > 0 {
			return 10, nil
		}
		return 0, nil
	}
	age := now.Sub(last)
	switch {
	case age <= fresh:
		return 0, nil
	case age <= aging:
		return 5, nil
	default:
		return 10, nil
	}
}

func conflictIDs(cs []record.ConflictOp) []string {
	ids := make([]string, 0, len(cs))
	for _, c := range cs {
		ids = append(ids, c.ConflictID)
	}
	return ids
}

func leaseKeys(ls []record.LeaseOp) []string {
	keys := make([]string, 0, len(ls))
	for _, l := range ls {
		keys = append(keys, l.Scope+"/"+l.Key)
	}
	return keys
}
