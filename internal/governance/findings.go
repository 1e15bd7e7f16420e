// Package governance closes the detect, plan, execute, verify loop over
// the ledger.
//
// Diagnose reads what every other component wrote, scores store health,
// and opens findings for the issues it detects. Optimize turns open
// findings into a bounded action plan and executes only the actions
// whose effect is itself an ordinary append (releasing stale leases,
// rebuilding the index, refreshing attach capsules). Anything touching
// knowledge content is planned for an operator, never auto-executed.
package governance

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/diasync/diasync/internal/fault"
	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/shard"
)

// Finding rules, with the severity optimize orders by.
const (
	RuleInstanceStale   = "gov.instance.stale"
	RuleConflictBacklog = "gov.conflict.backlog"
	RuleDuplicateKey    = "gov.decision.duplicate-key"
	RuleLeaseStale      = "gov.lease.stale"
	RuleReduceLag       = "gov.reduce.lag"
	RuleAttachMissing   = "gov.attach.missing"
)

// Finding severities.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// ruleSeverity maps every rule to its severity.
var ruleSeverity = map[string]string{
	RuleInstanceStale:   SeverityHigh,
	RuleConflictBacklog: SeverityHigh,
	RuleDuplicateKey:    SeverityHigh,
	RuleLeaseStale:      SeverityMedium,
	RuleReduceLag:       SeverityMedium,
	RuleAttachMissing:   SeverityMedium,
}

// OpenFindings folds the findings shards and returns the findings no
// close row has ended, oldest first (ties by id).
func OpenFindings(st *shard.Store) ([]record.FindingOp, error) {
	open, err := findingFold(st)
	if err != nil {
		return nil, err
	}
	out := []record.FindingOp{}
	for _, f := range open {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TS != out[j].TS {
			return out[i].TS < out[j].TS
		}
		return out[i].FindingID < out[j].FindingID
	})
	return out, nil
}

// OpenFinding appends an open row unless one is already open for the
// same (rule, scope, project) — the de-dup rule. Returns the row that
// is open after the call and whether this call opened it.
func OpenFinding(st *shard.Store, rule, scope, project, summary string, details map[string]any, now time.Time, ids record.IDSource) (record.FindingOp, bool, error) {
	const op = "governance.finding.open"
	severity, ok := ruleSeverity[rule]
	if !ok {
		return record.FindingOp{}, false, fault.Validationf(op, "unknown finding rule %q", rule)
	}

	open, err := findingFold(st)
	if err != nil {
		return record.FindingOp{}, false, err
	}
	for _, f := range open {
		if f.RuleID == rule && f.Scope == scope && f.Project == project {
			return f, false, nil
		}
	}
	if ids == nil {
		ids = record.UUIDSource{}
	}

	row := record.FindingOp{
		Schema:    record.SchemaFinding,
		FindingID: ids.NewID(record.KindFinding, now),
		Op:        record.FindingOpen,
		RuleID:    rule,
		Severity:  severity,
		Scope:     scope,
		Project:   project,
		Summary:   summary,
		Details:   details,
		TS:        record.FormatTS(now),
	}
	hash, err := record.LedgerHash(row)
	if err != nil {
		return record.FindingOp{}, false, fault.Validationf(op, "compute hash: %v", err)
	}
	row.Hash = hash
	if err := st.AppendRecord(st.FindingsPath(now), row); err != nil {
		return record.FindingOp{}, false, err
	}
	return row, true, nil
}

// CloseFinding appends the close row for an open finding. Closing a
// finding that is not open is not-found.
func CloseFinding(st *shard.Store, findingID, summary string, now time.Time) (record.FindingOp, error) {
	const op = "governance.finding.close"
	open, err := findingFold(st)
	if err != nil {
		return record.FindingOp{}, err
	}
	cur, ok := open[findingID]
	if !ok {
		return record.FindingOp{}, fault.NotFoundf(op, findingID, "finding %s is not open", findingID)
	}

	row := record.FindingOp{
		Schema:    record.SchemaFinding,
		FindingID: findingID,
		Op:        record.FindingClose,
		RuleID:    cur.RuleID,
		Severity:  cur.Severity,
		Scope:     cur.Scope,
		Project:   cur.Project,
		Summary:   summary,
		TS:        record.FormatTS(now),
	}
	hash, err := record.LedgerHash(row)
	if err != nil {
		return record.FindingOp{}, fault.Validationf(op, "compute hash: %v", err)
	}
	row.Hash = hash
	if err := st.AppendRecord(st.FindingsPath(now), row); err != nil {
		return record.FindingOp{}, err
	}
	return row, nil
}

// findingFold replays every findings shard: open adds, close removes.
func findingFold(st *shard.Store) (map[string]record.FindingOp, error) {
	open := map[string]record.FindingOp{}
	shards, err := st.ListShards(st.FindingsDir())
	if err != nil {
		return nil, err
	}
	for _, path := range shards {
		_, err := st.ReadLines(path, func(l shard.Line) error {
			var row record.FindingOp
			if json.Unmarshal(l.Raw, &row) != nil || row.FindingID == "" {
				return nil
			}
			switch row.Op {
			case record.FindingOpen:
				open[row.FindingID] = row
			case record.FindingClose:
				delete(open, row.FindingID)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return open, nil
}
