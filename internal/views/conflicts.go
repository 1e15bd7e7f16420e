package views

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/diasync/diasync/internal/fault"
	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/shard"
)

// ConflictParams names a detected decision-key collision: the holding
// object, both summaries (holder first), and the event ids of the
// challengers the reducer set aside.
type ConflictParams struct {
	Scope        string
	DecisionKey  string
	ObjectIDs    []string
	Summaries    []string
	SourceEvents []string

	Now time.Time
	IDs record.IDSource
}

// AppendConflict opens a conflict in the ledger. The record carries
// enough to reconstruct the challenge later; resolution is a separate,
// explicit act.
func AppendConflict(st *shard.Store, p ConflictParams) (record.ConflictOp, error) {
	const op = "views.conflict.open"
	if p.Scope == "" {
		return record.ConflictOp{}, fault.Validationf(op, "scope must not be empty")
	}
	if p.DecisionKey == "" {
		return record.ConflictOp{}, fault.Validationf(op, "decision key must not be empty")
	}
	now := p.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ids := p.IDs
	if ids == nil {
		ids = record.UUIDSource{}
	}

	row := record.ConflictOp{
		Schema:       record.SchemaConflict,
		ConflictID:   ids.NewID(record.KindConflict, now),
		Op:           record.ConflictOpen,
		Scope:        p.Scope,
		DecisionKey:  p.DecisionKey,
		ObjectIDs:    record.UniqueStrings(p.ObjectIDs),
		Summaries:    p.Summaries,
		SourceEvents: record.UniqueStrings(p.SourceEvents),
		TS:           record.FormatTS(now),
	}
	hash, err := record.LedgerHash(row)
	if err != nil {
		return record.ConflictOp{}, fault.Validationf(op, "compute hash: %v", err)
	}
	row.Hash = hash

	if err := st.AppendRecord(st.ConflictsPath(), row); err != nil {
		return record.ConflictOp{}, err
	}
	return row, nil
}

// ResolveConflict appends the resolve row for an open conflict,
// naming the object that settles it. Resolving a conflict that is not
// open is refused: unknown ids are not-found, closed ones a conflict
// error carrying the id.
func ResolveConflict(st *shard.Store, conflictID, resolvedBy string, now time.Time) (record.ConflictOp, error) {
	const op = "views.conflict.resolve"
	if conflictID == "" {
		return record.ConflictOp{}, fault.Validationf(op, "conflict id must not be empty")
	}
	open, seen, err := conflictFold(st)
	if err != nil {
		return record.ConflictOp{}, err
	}
	cur, isOpen := open[conflictID]
	if !isOpen {
		if seen[conflictID] {
			return record.ConflictOp{}, fault.Conflictf(op, conflictID, "conflict %s is already resolved", conflictID)
		}
		return record.ConflictOp{}, fault.NotFoundf(op, conflictID, "conflict %s not found", conflictID)
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	row := record.ConflictOp{
		Schema:      record.SchemaConflict,
		ConflictID:  conflictID,
		Op:          record.ConflictResolve,
		Scope:       cur.Scope,
		DecisionKey: cur.DecisionKey,
		ResolvedBy:  resolvedBy,
		TS:          record.FormatTS(now),
	}
	hash, err := record.LedgerHash(row)
	if err != nil {
		return record.ConflictOp{}, fault.Validationf(op, "compute hash: %v", err)
	}
	row.Hash = hash

	if err := st.AppendRecord(st.ConflictsPath(), row); err != nil {
		return record.ConflictOp{}, err
	}
	return row, nil
}

// OpenConflicts folds the conflict ledger and returns the conflicts no
// resolve row has closed, oldest first (ties by id).
func OpenConflicts(st *shard.Store) ([]record.ConflictOp, error) {
	open, _, err := conflictFold(st)
	if err != nil {
		return nil, err
	}
	out := []record.ConflictOp{}
	for _, c := range open {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TS != out[j].TS {
			return out[i].TS < out[j].TS
		}
		return out[i].ConflictID < out[j].ConflictID
	})
	return out, nil
}

// OpenConflictForKey returns the open conflict on (scope, decision key),
// or nil when the key is uncontested.
func OpenConflictForKey(st *shard.Store, scope, key string) (*record.ConflictOp, error) {
	open, _, err := conflictFold(st)
	if err != nil {
		return nil, err
	}
	for _, c := range open {
		if c.Scope == scope && c.DecisionKey == key {
			match := c
			return &match, nil
		}
	}
	return nil, nil
}

// ConflictByID returns the open conflict row for id. seen distinguishes
// a conflict that was resolved (nil, true) from one that never existed
// (nil, false).
func ConflictByID(st *shard.Store, id string) (open *record.ConflictOp, seen bool, err error) {
	all, seenIDs, err := conflictFold(st)
	if err != nil {
		return nil, false, err
	}
	if c, ok := all[id]; ok {
		return &c, true, nil
	}
	return nil, seenIDs[id], nil
}

// conflictFold replays the conflict ledger: open adds, resolve removes.
// seen tracks every conflict id ever written, open or not.
func conflictFold(st *shard.Store) (open map[string]record.ConflictOp, seen map[string]bool, err error) {
	open = map[string]record.ConflictOp{}
	seen = map[string]bool{}
	_, err = st.ReadLines(st.ConflictsPath(), func(l shard.Line) error {
		var row record.ConflictOp
		if json.Unmarshal(l.Raw, &row) != nil || row.ConflictID == "" {
			return nil
		}
		seen[row.ConflictID] = true
		switch row.Op {
		case record.ConflictOpen:
			open[row.ConflictID] = row
		case record.ConflictResolve:
			delete(open, row.ConflictID)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return open, seen, nil
}
