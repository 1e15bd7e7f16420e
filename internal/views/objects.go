// Package views reads the derived side of the ledger: typed view
// objects, supersede chains, the conflict ledger, and the reconcile
// operation that extends both.
//
// Objects are append-only; "current" is always a fold. An object is
// active when its status is active and no other object names it in a
// supersedes field. Two active objects may share a decision key only
// while a conflict stays open for that key.
package views

import (
	"encoding/json"
	"path/filepath"
	"sort"
	"strings"

	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/shard"
)

// ActiveObjects folds the view shards for a scope and returns the live
// objects, newest first (ties broken by object id for determinism).
//
// scope == "" folds every scope; types == nil folds every family.
// Empty result is an empty slice, never nil.
func ActiveObjects(st *shard.Store, scope string, types ...record.ObjectType) ([]record.Object, error) {
	byID, superseded, err := foldObjects(st, scope, types)
	if err != nil {
		return nil, err
	}

	active := []record.Object{}
	for id, obj := range byID {
		if obj.Status != record.StatusActive || superseded[id] {
			continue
		}
		active = append(active, obj)
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].TS != active[j].TS {
			return active[i].TS > active[j].TS
		}
		return active[i].ObjectID < active[j].ObjectID
	})
	return active, nil
}

// ActiveDecisionByKey returns the newest active decision holding key in
// scope, or nil when none does. The reducer asks this before accepting
// a new decision on the key.
func ActiveDecisionByKey(st *shard.Store, scope, key string) (*record.Object, error) {
	if key == "" {
		return nil, nil
	}
	decisions, err := ActiveObjects(st, scope, record.ObjectDecision)
	if err != nil {
		return nil, err
	}
	for i := range decisions {
		if decisions[i].DecisionKey == key {
			return &decisions[i], nil
		}
	}
	return nil, nil
}

// DuplicateActiveDecisionKeys returns each (scope, decision key) pair
// held by more than one active decision, with the number of holders.
// A nonzero result means a collision survived reduction, which is a
// governance finding whether or not a conflict is open for it.
func DuplicateActiveDecisionKeys(st *shard.Store, scope string) (map[string]int, error) {
	decisions, err := ActiveObjects(st, scope, record.ObjectDecision)
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	for _, d := range decisions {
		if d.DecisionKey == "" {
			continue
		}
		counts[d.Scope+"/"+d.DecisionKey]++
	}
	dups := map[string]int{}
	for k, n := range counts {
		if n > 1 {
			dups[k] = n
		}
	}
	return dups, nil
}

// foldObjects reads every matching view shard into an id-keyed map
// (last line wins for a repeated id) and the set of superseded ids.
func foldObjects(st *shard.Store, scope string, types []record.ObjectType) (map[string]record.Object, map[string]bool, error) {
	if len(types) == 0 {
		types = []record.ObjectType{record.ObjectFact, record.ObjectDecision, record.ObjectCommitment}
	}

	byID := map[string]record.Object{}
	superseded := map[string]bool{}
	for _, t := range types {
		err := forEachObject(st, t, scope, func(obj record.Object, _ string, _ int) error {
			byID[obj.ObjectID] = obj
			if obj.Supersedes != "" {
				superseded[obj.Supersedes] = true
			}
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
	}
	return byID, superseded, nil
}

// forEachObject streams decoded objects of one family, optionally
// narrowed to a scope, in deterministic shard order.
func forEachObject(st *shard.Store, t record.ObjectType, scope string, fn func(obj record.Object, path string, line int) error) error {
	shards, err := st.ListShards(st.ViewCollectionDir(t))
	if err != nil {
		return err
	}
	scopeDir := ""
	if scope != "" {
		scopeDir = st.ViewDir(t, scope)
	}
	for _, path := range shards {
		if scopeDir != "" && !inDir(path, scopeDir) {
			continue
		}
		_, err := st.ReadLines(path, func(l shard.Line) error {
			var obj record.Object
			if json.Unmarshal(l.Raw, &obj) != nil || obj.ObjectID == "" {
				return nil
			}
			return fn(obj, l.Path, l.Number)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func inDir(path, dir string) bool {
	return strings.HasPrefix(filepath.ToSlash(path), filepath.ToSlash(dir)+"/")
}
