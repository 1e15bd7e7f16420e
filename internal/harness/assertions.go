package harness

import (
	"encoding/json"
	"fmt"

	"github.com/diasync/diasync/internal/lease"
	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/shard"
	"github.com/diasync/diasync/internal/views"
)

// evaluate checks every assertion against the store's folded state.
// Returned strings are human-readable failure descriptions; an error
// means the store itself could not be read.
func evaluate(r *runner, assertions []Assertion) ([]string, error) {
	var failures []string
	for i, a := range assertions {
		fail, err := check(r, a)
		if err != nil {
			return nil, fmt.Errorf("assertions[%d] %s: %w", i, a.Type, err)
		}
		if fail != "" {
			failures = append(failures, fmt.Sprintf("assertions[%d] %s: %s", i, a.Type, fail))
		}
	}
	return failures, nil
}

func check(r *runner, a Assertion) (string, error) {
	switch a.Type {
	case AssertActiveObjects:
		return checkActiveObjects(r, a)
	case AssertOpenConflicts:
		return checkOpenConflicts(r, a)
	case AssertLeaseState:
		return checkLeaseState(r, a)
	case AssertScore:
		return checkScore(r, a)
	case AssertEventCount:
		return checkEventCount(r, a)
	}
	return "", fmt.Errorf("unknown assertion type %q", a.Type)
}

func checkActiveObjects(r *runner, a Assertion) (string, error) {
	scope := a.Scope
	if scope == "" {
		scope = r.scope
	}
	var types []record.ObjectType
	if a.ObjectType != "" {
		types = append(types, record.ObjectType(a.ObjectType))
	}
	objs, err := views.ActiveObjects(r.st, scope, types...)
	if err != nil {
		return "", err
	}
	if len(objs) != *a.Count {
		return fmt.Sprintf("want %d active object(s), got %d", *a.Count, len(objs)), nil
	}
	if a.Summary != "" {
		if len(objs) == 0 {
			return fmt.Sprintf("want newest summary %q, fold is empty", a.Summary), nil
		}
		// ActiveObjects yields newest first.
		if objs[0].Summary != a.Summary {
			return fmt.Sprintf("want newest summary %q, got %q", a.Summary, objs[0].Summary), nil
		}
	}
	return "", nil
}

func checkOpenConflicts(r *runner, a Assertion) (string, error) {
	open, err := views.OpenConflicts(r.st)
	if err != nil {
		return "", err
	}
	if len(open) != *a.Count {
		return fmt.Sprintf("want %d open conflict(s), got %d", *a.Count, len(open)), nil
	}
	return "", nil
}

func checkLeaseState(r *runner, a Assertion) (string, error) {
	scope := a.Scope
	if scope == "" {
		scope = r.scope
	}
	// Lease liveness is judged at the clock's current position, after
	// the whole flow (including ticks) has run.
	held, err := lease.Holder(r.st, scope, a.Key, r.clock.Peek())
	if err != nil {
		return "", err
	}
	if *a.Held != (held != nil) {
		if *a.Held {
			return fmt.Sprintf("want %s held, key is free", a.Key), nil
		}
		return fmt.Sprintf("want %s free, held by %s", a.Key, held.Owner), nil
	}
	if a.Holder != "" && held != nil && held.Owner != a.Holder {
		return fmt.Sprintf("want holder %s, got %s", a.Holder, held.Owner), nil
	}
	return "", nil
}

func checkScore(r *runner, a Assertion) (string, error) {
	card, err := lastScorecard(r.st)
	if err != nil {
		return "", err
	}
	if card == nil {
		return "no scorecard written", nil
	}
	if a.Score != nil && card.Score != *a.Score {
		return fmt.Sprintf("want score %d, got %d", *a.Score, card.Score), nil
	}
	if a.Band != "" && card.Band != a.Band {
		return fmt.Sprintf("want band %s, got %s", a.Band, card.Band), nil
	}
	return "", nil
}

func checkEventCount(r *runner, a Assertion) (string, error) {
	total := 0
	_, err := r.st.WalkZone(a.Zone, func(shard.Line) error {
		total++
		return nil
	})
	if err != nil {
		return "", err
	}
	if total != *a.Count {
		return fmt.Sprintf("want %d line(s) in %s, got %d", *a.Count, a.Zone, total), nil
	}
	return "", nil
}

// lastScorecard replays the health ledger and keeps the final row.
func lastScorecard(st *shard.Store) (*record.Scorecard, error) {
	var last *record.Scorecard
	_, err := st.ReadLines(st.ScorecardsPath(), func(line shard.Line) error {
		var card record.Scorecard
		if err := json.Unmarshal(line.Raw, &card); err != nil {
			return nil
		}
		if card.Schema == record.SchemaScorecard {
			last = &card
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return last, nil
}
