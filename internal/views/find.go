package views

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/diasync/diasync/internal/fault"
	"github.com/diasync/diasync/internal/index"
	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/shard"
)

// FindObject resolves a view object by id.
//
// The SQLite catalog is tried first; a hit is re-read from the shard it
// points at and hash-verified, so a stale or corrupt index can mislead a
// lookup but never its result. Any index failure falls back to a full
// scan. Later appends for the same id win, matching the fold rule.
func FindObject(ctx context.Context, st *shard.Store, id string) (record.Object, error) {
	const op = "views.find"
	if id == "" {
		return record.Object{}, fault.Validationf(op, "object id must not be empty")
	}

	if obj, ok := findViaIndex(ctx, st, id); ok {
		return obj, nil
	}

	var found *record.Object
	for _, t := range []record.ObjectType{record.ObjectFact, record.ObjectDecision, record.ObjectCommitment} {
		err := forEachObject(st, t, "", func(obj record.Object, _ string, _ int) error {
			if obj.ObjectID == id {
				found = &obj
			}
			return nil
		})
		if err != nil {
			return record.Object{}, err
		}
	}
	if found == nil {
		return record.Object{}, fault.NotFoundf(op, id, "object %s not found", id)
	}
	return *found, nil
}

// findViaIndex is the advisory fast path. Every failure mode (no
// database, stale row, hash mismatch, read error) reports false and the
// caller scans; the index is never trusted over shard bytes.
func findViaIndex(ctx context.Context, st *shard.Store, id string) (record.Object, bool) {
	idx, err := index.Open(st)
	if err != nil {
		return record.Object{}, false
	}
	defer idx.Close()

	ent, ok, err := idx.LookupID(ctx, id)
	if err != nil || !ok {
		return record.Object{}, false
	}

	var obj record.Object
	hit := false
	_, err = st.ReadLines(ent.Path, func(l shard.Line) error {
		if l.Number != ent.Line {
			return nil
		}
		if err := record.CheckObject(l.Fields); err != nil {
			return err
		}
		if json.Unmarshal(l.Raw, &obj) != nil || obj.ObjectID != id {
			return shard.ErrStop
		}
		hit = true
		return shard.ErrStop
	})
	if err != nil || !hit {
		if err != nil {
			slog.Debug("index lookup rejected, falling back to scan", "id", id, "error", err)
		}
		return record.Object{}, false
	}
	return obj, true
}
