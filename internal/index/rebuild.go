package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/shard"
)

// RebuildStats reports what a catalog rebuild inserted.
type RebuildStats struct {
	Shards        int `json:"shards"`
	Objects       int `json:"objects"`
	Instances     int `json:"instances"`
	OpenConflicts int `json:"open_conflicts"`
	OpenFindings  int `json:"open_findings"`
}

// Rebuild opens the catalog for st, rebuilds it, and closes it.
func Rebuild(ctx context.Context, st *shard.Store) (*RebuildStats, error) {
	d, err := Open(st)
	if err != nil {
		return nil, err
	}
	defer d.Close()
	return d.Rebuild(ctx)
}

// Rebuild rescans every tracked ledger into the catalog.
//
// The whole rebuild is one transaction: delete-all then insert, so a
// crash mid-rebuild leaves the previous catalog intact and a re-run
// converges to the same rows. Undecodable lines are skipped the same
// way every ledger fold skips them.
func (d *DB) Rebuild(ctx context.Context) (*RebuildStats, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("rebuild: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"catalog", "id_map", "instances_active", "conflicts_open", "findings_open"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return nil, fmt.Errorf("rebuild: clear %s: %w", table, err)
		}
	}

	stats := &RebuildStats{}
	for _, zone := range shard.TrackedZones {
		if err := d.indexZone(ctx, tx, zone, stats); err != nil {
			return nil, err
		}
	}
	if err := d.indexInstances(ctx, tx, stats); err != nil {
		return nil, err
	}
	if err := d.indexConflicts(ctx, tx, stats); err != nil {
		return nil, err
	}
	if err := d.indexFindings(ctx, tx, stats); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("rebuild: commit: %w", err)
	}
	return stats, nil
}

// indexZone inserts one catalog row per shard and, for the views zone,
// one id_map row per object. Later appends for the same object id win,
// matching the ledger fold rule.
func (d *DB) indexZone(ctx context.Context, tx *sql.Tx, zone string, stats *RebuildStats) error {
	shards, err := d.st.ListShards(d.st.ZoneDir(zone))
	if err != nil {
		return err
	}
	for _, path := range shards {
		lines := 0
		minTS, maxTS := "", ""
		scope, scopeMixed := "", false

		_, err := d.st.ReadLines(path, func(l shard.Line) error {
			lines++
			if ts, _ := l.Fields["ts"].(string); ts != "" {
				if minTS == "" || ts < minTS {
					minTS = ts
				}
				if ts > maxTS {
					maxTS = ts
				}
			}
			if s, _ := l.Fields["scope"].(string); s != "" {
				switch {
				case scope == "" && !scopeMixed:
					scope = s
				case s != scope:
					scope, scopeMixed = "", true
				}
			}
			if zone == shard.ZoneViews {
				if err := d.indexObjectLine(ctx, tx, l, stats); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO catalog (path, zone, scope, lines, min_ts, max_ts)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET
				zone = excluded.zone, scope = excluded.scope, lines = excluded.lines,
				min_ts = excluded.min_ts, max_ts = excluded.max_ts
		`, d.st.Rel(path), zone, scope, lines, minTS, maxTS)
		if err != nil {
			return fmt.Errorf("rebuild: insert catalog row for %s: %w", d.st.Rel(path), err)
		}
		stats.Shards++
	}
	return nil
}

func (d *DB) indexObjectLine(ctx context.Context, tx *sql.Tx, l shard.Line, stats *RebuildStats) error {
	var obj record.Object
	if json.Unmarshal(l.Raw, &obj) != nil || obj.Schema != record.SchemaObject || obj.ObjectID == "" {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO id_map (id, kind, scope, status, path, line, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind, scope = excluded.scope, status = excluded.status,
			path = excluded.path, line = excluded.line, ts = excluded.ts
	`, obj.ObjectID, string(obj.Type), obj.Scope, string(obj.Status), d.st.Rel(l.Path), l.Number, obj.TS)
	if err != nil {
		return fmt.Errorf("rebuild: insert id_map row for %s: %w", obj.ObjectID, err)
	}
	stats.Objects++
	return nil
}

func (d *DB) indexInstances(ctx context.Context, tx *sql.Tx, stats *RebuildStats) error {
	latest := map[string]record.InstanceOp{}
	order := []string{}
	_, err := d.st.ReadLines(d.st.InstancesPath(), func(l shard.Line) error {
		var row record.InstanceOp
		if json.Unmarshal(l.Raw, &row) != nil || row.InstanceID == "" {
			return nil
		}
		if _, seen := latest[row.InstanceID]; !seen {
			order = append(order, row.InstanceID)
		}
		latest[row.InstanceID] = row
		return nil
	})
	if err != nil {
		return err
	}
	for _, id := range order {
		row := latest[id]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO instances_active (instance_id, state, scope, project, ts)
			VALUES (?, ?, ?, ?, ?)
		`, row.InstanceID, row.Event, row.Scope, row.Project, row.TS)
		if err != nil {
			return fmt.Errorf("rebuild: insert instance row for %s: %w", row.InstanceID, err)
		}
		stats.Instances++
	}
	return nil
}

func (d *DB) indexConflicts(ctx context.Context, tx *sql.Tx, stats *RebuildStats) error {
	open := map[string]record.ConflictOp{}
	order := []string{}
	_, err := d.st.ReadLines(d.st.ConflictsPath(), func(l shard.Line) error {
		var row record.ConflictOp
		if json.Unmarshal(l.Raw, &row) != nil || row.ConflictID == "" {
			return nil
		}
		switch row.Op {
		case record.ConflictOpen:
			if _, seen := open[row.ConflictID]; !seen {
				order = append(order, row.ConflictID)
			}
			open[row.ConflictID] = row
		case record.ConflictResolve:
			delete(open, row.ConflictID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, id := range order {
		row, ok := open[id]
		if !ok {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO conflicts_open (conflict_id, scope, decision_key, ts)
			VALUES (?, ?, ?, ?)
		`, row.ConflictID, row.Scope, row.DecisionKey, row.TS)
		if err != nil {
			return fmt.Errorf("rebuild: insert conflict row for %s: %w", row.ConflictID, err)
		}
		stats.OpenConflicts++
	}
	return nil
}

func (d *DB) indexFindings(ctx context.Context, tx *sql.Tx, stats *RebuildStats) error {
	shards, err := d.st.ListShards(d.st.FindingsDir())
	if err != nil {
		return err
	}
	open := map[string]record.FindingOp{}
	order := []string{}
	for _, path := range shards {
		_, err := d.st.ReadLines(path, func(l shard.Line) error {
			var row record.FindingOp
			if json.Unmarshal(l.Raw, &row) != nil || row.FindingID == "" {
				return nil
			}
			switch row.Op {
			case record.FindingOpen:
				if _, seen := open[row.FindingID]; !seen {
					order = append(order, row.FindingID)
				}
				open[row.FindingID] = row
			case record.FindingClose:
				delete(open, row.FindingID)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	for _, id := range order {
		row, ok := open[id]
		if !ok {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO findings_open (finding_id, rule_id, severity, scope, project, ts)
			VALUES (?, ?, ?, ?, ?, ?)
		`, row.FindingID, row.RuleID, row.Severity, row.Scope, row.Project, row.TS)
		if err != nil {
			return fmt.Errorf("rebuild: insert finding row for %s: %w", row.FindingID, err)
		}
		stats.OpenFindings++
	}
	return nil
}
