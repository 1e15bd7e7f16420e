package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
)

// IDEntry locates a view object's newest appended line.
type IDEntry struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Scope  string `json:"scope"`
	Status string `json:"status"`
	Path   string `json:"path"` // absolute, joined with the store root
	Line   int    `json:"line"`
	TS     string `json:"ts"`
}

// LookupID resolves an object id to its shard location. A miss is
// (zero, false, nil); only a query failure reports an error. The entry
// may be stale relative to the ledgers, so callers re-verify the line.
func (d *DB) LookupID(ctx context.Context, id string) (IDEntry, bool, error) {
	var ent IDEntry
	var rel string
	err := d.db.QueryRowContext(ctx, `
		SELECT id, kind, scope, status, path, line, ts
		FROM id_map WHERE id = ?
	`, id).Scan(&ent.ID, &ent.Kind, &ent.Scope, &ent.Status, &rel, &ent.Line, &ent.TS)
	if errors.Is(err, sql.ErrNoRows) {
		return IDEntry{}, false, nil
	}
	if err != nil {
		return IDEntry{}, false, fmt.Errorf("lookup %s: %w", id, err)
	}
	ent.Path = filepath.Join(d.st.Root(), filepath.FromSlash(rel))
	return ent, true, nil
}

// ZoneStats summarizes one ledger zone's cataloged shards.
type ZoneStats struct {
	Shards int `json:"shards"`
	Lines  int `json:"lines"`
}

// CatalogStats is the catalog's view of the store, for stats reporting.
// Advisory like everything else here: as fresh as the last rebuild.
type CatalogStats struct {
	Zones           map[string]ZoneStats `json:"zones"`
	Objects         int                  `json:"objects"`
	ActiveInstances int                  `json:"active_instances"`
	OpenConflicts   int                  `json:"open_conflicts"`
	OpenFindings    int                  `json:"open_findings"`
}

// Stats reads summary counts out of the catalog.
func (d *DB) Stats(ctx context.Context) (*CatalogStats, error) {
	stats := &CatalogStats{Zones: map[string]ZoneStats{}}

	rows, err := d.db.QueryContext(ctx, `
		SELECT zone, COUNT(*), COALESCE(SUM(lines), 0)
		FROM catalog GROUP BY zone
	`)
	if err != nil {
		return nil, fmt.Errorf("catalog stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var zone string
		var zs ZoneStats
		if err := rows.Scan(&zone, &zs.Shards, &zs.Lines); err != nil {
			return nil, fmt.Errorf("catalog stats: %w", err)
		}
		stats.Zones[zone] = zs
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog stats: %w", err)
	}

	counts := []struct {
		query string
		dst   *int
	}{
		{"SELECT COUNT(*) FROM id_map", &stats.Objects},
		{"SELECT COUNT(*) FROM instances_active WHERE state != 'stopped'", &stats.ActiveInstances},
		{"SELECT COUNT(*) FROM conflicts_open", &stats.OpenConflicts},
		{"SELECT COUNT(*) FROM findings_open", &stats.OpenFindings},
	}
	for _, c := range counts {
		if err := d.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("catalog stats: %w", err)
		}
	}
	return stats, nil
}
