// Package instance tracks writer lifecycle in the shared registry.
//
// Every writer announces itself with Start, proves liveness with
// Heartbeat, and leaves with Stop. The registry is one append-only
// ledger; "current" state is the latest row per instance id. A writer
// that stops heartbeating simply goes stale, which governance surfaces
// as a finding rather than any component reaping it here.
package instance

import (
	"encoding/json"
	"os"
	"sort"
	"time"

	"github.com/diasync/diasync/internal/fault"
	"github.com/diasync/diasync/internal/lease"
	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/shard"
)

// StartOptions parameterizes instance registration. An empty Instance
// mints a fresh ins- id; passing an existing id re-registers it (a
// restart, not an error).
type StartOptions struct {
	Instance string
	Scope    string
	Project  string
	RunID    string
	DryRun   bool

	Now time.Time
	IDs record.IDSource
}

// StopOptions parameterizes instance shutdown.
type StopOptions struct {
	Instance string
	Scope    string
	DryRun   bool

	Now time.Time
	IDs record.IDSource
}

// Result reports the registry row appended and, for start/stop, the
// lifecycle event placed on the bus.
type Result struct {
	Instance record.InstanceOp `json:"instance"`
	Event    *record.Event     `json:"event,omitempty"`
	Released []record.LeaseOp  `json:"released,omitempty"`
	DryRun   bool              `json:"dry_run"`
}

// Start registers an instance: one started row in the registry and a
// memory.instance.started event on the bus so other writers in the
// scope learn about the newcomer.
func Start(st *shard.Store, opts StartOptions) (*Result, error) {
	const op = "instance.start"
	if opts.Scope == "" {
		return nil, fault.Validationf(op, "scope must not be empty")
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ids := opts.IDs
	if ids == nil {
		ids = record.UUIDSource{}
	}
	instance := record.Slugify(opts.Instance)
	if opts.Instance == "" {
		instance = ids.NewID(record.KindInstance, now)
	}

	row, err := lifecycleRow(instance, record.InstanceStarted, opts.Scope, opts.Project, now)
	if err != nil {
		return nil, err
	}
	ev, err := lifecycleEvent(record.EventInstanceStarted, opts.Scope, instance, opts.Project, opts.RunID, now, ids)
	if err != nil {
		return nil, err
	}

	res := &Result{Instance: row, Event: &ev, DryRun: opts.DryRun}
	if opts.DryRun {
		return res, nil
	}
	if _, err := st.EnsureLayout(); err != nil {
		return nil, err
	}
	if err := st.AppendRecord(st.InstancesPath(), row); err != nil {
		return nil, err
	}
	if err := st.AppendRecord(st.BusPath(opts.Scope, now), ev); err != nil {
		return nil, err
	}
	return res, nil
}

// Heartbeat appends a liveness row for a registered instance.
// Heartbeats stay off the bus: liveness is registry chatter, not
// knowledge anyone reduces.
func Heartbeat(st *shard.Store, instanceID, scope string, now time.Time, dryRun bool) (*Result, error) {
	const op = "instance.heartbeat"
	if instanceID == "" {
		return nil, fault.Validationf(op, "instance id must not be empty")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	instance := record.Slugify(instanceID)

	latest, err := Latest(st)
	if err != nil {
		return nil, err
	}
	prev, known := latest[instance]
	if !known {
		return nil, fault.NotFoundf(op, instance, "instance %s was never started", instance)
	}
	if scope == "" {
		scope = prev.Scope
	}

	row, err := lifecycleRow(instance, record.InstanceHeartbeat, scope, prev.Project, now)
	if err != nil {
		return nil, err
	}
	res := &Result{Instance: row, DryRun: dryRun}
	if dryRun {
		return res, nil
	}
	if err := st.AppendRecord(st.InstancesPath(), row); err != nil {
		return nil, err
	}
	return res, nil
}

// Stop deregisters an instance: every lease it still holds is released,
// a stopped row lands in the registry, and a memory.instance.stopped
// event goes on the bus. A clean stop leaves no ledger debt.
func Stop(st *shard.Store, opts StopOptions) (*Result, error) {
	const op = "instance.stop"
	if opts.Instance == "" {
		return nil, fault.Validationf(op, "instance id must not be empty")
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ids := opts.IDs
	if ids == nil {
		ids = record.UUIDSource{}
	}
	instance := record.Slugify(opts.Instance)

	latest, err := Latest(st)
	if err != nil {
		return nil, err
	}
	prev, known := latest[instance]
	if !known {
		return nil, fault.NotFoundf(op, instance, "instance %s was never started", instance)
	}
	scope := opts.Scope
	if scope == "" {
		scope = prev.Scope
	}

	row, err := lifecycleRow(instance, record.InstanceStopped, scope, prev.Project, now)
	if err != nil {
		return nil, err
	}
	ev, err := lifecycleEvent(record.EventInstanceStopped, scope, instance, prev.Project, "", now, ids)
	if err != nil {
		return nil, err
	}

	res := &Result{Instance: row, Event: &ev, DryRun: opts.DryRun}
	if opts.DryRun {
		// Preview the same set the real stop would release: this
		// instance's unreleased leases, not everyone's live ones.
		res.Released, err = lease.Owned(st, instance)
		if err != nil {
			return nil, err
		}
		return res, nil
	}

	released, err := lease.ReleaseAllOwned(st, instance, now)
	if err != nil {
		return nil, err
	}
	res.Released = released
	if err := st.AppendRecord(st.InstancesPath(), row); err != nil {
		return nil, err
	}
	if err := st.AppendRecord(st.BusPath(scope, now), ev); err != nil {
		return nil, err
	}
	return res, nil
}

// Latest folds the registry into the newest lifecycle row per instance.
func Latest(st *shard.Store) (map[string]record.InstanceOp, error) {
	latest := map[string]record.InstanceOp{}
	_, err := st.ReadLines(st.InstancesPath(), func(l shard.Line) error {
		var row record.InstanceOp
		if json.Unmarshal(l.Raw, &row) != nil || row.InstanceID == "" {
			return nil
		}
		latest[row.InstanceID] = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return latest, nil
}

// Stale lists instances whose last lifecycle row is older than the
// staleness window and is not a stop. Sorted by id for determinism.
func Stale(st *shard.Store, staleAfter time.Duration, now time.Time) ([]record.InstanceOp, error) {
	latest, err := Latest(st)
	if err != nil {
		return nil, err
	}
	stale := []record.InstanceOp{}
	for _, row := range latest {
		if row.Event == record.InstanceStopped {
			continue
		}
		ts, err := record.ParseTS(row.TS)
		if err != nil {
			// A registry row with an unreadable timestamp is stale by
			// definition: nobody can prove the writer is alive.
			stale = append(stale, row)
			continue
		}
		if now.Sub(ts) > staleAfter {
			stale = append(stale, row)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].InstanceID < stale[j].InstanceID })
	return stale, nil
}

// Cursors folds the cursor ledger into the newest position per
// (instance, zone).
func Cursors(st *shard.Store) (map[string]record.CursorOp, error) {
	cursors := map[string]record.CursorOp{}
	_, err := st.ReadLines(st.CursorsPath(), func(l shard.Line) error {
		var row record.CursorOp
		if json.Unmarshal(l.Raw, &row) != nil || row.InstanceID == "" {
			return nil
		}
		cursors[row.InstanceID+"\x00"+row.Zone] = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cursors, nil
}

// RecordCursor appends a cursor position for (instance, zone).
func RecordCursor(st *shard.Store, instanceID, zone, position string, now time.Time) (record.CursorOp, error) {
	row := record.CursorOp{
		Schema:     record.SchemaCursor,
		InstanceID: record.Slugify(instanceID),
		Zone:       zone,
		Position:   position,
		TS:         record.FormatTS(now),
	}
	hash, err := record.LedgerHash(row)
	if err != nil {
		return record.CursorOp{}, fault.Validationf("instance.cursor", "compute hash: %v", err)
	}
	row.Hash = hash
	if err := st.AppendRecord(st.CursorsPath(), row); err != nil {
		return record.CursorOp{}, err
	}
	return row, nil
}

// lifecycleRow builds one hashed registry row.
func lifecycleRow(instance, event, scope, project string, now time.Time) (record.InstanceOp, error) {
	host, _ := os.Hostname()
	row := record.InstanceOp{
		Schema:     record.SchemaInstance,
		InstanceID: instance,
		Event:      event,
		Scope:      scope,
		Project:    record.InferProject(scope, project),
		PID:        os.Getpid(),
		Host:       host,
		TS:         record.FormatTS(now),
	}
	hash, err := record.LedgerHash(row)
	if err != nil {
		return record.InstanceOp{}, fault.Validationf("instance.row", "compute hash: %v", err)
	}
	row.Hash = hash
	return row, nil
}

// lifecycleEvent builds the bus event announcing a start or stop.
func lifecycleEvent(t record.EventType, scope, instance, project, runID string, now time.Time, ids record.IDSource) (record.Event, error) {
	return record.BuildEvent(record.EventParams{
		Type:       t,
		Scope:      scope,
		InstanceID: instance,
		RunID:      runID,
		Project:    project,
		Visibility: record.VisibilityProject,
		Payload:    map[string]any{"instance_id": instance},
		Now:        now,
		IDs:        ids,
	})
}
