package views

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diasync/diasync/internal/fault"
	"github.com/diasync/diasync/internal/lease"
	"github.com/diasync/diasync/internal/project"
	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/shard"
	"github.com/diasync/diasync/internal/testutil"
)

func busEvents(t *testing.T, st *shard.Store, scope string, at time.Time) []record.Event {
	t.Helper()
	events := []record.Event{}
	_, err := st.ReadLines(st.BusPath(scope, at), func(l shard.Line) error {
		var ev record.Event
		require.NoError(t, json.Unmarshal(l.Raw, &ev))
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)
	return events
}

func TestReconcile_SupersedesTarget(t *testing.T) {
	st := viewStore(t)
	target := seed(t, st, record.ObjectParams{
		Type:        record.ObjectDecision,
		Summary:     "retention is 30 days",
		DecisionKey: "retention",
		Horizon:     record.HorizonMonth,
		Salience:    record.SalienceHigh,
		Confidence:  0.9,
		Tags:        []string{"storage"},
		Rationale:   "compliance asked for it",
	})

	res, err := Reconcile(context.Background(), st, ReconcileOptions{
		ObjectID: target.ObjectID,
		Summary:  "retention is 90 days",
		Instance: "ins-a",
		Now:      viewNow.Add(time.Hour),
		IDs:      testutil.NewSequencedIDs(),
		LC:       3,
	})
	require.NoError(t, err)

	obj := res.Object
	assert.Equal(t, target.ObjectID, obj.Supersedes)
	assert.Equal(t, record.StatusActive, obj.Status)
	assert.Equal(t, "retention is 90 days", obj.Summary)

	// Unspecified fields inherit from the target.
	assert.Equal(t, record.HorizonMonth, obj.Horizon)
	assert.Equal(t, record.SalienceHigh, obj.Salience)
	assert.Equal(t, 0.9, obj.Confidence)
	assert.Equal(t, []string{"storage"}, obj.Tags)
	assert.Equal(t, "retention", obj.DecisionKey)
	assert.Equal(t, "compliance asked for it", obj.Rationale)
	assert.Equal(t, target.Owner, obj.Owner)

	// The successor lists the announcing event among its sources.
	assert.Contains(t, obj.SourceEvents, res.Event.EventID)

	active, err := ActiveObjects(st, "project:demo", record.ObjectDecision)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, obj.ObjectID, active[0].ObjectID)
}

func TestReconcile_AnnouncesOnBus(t *testing.T) {
	st := viewStore(t)
	target := seed(t, st, record.ObjectParams{Summary: "the deploy takes four minutes"})

	res, err := Reconcile(context.Background(), st, ReconcileOptions{
		ObjectID: target.ObjectID,
		Summary:  "the deploy takes nine minutes now",
		Instance: "ins-a",
		Now:      viewNow.Add(time.Hour),
		IDs:      testutil.NewSequencedIDs(),
		LC:       1,
	})
	require.NoError(t, err)

	events := busEvents(t, st, "project:demo", viewNow.Add(time.Hour))
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, record.EventReconciled, ev.Event)
	assert.Equal(t, []string{target.ObjectID}, ev.CausalRefs)
	assert.Equal(t, res.Object.ObjectID, ev.Payload["object_id"])
	assert.Equal(t, target.ObjectID, ev.Payload["supersedes"])
	assert.Equal(t, int64(1), ev.LC)
}

func TestReconcile_Overrides(t *testing.T) {
	st := viewStore(t)
	target := seed(t, st, record.ObjectParams{
		Type:        record.ObjectDecision,
		Summary:     "use sqlite for the catalog",
		DecisionKey: "storage-engine",
		Tags:        []string{"storage"},
	})

	confidence := 0.55
	res, err := Reconcile(context.Background(), st, ReconcileOptions{
		ObjectID:   target.ObjectID,
		Summary:    "use sqlite, revisit at 10M rows",
		Horizon:    record.HorizonQuarter,
		Salience:   record.SalienceHigh,
		Confidence: &confidence,
		Tags:       []string{"storage", "revisit"},
		Rationale:  "growth projection changed",
		Instance:   "ins-a",
		Now:        viewNow.Add(time.Hour),
		IDs:        testutil.NewSequencedIDs(),
	})
	require.NoError(t, err)

	obj := res.Object
	assert.Equal(t, record.HorizonQuarter, obj.Horizon)
	assert.Equal(t, record.SalienceHigh, obj.Salience)
	assert.Equal(t, 0.55, obj.Confidence)
	assert.Equal(t, []string{"storage", "revisit"}, obj.Tags)
	assert.Equal(t, "growth projection changed", obj.Rationale)
}

func TestReconcile_TargetNotFound(t *testing.T) {
	st := viewStore(t)

	_, err := Reconcile(context.Background(), st, ReconcileOptions{
		ObjectID: "dec-20260301090000-000000ff",
		Summary:  "does not matter",
		Now:      viewNow,
	})
	require.Error(t, err)
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}

func TestReconcile_RequiresSummary(t *testing.T) {
	st := viewStore(t)
	target := seed(t, st, record.ObjectParams{Summary: "something"})

	_, err := Reconcile(context.Background(), st, ReconcileOptions{
		ObjectID: target.ObjectID,
		Summary:  "   ",
		Now:      viewNow,
	})
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestReconcile_WithLeaseHolder(t *testing.T) {
	st := viewStore(t)
	target := seed(t, st, record.ObjectParams{
		Type:        record.ObjectDecision,
		Summary:     "use sqlite for the catalog",
		DecisionKey: "storage-engine",
	})
	_, err := lease.Acquire(st, lease.AcquireOptions{
		Scope: "project:demo", Key: "storage-engine", Owner: "ins-a",
		Now: viewNow, IDs: testutil.NewSequencedIDs(),
	})
	require.NoError(t, err)

	_, err = Reconcile(context.Background(), st, ReconcileOptions{
		ObjectID:  target.ObjectID,
		Summary:   "use sqlite, checked under lease",
		WithLease: true,
		Instance:  "ins-a",
		Now:       viewNow.Add(time.Minute),
		IDs:       testutil.NewSequencedIDs(),
	})
	require.NoError(t, err)
}

func TestReconcile_WithLeaseNotHolderDenied(t *testing.T) {
	st := viewStore(t)
	target := seed(t, st, record.ObjectParams{
		Type:        record.ObjectDecision,
		Summary:     "use sqlite for the catalog",
		DecisionKey: "storage-engine",
	})
	_, err := lease.Acquire(st, lease.AcquireOptions{
		Scope: "project:demo", Key: "storage-engine", Owner: "ins-b",
		Now: viewNow, IDs: testutil.NewSequencedIDs(),
	})
	require.NoError(t, err)

	_, err = Reconcile(context.Background(), st, ReconcileOptions{
		ObjectID:  target.ObjectID,
		Summary:   "should be refused",
		WithLease: true,
		Instance:  "ins-a",
		Now:       viewNow.Add(time.Minute),
		IDs:       testutil.NewSequencedIDs(),
	})
	require.Error(t, err)
	assert.Equal(t, fault.KindContentionDenied, fault.KindOf(err))
}

func TestReconcile_WithLeaseNoLeaseDenied(t *testing.T) {
	st := viewStore(t)
	target := seed(t, st, record.ObjectParams{
		Type:        record.ObjectDecision,
		Summary:     "use sqlite for the catalog",
		DecisionKey: "storage-engine",
	})

	_, err := Reconcile(context.Background(), st, ReconcileOptions{
		ObjectID:  target.ObjectID,
		Summary:   "should be refused",
		WithLease: true,
		Instance:  "ins-a",
		Now:       viewNow,
		IDs:       testutil.NewSequencedIDs(),
	})
	require.Error(t, err)
	assert.Equal(t, fault.KindContentionDenied, fault.KindOf(err))
}

func TestReconcile_ResolvesConflict(t *testing.T) {
	st := viewStore(t)
	target := seed(t, st, record.ObjectParams{
		Type:        record.ObjectDecision,
		Summary:     "a says sqlite",
		DecisionKey: "storage-engine",
	})
	cnf := openConflict(t, st, "storage-engine", viewNow)

	res, err := Reconcile(context.Background(), st, ReconcileOptions{
		ObjectID:        target.ObjectID,
		Summary:         "sqlite, agreed after review",
		ResolveConflict: cnf.ConflictID,
		Instance:        "ins-a",
		Now:             viewNow.Add(time.Hour),
		IDs:             testutil.NewSequencedIDs(),
	})
	require.NoError(t, err)
	assert.Equal(t, cnf.ConflictID, res.Resolved)
	assert.Equal(t, cnf.ConflictID, res.Event.Payload["conflict_id"])

	open, err := OpenConflicts(st)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestReconcile_ConflictKeyMismatch(t *testing.T) {
	st := viewStore(t)
	target := seed(t, st, record.ObjectParams{
		Type:        record.ObjectDecision,
		Summary:     "a says sqlite",
		DecisionKey: "storage-engine",
	})
	other := openConflict(t, st, "retention", viewNow)

	_, err := Reconcile(context.Background(), st, ReconcileOptions{
		ObjectID:        target.ObjectID,
		Summary:         "sqlite, agreed after review",
		ResolveConflict: other.ConflictID,
		Instance:        "ins-a",
		Now:             viewNow.Add(time.Hour),
		IDs:             testutil.NewSequencedIDs(),
	})
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))

	// The mismatch is rejected before any write.
	open, err := OpenConflicts(st)
	require.NoError(t, err)
	assert.Len(t, open, 1)
	active, err := ActiveObjects(st, "project:demo", record.ObjectDecision)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, target.ObjectID, active[0].ObjectID)
}

func TestReconcile_UnknownConflictNotFound(t *testing.T) {
	st := viewStore(t)
	target := seed(t, st, record.ObjectParams{
		Type:        record.ObjectDecision,
		Summary:     "a says sqlite",
		DecisionKey: "storage-engine",
	})

	_, err := Reconcile(context.Background(), st, ReconcileOptions{
		ObjectID:        target.ObjectID,
		Summary:         "sqlite, agreed after review",
		ResolveConflict: "cnf-20260301090000-000000ff",
		Instance:        "ins-a",
		Now:             viewNow.Add(time.Hour),
		IDs:             testutil.NewSequencedIDs(),
	})
	require.Error(t, err)
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}

func TestReconcile_CommitmentMirrorsAgendaHigh(t *testing.T) {
	st := viewStore(t)
	target := seed(t, st, record.ObjectParams{
		Type:    record.ObjectCommitment,
		Summary: "ship the migration guide",
		Project: "demo",
		DueDate: "2026-03-15",
	})

	res, err := Reconcile(context.Background(), st, ReconcileOptions{
		ObjectID: target.ObjectID,
		Summary:  "ship the migration guide and the faq",
		Instance: "ins-a",
		Now:      viewNow.Add(time.Hour),
		IDs:      testutil.NewSequencedIDs(),
	})
	require.NoError(t, err)

	items, err := project.AgendaList(st, "demo")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, record.PriorityHigh, items[0].Priority)
	assert.Equal(t, res.Object.ObjectID, items[0].SourceObject)
	assert.Equal(t, "2026-03-15", items[0].DueDate)
}

func TestReconcile_DryRunWritesNothing(t *testing.T) {
	st := viewStore(t)
	target := seed(t, st, record.ObjectParams{Summary: "the deploy takes four minutes"})

	res, err := Reconcile(context.Background(), st, ReconcileOptions{
		ObjectID: target.ObjectID,
		Summary:  "the deploy takes nine minutes now",
		Instance: "ins-a",
		DryRun:   true,
		Now:      viewNow.Add(time.Hour),
		IDs:      testutil.NewSequencedIDs(),
	})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, target.ObjectID, res.Object.Supersedes)

	active, err := ActiveObjects(st, "project:demo")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, target.ObjectID, active[0].ObjectID)
	assert.Empty(t, busEvents(t, st, "project:demo", viewNow.Add(time.Hour)))
}
