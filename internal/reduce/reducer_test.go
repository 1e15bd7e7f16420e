package reduce

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diasync/diasync/internal/project"
	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/shard"
	"github.com/diasync/diasync/internal/stream"
	"github.com/diasync/diasync/internal/testutil"
	"github.com/diasync/diasync/internal/views"
)

var reduceNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func reduceStore(t *testing.T) *shard.Store {
	t.Helper()
	st := shard.Open(t.TempDir())
	_, err := st.EnsureLayout()
	require.NoError(t, err)
	return st
}

func publish(t *testing.T, st *shard.Store, ids record.IDSource, entry stream.Entry, instance string, now time.Time) *stream.PublishResult {
	t.Helper()
	res, err := stream.Publish(st, stream.PublishOptions{
		Entry:    entry,
		Scope:    "project:demo",
		Instance: instance,
		Now:      now,
		IDs:      ids,
	})
	require.NoError(t, err)
	return res
}

func TestRun_ConvergesPublishedEvents(t *testing.T) {
	st := reduceStore(t)
	ids := testutil.NewSequencedIDs()
	publish(t, st, ids, stream.Entry{Summary: "proxy listens on 8080", Type: record.ObjectFact}, "ins-a", reduceNow)
	publish(t, st, ids, stream.Entry{Summary: "Adopt jsonl shards", Type: record.ObjectDecision, DecisionKey: "storage-engine"}, "ins-a", reduceNow.Add(time.Second))

	res, err := Run(context.Background(), st, Options{Scope: "project:demo", Instance: "ins-a", Now: reduceNow.Add(time.Minute), IDs: ids})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Scanned)
	require.Len(t, res.Accepted, 2)
	assert.Empty(t, res.Conflicts)
	assert.Zero(t, res.Duplicates)

	active, err := views.ActiveObjects(st, "project:demo")
	require.NoError(t, err)
	assert.Len(t, active, 2)

	// The pass left a cursor for the reducer.
	cursors, err := st.CountLines(st.CursorsPath())
	require.NoError(t, err)
	assert.Equal(t, 1, cursors)
}

func TestRun_TwiceEqualsOnce(t *testing.T) {
	st := reduceStore(t)
	ids := testutil.NewSequencedIDs()
	publish(t, st, ids, stream.Entry{Summary: "one fact", Type: record.ObjectFact}, "ins-a", reduceNow)

	first, err := Run(context.Background(), st, Options{Scope: "project:demo", Now: reduceNow.Add(time.Minute), IDs: ids})
	require.NoError(t, err)
	require.Len(t, first.Accepted, 1)

	second, err := Run(context.Background(), st, Options{Scope: "project:demo", Now: reduceNow.Add(2 * time.Minute), IDs: ids})
	require.NoError(t, err)
	assert.Empty(t, second.Accepted)
	assert.Equal(t, 1, second.Duplicates)

	active, err := views.ActiveObjects(st, "project:demo")
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestRun_RepeatedShardLineAppliesOnce(t *testing.T) {
	st := reduceStore(t)
	ids := testutil.NewSequencedIDs()

	// A retried append can leave the same event twice in one shard; a
	// single pass must still apply it once.
	ev, err := record.BuildEvent(record.EventParams{
		Type:       record.EventPublished,
		Scope:      "project:demo",
		InstanceID: "ins-a",
		Visibility: record.VisibilityProject,
		Payload:    map[string]any{"summary": "proxy listens on 8080", "object_type": "fact"},
		Now:        reduceNow,
		IDs:        ids,
	})
	require.NoError(t, err)
	busPath := st.BusPath("project:demo", reduceNow)
	require.NoError(t, st.AppendRecord(busPath, ev))
	require.NoError(t, st.AppendRecord(busPath, ev))

	res, err := Run(context.Background(), st, Options{Scope: "project:demo", Now: reduceNow.Add(time.Minute), IDs: ids})
	require.NoError(t, err)
	assert.Len(t, res.Accepted, 1)
	assert.Equal(t, 1, res.Duplicates)

	active, err := views.ActiveObjects(st, "project:demo")
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestRun_DecisionKeyCollisionOpensConflict(t *testing.T) {
	st := reduceStore(t)
	ids := testutil.NewSequencedIDs()
	publish(t, st, ids, stream.Entry{Summary: "Use sqlite", Type: record.ObjectDecision, DecisionKey: "storage-engine"}, "ins-a", reduceNow)
	publish(t, st, ids, stream.Entry{Summary: "Use postgres", Type: record.ObjectDecision, DecisionKey: "storage-engine"}, "ins-b", reduceNow.Add(time.Second))

	res, err := Run(context.Background(), st, Options{Scope: "project:demo", Now: reduceNow.Add(time.Minute), IDs: ids})
	require.NoError(t, err)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, 2, res.Scanned)
	require.Len(t, res.Accepted, 2)

	// The holder keeps the key; the challenger never becomes an object.
	decisions, err := views.ActiveObjects(st, "project:demo", record.ObjectDecision)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, "Use sqlite", decisions[0].Summary)

	open, err := views.OpenConflicts(st)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "storage-engine", open[0].DecisionKey)
	assert.Equal(t, []string{decisions[0].ObjectID}, open[0].ObjectIDs)
	assert.Equal(t, []string{"Use sqlite", "Use postgres"}, open[0].Summaries)
	require.Len(t, open[0].SourceEvents, 1)

	// The challenger's event is spent: another pass has nothing to do.
	again, err := Run(context.Background(), st, Options{Scope: "project:demo", Now: reduceNow.Add(2 * time.Minute), IDs: ids})
	require.NoError(t, err)
	assert.Empty(t, again.Accepted)
	assert.Equal(t, 2, again.Duplicates)
}

func TestRun_CollisionAcrossPassesKeepsHolderSoleActive(t *testing.T) {
	st := reduceStore(t)
	ids := testutil.NewSequencedIDs()
	publish(t, st, ids, stream.Entry{Summary: "Use sqlite", Type: record.ObjectDecision, DecisionKey: "storage-engine"}, "ins-a", reduceNow)
	_, err := Run(context.Background(), st, Options{Scope: "project:demo", Now: reduceNow.Add(time.Minute), IDs: ids})
	require.NoError(t, err)

	pub := publish(t, st, ids, stream.Entry{Summary: "Use postgres", Type: record.ObjectDecision, DecisionKey: "storage-engine"}, "ins-b", reduceNow.Add(2*time.Minute))
	res, err := Run(context.Background(), st, Options{Scope: "project:demo", Now: reduceNow.Add(3*time.Minute), IDs: ids})
	require.NoError(t, err)
	require.Len(t, res.Conflicts, 1)
	require.Len(t, res.Accepted, 1)
	assert.Empty(t, res.Accepted[0].ObjectID)

	decisions, err := views.ActiveObjects(st, "project:demo", record.ObjectDecision)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	assert.Equal(t, "Use sqlite", decisions[0].Summary)

	open, err := views.OpenConflicts(st)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, []string{pub.Event.EventID}, open[0].SourceEvents)
}

func TestRun_SameSummaryRepublishConverges(t *testing.T) {
	st := reduceStore(t)
	ids := testutil.NewSequencedIDs()
	publish(t, st, ids, stream.Entry{Summary: "Use sqlite", Type: record.ObjectDecision, DecisionKey: "storage-engine"}, "ins-a", reduceNow)
	publish(t, st, ids, stream.Entry{Summary: "Use sqlite", Type: record.ObjectDecision, DecisionKey: "storage-engine"}, "ins-b", reduceNow.Add(time.Second))

	res, err := Run(context.Background(), st, Options{Scope: "project:demo", Now: reduceNow.Add(time.Minute), IDs: ids})
	require.NoError(t, err)
	assert.Empty(t, res.Conflicts)

	decisions, err := views.ActiveObjects(st, "project:demo", record.ObjectDecision)
	require.NoError(t, err)
	assert.Len(t, decisions, 1)
}

func TestRun_GuessedTypeCapsConfidence(t *testing.T) {
	st := reduceStore(t)
	ids := testutil.NewSequencedIDs()
	// No declared type; the summary reads like a fact.
	publish(t, st, ids, stream.Entry{Summary: "proxy listens on 8080"}, "ins-a", reduceNow)

	res, err := Run(context.Background(), st, Options{Scope: "project:demo", Now: reduceNow.Add(time.Minute), IDs: ids})
	require.NoError(t, err)
	require.Len(t, res.Accepted, 1)
	assert.True(t, res.Accepted[0].Guessed)

	active, err := views.ActiveObjects(st, "project:demo")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.LessOrEqual(t, active[0].Confidence, record.GuessConfidenceCap)
	assert.Contains(t, active[0].Tags, record.TagClassifierGuess)
}

func TestRun_LimitBoundsPass(t *testing.T) {
	st := reduceStore(t)
	ids := testutil.NewSequencedIDs()
	for i := 0; i < 3; i++ {
		publish(t, st, ids, stream.Entry{Summary: "fact number " + string(rune('a'+i)), Type: record.ObjectFact}, "ins-a", reduceNow.Add(time.Duration(i)*time.Second))
	}

	res, err := Run(context.Background(), st, Options{Scope: "project:demo", Limit: 2, Now: reduceNow.Add(time.Minute), IDs: ids})
	require.NoError(t, err)
	assert.Len(t, res.Accepted, 2)

	lag, err := LagCount(st, "project:demo")
	require.NoError(t, err)
	assert.Equal(t, 1, lag)
}

func TestRun_CommitmentMirrorsToAgenda(t *testing.T) {
	st := reduceStore(t)
	ids := testutil.NewSequencedIDs()
	publish(t, st, ids, stream.Entry{
		Summary: "Finish the cutover runbook",
		Type:    record.ObjectCommitment,
		DueDate: "2026-03-15",
	}, "ins-a", reduceNow)

	_, err := Run(context.Background(), st, Options{Scope: "project:demo", Now: reduceNow.Add(time.Minute), IDs: ids})
	require.NoError(t, err)

	items, err := project.AgendaList(st, "demo")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Finish the cutover runbook", items[0].Summary)
	assert.Equal(t, "2026-03-15", items[0].DueDate)
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	st := reduceStore(t)
	ids := testutil.NewSequencedIDs()
	publish(t, st, ids, stream.Entry{Summary: "one fact", Type: record.ObjectFact}, "ins-a", reduceNow)

	res, err := Run(context.Background(), st, Options{Scope: "project:demo", DryRun: true, Now: reduceNow.Add(time.Minute), IDs: ids})
	require.NoError(t, err)
	assert.Len(t, res.Accepted, 1)
	assert.True(t, res.DryRun)

	active, err := views.ActiveObjects(st, "project:demo")
	require.NoError(t, err)
	assert.Empty(t, active)

	processed, err := st.ProcessedIDs(st.ReducedIDsPath())
	require.NoError(t, err)
	assert.Empty(t, processed)
}

func TestRun_MalformedPublishedEventMarkedNotWedged(t *testing.T) {
	st := reduceStore(t)
	ids := testutil.NewSequencedIDs()

	// A published event with no summary is the producer's bug; the pass
	// records the attempt and moves on.
	ev, err := record.BuildEvent(record.EventParams{
		Type:       record.EventPublished,
		Scope:      "project:demo",
		InstanceID: "ins-a",
		Visibility: record.VisibilityProject,
		Payload:    map[string]any{"object_type": "fact"},
		Now:        reduceNow,
		IDs:        ids,
	})
	require.NoError(t, err)
	require.NoError(t, st.AppendRecord(st.BusPath("project:demo", reduceNow), ev))

	res, err := Run(context.Background(), st, Options{Scope: "project:demo", Now: reduceNow.Add(time.Minute), IDs: ids})
	require.NoError(t, err)
	assert.Empty(t, res.Accepted)

	lag, err := LagCount(st, "project:demo")
	require.NoError(t, err)
	assert.Zero(t, lag)
}

func TestLastAuditTS(t *testing.T) {
	st := reduceStore(t)
	ids := testutil.NewSequencedIDs()

	last, err := LastAuditTS(st)
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	publish(t, st, ids, stream.Entry{Summary: "one fact", Type: record.ObjectFact}, "ins-a", reduceNow)
	_, err = Run(context.Background(), st, Options{Scope: "project:demo", Now: reduceNow.Add(time.Minute), IDs: ids})
	require.NoError(t, err)

	last, err = LastAuditTS(st)
	require.NoError(t, err)
	assert.True(t, last.Equal(reduceNow.Add(time.Minute)))
}
