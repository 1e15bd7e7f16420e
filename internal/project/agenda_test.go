package project

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diasync/diasync/internal/fault"
	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/shard"
	"github.com/diasync/diasync/internal/testutil"
)

var agendaNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func agendaStore(t *testing.T) *shard.Store {
	t.Helper()
	st := shard.Open(t.TempDir())
	_, err := st.EnsureLayout()
	require.NoError(t, err)
	return st
}

func addItem(t *testing.T, st *shard.Store, ids record.IDSource, summary string, priority record.Priority, due string, now time.Time) record.AgendaItem {
	t.Helper()
	res, err := AgendaAdd(st, AgendaAddOptions{
		Project:  "demo",
		Summary:  summary,
		Priority: priority,
		DueDate:  due,
		Now:      now,
		IDs:      ids,
	})
	require.NoError(t, err)
	return res.Op.Item
}

func TestAgendaAdd_AppendsOpenItem(t *testing.T) {
	st := agendaStore(t)

	res, err := AgendaAdd(st, AgendaAddOptions{
		Project: "Demo Site",
		Summary: "  Ship the  attach capsule ",
		Now:     agendaNow,
		IDs:     testutil.NewSequencedIDs(),
	})
	require.NoError(t, err)

	assert.Equal(t, record.AgendaAdd, res.Op.Op)
	assert.Equal(t, record.SchemaAgenda, res.Op.Schema)
	assert.Equal(t, "agd-20260301090000-00000001", res.Op.Item.ID)
	assert.Equal(t, "Ship the attach capsule", res.Op.Item.Summary)
	assert.Equal(t, record.PriorityMedium, res.Op.Item.Priority)
	assert.Equal(t, record.AgendaOpen, res.Op.Item.Status)
	assert.True(t, record.IsHash(res.Op.Hash))

	open, err := AgendaList(st, "Demo Site")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, res.Op.Item, open[0])
}

func TestAgendaAdd_Validation(t *testing.T) {
	st := agendaStore(t)

	cases := []struct {
		name string
		opts AgendaAddOptions
	}{
		{"empty project", AgendaAddOptions{Summary: "x", Now: agendaNow}},
		{"blank summary", AgendaAddOptions{Project: "demo", Summary: "   ", Now: agendaNow}},
		{"bad priority", AgendaAddOptions{Project: "demo", Summary: "x", Priority: "urgent", Now: agendaNow}},
		{"bad due date", AgendaAddOptions{Project: "demo", Summary: "x", DueDate: "03/01/2026", Now: agendaNow}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.opts.IDs = testutil.NewSequencedIDs()
			_, err := AgendaAdd(st, tc.opts)
			assert.Equal(t, fault.KindValidation, fault.KindOf(err))
		})
	}
}

func TestAgendaAdd_DryRunWritesNothing(t *testing.T) {
	st := agendaStore(t)

	res, err := AgendaAdd(st, AgendaAddOptions{
		Project: "demo",
		Summary: "Draft the rollout note",
		DryRun:  true,
		Now:     agendaNow,
		IDs:     testutil.NewSequencedIDs(),
	})
	require.NoError(t, err)
	assert.True(t, res.DryRun)

	open, err := AgendaList(st, "demo")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestAgendaClose_RemovesFromOpenList(t *testing.T) {
	st := agendaStore(t)
	ids := testutil.NewSequencedIDs()
	item := addItem(t, st, ids, "Rotate the bus shards", "", "", agendaNow)

	res, err := AgendaClose(st, AgendaCloseOptions{Project: "demo", ID: item.ID, Now: agendaNow.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, record.AgendaClose, res.Op.Op)
	assert.Equal(t, record.AgendaClosed, res.Op.Item.Status)

	open, err := AgendaList(st, "demo")
	require.NoError(t, err)
	assert.Empty(t, open)

	// Closing twice is a not-found, not a silent no-op.
	_, err = AgendaClose(st, AgendaCloseOptions{Project: "demo", ID: item.ID, Now: agendaNow.Add(2 * time.Minute)})
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}

func TestAgendaClose_UnknownItem(t *testing.T) {
	st := agendaStore(t)

	_, err := AgendaClose(st, AgendaCloseOptions{Project: "demo", ID: "agd-20260301090000-000000ff", Now: agendaNow})
	assert.Equal(t, fault.KindNotFound, fault.KindOf(err))
}

func TestAgendaUpdate_RewritesGivenFieldsOnly(t *testing.T) {
	st := agendaStore(t)
	ids := testutil.NewSequencedIDs()
	item := addItem(t, st, ids, "Verify the views zone", record.PriorityLow, "2026-03-10", agendaNow)

	res, err := AgendaUpdate(st, AgendaUpdateOptions{
		Project:  "demo",
		ID:       item.ID,
		Priority: record.PriorityHigh,
		Now:      agendaNow.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, record.AgendaUpdate, res.Op.Op)
	assert.Equal(t, record.PriorityHigh, res.Op.Item.Priority)
	// Untouched fields survive the rewrite.
	assert.Equal(t, "Verify the views zone", res.Op.Item.Summary)
	assert.Equal(t, "2026-03-10", res.Op.Item.DueDate)

	open, err := AgendaList(st, "demo")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, record.PriorityHigh, open[0].Priority)
}

func TestAgendaUpdate_RejectsBadFields(t *testing.T) {
	st := agendaStore(t)
	ids := testutil.NewSequencedIDs()
	item := addItem(t, st, ids, "Verify the views zone", "", "", agendaNow)

	_, err := AgendaUpdate(st, AgendaUpdateOptions{Project: "demo", ID: item.ID, Priority: "urgent", Now: agendaNow})
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))

	_, err = AgendaUpdate(st, AgendaUpdateOptions{Project: "demo", ID: item.ID, DueDate: "soon", Now: agendaNow})
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestAgendaList_OrdersByPriorityDueDateID(t *testing.T) {
	st := agendaStore(t)
	ids := testutil.NewSequencedIDs()

	low := addItem(t, st, ids, "Archive last month", record.PriorityLow, "", agendaNow)
	highLate := addItem(t, st, ids, "Fix the reducer lag", record.PriorityHigh, "2026-03-20", agendaNow.Add(time.Second))
	highSoon := addItem(t, st, ids, "Close the contested decision", record.PriorityHigh, "2026-03-05", agendaNow.Add(2*time.Second))
	highUndated := addItem(t, st, ids, "Review lease TTLs", record.PriorityHigh, "", agendaNow.Add(3*time.Second))
	medium := addItem(t, st, ids, "Refresh attach capsules", record.PriorityMedium, "", agendaNow.Add(4*time.Second))

	open, err := AgendaList(st, "demo")
	require.NoError(t, err)
	got := make([]string, 0, len(open))
	for _, item := range open {
		got = append(got, item.ID)
	}
	assert.Equal(t, []string{highSoon.ID, highLate.ID, highUndated.ID, medium.ID, low.ID}, got)
}

func TestAgendaList_EmptyLedgerIsEmptySlice(t *testing.T) {
	st := agendaStore(t)

	open, err := AgendaList(st, "never-seen")
	require.NoError(t, err)
	assert.NotNil(t, open)
	assert.Empty(t, open)
}
