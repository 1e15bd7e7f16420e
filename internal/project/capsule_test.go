package project

import (
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diasync/diasync/internal/fault"
	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/shard"
	"github.com/diasync/diasync/internal/testutil"
)

var capsuleNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// stubLister returns fixed objects so capsule bytes stay golden-stable.
func stubLister(decisions, commitments []record.Object) ObjectLister {
	return func(string) (d, c []record.Object, err error) {
		return decisions, commitments, nil
	}
}

var capsuleDecisions = []record.Object{
	{ObjectID: "dec-20260301085500-00000001", Summary: "Use sqlite for the catalog index"},
}

func capsuleGoldie(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestCheckpoint_Golden(t *testing.T) {
	st := agendaStore(t)

	res, err := Checkpoint(st, CheckpointOptions{
		Project:   "Demo Site",
		Instance:  "Ins-A",
		NowLines:  []string{"Wiring the ingest worker"},
		NextLines: []string{"Cut the release branch"},
		Lister:    stubLister(capsuleDecisions, nil),
		Now:       capsuleNow,
		IDs:       testutil.NewSequencedIDs(),
		LC:        4,
	})
	require.NoError(t, err)

	capsuleGoldie(t).Assert(t, "checkpoint-state", []byte(res.Capsule))

	// The capsule on disk matches the one reported.
	onDisk, ok, err := st.ReadFile(st.ProjectStatePath("Demo Site"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res.Capsule, onDisk)

	// The snapshot is recorded in the caller's private stream.
	assert.Equal(t, record.EventCheckpointed, res.Event.Event)
	assert.Equal(t, "project:demo-site", res.Event.Scope)
	lines := 0
	_, err = st.ReadLines(st.StreamPath("project:demo-site", "ins-a", capsuleNow), func(shard.Line) error {
		lines++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, lines)
}

func TestCheckpoint_RequiresProject(t *testing.T) {
	st := agendaStore(t)

	_, err := Checkpoint(st, CheckpointOptions{Now: capsuleNow, IDs: testutil.NewSequencedIDs()})
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestCheckpoint_DryRunWritesNothing(t *testing.T) {
	st := agendaStore(t)

	res, err := Checkpoint(st, CheckpointOptions{
		Project:  "demo",
		Instance: "ins-a",
		DryRun:   true,
		Now:      capsuleNow,
		IDs:      testutil.NewSequencedIDs(),
	})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.NotEmpty(t, res.Capsule)

	_, ok, err := st.ReadFile(st.ProjectStatePath("demo"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHandoff_Golden(t *testing.T) {
	st := agendaStore(t)

	res, err := Handoff(st, HandoffOptions{
		Project:     "Demo Site",
		Instance:    "Ins-A",
		Summary:     "Finished the  reducer pass",
		NextActions: []string{"Run views reconcile before editing"},
		Risks:       []string{"Agenda ledger diverged on ins-b"},
		Now:         capsuleNow,
		IDs:         testutil.NewSequencedIDs(),
	})
	require.NoError(t, err)

	capsuleGoldie(t).Assert(t, "handoff-resume", []byte(res.Capsule))

	onDisk, ok, err := st.ReadFile(st.ProjectResumePath("Demo Site"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res.Capsule, onDisk)
	assert.Equal(t, record.EventHandoff, res.Event.Event)
}

func TestHandoff_RequiresSummary(t *testing.T) {
	st := agendaStore(t)

	_, err := Handoff(st, HandoffOptions{
		Project:  "demo",
		Summary:  "   ",
		Now:      capsuleNow,
		IDs:      testutil.NewSequencedIDs(),
		Instance: "ins-a",
	})
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestAttach_Golden(t *testing.T) {
	st := agendaStore(t)
	ids := testutil.NewSequencedIDs()
	lister := stubLister(capsuleDecisions, nil)

	_, err := Handoff(st, HandoffOptions{
		Project:     "Demo Site",
		Instance:    "Ins-A",
		Summary:     "Finished the reducer pass",
		NextActions: []string{"Run views reconcile before editing"},
		Risks:       []string{"Agenda ledger diverged on ins-b"},
		Now:         capsuleNow,
		IDs:         ids,
	})
	require.NoError(t, err)

	_, err = Checkpoint(st, CheckpointOptions{
		Project:   "Demo Site",
		Instance:  "Ins-A",
		NowLines:  []string{"Wiring the ingest worker"},
		NextLines: []string{"Cut the release branch"},
		Lister:    lister,
		Now:       capsuleNow.Add(10 * time.Second),
		IDs:       ids,
	})
	require.NoError(t, err)

	res, err := Attach(st, AttachOptions{
		Project: "Demo Site",
		Lister:  lister,
		Now:     capsuleNow.Add(20 * time.Second),
	})
	require.NoError(t, err)

	capsuleGoldie(t).Assert(t, "attach-demo-site", []byte(res.Capsule))
	assert.Equal(t, 1, res.Decisions)
	assert.Equal(t, 0, res.Commitments)

	onDisk, ok, err := st.ReadFile(st.AttachPath("Demo Site"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res.Capsule, onDisk)
}

func TestAttach_MissingCapsulesRenderPlaceholders(t *testing.T) {
	st := agendaStore(t)

	res, err := Attach(st, AttachOptions{Project: "fresh", Now: capsuleNow, DryRun: true})
	require.NoError(t, err)

	assert.Contains(t, res.Capsule, "## Resume\n- (none)\n")
	assert.Contains(t, res.Capsule, "## State\n- (none)\n")
	assert.Contains(t, res.Capsule, "## Top Active Decisions\n- (none)\n")
}

func TestAttach_CapsTopObjects(t *testing.T) {
	st := agendaStore(t)
	decisions := []record.Object{
		{ObjectID: "dec-20260301085500-00000001", Summary: "Use sqlite for the catalog index"},
		{ObjectID: "dec-20260301085500-00000002", Summary: "Keep the bus daily-sharded"},
	}

	res, err := Attach(st, AttachOptions{
		Project:      "demo",
		TopDecisions: 1,
		Lister:       stubLister(decisions, nil),
		Now:          capsuleNow,
		DryRun:       true,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Decisions)
	assert.Contains(t, res.Capsule, "Use sqlite for the catalog index")
	assert.NotContains(t, res.Capsule, "Keep the bus daily-sharded")
}

func TestAttachAll_RefreshesEveryProjectSorted(t *testing.T) {
	st := agendaStore(t)
	ids := testutil.NewSequencedIDs()
	for _, p := range []string{"zeta", "alpha"} {
		_, err := Checkpoint(st, CheckpointOptions{
			Project:  p,
			Instance: "ins-a",
			Now:      capsuleNow,
			IDs:      ids,
		})
		require.NoError(t, err)
	}

	results, err := AttachAll(st, nil, capsuleNow.Add(time.Minute), false)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "alpha", results[0].Project)
	assert.Equal(t, "zeta", results[1].Project)

	for _, p := range []string{"alpha", "zeta"} {
		_, ok, err := st.ReadFile(st.AttachPath(p))
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestList_EmptyStore(t *testing.T) {
	st := agendaStore(t)

	projects, err := List(st)
	require.NoError(t, err)
	assert.NotNil(t, projects)
	assert.Empty(t, projects)
}

func TestMissingAttach_FlagsStateWithoutAttach(t *testing.T) {
	st := agendaStore(t)
	ids := testutil.NewSequencedIDs()
	for _, p := range []string{"alpha", "beta"} {
		_, err := Checkpoint(st, CheckpointOptions{Project: p, Instance: "ins-a", Now: capsuleNow, IDs: ids})
		require.NoError(t, err)
	}
	_, err := Attach(st, AttachOptions{Project: "beta", Now: capsuleNow})
	require.NoError(t, err)

	missing, err := MissingAttach(st)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, missing)
}

func TestCapsuleSectionsNormalizeBullets(t *testing.T) {
	st := agendaStore(t)

	res, err := Checkpoint(st, CheckpointOptions{
		Project:  "demo",
		Instance: "ins-a",
		NowLines: []string{"  double  spaced   line "},
		DryRun:   true,
		Now:      capsuleNow,
		IDs:      testutil.NewSequencedIDs(),
	})
	require.NoError(t, err)
	assert.True(t, strings.Contains(res.Capsule, "- double spaced line\n"))
}
