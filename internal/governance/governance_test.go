package governance

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diasync/diasync/internal/instance"
	"github.com/diasync/diasync/internal/lease"
	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/shard"
	"github.com/diasync/diasync/internal/stream"
	"github.com/diasync/diasync/internal/testutil"
	"github.com/diasync/diasync/internal/views"
)

var govNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func govStore(t *testing.T) *shard.Store {
	t.Helper()
	st := shard.Open(t.TempDir())
	_, err := st.EnsureLayout()
	require.NoError(t, err)
	return st
}

func TestScore_CleanStoreIsGreen(t *testing.T) {
	score, band := Score(record.HealthMetrics{})
	assert.Equal(t, 100, score)
	assert.Equal(t, record.BandGreen, band)
}

func TestScore_WorkedExample(t *testing.T) {
	// Two silent instances, one open conflict, ten unreduced events, a
	// long-idle reducer: 100 - 20 - 8 - 10 - 10 = 52, red.
	score, band := Score(record.HealthMetrics{
		StaleInstances:   2,
		OpenConflicts:    1,
		ReduceLag:        10,
		FreshnessPenalty: 10,
	})
	assert.Equal(t, 52, score)
	assert.Equal(t, record.BandRed, band)
}

func TestScore_PenaltyCaps(t *testing.T) {
	// Every metric maxed still floors at zero, never below.
	score, band := Score(record.HealthMetrics{
		StaleInstances:        100,
		OpenConflicts:         100,
		StaleLeases:           100,
		ReduceLag:             100,
		MissingAttach:         100,
		DuplicateDecisionKeys: 100,
		FreshnessPenalty:      10,
	})
	assert.Equal(t, 0, score)
	assert.Equal(t, record.BandRed, band)

	// One runaway metric alone cannot zero the card.
	score, _ = Score(record.HealthMetrics{OpenConflicts: 1000})
	assert.Equal(t, 76, score)
}

func TestScore_Bands(t *testing.T) {
	cases := []struct {
		m    record.HealthMetrics
		band string
	}{
		{record.HealthMetrics{ReduceLag: 15}, record.BandGreen},  // 85
		{record.HealthMetrics{ReduceLag: 16}, record.BandYellow}, // 84
		{record.HealthMetrics{StaleInstances: 2, ReduceLag: 15}, record.BandYellow}, // 65
		{record.HealthMetrics{StaleInstances: 2, ReduceLag: 16}, record.BandRed},    // 64
	}
	for _, tc := range cases {
		_, band := Score(tc.m)
		assert.Equal(t, tc.band, band, "metrics %+v", tc.m)
	}
}

func genMetrics() gopter.Gen {
	small := gen.IntRange(0, 50)
	return gopter.CombineGens(small, small, small, small, small, small, gen.OneConstOf(0, 5, 10)).
		Map(func(vs []any) record.HealthMetrics {
			return record.HealthMetrics{
				StaleInstances:        vs[0].(int),
				OpenConflicts:         vs[1].(int),
				StaleLeases:           vs[2].(int),
				ReduceLag:             vs[3].(int),
				MissingAttach:         vs[4].(int),
				DuplicateDecisionKeys: vs[5].(int),
				FreshnessPenalty:      vs[6].(int),
			}
		})
}

func TestScore_Properties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 300
	properties := gopter.NewProperties(params)

	properties.Property("score stays in [0,100]", prop.ForAll(
		func(m record.HealthMetrics) bool {
			score, band := Score(m)
			if score < 0 || score > 100 {
				return false
			}
			switch {
			case score >= 85:
				return band == record.BandGreen
			case score >= 65:
				return band == record.BandYellow
			default:
				return band == record.BandRed
			}
		},
		genMetrics(),
	))

	properties.Property("raising any metric never raises the score", prop.ForAll(
		func(m record.HealthMetrics) bool {
			base, _ := Score(m)
			bump := func(next record.HealthMetrics) bool {
				s, _ := Score(next)
				return s <= base
			}
			worse := m
			worse.StaleInstances++
			if !bump(worse) {
				return false
			}
			worse = m
			worse.OpenConflicts++
			if !bump(worse) {
				return false
			}
			worse = m
			worse.ReduceLag++
			if !bump(worse) {
				return false
			}
			worse = m
			worse.DuplicateDecisionKeys++
			return bump(worse)
		},
		genMetrics(),
	))

	properties.TestingRun(t)
}

func TestDiagnose_CleanStore(t *testing.T) {
	st := govStore(t)

	res, err := Diagnose(st, DiagnoseOptions{Now: govNow, IDs: testutil.NewSequencedIDs()})
	require.NoError(t, err)

	assert.Equal(t, 100, res.Scorecard.Score)
	assert.Equal(t, record.BandGreen, res.Scorecard.Band)
	assert.Empty(t, res.NewFindings)

	// Scorecard and trend rows were persisted.
	cards, err := st.CountLines(st.ScorecardsPath())
	require.NoError(t, err)
	assert.Equal(t, 1, cards)
	trends, err := st.CountLines(st.TrendsPath())
	require.NoError(t, err)
	assert.Equal(t, 1, trends)
}

func TestDiagnose_OpensFindingsOnce(t *testing.T) {
	st := govStore(t)
	ids := testutil.NewSequencedIDs()

	_, err := instance.Start(st, instance.StartOptions{Instance: "ins-a", Scope: "project:demo", Now: govNow, IDs: ids})
	require.NoError(t, err)

	later := govNow.Add(2 * time.Hour)
	res, err := Diagnose(st, DiagnoseOptions{StaleAfter: 30 * time.Minute, Now: later, IDs: ids})
	require.NoError(t, err)
	require.Len(t, res.NewFindings, 1)
	assert.Equal(t, RuleInstanceStale, res.NewFindings[0].RuleID)
	assert.Equal(t, 1, res.Scorecard.Metrics.StaleInstances)

	// A second pass sees the same condition but opens nothing new.
	again, err := Diagnose(st, DiagnoseOptions{StaleAfter: 30 * time.Minute, Now: later.Add(time.Minute), IDs: ids})
	require.NoError(t, err)
	assert.Empty(t, again.NewFindings)
	assert.Equal(t, 1, again.OpenTotal)
}

func TestDiagnose_DryRunPersistsNothing(t *testing.T) {
	st := govStore(t)

	res, err := Diagnose(st, DiagnoseOptions{DryRun: true, Now: govNow, IDs: testutil.NewSequencedIDs()})
	require.NoError(t, err)
	assert.True(t, res.DryRun)

	cards, err := st.CountLines(st.ScorecardsPath())
	require.NoError(t, err)
	assert.Zero(t, cards)
}

func TestOptimize_PlansBySeverityAndCap(t *testing.T) {
	st := govStore(t)
	ids := testutil.NewSequencedIDs()

	_, opened, err := OpenFinding(st, RuleLeaseStale, "project:demo", "", "stale lease", nil, govNow, ids)
	require.NoError(t, err)
	require.True(t, opened)
	_, opened, err = OpenFinding(st, RuleConflictBacklog, "project:demo", "", "open conflict", nil, govNow, ids)
	require.NoError(t, err)
	require.True(t, opened)

	res, err := Optimize(context.Background(), st, OptimizeOptions{Now: govNow.Add(time.Minute), IDs: ids})
	require.NoError(t, err)

	require.Len(t, res.Plan.Actions, 2)
	// High severity first.
	assert.Equal(t, RuleConflictBacklog, res.Plan.Actions[0].RuleID)
	assert.False(t, res.Plan.Actions[0].Safe)
	assert.Equal(t, RuleLeaseStale, res.Plan.Actions[1].RuleID)
	assert.True(t, res.Plan.Actions[1].Safe)

	// Plan-only mode executes nothing.
	assert.Empty(t, res.Executed)

	capped, err := Optimize(context.Background(), st, OptimizeOptions{MaxActions: 1, Now: govNow.Add(2 * time.Minute), IDs: ids})
	require.NoError(t, err)
	assert.Len(t, capped.Plan.Actions, 1)
}

func TestOptimize_ExecutesSafeActionsAndVerifies(t *testing.T) {
	st := govStore(t)
	ids := testutil.NewSequencedIDs()

	// An expired, unreleased lease: the stale-lease finding's safe
	// remediation appends the missing release rows.
	_, err := lease.Acquire(st, lease.AcquireOptions{
		Scope: "project:demo",
		Key:   "decision:storage-engine",
		Owner: "ins-a",
		TTL:   time.Minute,
		Now:   govNow,
		IDs:   ids,
	})
	require.NoError(t, err)

	later := govNow.Add(2 * time.Hour)
	diag, err := Diagnose(st, DiagnoseOptions{Now: later, IDs: ids})
	require.NoError(t, err)
	require.Equal(t, 1, diag.Scorecard.Metrics.StaleLeases)

	res, err := Optimize(context.Background(), st, OptimizeOptions{
		Execute: true,
		Lister:  views.ProjectLister(st),
		Now:     later.Add(time.Minute),
		IDs:     ids,
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Executed)
	assert.Len(t, res.Closed, 1)

	stale, err := lease.StaleUnreleased(st, later.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, stale)

	open, err := OpenFindings(st)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestOpenFindings_FoldClosesResolved(t *testing.T) {
	st := govStore(t)
	ids := testutil.NewSequencedIDs()

	row, opened, err := OpenFinding(st, RuleReduceLag, "", "", "lag", nil, govNow, ids)
	require.NoError(t, err)
	require.True(t, opened)

	_, err = CloseFinding(st, row.FindingID, "reduced", govNow.Add(time.Minute))
	require.NoError(t, err)

	open, err := OpenFindings(st)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestDiagnose_ConflictAndDuplicateKeyMetrics(t *testing.T) {
	st := govStore(t)
	ids := testutil.NewSequencedIDs()

	for i, summary := range []string{"Use sqlite", "Use postgres"} {
		_, err := stream.Publish(st, stream.PublishOptions{
			Entry:    stream.Entry{Summary: summary, Type: record.ObjectDecision, DecisionKey: "storage-engine"},
			Scope:    "project:demo",
			Instance: "ins-a",
			Now:      govNow.Add(time.Duration(i) * time.Second),
			IDs:      ids,
		})
		require.NoError(t, err)
	}

	// Before reduction the bus carries lag, nothing else.
	res, err := Diagnose(st, DiagnoseOptions{Scope: "project:demo", Now: govNow.Add(time.Minute), IDs: ids})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scorecard.Metrics.ReduceLag)
	assert.Zero(t, res.Scorecard.Metrics.OpenConflicts)
}
