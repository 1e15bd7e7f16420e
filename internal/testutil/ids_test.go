package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diasync/diasync/internal/record"
)

var idsNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestSequencedIDs_CounterSuffix(t *testing.T) {
	ids := NewSequencedIDs()

	assert.Equal(t, "evt-20260301090000-00000001", ids.NewID(record.KindEvent, idsNow))
	assert.Equal(t, "fac-20260301090000-00000002", ids.NewID(record.KindFact, idsNow))
	assert.Equal(t, "les-20260301090000-00000003", ids.NewID(record.KindLease, idsNow))
}

func TestSequencedIDs_KindRecoverable(t *testing.T) {
	ids := NewSequencedIDs()

	for _, kind := range []record.Kind{
		record.KindEvent, record.KindRun, record.KindInstance,
		record.KindFact, record.KindDecision, record.KindCommitment,
		record.KindAgenda, record.KindConflict, record.KindFinding,
		record.KindPlan, record.KindExecution, record.KindLease,
	} {
		id := ids.NewID(kind, idsNow)
		got, err := record.KindOfID(id)
		require.NoError(t, err, "id %s", id)
		assert.Equal(t, kind, got)
	}
}

func TestSequencedIDs_Reset(t *testing.T) {
	ids := NewSequencedIDs()

	first := ids.NewID(record.KindEvent, idsNow)
	ids.NewID(record.KindEvent, idsNow)

	ids.Reset()
	assert.Equal(t, first, ids.NewID(record.KindEvent, idsNow))
}

func TestSequencedIDs_ThreadSafe(t *testing.T) {
	ids := NewSequencedIDs()
	const numGoroutines = 50
	const callsPerGoroutine = 20

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	results := make([][]string, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		results[i] = make([]string, callsPerGoroutine)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				results[idx][j] = ids.NewID(record.KindEvent, idsNow)
			}
		}(i)
	}

	wg.Wait()

	seen := make(map[string]bool)
	for i := 0; i < numGoroutines; i++ {
		for j := 0; j < callsPerGoroutine; j++ {
			id := results[i][j]
			require.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
		}
	}
	assert.Len(t, seen, numGoroutines*callsPerGoroutine)
}
