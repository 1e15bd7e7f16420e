package hygiene

import (
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diasync/diasync/internal/shard"
)

var hygieneNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func hygieneStore(t *testing.T) *shard.Store {
	t.Helper()
	st := shard.Open(t.TempDir())
	_, err := st.EnsureLayout()
	require.NoError(t, err)
	return st
}

// fillShard appends n minimal JSON lines to a shard path.
func fillShard(t *testing.T, st *shard.Store, path string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, st.AppendLine(path, []byte(fmt.Sprintf(`{"n":%d}`, i))))
	}
}

func TestRun_RotatesOversizedShards(t *testing.T) {
	st := hygieneStore(t)
	live := st.StreamPath("project:demo", "ins-a", hygieneNow)
	fillShard(t, st, live, 4)

	res, err := Run(context.Background(), st, Options{Rotate: true, MaxLines: 3, Now: hygieneNow})
	require.NoError(t, err)

	require.Len(t, res.Rotated, 1)
	part := res.Rotated[0]
	assert.Equal(t, "-p01.jsonl", part[len(part)-len("-p01.jsonl"):])

	// The live path is gone until the next append; the part holds every line.
	_, err = os.Stat(live)
	assert.True(t, os.IsNotExist(err))
	lines, err := st.CountLines(filepath.Join(st.Root(), part))
	require.NoError(t, err)
	assert.Equal(t, 4, lines)

	// Re-running rotates nothing: parts are never rotated again.
	res, err = Run(context.Background(), st, Options{Rotate: true, MaxLines: 3, Now: hygieneNow})
	require.NoError(t, err)
	assert.Empty(t, res.Rotated)

	// A refilled live shard takes the next free part name.
	fillShard(t, st, live, 4)
	res, err = Run(context.Background(), st, Options{Rotate: true, MaxLines: 3, Now: hygieneNow})
	require.NoError(t, err)
	require.Len(t, res.Rotated, 1)
	assert.Equal(t, "-p02.jsonl", res.Rotated[0][len(res.Rotated[0])-len("-p02.jsonl"):])
}

func TestRun_RotateLeavesCoordinationAlone(t *testing.T) {
	st := hygieneStore(t)
	fillShard(t, st, st.LeasesPath(), 50)

	res, err := Run(context.Background(), st, Options{Rotate: true, MaxLines: 3, Now: hygieneNow})
	require.NoError(t, err)

	assert.Empty(t, res.Rotated)
	lines, err := st.CountLines(st.LeasesPath())
	require.NoError(t, err)
	assert.Equal(t, 50, lines)
}

func TestRun_RotateDryRunRenamesNothing(t *testing.T) {
	st := hygieneStore(t)
	live := st.BusPath("project:demo", hygieneNow)
	fillShard(t, st, live, 4)

	res, err := Run(context.Background(), st, Options{Rotate: true, MaxLines: 3, DryRun: true, Now: hygieneNow})
	require.NoError(t, err)

	require.Len(t, res.Rotated, 1)
	assert.True(t, res.DryRun)
	lines, err := st.CountLines(live)
	require.NoError(t, err)
	assert.Equal(t, 4, lines)
}

func TestRun_ArchivesMonthsBeforeBoundary(t *testing.T) {
	st := hygieneStore(t)
	old := st.BusPath("project:demo", time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC))
	recent := st.BusPath("project:demo", hygieneNow)
	fillShard(t, st, old, 2)
	fillShard(t, st, recent, 2)

	res, err := Run(context.Background(), st, Options{
		Archive: true,
		Before:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:     hygieneNow,
	})
	require.NoError(t, err)

	require.Len(t, res.Archived, 1)
	assert.Equal(t, filepath.Join("archive", "bus", "project-demo", "2025-11-03.jsonl.gz"), res.Archived[0])

	// Original removed, compressed copy readable with every line intact.
	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	f, err := os.Open(filepath.Join(st.Root(), res.Archived[0]))
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	// The recent shard is untouched.
	lines, err := st.CountLines(recent)
	require.NoError(t, err)
	assert.Equal(t, 2, lines)
}

func TestRun_ArchiveDryRunKeepsOriginals(t *testing.T) {
	st := hygieneStore(t)
	old := st.BusPath("project:demo", time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC))
	fillShard(t, st, old, 2)

	res, err := Run(context.Background(), st, Options{
		Archive: true,
		Before:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		DryRun:  true,
		Now:     hygieneNow,
	})
	require.NoError(t, err)

	require.Len(t, res.Archived, 1)
	_, err = os.Stat(old)
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(st.Root(), res.Archived[0]))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_PrunesArchivesPastRetention(t *testing.T) {
	st := hygieneStore(t)
	oldGz := filepath.Join(st.ArchiveDir(), "bus", "project-demo", "2025-01-05.jsonl.gz")
	keepGz := filepath.Join(st.ArchiveDir(), "bus", "project-demo", "2025-11-03.jsonl.gz")
	for _, p := range []string{oldGz, keepGz} {
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o640))
	}

	res, err := Run(context.Background(), st, Options{
		Prune:     true,
		Retention: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Now:       hygieneNow,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{st.Rel(oldGz)}, res.Pruned)
	_, err = os.Stat(oldGz)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(keepGz)
	assert.NoError(t, err)
}

func TestRun_PruneDryRunDeletesNothing(t *testing.T) {
	st := hygieneStore(t)
	oldGz := filepath.Join(st.ArchiveDir(), "bus", "project-demo", "2025-01-05.jsonl.gz")
	require.NoError(t, os.MkdirAll(filepath.Dir(oldGz), 0o750))
	require.NoError(t, os.WriteFile(oldGz, []byte("x"), 0o640))

	res, err := Run(context.Background(), st, Options{
		Prune:     true,
		Retention: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		DryRun:    true,
		Now:       hygieneNow,
	})
	require.NoError(t, err)

	require.Len(t, res.Pruned, 1)
	_, err = os.Stat(oldGz)
	assert.NoError(t, err)
}

func TestRun_ReindexRebuildsCatalog(t *testing.T) {
	st := hygieneStore(t)

	res, err := Run(context.Background(), st, Options{Reindex: true, Now: hygieneNow})
	require.NoError(t, err)
	require.NotNil(t, res.Reindexed)

	_, err = os.Stat(st.IndexDBPath())
	assert.NoError(t, err)
}

func TestRun_ReindexSkippedUnderDryRun(t *testing.T) {
	st := hygieneStore(t)

	res, err := Run(context.Background(), st, Options{Reindex: true, DryRun: true, Now: hygieneNow})
	require.NoError(t, err)
	assert.Nil(t, res.Reindexed)
}

func TestShardMonth(t *testing.T) {
	cases := []struct {
		path  string
		month string
		ok    bool
	}{
		{"bus/project-demo/2026-03-01.jsonl", "2026-03", true},
		{"views/decision/project-demo/2026-03.jsonl", "2026-03", true},
		{"streams/project-demo/ins-a/2026-02-28-p03.jsonl", "2026-02", true},
		{"coordination/leases.jsonl", "", false},
		{"bus/project-demo/notes.jsonl", "", false},
	}
	for _, tc := range cases {
		month, ok := shardMonth(tc.path)
		assert.Equal(t, tc.ok, ok, tc.path)
		assert.Equal(t, tc.month, month, tc.path)
	}
}
