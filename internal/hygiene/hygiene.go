// Package hygiene performs shard maintenance: rotation of oversized
// shards, archival of aged-out months, retention pruning, and catalog
// reindexing.
//
// Everything here operates on already-durable data and is re-runnable:
// a crashed rotation or archival converges on the next run, and a
// rebuilt index always reaches the same state. Hygiene renames and
// compresses whole shard files; it never edits a line.
package hygiene

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/diasync/diasync/internal/fault"
	"github.com/diasync/diasync/internal/index"
	"github.com/diasync/diasync/internal/record"
	"github.com/diasync/diasync/internal/shard"
)

// DefaultMaxLines is the rotation threshold when the caller names none.
const DefaultMaxLines = 800

// Options parameterizes one hygiene run. Each switch enables one
// maintenance step; all four may run in a single pass.
type Options struct {
	Rotate   bool
	MaxLines int

	Archive bool
	// Before is the month boundary: shards bucketed strictly before it
	// are archived. Zero defaults to three months before Now.
	Before time.Time

	Prune bool
	// Retention is the archive horizon for pruning. Zero defaults to
	// twelve months before Now.
	Retention time.Time

	Reindex bool
	DryRun  bool

	Now time.Time
}

// Result reports what a run did (or would do, under DryRun).
type Result struct {
	Rotated   []string            `json:"rotated"`
	Archived  []string            `json:"archived"`
	Pruned    []string            `json:"pruned"`
	Reindexed *index.RebuildStats `json:"reindexed,omitempty"`
	DryRun    bool                `json:"dry_run"`
}

// Run executes the enabled maintenance steps in rotate, archive, prune,
// reindex order, so a shard rotated out this pass is eligible for
// archival in the same pass's view of the world next time.
func Run(ctx context.Context, st *shard.Store, opts Options) (*Result, error) {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	res := &Result{Rotated: []string{}, Archived: []string{}, Pruned: []string{}, DryRun: opts.DryRun}

	if opts.Rotate {
		rotated, err := rotate(st, opts.MaxLines, opts.DryRun)
		if err != nil {
			return nil, err
		}
		res.Rotated = rotated
	}
	if opts.Archive {
		before := opts.Before
		if before.IsZero() {
			before = now.AddDate(0, -3, 0)
		}
		archived, err := archive(st, before, opts.DryRun)
		if err != nil {
			return nil, err
		}
		res.Archived = archived
	}
	if opts.Prune {
		retention := opts.Retention
		if retention.IsZero() {
			retention = now.AddDate(0, -12, 0)
		}
		pruned, err := prune(st, retention, opts.DryRun)
		if err != nil {
			return nil, err
		}
		res.Pruned = pruned
	}
	if opts.Reindex && !opts.DryRun {
		stats, err := index.Rebuild(ctx, st)
		if err != nil {
			return nil, err
		}
		res.Reindexed = stats
	}

	slog.Info("hygiene run complete",
		"rotated", len(res.Rotated),
		"archived", len(res.Archived),
		"pruned", len(res.Pruned),
		"reindexed", res.Reindexed != nil,
		"dry_run", opts.DryRun,
	)
	return res, nil
}

// partPattern matches rotated-out part files, which rotation and
// archival must leave alone and count respectively.
var partPattern = regexp.MustCompile(`-p(\d{2,})\.jsonl$`)

// maintainedZones are the zones rotation and archival touch. The
// coordination and governance ledgers are deliberately excluded: their
// folds read fixed paths (leases.jsonl, conflicts.jsonl, ...) and must
// always see their full history.
var maintainedZones = []string{shard.ZoneStreams, shard.ZoneBus, shard.ZoneViews}

// rotate renames any live shard over the line threshold to its next
// free -pNN part name. The live path continues fresh on the next
// append; readers walking the directory still see every line.
func rotate(st *shard.Store, maxLines int, dryRun bool) ([]string, error) {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	rotated := []string{}
	for _, zone := range maintainedZones {
		shards, err := st.ListShards(st.ZoneDir(zone))
		if err != nil {
			return nil, err
		}
		for _, path := range shards {
			if partPattern.MatchString(path) {
				continue
			}
			lines, err := st.CountLines(path)
			if err != nil {
				return nil, err
			}
			if lines <= maxLines {
				continue
			}
			part, err := nextPart(path)
			if err != nil {
				return nil, err
			}
			if !dryRun {
				if err := os.Rename(path, part); err != nil {
					return nil, fault.Storage("hygiene.rotate", path, err)
				}
			}
			rotated = append(rotated, st.Rel(part))
		}
	}
	return rotated, nil
}

// nextPart returns the first free -pNN sibling for a shard path.
func nextPart(path string) (string, error) {
	base := strings.TrimSuffix(path, ".jsonl")
	for n := 1; n < 1000; n++ {
		candidate := fmt.Sprintf("%s-p%02d.jsonl", base, n)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", fault.Storage("hygiene.rotate", path, fmt.Errorf("no free part name"))
}

// archive gzips every shard bucketed strictly before the boundary month
// into archive/<zone>/ and removes the original only after the
// compressed copy is fully written. Re-runnable: an already-archived
// shard is gone from the live tree, and a crashed run leaves at worst a
// valid original plus a partial .gz that the next run overwrites.
func archive(st *shard.Store, before time.Time, dryRun bool) ([]string, error) {
	boundary := record.MonthBucket(before)
	archived := []string{}
	for _, zone := range maintainedZones {
		shards, err := st.ListShards(st.ZoneDir(zone))
		if err != nil {
			return nil, err
		}
		for _, path := range shards {
			month, ok := shardMonth(path)
			if !ok || month >= boundary {
				continue
			}
			rel := st.Rel(path)
			dest := filepath.Join(st.ArchiveDir(), rel+".gz")
			if !dryRun {
				if err := gzipFile(path, dest); err != nil {
					return nil, err
				}
				if err := os.Remove(path); err != nil {
					return nil, fault.Storage("hygiene.archive", path, err)
				}
			}
			archived = append(archived, st.Rel(dest))
		}
	}
	return archived, nil
}

// shardMonth extracts the "YYYY-MM" bucket from a shard filename.
// Daily shards (YYYY-MM-DD) truncate to their month; rotated parts keep
// the bucket of their base name.
func shardMonth(path string) (string, bool) {
	name := partPattern.ReplaceAllString(filepath.Base(path), "")
	name = strings.TrimSuffix(name, ".jsonl")
	if len(name) >= 7 && name[4] == '-' {
		month := name[:7]
		if _, err := time.Parse("2006-01", month); err == nil {
			return month, true
		}
	}
	return "", false
}

// gzipFile writes the compressed copy, fsyncing before the original may
// be removed. The destination is written via temp+rename so a partial
// archive is never mistaken for a complete one.
func gzipFile(src, dest string) error {
	const op = "hygiene.archive"
	in, err := os.Open(src)
	if err != nil {
		return fault.Storage(op, src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return fault.Storage(op, dest, err)
	}
	tmp := dest + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return fault.Storage(op, tmp, err)
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		os.Remove(tmp)
		return fault.Storage(op, tmp, err)
	}
	if err := gz.Close(); err != nil {
		out.Close()
		os.Remove(tmp)
		return fault.Storage(op, tmp, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return fault.Storage(op, tmp, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fault.Storage(op, tmp, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fault.Storage(op, dest, err)
	}
	return nil
}

// prune removes archived .gz files whose bucket month is strictly
// before the retention horizon. The only operation in the system that
// deletes data, which is why it defaults to dry-run at the CLI.
func prune(st *shard.Store, retention time.Time, dryRun bool) ([]string, error) {
	horizon := record.MonthBucket(retention)
	pruned := []string{}
	err := filepath.WalkDir(st.ArchiveDir(), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".jsonl.gz") {
			return nil
		}
		month, ok := shardMonth(strings.TrimSuffix(path, ".gz"))
		if !ok || month >= horizon {
			return nil
		}
		if !dryRun {
			if err := os.Remove(path); err != nil {
				return fault.Storage("hygiene.prune", path, err)
			}
		}
		pruned = append(pruned, st.Rel(path))
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return pruned, nil
}
