package shard

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/diasync/diasync/internal/record"
)

// maxLineBytes bounds a single shard line. Records are one-line JSON with
// capped summaries; anything beyond this is corruption, not data.
const maxLineBytes = 1 << 20

// ErrStop stops ReadLines early without reporting an error.
var ErrStop = errors.New("shard: stop iteration")

// Line is one decoded shard line.
type Line struct {
	Path   string
	Number int // 1-based line number
	Raw    []byte
	Fields map[string]any
}

// ReadLines invokes fn for each decodable JSON line of path, in file
// order. Blank lines are ignored; undecodable lines (for example the
// trailing partial line of a crashed writer) are counted in skipped and
// otherwise ignored. A missing file yields zero lines and no error.
// fn may return ErrStop to end iteration early.
func (s *Store) ReadLines(path string, fn func(Line) error) (skipped int, err error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr("shard.read", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}

		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var fields map[string]any
		if err := dec.Decode(&fields); err != nil {
			skipped++
			continue
		}

		rawCopy := make([]byte, len(raw))
		copy(rawCopy, raw)
		if err := fn(Line{Path: path, Number: lineNo, Raw: rawCopy, Fields: fields}); err != nil {
			if errors.Is(err, ErrStop) {
				return skipped, nil
			}
			return skipped, err
		}
	}
	if err := scanner.Err(); err != nil {
		return skipped, storageErr("shard.read", path, err)
	}
	return skipped, nil
}

// Records reads every decodable line of path.
// Returns an empty slice (not nil) for missing or empty shards.
func (s *Store) Records(path string) ([]map[string]any, error) {
	records := []map[string]any{}
	_, err := s.ReadLines(path, func(l Line) error {
		records = append(records, l.Fields)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// CountLines returns the number of decodable lines in path.
func (s *Store) CountLines(path string) (int, error) {
	n := 0
	_, err := s.ReadLines(path, func(Line) error {
		n++
		return nil
	})
	return n, err
}

// ListShards returns every .jsonl file under dir, sorted by path for
// deterministic iteration order. A missing directory yields an empty list.
func (s *Store) ListShards(dir string) ([]string, error) {
	shards := []string{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".jsonl") {
			shards = append(shards, path)
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, storageErr("shard.list", dir, err)
	}
	sort.Strings(shards)
	return shards, nil
}

// WalkZone invokes fn for every decodable line of every shard in a zone,
// shards in sorted path order. Returns total skipped-line count.
func (s *Store) WalkZone(zone string, fn func(Line) error) (int, error) {
	return s.WalkShards(zone, ShardFilter{}, fn)
}

// ShardFilter narrows a zone walk by path segment. Zero-value fields
// match everything.
type ShardFilter struct {
	Scope    string
	Instance string
}

// WalkShards is WalkZone restricted to shards whose path carries the
// filter's scope and instance slugs as directory segments. ErrStop from
// fn ends the whole walk, not just the current shard.
func (s *Store) WalkShards(zone string, f ShardFilter, fn func(Line) error) (int, error) {
	shards, err := s.ListShards(s.ZoneDir(zone))
	if err != nil {
		return 0, err
	}
	scopeSeg := ""
	if f.Scope != "" {
		scopeSeg = "/" + record.ScopeSlug(f.Scope) + "/"
	}
	instanceSeg := ""
	if f.Instance != "" {
		instanceSeg = "/" + record.Slugify(f.Instance) + "/"
	}
	stopped := false
	wrapped := func(l Line) error {
		err := fn(l)
		if errors.Is(err, ErrStop) {
			stopped = true
		}
		return err
	}
	totalSkipped := 0
	for _, path := range shards {
		slashed := filepath.ToSlash(path)
		if scopeSeg != "" && !strings.Contains(slashed, scopeSeg) {
			continue
		}
		if instanceSeg != "" && !strings.Contains(slashed, instanceSeg) {
			continue
		}
		skipped, err := s.ReadLines(path, wrapped)
		totalSkipped += skipped
		if err != nil {
			return totalSkipped, err
		}
		if stopped {
			break
		}
	}
	return totalSkipped, nil
}
