package shard

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/diasync/diasync/internal/fault"
)

// storageErr wraps a filesystem failure as a storage-unavailable fault.
func storageErr(op, path string, err error) error {
	return fault.Storage(op, path, err)
}

// AppendRecord marshals v to one JSON line and appends it to path.
//
// The append is all-or-nothing: marshaling happens before the file is
// opened, and the line plus trailing newline go out in a single write on
// an O_APPEND descriptor. Concurrent appenders to the same shard are
// serialized by the filesystem; a crashed writer can leave at most a
// trailing partial line, which readers skip.
func (s *Store) AppendRecord(path string, v any) error {
	const op = "shard.append"

	line, err := json.Marshal(v)
	if err != nil {
		return fault.Validationf(op, "marshal record: %v", err)
	}
	return s.AppendLine(path, line)
}

// AppendLine appends one pre-marshaled line to path, creating parent
// directories as needed.
func (s *Store) AppendLine(path string, line []byte) error {
	const op = "shard.append"

	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return storageErr(op, path, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, fileMode)
	if err != nil {
		return storageErr(op, path, err)
	}

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return storageErr(op, path, err)
	}
	if err := f.Close(); err != nil {
		return storageErr(op, path, err)
	}
	return nil
}
