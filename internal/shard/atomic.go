package shard

import (
	"os"
	"path/filepath"
)

// ReplaceFile atomically replaces the contents of path.
//
// The bytes are written to a temporary file in the same directory and
// renamed over the target, so a reader sees either the old capsule or the
// new one, never a partial file. The temp file is removed on failure.
func (s *Store) ReplaceFile(path string, data []byte) error {
	const op = "shard.replace"

	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return storageErr(op, path, err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fileMode)
	if err != nil {
		return storageErr(op, tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return storageErr(op, tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return storageErr(op, tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return storageErr(op, path, err)
	}
	return nil
}

// ReadFile reads a capsule file. A missing file returns ("", false, nil)
// so callers can distinguish absent capsules from read failures.
func (s *Store) ReadFile(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageErr("shard.read", path, err)
	}
	return string(data), true, nil
}
