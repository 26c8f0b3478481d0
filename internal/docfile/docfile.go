// Package docfile provides atomic JSON document persistence: write to a
// temp file and rename into place, tolerate a torn read by retrying once
// after a short sleep.
package docfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// EncodeFile marshals v as indented JSON and writes it atomically via
// write-then-rename so a crash mid-write never leaves a torn file at path.
func EncodeFile(path string, v interface{}, perm os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file %s: %w", tmpName, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to chmod temp file %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename %s to %s: %w", tmpName, path, err)
	}
	return nil
}

// DecodeFile unmarshals JSON from path into v. Reads tolerate an
// absent-or-partial file by retrying once after a short sleep.
func DecodeFile(path string, v interface{}) error {
	err := decodeOnce(path, v)
	if err == nil {
		return nil
	}
	time.Sleep(20 * time.Millisecond)
	return decodeOnce(path, v)
}

func decodeOnce(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
