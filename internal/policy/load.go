package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and validates a policy file from disk, returning a fresh
// immutable Snapshot. It never mutates any previously returned
// Snapshot; callers that need "keep the last good snapshot on
// failure" semantics (spec §4.3) simply discard the error return and
// keep using their existing *Snapshot.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: reading %s: %w", path, err)
	}

	var doc Doc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigError{Reason: fmt.Sprintf("parsing %s: %v", path, err)}
	}

	return Validate(&doc)
}

// Write atomically replaces the policy file at path with doc, via
// write-temp + fsync + rename (spec §3 invariant 6 / §4.3
// immutability: edits produce a new file, never an in-place mutation).
func Write(path string, doc *Doc) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("policy: marshaling: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".policy-*.tmp")
	if err != nil {
		return fmt.Errorf("policy: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("policy: writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("policy: fsyncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("policy: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("policy: renaming temp file into place: %w", err)
	}
	return nil
}
