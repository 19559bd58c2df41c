// SPDX-License-Identifier: MPL-2.0

package mods

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/voxstrap/voxstrap/internal/fsutil"
	"github.com/voxstrap/voxstrap/internal/issue"
)

// ManifestFileName is the manifest's file name inside the install root.
const ManifestFileName = "mods-manifest.json"

type (
	// ManifestEntry records one file copied into the installed tree. It is
	// serialized as its slash-separated relative path.
	ManifestEntry struct {
		RelativePath string
	}

	// ManifestStore persists the entries of the most recent apply pass as a
	// JSON array of strings, for uninstallers.
	ManifestStore struct {
		path string
	}
)

// MarshalJSON encodes the entry as a bare string.
func (e ManifestEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.RelativePath)
}

// UnmarshalJSON decodes a bare string.
func (e *ManifestEntry) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &e.RelativePath)
}

// key is the case-insensitive identity of the entry.
func (e ManifestEntry) key() string {
	return strings.ToLower(e.RelativePath)
}

// NewManifestStore returns a store writing to path.
func NewManifestStore(path string) *ManifestStore {
	return &ManifestStore{path: path}
}

// Path returns the manifest location.
func (s *ManifestStore) Path() string {
	return s.path
}

// Load reads the manifest. A missing file is an empty manifest.
func (s *ManifestStore) Load() ([]ManifestEntry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w: %w", s.path, issue.ErrFilesystem, err)
	}

	var entries []ManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", s.path, err)
	}
	return dedupe(entries), nil
}

// Save writes entries sorted and de-duplicated, so identical sets produce
// identical bytes.
func (s *ManifestStore) Save(entries []ManifestEntry) error {
	out := dedupe(entries)
	slices.SortFunc(out, func(a, b ManifestEntry) int {
		return strings.Compare(a.key(), b.key())
	})
	if out == nil {
		out = []ManifestEntry{}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w: %w", s.path, issue.ErrFilesystem, err)
	}
	return nil
}

// Clear deletes the manifest, used when the installed tree is replaced.
func (s *ManifestStore) Clear() error {
	if err := fsutil.RemoveIfExists(s.path); err != nil {
		return fmt.Errorf("removing %s: %w: %w", s.path, issue.ErrFilesystem, err)
	}
	return nil
}

func dedupe(entries []ManifestEntry) []ManifestEntry {
	seen := make(map[string]struct{}, len(entries))
	var out []ManifestEntry
	for _, e := range entries {
		if e.RelativePath == "" {
			continue
		}
		if _, dup := seen[e.key()]; dup {
			continue
		}
		seen[e.key()] = struct{}{}
		out = append(out, e)
	}
	return out
}
