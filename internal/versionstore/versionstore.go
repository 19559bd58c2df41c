// SPDX-License-Identifier: MPL-2.0

// Package versionstore persists which client build is installed and where.
package versionstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/voxstrap/voxstrap/internal/fsutil"
	"github.com/voxstrap/voxstrap/internal/issue"
)

// FileName is the record's file name inside the install root.
const FileName = "installed.json"

// ErrNotInstalled is returned by Load when no record exists.
var ErrNotInstalled = errors.New("no installed version recorded")

type (
	// InstalledVersion identifies the installed client build.
	InstalledVersion struct {
		Identifier  string `json:"identifier"`
		InstalledAt string `json:"installed_at"`
	}

	// Store reads and writes the record at a fixed path.
	Store struct {
		path string
	}
)

// New returns a Store keeping its record in rootDir.
func New(rootDir string) *Store {
	return &Store{path: filepath.Join(rootDir, FileName)}
}

// Path returns the record's location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the record. A missing file yields ErrNotInstalled; a corrupt
// file or an empty identifier is reported as an error the caller treats as
// "no prior installation".
func (s *Store) Load() (*InstalledVersion, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotInstalled
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w: %w", s.path, issue.ErrFilesystem, err)
	}

	var v InstalledVersion
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", s.path, err)
	}
	if strings.TrimSpace(v.Identifier) == "" {
		return nil, fmt.Errorf("decoding %s: empty identifier", s.path)
	}
	return &v, nil
}

// Save writes the record atomically.
func (s *Store) Save(v InstalledVersion) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding installed version: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w: %w", s.path, issue.ErrFilesystem, err)
	}
	return nil
}

// Clear removes the record.
func (s *Store) Clear() error {
	if err := fsutil.RemoveIfExists(s.path); err != nil {
		return fmt.Errorf("removing %s: %w: %w", s.path, issue.ErrFilesystem, err)
	}
	return nil
}
