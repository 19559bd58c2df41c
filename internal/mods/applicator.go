// SPDX-License-Identifier: MPL-2.0

package mods

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"

	"github.com/voxstrap/voxstrap/internal/fsutil"
	"github.com/voxstrap/voxstrap/internal/issue"
)

const (
	// BackupDirName holds originals overwritten by the generic walk.
	BackupDirName = ".modbackup"

	// DefaultSettingsFile is the client settings file inside the mod tree.
	DefaultSettingsFile = "ClientSettings/ClientAppSettings.json"
)

// reservedPatterns are never copied and are deleted from the mod source.
var reservedPatterns = []string{
	"README.txt",
	"**/*.lock",
}

type (
	// Options controls an Applicator.
	Options struct {
		// ManageSettingsFile marks the client settings file as reserved: the
		// launcher owns it, so a copy in the mod directory is discarded.
		ManageSettingsFile bool
		// SettingsFile is the slash-separated path of that file; empty
		// selects DefaultSettingsFile.
		SettingsFile string
	}

	// Applicator runs apply passes and persists their manifest.
	Applicator struct {
		opts     Options
		manifest *ManifestStore
		logger   *log.Logger
		reserved []string
	}
)

// NewApplicator creates an Applicator persisting to manifest.
func NewApplicator(opts Options, manifest *ManifestStore, logger *log.Logger) *Applicator {
	if logger == nil {
		logger = log.Default()
	}
	if opts.SettingsFile == "" {
		opts.SettingsFile = DefaultSettingsFile
	}

	reserved := append([]string(nil), reservedPatterns...)
	if opts.ManageSettingsFile {
		reserved = append(reserved, opts.SettingsFile)
	}

	return &Applicator{
		opts:     opts,
		manifest: manifest,
		logger:   logger.WithPrefix("mods"),
		reserved: reserved,
	}
}

// Manifest returns the store this applicator writes.
func (a *Applicator) Manifest() *ManifestStore {
	return a.manifest
}

// Apply copies every file under src into installed and returns the
// manifest of copied files. Per-file failures are logged and skipped; only
// cancellation and manifest persistence failures are returned.
func (a *Applicator) Apply(ctx context.Context, src, installed string) ([]ManifestEntry, error) {
	if err := os.MkdirAll(src, 0o755); err != nil {
		return nil, fmt.Errorf("creating mod dir %s: %w: %w", src, issue.ErrFilesystem, err)
	}

	previous, err := a.manifest.Load()
	if err != nil {
		a.logger.Warn("previous manifest unreadable, starting fresh", "error", err)
		previous = nil
	}

	a.applyFonts(src, installed)
	a.applyCursors(src, installed)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	current, err := a.walk(ctx, src, installed, previous)
	if err != nil {
		return nil, err
	}

	a.restoreStale(installed, previous, current)

	if err := a.manifest.Save(current); err != nil {
		return current, err
	}
	a.logger.Info("mods applied", "files", len(current))
	return current, nil
}

// Reset forgets the previous pass. Call it after the installed tree was
// replaced, since the old manifest and backups no longer describe it.
func (a *Applicator) Reset() error {
	return a.manifest.Clear()
}

// Uninstall restores every manifest entry to its original and clears the
// manifest.
func (a *Applicator) Uninstall(ctx context.Context, installed string) (int, error) {
	previous, err := a.manifest.Load()
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, e := range previous {
		if err := ctx.Err(); err != nil {
			return restored, err
		}
		if err := a.restoreOriginal(installed, e.RelativePath); err != nil {
			a.logger.Warn("restore failed", "path", e.RelativePath, "error", err)
			continue
		}
		restored++
	}
	return restored, a.manifest.Clear()
}

func (a *Applicator) walk(ctx context.Context, src, installed string, previous []ManifestEntry) ([]ManifestEntry, error) {
	ours := make(map[string]struct{}, len(previous))
	for _, e := range previous {
		ours[e.key()] = struct{}{}
	}

	seen := make(map[string]struct{})
	var current []ManifestEntry

	walkErr := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			a.logger.Warn("walk error", "path", p, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		relOS, err := filepath.Rel(src, p)
		if err != nil {
			a.logger.Warn("cannot relativize", "path", p, "error", err)
			return nil
		}
		rel := filepath.ToSlash(relOS)

		if a.isReserved(rel) {
			a.logger.Info("removing reserved file from mod dir", "path", rel)
			if err := os.Remove(p); err != nil {
				a.logger.Warn("failed to remove reserved file", "path", rel, "error", err)
			}
			return nil
		}

		entry := ManifestEntry{RelativePath: rel}
		if _, dup := seen[entry.key()]; dup {
			a.logger.Warn("duplicate mod file ignored (paths differ only in case)", "path", rel)
			return nil
		}
		seen[entry.key()] = struct{}{}

		_, wasOurs := ours[entry.key()]
		if err := a.copyOne(p, installed, rel, wasOurs); err != nil {
			a.logger.Warn("mod file skipped", "path", rel, "error", err)
			return nil
		}
		current = append(current, entry)
		return nil
	})
	if walkErr != nil {
		if errors.Is(walkErr, context.Canceled) || errors.Is(walkErr, context.DeadlineExceeded) {
			return nil, walkErr
		}
		return nil, fmt.Errorf("walking %s: %w: %w", src, issue.ErrFilesystem, walkErr)
	}
	return current, nil
}

// copyOne installs one mod file, backing up the original the first time it
// is overwritten. wasOurs means the target was written by a previous pass
// and therefore is not an original.
func (a *Applicator) copyOne(srcPath, installed, rel string, wasOurs bool) error {
	target := filepath.Join(installed, filepath.FromSlash(rel))
	backup := filepath.Join(installed, BackupDirName, filepath.FromSlash(rel))

	if !wasOurs && fsutil.FileExists(target) && !fsutil.Exists(backup) {
		if err := fsutil.CopyFile(target, backup); err != nil {
			return fmt.Errorf("backing up original: %w", err)
		}
		a.logger.Debug("original backed up", "path", rel)
	}

	if fsutil.SameContent(srcPath, target) {
		return nil
	}
	if err := fsutil.CopyFile(srcPath, target); err != nil {
		return fmt.Errorf("copying: %w", err)
	}
	return nil
}

// restoreStale puts back originals for files the previous pass installed
// but this pass did not.
func (a *Applicator) restoreStale(installed string, previous, current []ManifestEntry) {
	keep := make(map[string]struct{}, len(current))
	for _, e := range current {
		keep[e.key()] = struct{}{}
	}
	for _, e := range previous {
		if _, ok := keep[e.key()]; ok {
			continue
		}
		if err := a.restoreOriginal(installed, e.RelativePath); err != nil {
			a.logger.Warn("restore of removed mod file failed", "path", e.RelativePath, "error", err)
			continue
		}
		a.logger.Debug("mod file removed, original restored", "path", e.RelativePath)
	}
}

// restoreOriginal copies the backup over rel, or removes rel when the mod
// added a file that had no original.
func (a *Applicator) restoreOriginal(installed, rel string) error {
	target := filepath.Join(installed, filepath.FromSlash(rel))
	backup := filepath.Join(installed, BackupDirName, filepath.FromSlash(rel))

	if fsutil.FileExists(backup) {
		if fsutil.SameContent(backup, target) {
			return nil
		}
		return fsutil.CopyFile(backup, target)
	}
	return fsutil.RemoveIfExists(target)
}

func (a *Applicator) isReserved(rel string) bool {
	for _, pattern := range a.reserved {
		if strings.EqualFold(pattern, rel) {
			return true
		}
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// backupPathFor maps dir/name/file to dir/Backup_name/file, the layout
// used by the font and cursor pipelines.
func backupPathFor(rel string) string {
	dir, file := path.Split(rel)
	dir = strings.TrimSuffix(dir, "/")
	parent, name := path.Split(dir)
	return path.Join(parent, "Backup_"+name, file)
}
