// SPDX-License-Identifier: MPL-2.0

package mods

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/voxstrap/voxstrap/internal/fsutil"
)

const (
	// FontFile is where the user drops a replacement font in the mod dir.
	FontFile = "content/fonts/CustomFont.ttf"

	// FontFamiliesDir holds the client's font-family descriptors.
	FontFamiliesDir = "content/fonts/families"

	// customFontAsset is how descriptors reference FontFile once installed.
	customFontAsset = "rbxasset://fonts/CustomFont.ttf"
)

// CursorFiles are the cursor images whose originals are kept aside.
var CursorFiles = []string{
	"content/textures/Cursors/KeyboardMouse/ArrowCursor.png",
	"content/textures/Cursors/KeyboardMouse/ArrowFarCursor.png",
	"content/textures/MouseLockedCursor.png",
}

// applyFonts points every font family at the user font while one is
// present, and undoes that once it is gone. Descriptors the user overrides
// by hand are left alone.
func (a *Applicator) applyFonts(src, installed string) {
	families := filepath.Join(installed, filepath.FromSlash(FontFamiliesDir))
	entries, err := os.ReadDir(families)
	if err != nil {
		if !os.IsNotExist(err) {
			a.logger.Warn("cannot list font families", "dir", families, "error", err)
		}
		return
	}

	hasFont := fsutil.FileExists(filepath.Join(src, filepath.FromSlash(FontFile)))

	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(path.Ext(e.Name()), ".json") {
			continue
		}
		rel := path.Join(FontFamiliesDir, e.Name())
		backup := filepath.Join(installed, filepath.FromSlash(backupPathFor(rel)))
		override := filepath.Join(src, filepath.FromSlash(rel))

		if hasFont {
			if err := a.backupOnce(installed, rel, backup); err != nil {
				a.logger.Warn("font descriptor backup failed", "path", rel, "error", err)
				continue
			}
			if fsutil.FileExists(override) {
				continue
			}
			if err := writeFontOverride(backup, override); err != nil {
				a.logger.Warn("font override failed", "path", rel, "error", err)
			}
			continue
		}

		if !fsutil.FileExists(override) || !isGeneratedOverride(override) {
			continue
		}
		if err := os.Remove(override); err != nil {
			a.logger.Warn("removing font override failed", "path", rel, "error", err)
			continue
		}
		if fsutil.FileExists(backup) {
			if err := fsutil.CopyFile(backup, filepath.Join(installed, filepath.FromSlash(rel))); err != nil {
				a.logger.Warn("restoring font descriptor failed", "path", rel, "error", err)
			}
		}
		a.logger.Debug("font override removed", "path", rel)
	}
}

// applyCursors keeps a first-seen copy of each cursor and puts it back
// whenever the mod dir has no override for it.
func (a *Applicator) applyCursors(src, installed string) {
	for _, rel := range CursorFiles {
		target := filepath.Join(installed, filepath.FromSlash(rel))
		backup := filepath.Join(installed, filepath.FromSlash(backupPathFor(rel)))

		if err := a.backupOnce(installed, rel, backup); err != nil {
			a.logger.Warn("cursor backup failed", "path", rel, "error", err)
			continue
		}
		if fsutil.FileExists(filepath.Join(src, filepath.FromSlash(rel))) {
			continue
		}
		if !fsutil.FileExists(backup) || fsutil.SameContent(backup, target) {
			continue
		}
		if err := fsutil.CopyFile(backup, target); err != nil {
			a.logger.Warn("cursor restore failed", "path", rel, "error", err)
		}
	}
}

// backupOnce copies the original of rel to backup unless a backup exists.
// The walk's .modbackup copy is preferred, since the live file may already
// be a mod.
func (a *Applicator) backupOnce(installed, rel, backup string) error {
	if fsutil.Exists(backup) {
		return nil
	}
	original := filepath.Join(installed, BackupDirName, filepath.FromSlash(rel))
	if !fsutil.FileExists(original) {
		original = filepath.Join(installed, filepath.FromSlash(rel))
	}
	if !fsutil.FileExists(original) {
		return nil
	}
	return fsutil.CopyFile(original, backup)
}

// writeFontOverride rewrites every face of the descriptor at from to the
// custom font and writes the result to to.
func writeFontOverride(from, to string) error {
	data, err := os.ReadFile(from)
	if err != nil {
		return err
	}

	var desc map[string]any
	if err := json.Unmarshal(data, &desc); err != nil {
		return fmt.Errorf("decoding descriptor: %w", err)
	}
	faces, ok := desc["faces"].([]any)
	if !ok {
		return fmt.Errorf("descriptor has no faces")
	}
	for _, f := range faces {
		if face, ok := f.(map[string]any); ok {
			face["assetId"] = customFontAsset
		}
	}

	out, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(to, append(out, '\n'), 0o644)
}

// isGeneratedOverride reports whether every face of the descriptor points
// at the custom font, i.e. writeFontOverride produced it.
func isGeneratedOverride(p string) bool {
	data, err := os.ReadFile(p)
	if err != nil {
		return false
	}
	var desc struct {
		Faces []struct {
			AssetID string `json:"assetId"`
		} `json:"faces"`
	}
	if err := json.Unmarshal(data, &desc); err != nil || len(desc.Faces) == 0 {
		return false
	}
	for _, f := range desc.Faces {
		if f.AssetID != customFontAsset {
			return false
		}
	}
	return true
}
