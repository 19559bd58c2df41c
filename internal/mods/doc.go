// SPDX-License-Identifier: MPL-2.0

// Package mods copies user override files into the installed client tree.
//
// An apply pass runs three stages in order: the font pipeline, the cursor
// pipeline, and the generic walk of the mod directory. Every original file
// the walk overwrites is backed up once under .modbackup in the installed
// tree; files dropped from the mod directory since the previous pass get
// their original back. The list of copied files is persisted as a manifest
// so an uninstaller knows what was touched.
//
// Callers hold the launch lock while applying, since the installed tree is
// shared with the orchestrator.
package mods
