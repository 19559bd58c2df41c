// SPDX-License-Identifier: MPL-2.0

// Package bootstrap is the update-and-launch orchestrator.
//
// A Run probes the client release feed, optionally hands off to a newer
// launcher, takes the cross-process launch lock, installs the latest
// client when needed, applies mods and starts the client. A failed start
// triggers exactly one forced reinstall and retry. All collaborators are
// passed in through Deps so the orchestrator can run headless and under
// test.
//
// Layout under Options.RootDir:
//
//	client/          live install
//	staging/<uuid>/  in-progress install, removed on failure or cancellation
//	installed.json   installed version record
//	mods-manifest.json
package bootstrap
