// SPDX-License-Identifier: MPL-2.0

// Package selfupdate keeps the voxstrap launcher itself up to date.
//
// The package has two halves that meet across a process boundary:
//   - updater.go: Updater checks the launcher release feed, downloads a newer
//     launcher into a voxstrap-update-* temp directory and starts it with
//     --upgrade plus the original arguments.
//   - installer.go: Installer runs at startup of that new process and copies
//     it over the installed launcher under the "installer" lock, then
//     rewrites registration.json and clears deprecated settings.
//   - detect.go: install method detection; package-manager installs are
//     never replaced.
package selfupdate
