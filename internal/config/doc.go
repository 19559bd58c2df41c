// SPDX-License-Identifier: MPL-2.0

// Package config handles voxstrap configuration using Viper with CUE as the
// file format.
//
// Configuration is loaded from ~/.config/voxstrap/config.cue (or the XDG
// equivalent on Linux, ~/Library/Application Support/voxstrap/config.cue on
// macOS, %APPDATA%\voxstrap\config.cue on Windows) and validated against the
// embedded config_schema.cue. VOXSTRAP_* environment variables override file
// values; built-in defaults fill the rest.
package config
