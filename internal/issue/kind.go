// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"context"
	"errors"
)

const (
	// KindNone is the zero Kind, used for nil errors.
	KindNone Kind = iota
	// KindConnectivity means the update service could not be reached.
	KindConnectivity
	// KindLockTimeout means another instance holds a named lock.
	KindLockTimeout
	// KindNetwork means a download failed mid-flight or returned a bad status.
	KindNetwork
	// KindArchive means a downloaded archive could not be verified or extracted.
	KindArchive
	// KindFilesystem means a copy, move or delete failed.
	KindFilesystem
	// KindLaunch means the target process could not be started.
	KindLaunch
	// KindVersionParse means a version string was not dot-separated integers.
	KindVersionParse
	// KindSelfUpdate means the launcher could not replace its own binary.
	KindSelfUpdate
	// KindCancelled means the caller cancelled the operation.
	KindCancelled
	// KindUnknown is any error outside the taxonomy.
	KindUnknown
)

var (
	// ErrConnectivity is the sentinel for KindConnectivity.
	ErrConnectivity = errors.New("no connection to update service")
	// ErrLockTimeout is the sentinel for KindLockTimeout.
	ErrLockTimeout = errors.New("timed out waiting for lock")
	// ErrNetwork is the sentinel for KindNetwork.
	ErrNetwork = errors.New("network error")
	// ErrArchive is the sentinel for KindArchive.
	ErrArchive = errors.New("archive error")
	// ErrFilesystem is the sentinel for KindFilesystem.
	ErrFilesystem = errors.New("filesystem error")
	// ErrLaunch is the sentinel for KindLaunch.
	ErrLaunch = errors.New("launch error")
	// ErrVersionParse is the sentinel for KindVersionParse.
	ErrVersionParse = errors.New("invalid version")
	// ErrSelfUpdate is the sentinel for KindSelfUpdate.
	ErrSelfUpdate = errors.New("self-update error")
)

// Kind classifies an error into the launcher's taxonomy.
type Kind int

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindConnectivity:
		return "connectivity"
	case KindLockTimeout:
		return "lock-timeout"
	case KindNetwork:
		return "network"
	case KindArchive:
		return "archive"
	case KindFilesystem:
		return "filesystem"
	case KindLaunch:
		return "launch"
	case KindVersionParse:
		return "version-parse"
	case KindSelfUpdate:
		return "self-update"
	case KindCancelled:
		return "cancelled"
	case KindUnknown:
		return "unknown"
	}
	return "unknown"
}

// KindOf returns the Kind of err by walking its wrap chain. Cancellation is
// checked first so a download aborted by the caller is reported as
// cancelled rather than as a network failure.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrConnectivity):
		return KindConnectivity
	case errors.Is(err, ErrLockTimeout):
		return KindLockTimeout
	case errors.Is(err, ErrArchive):
		return KindArchive
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, ErrFilesystem):
		return KindFilesystem
	case errors.Is(err, ErrLaunch):
		return KindLaunch
	case errors.Is(err, ErrVersionParse):
		return KindVersionParse
	case errors.Is(err, ErrSelfUpdate):
		return KindSelfUpdate
	}
	return KindUnknown
}
