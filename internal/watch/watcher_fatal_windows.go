// SPDX-License-Identifier: MPL-2.0

//go:build windows

package watch

import (
	"errors"

	"golang.org/x/sys/windows"
)

// isFatalFsnotifyError reports ReadDirectoryChangesW failures the watcher
// cannot recover from. ERROR_INVALID_HANDLE usually means the mods
// directory was deleted or its volume unmounted.
func isFatalFsnotifyError(err error) bool {
	return errors.Is(err, windows.ERROR_TOO_MANY_OPEN_FILES) ||
		errors.Is(err, windows.ERROR_INVALID_HANDLE) ||
		errors.Is(err, windows.ERROR_NOT_ENOUGH_MEMORY)
}
