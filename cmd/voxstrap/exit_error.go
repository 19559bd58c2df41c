// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/voxstrap/voxstrap/internal/issue"
)

const (
	// exitFailure is a failure the user can fix: bad config, broken install.
	exitFailure = 1
	// exitTransient is a failure worth retrying: no connection, lock held.
	exitTransient = 2
	// exitCancelled follows the shell convention for SIGINT.
	exitCancelled = 130
)

// ExitError signals a non-zero exit code without forcing os.Exit in RunE handlers.
type ExitError struct {
	Code int
	Err  error
}

// Error returns the error message for ExitError.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error, if any.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitCodeFor maps an error kind to the process exit code.
func exitCodeFor(k issue.Kind) int {
	switch k {
	case issue.KindNone:
		return 0
	case issue.KindCancelled:
		return exitCancelled
	case issue.KindConnectivity, issue.KindLockTimeout, issue.KindNetwork:
		return exitTransient
	case issue.KindArchive, issue.KindFilesystem, issue.KindLaunch,
		issue.KindVersionParse, issue.KindSelfUpdate, issue.KindUnknown:
		return exitFailure
	}
	return exitFailure
}
