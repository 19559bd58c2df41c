// SPDX-License-Identifier: MPL-2.0

//go:build unix

package launch

import (
	"errors"

	"golang.org/x/sys/unix"
)

// elevationSupported is false: there is no UAC-style prompt to hand the
// executable to.
const elevationSupported = false

// niceness maps priorities onto nice values; negative values need
// CAP_SYS_NICE and fail with EPERM otherwise.
var niceness = map[Priority]int{
	Idle:        19,
	BelowNormal: 10,
	Normal:      0,
	AboveNormal: -5,
	High:        -10,
	RealTime:    -20,
}

func setPriority(pid int, p Priority) error {
	return unix.Setpriority(unix.PRIO_PROCESS, pid, niceness[p])
}

func startElevated(Spec) (int, error) {
	return 0, errors.New("elevation is only supported on Windows")
}
