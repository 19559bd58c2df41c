// SPDX-License-Identifier: MPL-2.0

//go:build windows

package launch

import (
	"strings"

	"golang.org/x/sys/windows"
)

const elevationSupported = true

var priorityClasses = map[Priority]uint32{
	Idle:        windows.IDLE_PRIORITY_CLASS,
	BelowNormal: windows.BELOW_NORMAL_PRIORITY_CLASS,
	Normal:      windows.NORMAL_PRIORITY_CLASS,
	AboveNormal: windows.ABOVE_NORMAL_PRIORITY_CLASS,
	High:        windows.HIGH_PRIORITY_CLASS,
	RealTime:    windows.REALTIME_PRIORITY_CLASS,
}

func setPriority(pid int, p Priority) error {
	h, err := windows.OpenProcess(windows.PROCESS_SET_INFORMATION, false, uint32(pid))
	if err != nil {
		return err
	}
	defer func() { _ = windows.CloseHandle(h) }()
	return windows.SetPriorityClass(h, priorityClasses[p])
}

// startElevated asks the shell to run the executable with the "runas"
// verb. ShellExecute does not hand back a process, so the pid is 0.
func startElevated(spec Spec) (int, error) {
	verb, err := windows.UTF16PtrFromString("runas")
	if err != nil {
		return 0, err
	}
	file, err := windows.UTF16PtrFromString(spec.Executable)
	if err != nil {
		return 0, err
	}

	quoted := make([]string, 0, len(spec.Args))
	for _, a := range spec.Args {
		quoted = append(quoted, windows.EscapeArg(a))
	}
	args, err := windows.UTF16PtrFromString(strings.Join(quoted, " "))
	if err != nil {
		return 0, err
	}

	var dir *uint16
	if spec.WorkingDir != "" {
		if dir, err = windows.UTF16PtrFromString(spec.WorkingDir); err != nil {
			return 0, err
		}
	}

	if err := windows.ShellExecute(0, verb, file, args, dir, windows.SW_SHOWNORMAL); err != nil {
		return 0, err
	}
	return 0, nil
}
