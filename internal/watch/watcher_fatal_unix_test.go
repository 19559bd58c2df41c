// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package watch

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestIsFatalFsnotifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "ENOSPC", err: syscall.ENOSPC, want: true},
		{name: "EMFILE", err: syscall.EMFILE, want: true},
		{name: "ENFILE", err: syscall.ENFILE, want: true},
		{name: "wrapped ENOSPC", err: fmt.Errorf("fsnotify: %w", syscall.ENOSPC), want: true},
		{name: "EACCES", err: syscall.EACCES, want: false},
		{name: "generic", err: errors.New("something went wrong"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := isFatalFsnotifyError(tt.err); got != tt.want {
				t.Errorf("isFatalFsnotifyError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
