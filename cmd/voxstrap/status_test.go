// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestStatusLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s := newStatusLine(&buf)
	if s.inPlace {
		t.Fatal("a buffer is not a terminal")
	}

	s.Message("Connecting to update service")
	s.Message("Connecting to update service")
	s.SetCancelEnabled(true)
	s.Message("Downloading client 2.0")
	s.SetCancelEnabled(false)
	s.Close()
	s.Message("after close")
	s.Close()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q, want 2", lines)
	}
	if !strings.Contains(lines[0], "Connecting to update service") || strings.Contains(lines[0], "ctrl+c") {
		t.Errorf("first line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "Downloading client 2.0") || !strings.Contains(lines[1], "ctrl+c to cancel") {
		t.Errorf("second line = %q", lines[1])
	}
}
