// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// statusLine renders bootstrap progress on one terminal line. On a
// terminal each message replaces the previous one; elsewhere every
// distinct message gets its own line.
type statusLine struct {
	mu         sync.Mutex
	w          io.Writer
	inPlace    bool
	cancelable bool
	last       string
	dirty      bool
	closed     bool
}

func newStatusLine(w io.Writer) *statusLine {
	return &statusLine{w: w, inPlace: isTerminal(w)}
}

// Message implements bootstrap.Status.
func (s *statusLine) Message(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || msg == s.last {
		return
	}
	s.last = msg

	line := statusMarkStyle.Render("›") + " " + msg
	if s.cancelable {
		line += " " + SubtitleStyle.Render("(ctrl+c to cancel)")
	}
	if s.inPlace {
		fmt.Fprint(s.w, "\r\033[2K"+line)
		s.dirty = true
		return
	}
	fmt.Fprintln(s.w, line)
}

// SetCancelEnabled implements bootstrap.Status.
func (s *statusLine) SetCancelEnabled(enabled bool) {
	s.mu.Lock()
	s.cancelable = enabled
	s.mu.Unlock()
}

// Close implements bootstrap.Status. Later messages are dropped.
func (s *statusLine) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.dirty {
		fmt.Fprintln(s.w)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd())) && !strings.EqualFold(os.Getenv("TERM"), "dumb")
}
