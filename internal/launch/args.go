// SPDX-License-Identifier: MPL-2.0

package launch

import (
	"fmt"
	"net/url"
	"strings"

	"mvdan.cc/sh/v3/shell"
)

const (
	// Player starts the game client.
	Player Mode = iota
	// Studio starts the editor.
	Studio
	// Protocol starts the game client from a browser protocol URI.
	Protocol
)

// Mode selects what a launch request starts.
type Mode int

// String returns the mode name used on the command line.
func (m Mode) String() string {
	switch m {
	case Player:
		return "player"
	case Studio:
		return "studio"
	case Protocol:
		return "protocol"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode accepts the names String returns, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "player", "":
		return Player, nil
	case "studio":
		return Studio, nil
	case "protocol":
		return Protocol, nil
	}
	return Player, fmt.Errorf("unknown launch mode %q (want player, studio or protocol)", s)
}

// BuildArgs assembles the child's argument list: the request's own
// arguments (a protocol URI in Protocol mode, shell words otherwise)
// followed by the configured extra arguments.
func BuildArgs(mode Mode, rawArgs, extraArgs string) ([]string, error) {
	var args []string

	switch mode {
	case Protocol:
		parsed, err := ParseProtocolURI(rawArgs)
		if err != nil {
			return nil, err
		}
		args = parsed
	case Player, Studio:
		fields, err := splitWords(rawArgs)
		if err != nil {
			return nil, fmt.Errorf("parsing launch arguments: %w", err)
		}
		args = fields
	}

	extra, err := splitWords(extraArgs)
	if err != nil {
		return nil, fmt.Errorf("parsing launch.extra_args: %w", err)
	}
	return append(args, extra...), nil
}

// ParseProtocolURI turns "scheme:key:value+key:value" into
// ["--key", "value", ...]. Values are URL-unescaped; segments without a
// value (such as the leading version marker) are dropped.
func ParseProtocolURI(uri string) ([]string, error) {
	uri = strings.TrimSpace(uri)
	scheme, rest, ok := strings.Cut(uri, ":")
	if !ok || scheme == "" || strings.ContainsAny(scheme, " /") {
		return nil, fmt.Errorf("not a protocol URI: %q", uri)
	}

	var args []string
	for segment := range strings.SplitSeq(rest, "+") {
		key, value, ok := strings.Cut(segment, ":")
		if !ok || key == "" {
			continue
		}
		decoded, err := url.QueryUnescape(value)
		if err != nil {
			return nil, fmt.Errorf("decoding %s in protocol URI: %w", key, err)
		}
		args = append(args, "--"+key, decoded)
	}
	return args, nil
}

// splitWords applies POSIX shell word splitting and quoting. Variable
// references expand to nothing; the process environment is never read.
func splitWords(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	return shell.Fields(s, func(string) string { return "" })
}

// CommandLine joins executable and args into the single string handed to
// the OS, quoting words that contain spaces.
func CommandLine(executable string, args []string) string {
	words := make([]string, 0, len(args)+1)
	for _, w := range append([]string{executable}, args...) {
		if w == "" || strings.ContainsAny(w, " \t\"") {
			w = `"` + strings.ReplaceAll(w, `"`, `\"`) + `"`
		}
		words = append(words, w)
	}
	return strings.Join(words, " ")
}
