// SPDX-License-Identifier: MPL-2.0

// Package version compares dot-separated numeric version strings field by
// field. Missing trailing fields count as zero, so "1.2" equals "1.2.0".
package version

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/voxstrap/voxstrap/internal/issue"
)

// Version is a parsed version: one non-negative integer per field.
type Version []uint64

// Parse parses s into a Version. A single leading "v" or "V" is accepted,
// as release tags commonly carry one. Any other non-numeric content, an
// empty field, or an empty string is an error wrapping issue.ErrVersionParse.
func Parse(s string) (Version, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "v"), "V")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: %q", issue.ErrVersionParse, s)
	}

	fields := strings.Split(trimmed, ".")
	v := make(Version, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: field %q", issue.ErrVersionParse, s, f)
		}
		v = append(v, n)
	}
	return v, nil
}

// Compare returns -1, 0 or +1 as a is less than, equal to, or greater than b.
// The first differing field decides; a shorter version is padded with zeros.
func (a Version) Compare(b Version) int {
	n := max(len(a), len(b))
	for i := range n {
		x, y := a.field(i), b.field(i)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	return 0
}

func (a Version) field(i int) uint64 {
	if i < len(a) {
		return a[i]
	}
	return 0
}

// String renders the version with "." separators.
func (a Version) String() string {
	parts := make([]string, len(a))
	for i, n := range a {
		parts[i] = strconv.FormatUint(n, 10)
	}
	return strings.Join(parts, ".")
}

// Compare parses both strings and compares them.
func Compare(a, b string) (int, error) {
	va, err := Parse(a)
	if err != nil {
		return 0, err
	}
	vb, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

// Newer reports whether candidate is strictly newer than current. When
// either side does not parse, any textual difference counts as newer, so an
// opaque build identifier still triggers an update when it changes.
func Newer(candidate, current string) bool {
	c, err := Compare(candidate, current)
	if err != nil {
		return strings.TrimSpace(candidate) != strings.TrimSpace(current)
	}
	return c > 0
}
