// SPDX-License-Identifier: MPL-2.0

// Package platform holds cross-platform file naming rules.
package platform

import (
	"strings"
)

// reservedNames are device names Windows refuses as file names, with or
// without an extension.
var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true,
	"COM5": true, "COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true,
	"LPT5": true, "LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// IsReservedName reports whether a single path element is a Windows
// device name. "nul.txt" is reserved; "null.txt" is not.
func IsReservedName(name string) bool {
	base, _, _ := strings.Cut(name, ".")
	return reservedNames[strings.ToUpper(strings.TrimRight(base, " "))]
}

// ReservedComponent returns the first element of a slash- or
// backslash-separated path that is a Windows device name.
func ReservedComponent(p string) (string, bool) {
	for elem := range strings.FieldsFuncSeq(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if IsReservedName(elem) {
			return elem, true
		}
	}
	return "", false
}
