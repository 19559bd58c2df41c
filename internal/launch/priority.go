// SPDX-License-Identifier: MPL-2.0

package launch

import (
	"strings"
)

const (
	// Idle runs only when the system is idle.
	Idle Priority = iota
	// BelowNormal is below Normal.
	BelowNormal
	// Normal is the OS default and the fallback for invalid settings.
	Normal
	// AboveNormal is above Normal.
	AboveNormal
	// High is above AboveNormal.
	High
	// RealTime is the highest class; usually needs privileges.
	RealTime
)

// DefaultPriority is used when the configured value is not recognised.
const DefaultPriority = Normal

// Priority is a scheduling class for the launched client.
type Priority int

// String returns the configuration name of the priority.
func (p Priority) String() string {
	switch p {
	case Idle:
		return "Idle"
	case BelowNormal:
		return "BelowNormal"
	case Normal:
		return "Normal"
	case AboveNormal:
		return "AboveNormal"
	case High:
		return "High"
	case RealTime:
		return "RealTime"
	}
	return "Normal"
}

// ParsePriority maps a configuration value to a Priority, ignoring case.
// ok is false for unknown values, in which case DefaultPriority is returned.
func ParsePriority(s string) (p Priority, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "idle":
		return Idle, true
	case "belownormal", "below_normal":
		return BelowNormal, true
	case "normal", "":
		return Normal, true
	case "abovenormal", "above_normal":
		return AboveNormal, true
	case "high":
		return High, true
	case "realtime", "real_time":
		return RealTime, true
	}
	return DefaultPriority, false
}
