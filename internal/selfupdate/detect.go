// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
)

const (
	homebrewMacARM   = "/opt/homebrew/"
	homebrewMacIntel = "/usr/local/Cellar/"
	homebrewLinux    = "/home/linuxbrew/.linuxbrew/"

	// modulePath confirms go-install origin through the build info.
	modulePath = "github.com/voxstrap/voxstrap"

	// InstallMethodUnknown is a manual download or any location voxstrap
	// does not recognise. Self-update is allowed.
	InstallMethodUnknown InstallMethod = 0

	// InstallMethodLauncher is the canonical install under the voxstrap
	// root directory, maintained by the Installer.
	InstallMethodLauncher InstallMethod = 1

	// InstallMethodHomebrew defers upgrades to `brew upgrade voxstrap`.
	InstallMethodHomebrew InstallMethod = 2

	// InstallMethodGoInstall defers upgrades to `go install`.
	InstallMethodGoInstall InstallMethod = 3
)

var (
	// installMethodHint is set via -ldflags at build time and overrides
	// path heuristics.
	//
	//nolint:gochecknoglobals // Build-time ldflags injection requires a package-level variable.
	installMethodHint string

	//nolint:gochecknoglobals // Test seam for debug.ReadBuildInfo.
	readBuildInfo = debug.ReadBuildInfo
)

// InstallMethod identifies how the running launcher was installed. Package
// manager installs are never replaced in place.
type InstallMethod int

// String returns a human-readable name for the install method.
func (m InstallMethod) String() string {
	switch m {
	case InstallMethodUnknown:
		return "unknown"
	case InstallMethodLauncher:
		return "launcher"
	case InstallMethodHomebrew:
		return "homebrew"
	case InstallMethodGoInstall:
		return "goinstall"
	}
	return "unknown"
}

// Managed reports whether a package manager owns the binary.
func (m InstallMethod) Managed() bool {
	return m == InstallMethodHomebrew || m == InstallMethodGoInstall
}

// DetectInstallMethod classifies execPath. installedPath is the canonical
// launcher location; a match there wins over everything but the ldflags
// hint.
func DetectInstallMethod(execPath, installedPath string) InstallMethod {
	if installMethodHint != "" {
		return parseMethodHint(installMethodHint)
	}

	if installedPath != "" && samePath(execPath, installedPath) {
		return InstallMethodLauncher
	}

	if strings.Contains(execPath, homebrewMacARM) ||
		strings.Contains(execPath, homebrewMacIntel) ||
		strings.Contains(execPath, homebrewLinux) {
		return InstallMethodHomebrew
	}

	if isInGOPATHBin(execPath) && hasModulePath() {
		return InstallMethodGoInstall
	}

	return InstallMethodUnknown
}

func parseMethodHint(hint string) InstallMethod {
	switch strings.ToLower(hint) {
	case "launcher":
		return InstallMethodLauncher
	case "homebrew":
		return InstallMethodHomebrew
	case "goinstall":
		return InstallMethodGoInstall
	default:
		return InstallMethodUnknown
	}
}

// isInGOPATHBin checks whether execPath is inside $GOPATH/bin, falling back
// to ~/go when GOPATH is unset.
func isInGOPATHBin(execPath string) bool {
	gopath := os.Getenv("GOPATH")
	if gopath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return false
		}
		gopath = filepath.Join(home, "go")
	}

	gopathBin := filepath.Clean(filepath.Join(gopath, "bin"))
	cleanExec := filepath.Clean(execPath)

	return strings.HasPrefix(cleanExec, gopathBin+string(filepath.Separator)) ||
		cleanExec == gopathBin
}

func hasModulePath() bool {
	info, ok := readBuildInfo()
	if !ok || info == nil {
		return false
	}
	return strings.Contains(info.Path, modulePath)
}

// samePath reports whether a and b name the same file. Missing files fall
// back to comparing cleaned paths.
func samePath(a, b string) bool {
	ai, errA := os.Stat(a)
	bi, errB := os.Stat(b)
	if errA == nil && errB == nil {
		return os.SameFile(ai, bi)
	}
	return filepath.Clean(a) == filepath.Clean(b)
}
