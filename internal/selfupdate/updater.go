// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/voxstrap/voxstrap/internal/issue"
	"github.com/voxstrap/voxstrap/internal/release"
	"github.com/voxstrap/voxstrap/internal/version"
)

const (
	// UpgradeFlag tells a freshly downloaded launcher to run the Installer
	// before anything else.
	UpgradeFlag = "--upgrade"

	// UpdateDirPrefix names the temp directories new launchers are
	// downloaded into. A running path inside one opens the Installer gate.
	UpdateDirPrefix = "voxstrap-update-"

	// DevVersion is the version string of untagged builds, which never
	// self-update.
	DevVersion = "dev"
)

var (
	// ErrNoAsset is returned when the launcher release has nothing to download.
	ErrNoAsset = errors.New("launcher release has no downloadable asset")

	//nolint:gochecknoglobals // Test seam for os.Executable().
	osExecutable = os.Executable

	//nolint:gochecknoglobals // Test seam for filepath.EvalSymlinks().
	evalSymlinks = filepath.EvalSymlinks
)

type (
	// UpgradeCheck holds the result of comparing the running launcher with
	// the latest launcher release.
	UpgradeCheck struct {
		CurrentVersion   string
		LatestVersion    string
		TargetRelease    *release.Release // nil unless UpgradeAvailable
		InstallMethod    InstallMethod
		UpgradeAvailable bool
		Message          string
	}

	// Updater checks the launcher feed and hands off to a newer launcher.
	Updater struct {
		client         *release.Client
		currentVersion string
		installedPath  string
		tempDir        string
		logger         *log.Logger
		// start launches the downloaded binary; replaced in tests.
		start func(exe string, args []string) error
	}

	// UpdaterOption configures an Updater during construction.
	UpdaterOption func(*Updater)
)

// WithInstalledPath sets the canonical launcher location used for install
// method detection.
func WithInstalledPath(p string) UpdaterOption {
	return func(u *Updater) {
		u.installedPath = p
	}
}

// WithTempDir overrides the parent directory of update downloads.
func WithTempDir(dir string) UpdaterOption {
	return func(u *Updater) {
		u.tempDir = dir
	}
}

// WithUpdaterLogger sets the logger.
func WithUpdaterLogger(l *log.Logger) UpdaterOption {
	return func(u *Updater) {
		u.logger = l
	}
}

// NewUpdater creates an Updater for the running currentVersion against the
// launcher release feed served by client.
func NewUpdater(client *release.Client, currentVersion string, opts ...UpdaterOption) *Updater {
	u := &Updater{
		client:         client,
		currentVersion: currentVersion,
		tempDir:        os.TempDir(),
		start:          startDetached,
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.logger == nil {
		u.logger = log.Default()
	}
	u.logger = u.logger.WithPrefix("selfupdate")
	return u
}

// Check compares the running version with the latest launcher release.
// Package-manager installs and development builds return immediately
// without contacting the feed.
func (u *Updater) Check(ctx context.Context) (*UpgradeCheck, error) {
	execPath, err := resolveExecPath()
	if err != nil {
		return nil, fmt.Errorf("resolving executable path: %w: %w", issue.ErrSelfUpdate, err)
	}

	method := DetectInstallMethod(execPath, u.installedPath)
	if method.Managed() {
		return &UpgradeCheck{
			CurrentVersion: u.currentVersion,
			InstallMethod:  method,
			Message:        managedInstallMessage(method, execPath),
		}, nil
	}
	if u.currentVersion == "" || u.currentVersion == DevVersion {
		return &UpgradeCheck{
			CurrentVersion: u.currentVersion,
			InstallMethod:  method,
			Message:        "Development build, self-update disabled.",
		}, nil
	}

	latest, err := u.client.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching latest launcher release: %w", err)
	}

	if !version.Newer(latest.TagName, u.currentVersion) {
		return &UpgradeCheck{
			CurrentVersion: u.currentVersion,
			LatestVersion:  latest.TagName,
			InstallMethod:  method,
			Message:        "Already up to date.",
		}, nil
	}

	return &UpgradeCheck{
		CurrentVersion:   u.currentVersion,
		LatestVersion:    latest.TagName,
		TargetRelease:    latest,
		InstallMethod:    method,
		UpgradeAvailable: true,
		Message:          fmt.Sprintf("Upgrade available: %s -> %s", u.currentVersion, latest.TagName),
	}, nil
}

// CheckAndHandoff downloads a newer launcher, if there is one, and starts it
// with UpgradeFlag followed by args. handedOff is true once the new process
// is running; the caller should then stop.
func (u *Updater) CheckAndHandoff(ctx context.Context, args []string) (handedOff bool, err error) {
	check, err := u.Check(ctx)
	if err != nil {
		return false, err
	}
	if !check.UpgradeAvailable {
		u.logger.Debug("launcher up to date", "message", check.Message)
		return false, nil
	}

	u.logger.Info("launcher update available", "current", check.CurrentVersion, "latest", check.LatestVersion)
	exe, err := u.Download(ctx, check.TargetRelease)
	if err != nil {
		return false, err
	}

	if err := u.start(exe, append([]string{UpgradeFlag}, args...)); err != nil {
		return false, fmt.Errorf("starting %s: %w: %w", exe, issue.ErrSelfUpdate, err)
	}
	u.logger.Info("started new launcher", "path", exe)
	return true, nil
}

// Download fetches the first payload asset of r into a fresh update
// directory and makes it executable. The asset is verified against the
// release's checksums.txt when present.
func (u *Updater) Download(ctx context.Context, r *release.Release) (_ string, err error) {
	asset, ok := r.PayloadAsset()
	if !ok {
		return "", fmt.Errorf("%s: %w: %w", r.TagName, issue.ErrSelfUpdate, ErrNoAsset)
	}

	expected, err := u.client.ChecksumFor(ctx, r, asset)
	if err != nil {
		return "", fmt.Errorf("fetching launcher checksum: %w: %w", issue.ErrSelfUpdate, err)
	}

	dir := filepath.Join(u.tempDir, UpdateDirPrefix+uuid.NewString()[:8])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating update dir: %w: %w", issue.ErrSelfUpdate, err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(dir)
		}
	}()

	target := filepath.Join(dir, binaryName())
	if err := u.downloadTo(ctx, asset.BrowserDownloadURL, target, expected); err != nil {
		return "", err
	}
	return target, nil
}

func (u *Updater) downloadTo(ctx context.Context, url, target, expected string) (err error) {
	body, _, err := u.client.DownloadAsset(ctx, url)
	if err != nil {
		return fmt.Errorf("downloading launcher: %w: %w", issue.ErrSelfUpdate, err)
	}
	defer func() { _ = body.Close() }() // read-only HTTP response body

	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("creating %s: %w: %w", target, issue.ErrSelfUpdate, err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, h), body); err != nil {
		return fmt.Errorf("writing %s: %w: %w", target, issue.ErrSelfUpdate, err)
	}
	if expected != "" {
		if got := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(got, expected) {
			return fmt.Errorf("launcher checksum mismatch: expected %s, got %s: %w", expected, got, issue.ErrSelfUpdate)
		}
	}
	// OpenFile's mode is subject to umask.
	return os.Chmod(target, 0o755)
}

// startDetached starts exe and lets it outlive this process.
func startDetached(exe string, args []string) error {
	cmd := exec.Command(exe, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

// resolveExecPath returns the absolute, symlink-resolved path to the
// running binary.
func resolveExecPath() (string, error) {
	p, err := osExecutable()
	if err != nil {
		return "", fmt.Errorf("determining executable path: %w", err)
	}

	resolved, err := evalSymlinks(p)
	if err != nil {
		return "", fmt.Errorf("resolving symlinks for %s: %w", p, err)
	}

	return resolved, nil
}

func managedInstallMessage(method InstallMethod, execPath string) string {
	switch method {
	case InstallMethodHomebrew:
		return fmt.Sprintf("Detected Homebrew installation at %s\n\nTo upgrade, run:\n  brew upgrade voxstrap", execPath)
	case InstallMethodGoInstall:
		return fmt.Sprintf("Detected go install at %s\n\nTo upgrade, run:\n  go install %s@latest", execPath, modulePath)
	case InstallMethodUnknown, InstallMethodLauncher:
		return ""
	}
	return ""
}

// binaryName is the launcher's file name on this platform.
func binaryName() string {
	if runtime.GOOS == "windows" {
		return "voxstrap.exe"
	}
	return "voxstrap"
}

// InstalledPath is the canonical launcher location under rootDir.
func InstalledPath(rootDir string) string {
	return filepath.Join(rootDir, "bin", binaryName())
}
