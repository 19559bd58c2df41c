// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/inconshreveable/go-update"

	"github.com/voxstrap/voxstrap/internal/fsutil"
	"github.com/voxstrap/voxstrap/internal/issue"
	"github.com/voxstrap/voxstrap/internal/singleton"
)

const (
	// InstallerLockName keeps concurrent upgrades from racing on the
	// installed binary. It is distinct from the launch lock.
	InstallerLockName = "installer"

	// RegistrationFileName is the record of which binary is the installed
	// launcher, read by shortcuts and uninstallers.
	RegistrationFileName = "registration.json"

	replaceAttempts      = 10
	defaultReplaceDelay  = 500 * time.Millisecond
	defaultInstallerLock = 5 * time.Second
)

const (
	// NotNeeded means the running binary is the installed binary.
	NotNeeded UpgradeResult = iota
	// NotRequested means no upgrade flag and not running from an update directory.
	NotRequested
	// Identical means the installed binary already has the running content.
	Identical
	// Busy means another Installer holds the installer lock.
	Busy
	// Upgraded means the installed binary was replaced.
	Upgraded
	// Failed means replacement did not succeed; the caller continues.
	Failed
)

type (
	// UpgradeResult is the terminal state of HandleUpgrade.
	UpgradeResult int

	// Locker acquires named cross-process locks.
	Locker interface {
		Acquire(ctx context.Context, name string, timeout time.Duration) (*singleton.Lease, singleton.Result, error)
	}

	// ConfigMigrator clears deprecated settings and persists the result.
	ConfigMigrator interface {
		ClearDeprecated() error
	}

	// Registration is the persisted pointer to the installed launcher.
	Registration struct {
		Executable string    `json:"executable"`
		Version    string    `json:"version"`
		UpdatedAt  time.Time `json:"updated_at"`
	}

	// InstallerOptions configures an Installer.
	InstallerOptions struct {
		// InstalledPath is the canonical launcher location.
		InstalledPath string
		// RegistrationDir holds registration.json.
		RegistrationDir string
		// Version is the running launcher's version, recorded on success.
		Version string
		// Upgrading is set when the process was started with UpgradeFlag.
		Upgrading   bool
		LockTimeout time.Duration
	}

	// Installer replaces the installed launcher with the running binary
	// when this process was started as an upgrade. It never returns a
	// fatal error: every failure is reported with a result the caller logs
	// before continuing.
	Installer struct {
		opts     InstallerOptions
		locks    Locker
		config   ConfigMigrator
		logger   *log.Logger
		interval time.Duration
		now      func() time.Time
	}
)

// String returns the lower-case name of the result.
func (r UpgradeResult) String() string {
	switch r {
	case NotNeeded:
		return "not-needed"
	case NotRequested:
		return "not-requested"
	case Identical:
		return "identical"
	case Busy:
		return "busy"
	case Upgraded:
		return "upgraded"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("UpgradeResult(%d)", int(r))
}

// NewInstaller creates an Installer. config may be nil.
func NewInstaller(opts InstallerOptions, locks Locker, config ConfigMigrator, logger *log.Logger) *Installer {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaultInstallerLock
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Installer{
		opts:     opts,
		locks:    locks,
		config:   config,
		logger:   logger.WithPrefix("installer"),
		interval: defaultReplaceDelay,
		now:      time.Now,
	}
}

// HandleUpgrade runs detect, gate, compare, lock, replace and migrate in
// that order. Every error wraps issue.ErrSelfUpdate.
func (i *Installer) HandleUpgrade(ctx context.Context) (UpgradeResult, error) {
	running, err := resolveExecPath()
	if err != nil {
		return Failed, fmt.Errorf("%w: %w", issue.ErrSelfUpdate, err)
	}
	installed := i.opts.InstalledPath
	logger := i.logger.With("running", running, "installed", installed)

	if installed == "" || samePath(running, installed) {
		logger.Debug("running the installed launcher")
		return NotNeeded, nil
	}

	if !i.opts.Upgrading && !inUpdateDir(running) {
		logger.Debug("no upgrade requested")
		return NotRequested, nil
	}

	runningSum, err := fsutil.ComputeFileHash(running)
	if err != nil {
		return Failed, fmt.Errorf("hashing running binary: %w: %w", issue.ErrSelfUpdate, err)
	}
	if fsutil.FileExists(installed) {
		installedSum, err := fsutil.ComputeFileHash(installed)
		if err == nil && installedSum == runningSum {
			logger.Debug("installed launcher already up to date")
			return Identical, nil
		}
	}

	lease, res, err := i.locks.Acquire(ctx, InstallerLockName, i.opts.LockTimeout)
	if err != nil {
		return Failed, fmt.Errorf("acquiring installer lock: %w: %w", issue.ErrSelfUpdate, err)
	}
	switch res {
	case singleton.Acquired:
	case singleton.TimedOut:
		logger.Warn("another installer is running, skipping upgrade")
		return Busy, fmt.Errorf("%w: %w", issue.ErrSelfUpdate, res.Err(InstallerLockName))
	case singleton.Cancelled:
		return Failed, fmt.Errorf("%w: %w", issue.ErrSelfUpdate, res.Err(InstallerLockName))
	}
	defer lease.Release()

	logger.Info("upgrading installed launcher")
	if err := i.replace(ctx, running, installed, runningSum); err != nil {
		return Failed, err
	}

	i.migrate(installed)
	logger.Info("launcher upgraded", "version", i.opts.Version)
	return Upgraded, nil
}

// replace copies running over installed, retrying a fixed number of times
// at a constant interval. Failures are not classified.
func (i *Installer) replace(ctx context.Context, running, installed, sum string) error {
	info, err := os.Stat(running)
	if err != nil {
		return fmt.Errorf("reading running binary: %w: %w", issue.ErrSelfUpdate, err)
	}
	checksum, err := hex.DecodeString(sum)
	if err != nil {
		return fmt.Errorf("decoding checksum: %w: %w", issue.ErrSelfUpdate, err)
	}

	attempt := 0
	op := func() error {
		attempt++
		err := i.replaceOnce(running, installed, info.Mode(), checksum)
		if err != nil {
			i.logger.Warn("replace attempt failed", "attempt", attempt, "error", err)
			if rerr := update.RollbackError(err); rerr != nil {
				i.logger.Error("rollback of installed launcher failed", "error", rerr)
			}
		}
		return err
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(i.interval), replaceAttempts-1),
		ctx,
	)
	if err := backoff.Retry(op, b); err != nil {
		return fmt.Errorf("replacing %s after %d attempts: %w: %w", installed, attempt, issue.ErrSelfUpdate, err)
	}
	return nil
}

// replaceOnce applies the running binary to installed. A missing target is
// created directly since go-update moves the old file aside first.
func (i *Installer) replaceOnce(running, installed string, mode os.FileMode, checksum []byte) error {
	if !fsutil.FileExists(installed) {
		if err := fsutil.CopyFile(running, installed); err != nil {
			return err
		}
		return os.Chmod(installed, mode)
	}

	f, err := os.Open(running)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }() // read-only

	return update.Apply(f, update.Options{
		TargetPath: installed,
		TargetMode: mode,
		Checksum:   checksum,
	})
}

// migrate rewrites the registration record and clears deprecated config.
// Failures are logged only; the binary is already in place.
func (i *Installer) migrate(installed string) {
	if i.opts.RegistrationDir != "" {
		reg := Registration{Executable: installed, Version: i.opts.Version, UpdatedAt: i.now().UTC()}
		if err := WriteRegistration(i.opts.RegistrationDir, reg); err != nil {
			i.logger.Warn("could not update registration", "error", err)
		}
	}
	if i.config != nil {
		if err := i.config.ClearDeprecated(); err != nil {
			i.logger.Warn("could not clear deprecated settings", "error", err)
		}
	}
}

// WriteRegistration persists reg to dir/registration.json.
func WriteRegistration(dir string, reg Registration) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(filepath.Join(dir, RegistrationFileName), append(data, '\n'), 0o644)
}

// ReadRegistration loads dir/registration.json.
func ReadRegistration(dir string) (*Registration, error) {
	data, err := os.ReadFile(filepath.Join(dir, RegistrationFileName))
	if err != nil {
		return nil, err
	}
	var reg Registration
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", RegistrationFileName, err)
	}
	return &reg, nil
}

// inUpdateDir reports whether path lies in a directory created by
// Updater.Download.
func inUpdateDir(path string) bool {
	for dir := filepath.Dir(path); ; dir = filepath.Dir(dir) {
		if strings.HasPrefix(filepath.Base(dir), UpdateDirPrefix) {
			return true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return false
		}
	}
}
