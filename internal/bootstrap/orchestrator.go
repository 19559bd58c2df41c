// SPDX-License-Identifier: MPL-2.0

package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/voxstrap/voxstrap/internal/fsutil"
	"github.com/voxstrap/voxstrap/internal/issue"
	"github.com/voxstrap/voxstrap/internal/launch"
	"github.com/voxstrap/voxstrap/internal/release"
	"github.com/voxstrap/voxstrap/internal/singleton"
	"github.com/voxstrap/voxstrap/internal/versionstore"
)

const (
	// LaunchLockName serializes orchestrator runs across processes.
	LaunchLockName = "launch"

	// LiveDirName is the live install inside the root directory.
	LiveDirName = "client"

	// StagingDirName holds in-progress installs inside the root directory.
	StagingDirName = "staging"

	// launchAttempts is the first launch plus one retry after a forced
	// reinstall.
	launchAttempts = 2

	defaultLockTimeout  = 30 * time.Second
	defaultProbeTimeout = 10 * time.Second
)

type (
	// Request is one launch invocation.
	Request struct {
		Mode    launch.Mode
		RawArgs string
		// Upgrading is set when this process was started by a self-update
		// handoff; the self-update check is skipped.
		Upgrading bool
		// Args are the process's original command-line arguments, passed on
		// to a newer launcher on handoff.
		Args []string
		// RunID tags every log line of the run. Run generates one when empty.
		RunID string
	}

	// Outcome is the terminal state of a run.
	Outcome struct {
		Success   bool
		Cancelled bool
		// PID is the started client's process id (0 for elevated starts).
		PID     int
		Process *launch.Process
		// Handoff means a newer launcher was started and now owns the run.
		Handoff bool
		Err     error
		Kind    issue.Kind
	}

	// Orchestrator sequences one update-and-launch run. It keeps no state
	// between runs.
	Orchestrator struct {
		deps   Deps
		opts   Options
		logger *log.Logger
	}

	// run holds the state of a single Run call.
	run struct {
		*Orchestrator
		req    Request
		logger *log.Logger
		status Status
		online bool
		latest *release.Release
	}
)

// New validates deps and fills option defaults.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Feed == nil:
		return nil, errors.New("bootstrap: Feed is required")
	case deps.Downloader == nil:
		return nil, errors.New("bootstrap: Downloader is required")
	case deps.Mods == nil:
		return nil, errors.New("bootstrap: Mods is required")
	case deps.Launcher == nil:
		return nil, errors.New("bootstrap: Launcher is required")
	case deps.Locks == nil:
		return nil, errors.New("bootstrap: Locks is required")
	case deps.Versions == nil:
		return nil, errors.New("bootstrap: Versions is required")
	case opts.RootDir == "":
		return nil, errors.New("bootstrap: RootDir is required")
	case opts.PlayerExecutable == "":
		return nil, errors.New("bootstrap: PlayerExecutable is required")
	}

	if deps.Status == nil {
		deps.Status = NopStatus{}
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	if opts.StudioExecutable == "" {
		opts.StudioExecutable = opts.PlayerExecutable
	}
	if opts.ModsDir == "" {
		opts.ModsDir = filepath.Join(opts.RootDir, "mods")
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaultLockTimeout
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}

	return &Orchestrator{deps: deps, opts: opts, logger: deps.Logger.WithPrefix("bootstrap")}, nil
}

// LiveDir returns the live install directory.
func (o *Orchestrator) LiveDir() string {
	return filepath.Join(o.opts.RootDir, LiveDirName)
}

// StagingRoot returns the directory holding in-progress installs.
func (o *Orchestrator) StagingRoot() string {
	return filepath.Join(o.opts.RootDir, StagingDirName)
}

// ExecutablePath returns the client executable for mode.
func (o *Orchestrator) ExecutablePath(mode launch.Mode) string {
	return filepath.Join(o.LiveDir(), filepath.FromSlash(o.executableRel(mode)))
}

func (o *Orchestrator) executableRel(mode launch.Mode) string {
	if mode == launch.Studio {
		return o.opts.StudioExecutable
	}
	return o.opts.PlayerExecutable
}

// NewRunID returns a short id for correlating the log lines of one run.
func NewRunID() string {
	return uuid.NewString()[:8]
}

// Run executes one update-and-launch pass. Every step is separated by a
// cancellation checkpoint; cancellation yields Outcome.Cancelled rather
// than a failure. Run never exits the process.
func (o *Orchestrator) Run(ctx context.Context, req Request) Outcome {
	if req.RunID == "" {
		req.RunID = NewRunID()
	}
	r := &run{
		Orchestrator: o,
		req:          req,
		logger:       o.logger.With("run", req.RunID, "mode", req.Mode),
		status:       o.deps.Status,
	}
	defer r.status.Close()

	return r.execute(ctx)
}

func (r *run) execute(ctx context.Context) Outcome {
	// 1. Connectivity.
	r.status.Message("Connecting to update service")
	r.online = true
	if err := r.deps.Feed.Probe(ctx, r.opts.ProbeTimeout); err != nil {
		if ctx.Err() != nil {
			return r.cancelled()
		}
		r.online = false
		r.logger.Warn("update service unreachable, continuing offline", "error", err)
		r.status.Message("No connection")
		if !r.installed() {
			return r.failed(fmt.Errorf("nothing installed and no connection: %w", err))
		}
	}
	if ctx.Err() != nil {
		return r.cancelled()
	}

	// 2. Self-update.
	if r.online && !r.req.Upgrading && r.deps.SelfUpdate != nil {
		r.status.Message("Checking for launcher updates")
		handedOff, err := r.deps.SelfUpdate.CheckAndHandoff(ctx, r.req.Args)
		switch {
		case err != nil && ctx.Err() == nil:
			r.logger.Warn("self-update check failed, continuing with current launcher", "error", err)
		case handedOff:
			r.logger.Info("handed off to newer launcher")
			return Outcome{Success: true, Handoff: true}
		}
	}
	if ctx.Err() != nil {
		return r.cancelled()
	}

	// 3. Launch lock, held until the run returns.
	r.status.Message("Waiting for other instances")
	lease, res, err := r.deps.Locks.Acquire(ctx, LaunchLockName, r.opts.LockTimeout)
	if err != nil {
		return r.failed(fmt.Errorf("acquiring launch lock: %w: %w", issue.ErrFilesystem, err))
	}
	switch res {
	case singleton.Acquired:
	case singleton.Cancelled:
		return r.cancelled()
	case singleton.TimedOut:
		r.status.Message("Another instance is already running")
		return r.failed(res.Err(LaunchLockName))
	}
	defer lease.Release()

	// 4. Local state.
	current := r.loadInstalled()
	if ctx.Err() != nil {
		return r.cancelled()
	}

	// 5. Conditional install.
	if r.online {
		if err := r.fetchLatest(ctx); err != nil && ctx.Err() != nil {
			return r.cancelled()
		}
		if r.latest != nil && r.needsInstall(current) {
			if err := r.install(ctx); err != nil {
				if ctx.Err() != nil {
					return r.cancelled()
				}
				r.logger.Error("install failed, using current installation", "error", err)
				r.status.Message("Update failed")
				if !r.installed() {
					return r.failed(err)
				}
			}
		}
	}
	if !r.installed() {
		return r.failed(fmt.Errorf("client executable %s missing: %w", r.ExecutablePath(r.req.Mode), issue.ErrFilesystem))
	}
	if ctx.Err() != nil {
		return r.cancelled()
	}

	// 6. Mods.
	if err := r.applyMods(ctx); err != nil {
		return r.cancelled()
	}

	// 7. Launch, with one forced reinstall between attempts.
	var proc *launch.Process
	err = retryWithRecovery(ctx, launchAttempts,
		func(ctx context.Context, attempt int) error {
			r.status.Message("Starting client")
			p, err := r.launch(ctx)
			if err != nil {
				r.logger.Warn("launch attempt failed", "attempt", attempt, "error", err)
				return err
			}
			proc = p
			return nil
		},
		r.recoverLaunch,
	)
	if err != nil {
		if ctx.Err() != nil {
			return r.cancelled()
		}
		r.status.Message("Client failed to start")
		return r.failed(err)
	}

	// 8. Lease and status are released by the deferred calls.
	r.logger.Info("client started", "pid", proc.PID())
	return Outcome{Success: true, PID: proc.PID(), Process: proc}
}

// recoverLaunch reinstalls unconditionally and re-applies mods. Only
// cancellation stops the retry.
func (r *run) recoverLaunch(ctx context.Context, failure error) error {
	r.logger.Info("reinstalling before retrying launch", "cause", failure)
	r.status.Message("Repairing installation")

	if r.online {
		if r.latest == nil {
			if err := r.fetchLatest(ctx); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
		}
		if r.latest != nil {
			if err := r.install(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Error("forced reinstall failed", "error", err)
			}
		}
	} else {
		r.logger.Warn("offline, cannot reinstall before retry")
	}

	if err := r.applyMods(ctx); err != nil {
		return err
	}
	return nil
}

func (r *run) launch(ctx context.Context) (*launch.Process, error) {
	exe := r.ExecutablePath(r.req.Mode)
	args, err := launch.BuildArgs(r.req.Mode, r.req.RawArgs, r.opts.ExtraArgs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", issue.ErrLaunch, err)
	}
	return r.deps.Launcher.Launch(ctx, launch.Spec{
		Executable: exe,
		WorkingDir: filepath.Dir(exe),
		Args:       args,
	})
}

// applyMods runs a mod pass. Only cancellation is returned; other failures
// are logged.
func (r *run) applyMods(ctx context.Context) error {
	r.status.Message("Applying modifications")
	_, err := r.deps.Mods.Apply(ctx, r.opts.ModsDir, r.LiveDir())
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	r.logger.Warn("applying mods failed", "error", err)
	return nil
}

func (r *run) fetchLatest(ctx context.Context) error {
	latest, err := r.deps.Feed.Latest(ctx)
	if err != nil {
		r.logger.Warn("could not fetch latest client release", "error", err)
		return err
	}
	r.latest = latest
	r.logger.Debug("latest client release", "tag", latest.TagName)
	return nil
}

func (r *run) loadInstalled() *versionstore.InstalledVersion {
	v, err := r.deps.Versions.Load()
	switch {
	case errors.Is(err, versionstore.ErrNotInstalled):
		r.logger.Debug("no installed version recorded")
		return nil
	case err != nil:
		r.logger.Warn("installed version unreadable, treating as not installed", "error", err)
		return nil
	}
	r.logger.Debug("installed version", "identifier", v.Identifier)
	return v
}

func (r *run) installed() bool {
	return fsutil.FileExists(r.ExecutablePath(r.req.Mode))
}

func (r *run) cancelled() Outcome {
	r.logger.Info("run cancelled")
	return Outcome{Cancelled: true, Kind: issue.KindCancelled, Err: context.Canceled}
}

func (r *run) failed(err error) Outcome {
	r.logger.Error("run failed", "error", err)
	return Outcome{Err: err, Kind: issue.KindOf(err)}
}
