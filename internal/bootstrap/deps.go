// SPDX-License-Identifier: MPL-2.0

package bootstrap

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/voxstrap/voxstrap/internal/download"
	"github.com/voxstrap/voxstrap/internal/launch"
	"github.com/voxstrap/voxstrap/internal/mods"
	"github.com/voxstrap/voxstrap/internal/release"
	"github.com/voxstrap/voxstrap/internal/singleton"
	"github.com/voxstrap/voxstrap/internal/versionstore"
)

type (
	// Status receives user-facing progress. Every method must be safe to
	// call from the orchestrator goroutine; NopStatus runs headless.
	Status interface {
		Message(msg string)
		SetCancelEnabled(enabled bool)
		Close()
	}

	// NopStatus discards all status updates.
	NopStatus struct{}

	// ReleaseFeed is the client release feed.
	ReleaseFeed interface {
		Probe(ctx context.Context, timeout time.Duration) error
		Latest(ctx context.Context) (*release.Release, error)
		ChecksumFor(ctx context.Context, r *release.Release, asset release.Asset) (string, error)
	}

	// Fetcher downloads and unpacks an archive into a fresh directory.
	Fetcher interface {
		FetchAndExtract(ctx context.Context, url, dest string, opts ...download.FetchOption) error
	}

	// ModApplier applies the mod directory onto the installed tree.
	ModApplier interface {
		Apply(ctx context.Context, src, installed string) ([]mods.ManifestEntry, error)
		// Reset forgets the previous pass, used after the tree is replaced.
		Reset() error
	}

	// ProcessStarter starts the client.
	ProcessStarter interface {
		Launch(ctx context.Context, spec launch.Spec) (*launch.Process, error)
	}

	// SelfUpdater checks for a newer launcher and, when one exists, starts
	// it in upgrade mode. handedOff reports that the new process took over.
	SelfUpdater interface {
		CheckAndHandoff(ctx context.Context, args []string) (handedOff bool, err error)
	}

	// Locker hands out cross-process named locks.
	Locker interface {
		Acquire(ctx context.Context, name string, timeout time.Duration) (*singleton.Lease, singleton.Result, error)
	}

	// VersionStore persists the installed client version.
	VersionStore interface {
		Load() (*versionstore.InstalledVersion, error)
		Save(v versionstore.InstalledVersion) error
	}

	// Deps are the orchestrator's collaborators. SelfUpdate and Status may
	// be nil; everything else is required.
	Deps struct {
		Feed       ReleaseFeed
		Downloader Fetcher
		Mods       ModApplier
		Launcher   ProcessStarter
		SelfUpdate SelfUpdater
		Locks      Locker
		Versions   VersionStore
		Status     Status
		Logger     *log.Logger
	}

	// Options are the orchestrator's settings.
	Options struct {
		// RootDir holds the live install, staging area and state files.
		RootDir string
		// ModsDir is the user's mod source tree.
		ModsDir string
		// PlayerExecutable and StudioExecutable are relative to the live
		// install.
		PlayerExecutable string
		StudioExecutable string
		// ExtraArgs are appended to every launch (shell words).
		ExtraArgs string
		// LockTimeout bounds the wait for the launch lock.
		LockTimeout time.Duration
		// ProbeTimeout bounds the connectivity probe.
		ProbeTimeout time.Duration
	}
)

// Message implements Status.
func (NopStatus) Message(string) {}

// SetCancelEnabled implements Status.
func (NopStatus) SetCancelEnabled(bool) {}

// Close implements Status.
func (NopStatus) Close() {}
