// SPDX-License-Identifier: MPL-2.0

// Package launch starts the client process.
package launch

import (
	"context"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/voxstrap/voxstrap/internal/issue"
)

type (
	// Settings are the launch knobs read from configuration.
	Settings struct {
		// Priority names the scheduling class (see ParsePriority).
		Priority string
		// Delay postpones the start so prerequisite services can settle.
		Delay time.Duration
		// RunAsAdmin lists executables, by base name or full path, that
		// must be started elevated.
		RunAsAdmin []string
		// Env overrides entries of the inherited environment.
		Env map[string]string
	}

	// Spec is one process to start.
	Spec struct {
		Executable string
		WorkingDir string
		Args       []string
	}

	// Process is a started client.
	Process struct {
		pid      int
		cmd      *exec.Cmd
		elevated bool
	}

	// Launcher starts processes according to Settings.
	Launcher struct {
		settings Settings
		logger   *log.Logger

		// Test seams.
		setPriority func(pid int, p Priority) error
		sleep       func(ctx context.Context, d time.Duration) error
	}
)

// New creates a Launcher.
func New(settings Settings, logger *log.Logger) *Launcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Launcher{
		settings:    settings,
		logger:      logger.WithPrefix("launch"),
		setPriority: setPriority,
		sleep:       sleepCtx,
	}
}

// CommandLine returns the single space-joined command line of the spec.
func (s Spec) CommandLine() string {
	return CommandLine(s.Executable, s.Args)
}

// Launch starts spec. A start failure wraps issue.ErrLaunch and deletes the
// executable so the next install re-fetches it. Priority failures are
// logged only.
func (l *Launcher) Launch(ctx context.Context, spec Spec) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if l.settings.Delay > 0 {
		l.logger.Debug("delaying launch", "delay", l.settings.Delay)
		if err := l.sleep(ctx, l.settings.Delay); err != nil {
			return nil, err
		}
	}

	l.logger.Info("starting client", "cmd", spec.CommandLine(), "dir", spec.WorkingDir)

	if l.needsElevation(spec.Executable) {
		if elevationSupported {
			pid, err := startElevated(spec)
			if err != nil {
				return nil, l.startFailed(spec, err)
			}
			return &Process{pid: pid, elevated: true}, nil
		}
		l.logger.Warn("run-as-admin requested but not supported on this platform; starting normally",
			"executable", spec.Executable)
	}

	cmd := exec.Command(spec.Executable, spec.Args...)
	cmd.Dir = spec.WorkingDir
	cmd.Env = mergeEnv(os.Environ(), l.settings.Env)

	if err := cmd.Start(); err != nil {
		return nil, l.startFailed(spec, err)
	}

	p := &Process{pid: cmd.Process.Pid, cmd: cmd}
	l.applyPriority(p.pid)
	return p, nil
}

func (l *Launcher) applyPriority(pid int) {
	prio, ok := ParsePriority(l.settings.Priority)
	if !ok {
		l.logger.Warn("invalid priority, using default", "priority", l.settings.Priority, "default", DefaultPriority)
	}
	if prio == Normal {
		return
	}
	if err := l.setPriority(pid, prio); err != nil {
		l.logger.Warn("failed to set process priority", "pid", pid, "priority", prio, "error", err)
	}
}

func (l *Launcher) startFailed(spec Spec, err error) error {
	if rmErr := os.Remove(spec.Executable); rmErr != nil && !os.IsNotExist(rmErr) {
		l.logger.Debug("could not delete executable after failed start", "path", spec.Executable, "error", rmErr)
	}
	return fmt.Errorf("starting %s: %w: %w", spec.Executable, issue.ErrLaunch, err)
}

func (l *Launcher) needsElevation(executable string) bool {
	base := filepath.Base(executable)
	return slices.ContainsFunc(l.settings.RunAsAdmin, func(entry string) bool {
		return strings.EqualFold(entry, base) || strings.EqualFold(filepath.Clean(entry), filepath.Clean(executable))
	})
}

// PID returns the process id, 0 for an elevated start.
func (p *Process) PID() int {
	return p.pid
}

// Wait blocks until the process exits or ctx ends. Elevated processes
// cannot be waited on and return immediately.
func (p *Process) Wait(ctx context.Context) error {
	if p.cmd == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Detach lets the process outlive the caller without being waited on.
func (p *Process) Detach() error {
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Release()
}

// mergeEnv applies overrides to base, replacing existing keys.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[k]; ok {
			continue
		}
		out = append(out, kv)
	}
	for _, k := range slices.Sorted(maps.Keys(overrides)) {
		out = append(out, k+"="+overrides[k])
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
