// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/voxstrap/voxstrap/internal/bootstrap"
	"github.com/voxstrap/voxstrap/internal/config"
	"github.com/voxstrap/voxstrap/internal/issue"
	"github.com/voxstrap/voxstrap/internal/launch"
)

// newLaunchCommand creates the `voxstrap launch` command.
func newLaunchCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "launch [player|studio|protocol] [args]",
		Short: "Update the client if needed, apply mods and start it",
		Long: `Update the client if needed, apply mods and start it.

In player and studio mode the optional second argument holds extra client
arguments as shell words. In protocol mode it is the protocol URI the
browser passed, for example:

  voxstrap launch protocol "voxstrap-player:1+launchmode:play+placeid:42"`,
		Args: cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var modeName, raw string
			if len(args) > 0 {
				modeName = args[0]
			}
			if len(args) > 1 {
				raw = args[1]
			}
			mode, err := launch.ParseMode(modeName)
			if err != nil {
				return &ExitError{Code: exitFailure, Err: err}
			}
			if mode == launch.Protocol && raw == "" {
				return &ExitError{Code: exitFailure, Err: errors.New("protocol mode needs a URI")}
			}
			return app.runLaunch(cmd.Context(), mode, raw)
		},
	}
}

// runLaunch performs one update-and-launch run, then either waits for the
// client (launch.keep_open) or lingers for launch.exit_grace.
func (a *App) runLaunch(ctx context.Context, mode launch.Mode, raw string) error {
	s, err := a.session(ctx)
	if err != nil {
		return err
	}
	runID := bootstrap.NewRunID()
	logger := s.logger.With("run", runID)

	status := newStatusLine(a.stderr)
	orch, err := s.orchestrator(status)
	if err != nil {
		return err
	}

	out := orch.Run(ctx, bootstrap.Request{
		Mode:      mode,
		RawArgs:   raw,
		Upgrading: a.upgrading,
		Args:      handoffArgs(os.Args[1:]),
		RunID:     runID,
	})

	switch {
	case out.Handoff:
		logger.Info("continuing in the updated launcher")
		return nil
	case out.Cancelled:
		return &ExitError{Code: exitCancelled, Err: context.Canceled}
	case !out.Success:
		a.renderIssue(issueFor(out.Kind))
		logger.Debug("run failed", "kind", out.Kind, "err", out.Err)
		return &ExitError{Code: exitCodeFor(out.Kind), Err: out.Err}
	}

	logger.Info("client started", "mode", mode, "pid", out.PID)
	return afterLaunch(ctx, s.cfg.Launch, out.Process, logger)
}

// afterLaunch keeps the launcher alive for the configured time after the
// client started. With keep_open it waits for the client and mirrors its
// exit code.
func afterLaunch(ctx context.Context, cfg config.LaunchConfig, p *launch.Process, logger *log.Logger) error {
	if p == nil {
		return nil
	}

	if cfg.KeepOpen {
		err := p.Wait(ctx)
		var exitErr *exec.ExitError
		switch {
		case err == nil:
			logger.Info("client exited")
			return nil
		case errors.Is(err, context.Canceled):
			return &ExitError{Code: exitCancelled, Err: err}
		case errors.As(err, &exitErr):
			logger.Info("client exited", "code", exitErr.ExitCode())
			return &ExitError{Code: exitErr.ExitCode(), Err: fmt.Errorf("client exited: %w", err)}
		default:
			return fmt.Errorf("waiting for client: %w", err)
		}
	}

	if cfg.ExitGrace > 0 {
		t := time.NewTimer(cfg.ExitGrace)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}
	if err := p.Detach(); err != nil {
		logger.Debug("detach client", "err", err)
	}
	return nil
}

// issueFor picks the catalog entry explaining a failed run.
func issueFor(k issue.Kind) issue.Id {
	switch k {
	case issue.KindConnectivity:
		return issue.NothingInstalledId
	case issue.KindLockTimeout:
		return issue.LockTimeoutId
	case issue.KindLaunch:
		return issue.LaunchFailedId
	case issue.KindSelfUpdate:
		return issue.SelfUpdateFailedId
	case issue.KindNone, issue.KindNetwork, issue.KindArchive, issue.KindFilesystem,
		issue.KindVersionParse, issue.KindCancelled, issue.KindUnknown:
		return issue.InstallFailedId
	}
	return issue.InstallFailedId
}
