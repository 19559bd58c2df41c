// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/voxstrap/voxstrap/internal/bootstrap"
	"github.com/voxstrap/voxstrap/internal/config"
	"github.com/voxstrap/voxstrap/internal/download"
	"github.com/voxstrap/voxstrap/internal/issue"
	"github.com/voxstrap/voxstrap/internal/launch"
	"github.com/voxstrap/voxstrap/internal/mods"
	"github.com/voxstrap/voxstrap/internal/release"
	"github.com/voxstrap/voxstrap/internal/selfupdate"
	"github.com/voxstrap/voxstrap/internal/singleton"
	"github.com/voxstrap/voxstrap/internal/versionstore"
)

type (
	// App is the composition root of the CLI layer. Command handlers receive
	// an App and build their collaborators through it.
	App struct {
		Config config.Provider
		stdout io.Writer
		stderr io.Writer

		// Persistent flag values.
		cfgFile   string
		verbose   bool
		upgrading bool

		sess *session
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config config.Provider
		Stdout io.Writer
		Stderr io.Writer
	}

	// session is the configuration-derived state shared by the commands of
	// one invocation.
	session struct {
		cfg    *config.Config
		logger *log.Logger
		locks  *singleton.Coordinator
	}
)

// NewApp builds an App, filling nil dependencies with production defaults.
func NewApp(deps Dependencies) *App {
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	return &App{Config: deps.Config, stdout: deps.Stdout, stderr: deps.Stderr}
}

func (a *App) loadOptions() config.LoadOptions {
	return config.LoadOptions{ConfigFilePath: a.cfgFile}
}

// session loads configuration once per invocation. A config file that
// fails to load is reported and defaults are used instead.
func (a *App) session(ctx context.Context) (*session, error) {
	if a.sess != nil {
		return a.sess, nil
	}

	cfg, err := a.Config.Load(ctx, a.loadOptions())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		fmt.Fprintln(a.stderr, WarningStyle.Render("Warning: ")+formatErrorForDisplay(err, a.verbose))
		a.renderIssue(issue.ConfigLoadFailedId)
		cfg = config.DefaultConfig()
	}
	if cfg.UI.Verbose {
		a.verbose = true
	}

	logger := a.newLogger()
	a.sess = &session{
		cfg:    cfg,
		logger: logger,
		locks:  singleton.New("", logger),
	}
	return a.sess, nil
}

// newLogger creates the root logger on stderr and installs it as the slog
// default.
func (a *App) newLogger() *log.Logger {
	level := log.InfoLevel
	if a.verbose {
		level = log.DebugLevel
	}
	logger := log.NewWithOptions(a.stderr, log.Options{
		Level:           level,
		ReportTimestamp: a.verbose,
	})
	slog.SetDefault(slog.New(logger))
	return logger
}

func (s *session) liveDir() string {
	return filepath.Join(s.cfg.RootDir, bootstrap.LiveDirName)
}

func (s *session) clientFeed() *release.Client {
	return release.NewClient(s.cfg.Client.FeedURL,
		release.WithToken(s.cfg.Client.Token),
		release.WithUserAgent("voxstrap/"+Version),
	)
}

func (s *session) applicator() *mods.Applicator {
	store := mods.NewManifestStore(filepath.Join(s.cfg.RootDir, mods.ManifestFileName))
	return mods.NewApplicator(mods.Options{
		ManageSettingsFile: s.cfg.Mods.ManageSettingsFile,
		SettingsFile:       s.cfg.Mods.SettingsFile,
	}, store, s.logger)
}

func (s *session) updater() *selfupdate.Updater {
	client := release.NewClient(s.cfg.Launcher.FeedURL, release.WithUserAgent("voxstrap/"+Version))
	return selfupdate.NewUpdater(client, Version,
		selfupdate.WithInstalledPath(selfupdate.InstalledPath(s.cfg.RootDir)),
		selfupdate.WithUpdaterLogger(s.logger),
	)
}

// orchestrator wires every production collaborator into a
// bootstrap.Orchestrator.
func (s *session) orchestrator(status bootstrap.Status) (*bootstrap.Orchestrator, error) {
	feed := s.clientFeed()
	deps := bootstrap.Deps{
		Feed: feed,
		Downloader: download.New(feed,
			download.WithTimeout(s.cfg.Download.Timeout),
			download.WithLogger(s.logger),
		),
		Mods: s.applicator(),
		Launcher: launch.New(launch.Settings{
			Priority:   s.cfg.Launch.Priority,
			Delay:      s.cfg.Launch.Delay,
			RunAsAdmin: s.cfg.Launch.RunAsAdmin,
			Env:        s.cfg.Launch.Env,
		}, s.logger),
		Locks:    s.locks,
		Versions: versionstore.New(s.cfg.RootDir),
		Status:   status,
		Logger:   s.logger,
	}
	if s.cfg.Launcher.AutoUpdate {
		deps.SelfUpdate = s.updater()
	}

	return bootstrap.New(deps, bootstrap.Options{
		RootDir:          s.cfg.RootDir,
		ModsDir:          s.cfg.ModsDir(),
		PlayerExecutable: s.cfg.Client.PlayerExecutable,
		StudioExecutable: s.cfg.Client.StudioExecutable,
		ExtraArgs:        s.cfg.Launch.ExtraArgs,
		LockTimeout:      s.cfg.Launch.LockTimeout,
		ProbeTimeout:     s.cfg.Download.ProbeTimeout,
	})
}

// installer builds the upgrade installer for this invocation.
func (a *App) installer(s *session) (*selfupdate.Installer, error) {
	regDir, err := config.ConfigDir()
	if err != nil {
		return nil, err
	}
	return selfupdate.NewInstaller(selfupdate.InstallerOptions{
		InstalledPath:   selfupdate.InstalledPath(s.cfg.RootDir),
		RegistrationDir: regDir,
		Version:         Version,
		Upgrading:       a.upgrading,
		LockTimeout:     s.cfg.SelfUpdate.LockTimeout,
	}, s.locks, config.NewMigrator(a.loadOptions()), s.logger), nil
}

// handleUpgrade runs the installer. Failures are logged and never stop the
// command that follows.
func (a *App) handleUpgrade(ctx context.Context) error {
	s, err := a.session(ctx)
	if err != nil {
		return err
	}
	inst, err := a.installer(s)
	if err != nil {
		s.logger.Warn("self-update skipped", "err", err)
		return nil
	}

	res, err := inst.HandleUpgrade(ctx)
	switch {
	case err != nil:
		s.logger.Error("self-update failed", "result", res, "err", err)
		a.renderIssue(issue.SelfUpdateFailedId)
	case res == selfupdate.Upgraded:
		fmt.Fprintln(a.stderr, SuccessStyle.Render("Launcher updated to "+Version))
	default:
		s.logger.Debug("self-update", "result", res)
	}
	return nil
}

// renderIssue writes a catalog issue to stderr as terminal markdown.
func (a *App) renderIssue(id issue.Id) {
	is := issue.Get(id)
	if is == nil {
		return
	}
	rendered, err := is.Render("auto")
	if err != nil {
		fmt.Fprintln(a.stderr, is.MarkdownMsg())
		return
	}
	fmt.Fprint(a.stderr, rendered)
}

// formatErrorForDisplay formats an error for user display. ActionableErrors
// use their own Format; verbose mode shows the full chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}
