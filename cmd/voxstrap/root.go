// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for voxstrap.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/voxstrap/voxstrap/internal/launch"
	"github.com/voxstrap/voxstrap/internal/selfupdate"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// newRootCommand builds the command tree around app. Running voxstrap with
// no subcommand launches the player; a single argument is treated as a
// protocol URI, which is how browsers invoke the registered handler.
func newRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "voxstrap [protocol-uri]",
		Short: "Game client launcher and mod manager",
		Long: TitleStyle.Render("voxstrap") + SubtitleStyle.Render(" - game client launcher and mod manager") + `

voxstrap keeps the game client up to date, applies your mods on top of
it and starts it with your launch settings.

` + SubtitleStyle.Render("Examples:") + `
  voxstrap                      Update if needed and start the player
  voxstrap launch studio        Start the editor
  voxstrap mods watch           Re-apply mods whenever they change
  voxstrap update --check       Show installed and available versions
  voxstrap config show          Show current configuration`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.handleUpgrade(cmd.Context())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return app.runLaunch(cmd.Context(), launch.Protocol, args[0])
			}
			return app.runLaunch(cmd.Context(), launch.Player, "")
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	flags.StringVar(&app.cfgFile, "config", "", "config file (default is <config dir>/voxstrap/config.cue)")
	flags.BoolVar(&app.upgrading, selfupdate.UpgradeFlag[2:], false, "finish a launcher upgrade")
	_ = flags.MarkHidden(selfupdate.UpgradeFlag[2:])

	rootCmd.AddCommand(
		newLaunchCommand(app),
		newUpdateCommand(app),
		newModsCommand(app),
		newUninstallModsCommand(app),
		newConfigCommand(app),
	)
	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == selfupdate.DevVersion {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI and exits the process with the resulting code.
// It is called by main.main().
func Execute() {
	app := NewApp(Dependencies{})
	if err := fang.Execute(
		context.Background(),
		newRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(exitFailure)
	}
}

// handoffArgs are the arguments a newer launcher is started with: the
// current ones minus an earlier upgrade flag.
func handoffArgs(args []string) []string {
	return slices.DeleteFunc(slices.Clone(args), func(a string) bool {
		return a == selfupdate.UpgradeFlag
	})
}
