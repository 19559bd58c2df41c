// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voxstrap/voxstrap/internal/config"
	"github.com/voxstrap/voxstrap/internal/fsutil"
	"github.com/voxstrap/voxstrap/internal/issue"
)

// newConfigCommand creates the `voxstrap config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage voxstrap configuration",
		Long: `Manage voxstrap configuration.

Configuration is stored in:
  - Linux: ~/.config/voxstrap/config.cue
  - macOS: ~/Library/Application Support/voxstrap/config.cue
  - Windows: %APPDATA%\voxstrap\config.cue

VOXSTRAP_<SECTION>_<KEY> environment variables override file values,
for example VOXSTRAP_LAUNCH_PRIORITY=High.`,
		// Configuration commands must keep working when the file is broken.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.showConfig(cmd.Context())
		},
	})

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			force, _ := cmd.Flags().GetBool("force")
			return app.initConfig(force)
		},
	}
	initCmd.Flags().Bool("force", false, "overwrite an existing file with defaults")
	cfgCmd.AddCommand(initCmd)

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			path, err := app.Config.Path(app.loadOptions())
			if err != nil {
				return err
			}
			fmt.Fprintln(app.stdout, path)
			return nil
		},
	})

	return cfgCmd
}

func (a *App) showConfig(ctx context.Context) error {
	cfg, err := a.Config.Load(ctx, a.loadOptions())
	if err != nil {
		a.renderIssue(issue.ConfigLoadFailedId)
		return err
	}
	path, err := a.Config.Path(a.loadOptions())
	if err != nil {
		return err
	}

	source := path
	if !fsutil.FileExists(path) {
		source = SubtitleStyle.Render("(using defaults)")
	}
	fmt.Fprintf(a.stdout, "%s %s\n\n", KeyStyle.Render("Config file:"), source)
	fmt.Fprint(a.stdout, config.GenerateCUE(cfg))
	return nil
}

func (a *App) initConfig(force bool) error {
	path, err := a.Config.Path(a.loadOptions())
	if err != nil {
		return err
	}

	if force {
		err = config.Save(config.DefaultConfig(), path)
	} else {
		var created bool
		created, err = config.CreateDefaultConfig(path)
		if err == nil && !created {
			fmt.Fprintf(a.stdout, "Configuration already exists at %s (use --force to overwrite)\n", path)
			return nil
		}
	}
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}
	fmt.Fprintf(a.stdout, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), path)
	return nil
}
