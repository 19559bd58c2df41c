// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/voxstrap/voxstrap/internal/release"
	"github.com/voxstrap/voxstrap/internal/selfupdate"
	"github.com/voxstrap/voxstrap/internal/version"
	"github.com/voxstrap/voxstrap/internal/versionstore"
)

type (
	// updateParams bundles the collaborators of runUpdateCheck so it can be
	// tested against an httptest feed.
	updateParams struct {
		stdout    io.Writer
		installed *versionstore.Store
		feed      *release.Client
		updater   *selfupdate.Updater
		notes     bool
	}

	launcherChecker interface {
		Check(ctx context.Context) (*selfupdate.UpgradeCheck, error)
	}
)

// newUpdateCommand creates the `voxstrap update` command.
func newUpdateCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check for client updates and update the launcher",
		Long: `Check for client updates and update the launcher.

With --check, installed and available versions of the client and the
launcher are printed together with the client release notes. Without it a
newer launcher is downloaded and takes over; the client itself is updated
by the next launch.`,
		Example: `  # Show versions and release notes
  voxstrap update --check

  # Update the launcher now
  voxstrap update`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			check, _ := cmd.Flags().GetBool("check")
			notes, _ := cmd.Flags().GetBool("notes")

			s, err := app.session(cmd.Context())
			if err != nil {
				return err
			}
			p := updateParams{
				stdout:    app.stdout,
				installed: versionstore.New(s.cfg.RootDir),
				feed:      s.clientFeed(),
				updater:   s.updater(),
				notes:     notes,
			}
			if check {
				return runUpdateCheck(cmd.Context(), p)
			}
			return runLauncherUpdate(cmd.Context(), p, app.stdout)
		},
	}
	cmd.Flags().Bool("check", false, "report versions without updating")
	cmd.Flags().Bool("notes", true, "render client release notes with --check")
	return cmd
}

// runUpdateCheck prints installed and latest versions. A feed that cannot
// be reached is reported inline rather than failing the command.
func runUpdateCheck(ctx context.Context, p updateParams) error {
	fmt.Fprintln(p.stdout, TitleStyle.Render("Client"))

	installed := "(not installed)"
	if v, err := p.installed.Load(); err == nil {
		installed = v.Identifier
	} else if !errors.Is(err, versionstore.ErrNotInstalled) {
		installed = fmt.Sprintf("(unreadable: %v)", err)
	}
	fmt.Fprintf(p.stdout, "  %s %s\n", KeyStyle.Render("Installed:"), installed)

	latest, err := p.feed.Latest(ctx)
	if err != nil {
		fmt.Fprintf(p.stdout, "  %s %s\n", KeyStyle.Render("Latest:   "), WarningStyle.Render("unavailable: "+err.Error()))
	} else {
		fmt.Fprintf(p.stdout, "  %s %s\n", KeyStyle.Render("Latest:   "), latest.TagName)
		if installed != latest.TagName && version.Newer(latest.TagName, installed) {
			fmt.Fprintln(p.stdout, "  "+SuccessStyle.Render("An update will be installed on the next launch."))
		}
	}

	fmt.Fprintln(p.stdout)
	fmt.Fprintln(p.stdout, TitleStyle.Render("Launcher"))
	printLauncherCheck(ctx, p.stdout, p.updater)

	if p.notes && latest != nil && strings.TrimSpace(latest.Body) != "" {
		fmt.Fprintln(p.stdout)
		fmt.Fprintln(p.stdout, TitleStyle.Render("Release notes"))
		rendered, err := glamour.Render(latest.Body, "auto")
		if err != nil {
			rendered = latest.Body + "\n"
		}
		fmt.Fprint(p.stdout, rendered)
	}
	return nil
}

func printLauncherCheck(ctx context.Context, w io.Writer, c launcherChecker) {
	check, err := c.Check(ctx)
	if err != nil {
		fmt.Fprintf(w, "  %s\n", WarningStyle.Render("unavailable: "+err.Error()))
		return
	}
	fmt.Fprintf(w, "  %s %s\n", KeyStyle.Render("Running:  "), check.CurrentVersion)
	if check.LatestVersion != "" {
		fmt.Fprintf(w, "  %s %s\n", KeyStyle.Render("Latest:   "), check.LatestVersion)
	}
	if check.Message != "" {
		fmt.Fprintf(w, "  %s\n", SubtitleStyle.Render(strings.ReplaceAll(check.Message, "\n", "\n  ")))
	}
}

// runLauncherUpdate downloads a newer launcher and hands off to it. The
// new process re-runs `update --check` once it has installed itself.
func runLauncherUpdate(ctx context.Context, p updateParams, stdout io.Writer) error {
	handedOff, err := p.updater.CheckAndHandoff(ctx, []string{"update", "--check", "--notes=false"})
	if err != nil {
		return &ExitError{Code: exitFailure, Err: err}
	}
	if !handedOff {
		printLauncherCheck(ctx, stdout, p.updater)
		return nil
	}
	fmt.Fprintln(stdout, SuccessStyle.Render("Downloaded a new launcher; it will finish the update."))
	return nil
}
