// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/voxstrap/voxstrap/internal/bootstrap"
	"github.com/voxstrap/voxstrap/internal/fsutil"
	"github.com/voxstrap/voxstrap/internal/mods"
	"github.com/voxstrap/voxstrap/internal/singleton"
	"github.com/voxstrap/voxstrap/internal/watch"
)

// modsTarget is everything a mods subcommand touches.
type modsTarget struct {
	modsDir     string
	liveDir     string
	lockTimeout time.Duration
	applicator  *mods.Applicator
	locks       *singleton.Coordinator
	logger      *log.Logger
}

// newModsCommand creates the `voxstrap mods` command tree.
func newModsCommand(app *App) *cobra.Command {
	modsCmd := &cobra.Command{
		Use:   "mods",
		Short: "Apply and inspect client modifications",
		Long: `Apply and inspect client modifications.

Files in the mods directory (mods.dir, default <root_dir>/mods) are copied
over the installed client on every launch. Originals are kept in
.modbackup and restored when a mod file is removed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	modsCmd.AddCommand(&cobra.Command{
		Use:   "apply",
		Short: "Apply mods to the installed client now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := app.modsTarget(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := t.applyLocked(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(app.stdout, "%s Applied %d file(s) from %s\n", SuccessStyle.Render("✓"), len(entries), t.modsDir)
			return nil
		},
	})

	manifestCmd := &cobra.Command{
		Use:   "manifest",
		Short: "List the files the last apply copied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			t, err := app.modsTarget(cmd.Context())
			if err != nil {
				return err
			}
			return printManifest(app.stdout, t.applicator.Manifest(), asJSON)
		},
	}
	manifestCmd.Flags().Bool("json", false, "print the manifest as a JSON array")
	modsCmd.AddCommand(manifestCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-apply mods whenever the mods directory changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			debounce, _ := cmd.Flags().GetDuration("debounce")
			t, err := app.modsTarget(cmd.Context())
			if err != nil {
				return err
			}
			return t.watch(cmd.Context(), debounce, app.stdout)
		},
	}
	watchCmd.Flags().Duration("debounce", 0, "quiet period before re-applying (default 500ms)")
	modsCmd.AddCommand(watchCmd)

	return modsCmd
}

// newUninstallModsCommand creates the `voxstrap uninstall-mods` command.
func newUninstallModsCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall-mods",
		Short: "Restore every modded file of the installed client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t, err := app.modsTarget(cmd.Context())
			if err != nil {
				return err
			}
			lease, err := t.lock(cmd.Context())
			if err != nil {
				return err
			}
			defer lease.Release()

			n, err := t.applicator.Uninstall(cmd.Context(), t.liveDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(app.stdout, "%s Restored %d file(s)\n", SuccessStyle.Render("✓"), n)
			return nil
		},
	}
}

func (a *App) modsTarget(ctx context.Context) (*modsTarget, error) {
	s, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	return &modsTarget{
		modsDir:     s.cfg.ModsDir(),
		liveDir:     s.liveDir(),
		lockTimeout: s.cfg.Launch.LockTimeout,
		applicator:  s.applicator(),
		locks:       s.locks,
		logger:      s.logger.WithPrefix("mods"),
	}, nil
}

// lock takes the launch lock so no launch replaces the tree mid-apply.
func (t *modsTarget) lock(ctx context.Context) (*singleton.Lease, error) {
	lease, res, err := t.locks.Acquire(ctx, bootstrap.LaunchLockName, t.lockTimeout)
	if err != nil {
		return nil, err
	}
	if res != singleton.Acquired {
		return nil, &ExitError{Code: exitTransient, Err: res.Err(bootstrap.LaunchLockName)}
	}
	return lease, nil
}

func (t *modsTarget) applyLocked(ctx context.Context) ([]mods.ManifestEntry, error) {
	if !fsutil.Exists(t.liveDir) {
		return nil, &ExitError{Code: exitFailure, Err: fmt.Errorf("client is not installed in %s; run 'voxstrap launch' first", t.liveDir)}
	}
	lease, err := t.lock(ctx)
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	return t.applicator.Apply(ctx, t.modsDir, t.liveDir)
}

// watch applies once, then again after every settled change.
func (t *modsTarget) watch(ctx context.Context, debounce time.Duration, stdout io.Writer) error {
	if err := os.MkdirAll(t.modsDir, 0o755); err != nil {
		return fmt.Errorf("creating mods directory: %w", err)
	}
	w, err := watch.New(watch.Config{
		Dir:      t.modsDir,
		Debounce: debounce,
		Logger:   t.logger,
		OnChange: func(ctx context.Context, changed []string) error {
			entries, err := t.applyLocked(ctx)
			if err != nil {
				return err
			}
			t.logger.Info("re-applied", "changed", len(changed), "files", len(entries))
			return nil
		},
	})
	if err != nil {
		return err
	}

	if _, err := t.applyLocked(ctx); err != nil {
		t.logger.Warn("initial apply failed", "err", err)
	}
	fmt.Fprintf(stdout, "Watching %s (ctrl+c to stop)\n", w.Dir())
	return w.Run(ctx)
}

func printManifest(w io.Writer, store *mods.ManifestStore, asJSON bool) error {
	entries, err := store.Load()
	if err != nil {
		return err
	}
	if asJSON {
		if entries == nil {
			entries = []mods.ManifestEntry{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, SubtitleStyle.Render("(no mods applied)"))
		return nil
	}
	for _, e := range entries {
		fmt.Fprintln(w, e.RelativePath)
	}
	return nil
}
