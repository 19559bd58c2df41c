// SPDX-License-Identifier: MPL-2.0

package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/voxstrap/voxstrap/internal/download"
	"github.com/voxstrap/voxstrap/internal/fsutil"
	"github.com/voxstrap/voxstrap/internal/issue"
	"github.com/voxstrap/voxstrap/internal/version"
	"github.com/voxstrap/voxstrap/internal/versionstore"
)

// needsInstall reports whether the latest release must be installed: no
// record, an older record, or a missing executable.
func (r *run) needsInstall(current *versionstore.InstalledVersion) bool {
	switch {
	case current == nil:
		r.logger.Info("no client installed", "latest", r.latest.TagName)
		return true
	case version.Newer(r.latest.TagName, current.Identifier):
		r.logger.Info("client update available", "installed", current.Identifier, "latest", r.latest.TagName)
		return true
	case !r.installed():
		r.logger.Info("client executable missing, reinstalling", "version", current.Identifier)
		return true
	}
	r.logger.Debug("client up to date", "version", current.Identifier)
	return false
}

// install downloads r.latest into a fresh staging directory, promotes it to
// the live directory and records the new version. The staging directory
// never survives a failed or cancelled install.
func (r *run) install(ctx context.Context) (err error) {
	asset, ok := r.latest.PayloadAsset()
	if !ok {
		return fmt.Errorf("release %s has no downloadable asset: %w", r.latest.TagName, issue.ErrNetwork)
	}

	r.clearStaging()

	sum, err := r.deps.Feed.ChecksumFor(ctx, r.latest, asset)
	if err != nil {
		return fmt.Errorf("fetching checksum for %s: %w", asset.Name, err)
	}

	staging := filepath.Join(r.StagingRoot(), uuid.NewString())
	defer func() {
		if rmErr := os.RemoveAll(staging); rmErr != nil {
			r.logger.Warn("failed to clean staging directory", "dir", staging, "error", rmErr)
		}
	}()

	r.status.Message(fmt.Sprintf("Downloading client %s", r.latest.TagName))
	r.status.SetCancelEnabled(true)
	err = r.deps.Downloader.FetchAndExtract(ctx, asset.BrowserDownloadURL, staging,
		download.WithChecksum(sum),
		download.WithProgress(r.progress()),
		download.WithExpectedFile(r.executableRel(r.req.Mode)),
	)
	r.status.SetCancelEnabled(false)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.status.Message("Installing client")
	if err := promote(staging, r.LiveDir()); err != nil {
		return fmt.Errorf("promoting %s: %w: %w", staging, issue.ErrFilesystem, err)
	}

	if err := r.deps.Mods.Reset(); err != nil {
		r.logger.Warn("could not reset mod manifest", "error", err)
	}

	record := versionstore.InstalledVersion{Identifier: r.latest.TagName, InstalledAt: r.LiveDir()}
	if err := r.deps.Versions.Save(record); err != nil {
		return err
	}
	r.logger.Info("client installed", "version", record.Identifier, "dir", record.InstalledAt)
	return nil
}

// progress reports whole-percent steps to the status sink.
func (r *run) progress() download.ProgressFunc {
	last := -1
	return func(done, total int64) {
		if total <= 0 {
			return
		}
		pct := int(done * 100 / total)
		if pct == last {
			return
		}
		last = pct
		r.status.Message(fmt.Sprintf("Downloading client %s (%d%%)", r.latest.TagName, pct))
	}
}

// clearStaging removes leftovers from runs that crashed mid-install. The
// launch lock is held, so no other run owns them.
func (r *run) clearStaging() {
	entries, err := os.ReadDir(r.StagingRoot())
	if err != nil {
		return
	}
	for _, e := range entries {
		p := filepath.Join(r.StagingRoot(), e.Name())
		if err := os.RemoveAll(p); err != nil {
			r.logger.Warn("failed to remove stale staging entry", "path", p, "error", err)
		}
	}
}

// promote swaps staging in as live. The previous live directory is moved
// aside first and put back if the swap fails.
func promote(staging, live string) error {
	aside := live + ".old-" + uuid.NewString()[:8]

	hadLive := fsutil.Exists(live)
	if hadLive {
		if err := os.Rename(live, aside); err != nil {
			return fmt.Errorf("moving current install aside: %w", err)
		}
	}

	if err := os.Rename(staging, live); err != nil {
		if hadLive {
			if restoreErr := os.Rename(aside, live); restoreErr != nil {
				return errors.Join(err, fmt.Errorf("restoring previous install: %w", restoreErr))
			}
		}
		return err
	}

	if hadLive {
		_ = os.RemoveAll(aside)
	}
	return nil
}
