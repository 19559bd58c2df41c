// SPDX-License-Identifier: MPL-2.0

package download

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/voxstrap/voxstrap/internal/issue"
	"github.com/voxstrap/voxstrap/internal/platform"
)

// Format is an archive container recognised by its leading bytes.
type Format int

const (
	// FormatUnknown is anything not recognised.
	FormatUnknown Format = iota
	// FormatZip is a PKZIP archive.
	FormatZip
	// FormatTarGz is a gzip-compressed tarball.
	FormatTarGz
)

var (
	zipMagic  = []byte("PK\x03\x04")
	gzipMagic = []byte{0x1f, 0x8b}
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatTarGz:
		return "tar.gz"
	case FormatUnknown:
		return "unknown"
	}
	return "unknown"
}

// DetectFormat sniffs the archive format from the first bytes of r.
func DetectFormat(r io.Reader) (Format, error) {
	head := make([]byte, 4)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return FormatUnknown, err
	}
	head = head[:n]
	switch {
	case bytes.HasPrefix(head, zipMagic):
		return FormatZip, nil
	case bytes.HasPrefix(head, gzipMagic):
		return FormatTarGz, nil
	}
	return FormatUnknown, nil
}

func (d *Downloader) extract(ctx context.Context, archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w: %w", issue.ErrArchive, err)
	}
	defer func() { _ = f.Close() }() // read-only file handle

	format, err := DetectFormat(f)
	if err != nil {
		return fmt.Errorf("reading archive header: %w: %w", issue.ErrArchive, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding archive: %w: %w", issue.ErrArchive, err)
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w: %w", dest, issue.ErrFilesystem, err)
	}

	switch format {
	case FormatZip:
		info, statErr := f.Stat()
		if statErr != nil {
			return fmt.Errorf("stat archive: %w: %w", issue.ErrArchive, statErr)
		}
		err = d.extractZip(ctx, f, info.Size(), dest)
	case FormatTarGz:
		err = d.extractTarGz(ctx, f, dest)
	case FormatUnknown:
		err = errors.New("unsupported archive format")
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			return fmt.Errorf("extract: %w: %w: %w", issue.ErrArchive, ctxErr, err)
		}
		return fmt.Errorf("extract: %w: %w", issue.ErrArchive, err)
	}
	return nil
}

func (d *Downloader) extractZip(ctx context.Context, r io.ReaderAt, size int64, dest string) error {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return err
	}

	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		target, err := safeJoin(dest, zf.Name)
		if err != nil {
			return err
		}
		mode := zf.Mode()

		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case mode&fs.ModeSymlink != 0:
			d.logger.Debug("skipping symlink entry", "name", zf.Name)
		default:
			rc, err := zf.Open()
			if err != nil {
				return fmt.Errorf("opening %s: %w", zf.Name, err)
			}
			err = d.writeEntry(ctx, target, rc, mode)
			_ = rc.Close()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Downloader) extractTarGz(ctx context.Context, r io.Reader, dest string) error {
	gz, err := gzip.NewReader(bufio.NewReader(r))
	if err != nil {
		return fmt.Errorf("creating gzip reader: %w", err)
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar entry: %w", err)
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := d.writeEntry(ctx, target, tr, hdr.FileInfo().Mode()); err != nil {
				return err
			}
		default:
			d.logger.Debug("skipping non-regular tar entry", "name", hdr.Name, "type", hdr.Typeflag)
		}
	}
}

// writeEntry copies one archive member to target, bounded by maxEntryBytes.
func (d *Downloader) writeEntry(ctx context.Context, target string, src io.Reader, mode fs.FileMode) (err error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	// Keep the archive's execute bits, always owner-writable.
	perm := mode.Perm() | 0o600
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	n, err := copyChunks(ctx, out, io.LimitReader(src, d.maxEntryBytes+1), -1, nil)
	if err != nil {
		return fmt.Errorf("writing %s: %w", target, err)
	}
	if n > d.maxEntryBytes {
		return fmt.Errorf("entry %s exceeds %d bytes", target, d.maxEntryBytes)
	}
	return nil
}

// safeJoin resolves an archive member name under dest, rejecting absolute
// names, Windows device names and any name that escapes dest.
func safeJoin(dest, name string) (string, error) {
	clean := filepath.FromSlash(strings.TrimPrefix(name, "./"))
	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" {
		return "", fmt.Errorf("illegal absolute path in archive: %q", name)
	}
	if elem, ok := platform.ReservedComponent(name); ok {
		return "", fmt.Errorf("reserved file name %q in archive: %q", elem, name)
	}

	target := filepath.Join(dest, clean)
	root := filepath.Clean(dest)
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("illegal path traversal in archive: %q", name)
	}
	return target, nil
}
