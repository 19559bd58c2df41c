// SPDX-License-Identifier: MPL-2.0

// Package download fetches release archives and unpacks them into a staging
// directory.
//
// The body is streamed to a temp file next to the destination and verified
// before extraction starts, so a partial download never reaches the
// destination. On any failure the temp file and the destination directory
// are removed.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/voxstrap/voxstrap/internal/fsutil"
	"github.com/voxstrap/voxstrap/internal/issue"
)

const (
	// DefaultTimeout bounds a whole FetchAndExtract call.
	DefaultTimeout = 5 * time.Minute

	// chunkSize is the read granularity; cancellation is checked per chunk.
	chunkSize = 32 << 10

	// defaultMaxEntryBytes bounds a single extracted file (4 GB).
	defaultMaxEntryBytes = 4 << 30
)

// ErrChecksumMismatch indicates the downloaded bytes do not hash to the
// expected SHA-256.
var ErrChecksumMismatch = errors.New("checksum mismatch")

type (
	// Source opens a remote asset as a stream. size is -1 when unknown.
	Source interface {
		DownloadAsset(ctx context.Context, url string) (body io.ReadCloser, size int64, err error)
	}

	// Downloader fetches archives from a Source.
	Downloader struct {
		source        Source
		logger        *log.Logger
		timeout       time.Duration
		maxEntryBytes int64
	}

	// Option configures a Downloader.
	Option func(*Downloader)

	// FetchOption configures a single FetchAndExtract call.
	FetchOption func(*fetchConfig)

	// ProgressFunc receives the bytes downloaded so far and the total (-1
	// when unknown).
	ProgressFunc func(done, total int64)

	fetchConfig struct {
		checksum string
		progress ProgressFunc
		expected string
	}

	// ChecksumError reports a digest mismatch. It wraps ErrChecksumMismatch
	// and issue.ErrNetwork.
	ChecksumError struct {
		URL      string
		Expected string
		Got      string
	}
)

// Error returns both digests for debugging.
func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum verification failed for %s\nExpected: %s\nGot:      %s", e.URL, e.Expected, e.Got)
}

// Unwrap exposes the sentinel and the taxonomy kind.
func (e *ChecksumError) Unwrap() []error { return []error{ErrChecksumMismatch, issue.ErrNetwork} }

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(dl *Downloader) {
		if d > 0 {
			dl.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(dl *Downloader) {
		if l != nil {
			dl.logger = l
		}
	}
}

// WithMaxEntryBytes bounds the size of any single extracted file.
func WithMaxEntryBytes(n int64) Option {
	return func(dl *Downloader) {
		if n > 0 {
			dl.maxEntryBytes = n
		}
	}
}

// WithChecksum requires the download to hash to the hex SHA-256 sum.
// An empty sum disables verification.
func WithChecksum(sum string) FetchOption {
	return func(c *fetchConfig) {
		c.checksum = strings.ToLower(strings.TrimSpace(sum))
	}
}

// WithProgress reports download progress after every chunk.
func WithProgress(fn ProgressFunc) FetchOption {
	return func(c *fetchConfig) {
		c.progress = fn
	}
}

// WithExpectedFile names a slash-separated path the extracted tree must
// contain. When the archive wraps everything in one top-level folder and
// the path only exists inside it, the folder is lifted into dest.
func WithExpectedFile(rel string) FetchOption {
	return func(c *fetchConfig) {
		c.expected = rel
	}
}

// New creates a Downloader reading from src.
func New(src Source, opts ...Option) *Downloader {
	d := &Downloader{
		source:        src,
		logger:        log.Default(),
		timeout:       DefaultTimeout,
		maxEntryBytes: defaultMaxEntryBytes,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.WithPrefix("download")
	return d
}

// FetchAndExtract downloads url and unpacks it into dest, which must not
// already exist. Errors wrap issue.ErrNetwork for transfer problems and
// issue.ErrArchive for extraction problems; cancellation additionally wraps
// the context error.
func (d *Downloader) FetchAndExtract(ctx context.Context, url, dest string, opts ...FetchOption) (err error) {
	var cfg fetchConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if _, statErr := os.Lstat(dest); statErr == nil {
		return fmt.Errorf("destination %s already exists: %w", dest, issue.ErrFilesystem)
	}

	parent := filepath.Dir(dest)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w: %w", parent, issue.ErrFilesystem, err)
	}

	defer func() {
		if err != nil {
			if rmErr := os.RemoveAll(dest); rmErr != nil {
				d.logger.Warn("failed to remove partial extraction", "dir", dest, "error", rmErr)
			}
		}
	}()

	archivePath, err := d.fetch(ctx, url, parent, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(archivePath) }()

	d.logger.Debug("extracting", "archive", archivePath, "dest", dest)
	if err := d.extract(ctx, archivePath, dest); err != nil {
		return err
	}
	if err := flattenSingleRoot(dest, cfg.expected); err != nil {
		return fmt.Errorf("flattening %s: %w: %w", dest, issue.ErrArchive, err)
	}
	return nil
}

// fetch streams url into a temp file in dir and verifies it. The caller
// removes the returned file.
func (d *Downloader) fetch(ctx context.Context, url, dir string, cfg fetchConfig) (_ string, err error) {
	d.logger.Debug("downloading", "url", url)

	body, size, err := d.source.DownloadAsset(ctx, url)
	if err != nil {
		return "", wrapTransfer(ctx, err)
	}
	defer func() { _ = body.Close() }() // read-only response body

	tmp, err := os.CreateTemp(dir, "voxstrap-download-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w: %w", issue.ErrFilesystem, err)
	}
	defer func() {
		if closeErr := tmp.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing temp file: %w: %w", issue.ErrFilesystem, closeErr)
		}
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	h := sha256.New()
	n, err := copyChunks(ctx, io.MultiWriter(tmp, h), body, size, cfg.progress)
	if err != nil {
		return "", wrapTransfer(ctx, err)
	}
	if size >= 0 && n != size {
		return "", fmt.Errorf("download truncated: got %d of %d bytes: %w", n, size, issue.ErrNetwork)
	}

	if err := verify(h, cfg.checksum, url); err != nil {
		return "", err
	}

	d.logger.Debug("download complete", "bytes", n)
	return tmp.Name(), nil
}

// copyChunks copies src to dst in chunkSize pieces, checking ctx between
// pieces.
func copyChunks(ctx context.Context, dst io.Writer, src io.Reader, total int64, progress ProgressFunc) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if progress != nil {
				progress(written, total)
			}
		}
		if errors.Is(rerr, io.EOF) {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func verify(h hash.Hash, expected, url string) error {
	if expected == "" {
		return nil
	}
	got := hex.EncodeToString(h.Sum(nil))
	if got != expected {
		return &ChecksumError{URL: url, Expected: expected, Got: got}
	}
	return nil
}

// wrapTransfer tags err as a network failure, keeping the context error
// visible so callers can tell a cancellation apart.
func wrapTransfer(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("download: %w: %w: %w", issue.ErrNetwork, ctxErr, err)
	}
	return fmt.Errorf("download: %w: %w", issue.ErrNetwork, err)
}

// flattenSingleRoot lifts the children of a lone top-level directory into
// dir, but only when expected is missing from dir and present inside that
// directory. Without an expected path the tree is left as extracted.
func flattenSingleRoot(dir, expected string) error {
	if expected == "" {
		return nil
	}
	rel := filepath.FromSlash(expected)
	if fsutil.Exists(filepath.Join(dir, rel)) {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return nil
	}

	inner := filepath.Join(dir, entries[0].Name())
	if !fsutil.Exists(filepath.Join(inner, rel)) {
		return nil
	}
	aside := dir + ".flatten"
	if err := os.Rename(inner, aside); err != nil {
		return err
	}
	if err := os.Remove(dir); err != nil {
		return err
	}
	return os.Rename(aside, dir)
}
