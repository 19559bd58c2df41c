// SPDX-License-Identifier: MPL-2.0

package release

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ChecksumsAssetName is the asset carrying sha256sum-format checksums.
const ChecksumsAssetName = "checksums.txt"

// maxChecksumsBytes bounds the checksums asset (1 MB).
const maxChecksumsBytes = 1 << 20

var (
	// ErrAssetNotFound indicates the requested asset is not listed in the checksums file.
	ErrAssetNotFound = errors.New("asset not found in checksums")

	errNoValidEntries = errors.New("no valid checksum entries found")
)

// ChecksumEntry is one "hash  filename" line.
type ChecksumEntry struct {
	Hash     string
	Filename string
}

// ParseChecksums parses sha256sum output: "{hex}  {filename}" per line.
// Malformed lines are skipped; an input without any valid line is an error.
func ParseChecksums(r io.Reader) ([]ChecksumEntry, error) {
	var entries []ChecksumEntry

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		hash, filename, ok := strings.Cut(line, "  ")
		if !ok {
			continue
		}
		// sha256sum marks binary mode with a leading '*'.
		filename = strings.TrimPrefix(strings.TrimSpace(filename), "*")
		if filename == "" || !isValidHexHash(hash) {
			continue
		}

		entries = append(entries, ChecksumEntry{Hash: strings.ToLower(hash), Filename: filename})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading checksums: %w", err)
	}
	if len(entries) == 0 {
		return nil, errNoValidEntries
	}
	return entries, nil
}

// FindChecksum returns the hash recorded for filename.
func FindChecksum(entries []ChecksumEntry, filename string) (string, error) {
	for _, e := range entries {
		if e.Filename == filename {
			return e.Hash, nil
		}
	}
	return "", ErrAssetNotFound
}

// ChecksumFor returns the expected SHA-256 of asset when the release
// publishes a checksums file. An empty hash with a nil error means the
// release carries no checksums.
func (c *Client) ChecksumFor(ctx context.Context, r *Release, asset Asset) (string, error) {
	sums, ok := r.Asset(ChecksumsAssetName)
	if !ok {
		return "", nil
	}

	body, _, err := c.DownloadAsset(ctx, sums.BrowserDownloadURL)
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }() // read-only response body

	entries, err := ParseChecksums(io.LimitReader(body, maxChecksumsBytes))
	if err != nil {
		return "", fmt.Errorf("release %s: %w", r.TagName, err)
	}
	hash, err := FindChecksum(entries, asset.Name)
	if err != nil {
		return "", fmt.Errorf("release %s asset %s: %w", r.TagName, asset.Name, err)
	}
	return hash, nil
}

func isValidHexHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
