// SPDX-License-Identifier: MPL-2.0

// Package fsutil holds the small filesystem helpers shared by the installer,
// the mod applicator and the self-updater.
package fsutil

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Exists reports whether path exists (file or directory).
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// FileExists reports whether path exists and is not a directory.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// CopyFile copies src to dst, creating dst's parent directories. The file is
// written next to dst first and renamed into place, so readers never observe
// a half-written dst.
func CopyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }() // read-only handle

	info, err := in.Stat()
	if err != nil {
		return err
	}

	return writeAtomic(dst, info.Mode().Perm(), func(w io.Writer) error {
		_, copyErr := io.Copy(w, in)
		return copyErr
	})
}

// WriteFileAtomic writes data to path via a temp file and rename.
func WriteFileAtomic(path string, data []byte, perm fs.FileMode) error {
	return writeAtomic(path, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

func writeAtomic(dst string, perm fs.FileMode, fill func(io.Writer) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if err := fill(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, dst)
}

// SameContent reports whether a and b hold identical bytes. A missing file
// is never equal to anything.
func SameContent(a, b string) bool {
	ha, err := ComputeFileHash(a)
	if err != nil {
		return false
	}
	hb, err := ComputeFileHash(b)
	if err != nil {
		return false
	}
	return ha == hb
}

// ComputeFileHash returns the lowercase hex SHA-256 of the file at path,
// streaming it through the hash.
func ComputeFileHash(path string) (_ string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		// Read-only file handle; close errors are exotic.
		_ = f.Close()
	}()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing file %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// RemoveIfExists removes path, treating "does not exist" as success.
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
