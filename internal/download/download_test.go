// SPDX-License-Identifier: MPL-2.0

package download

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/voxstrap/voxstrap/internal/issue"
	"github.com/voxstrap/voxstrap/internal/release"
)

type (
	fakeSource struct {
		data []byte
		size int64
		err  error
	}

	// slowReader yields one chunk then blocks until ctx ends.
	slowReader struct {
		ctx   context.Context
		first []byte
		sent  bool
		read  chan struct{}
	}
)

func (f *fakeSource) DownloadAsset(context.Context, string) (io.ReadCloser, int64, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	size := f.size
	if size == 0 {
		size = int64(len(f.data))
	}
	return io.NopCloser(bytes.NewReader(f.data)), size, nil
}

func (s *slowReader) Read(p []byte) (int, error) {
	if !s.sent {
		s.sent = true
		close(s.read)
		return copy(p, s.first), nil
	}
	<-s.ctx.Done()
	return 0, s.ctx.Err()
}

func (s *slowReader) Close() error { return nil }

func testLogger() *log.Logger { return log.New(io.Discard) }

func makeZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(w, body); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func makeTarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		hdr := &tar.Header{Name: name, Mode: 0o755, Size: int64(len(body)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(tw, body); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

func TestFetchAndExtract_Formats(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		"Client.exe":             "binary",
		"content/fonts/a.ttf":    "font",
		"content/textures/b.png": "png",
	}
	tests := map[string][]byte{
		"zip":    makeZip(t, files),
		"tar.gz": makeTarGz(t, files),
	}

	for name, archive := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			dest := filepath.Join(t.TempDir(), "staging", "abc")
			d := New(&fakeSource{data: archive}, WithLogger(testLogger()))
			if err := d.FetchAndExtract(context.Background(), "https://example.test/a", dest); err != nil {
				t.Fatalf("FetchAndExtract() error: %v", err)
			}
			for rel, want := range files {
				if got := readFile(t, filepath.Join(dest, filepath.FromSlash(rel))); got != want {
					t.Errorf("%s = %q, want %q", rel, got, want)
				}
			}
			assertNoTempFiles(t, filepath.Dir(dest))
		})
	}
}

func TestFetchAndExtract_StripsSingleRoot(t *testing.T) {
	t.Parallel()

	archive := makeZip(t, map[string]string{
		"client-2.0.0/Client.exe":   "binary",
		"client-2.0.0/content/x.js": "x",
	})
	dest := filepath.Join(t.TempDir(), "stage")
	d := New(&fakeSource{data: archive}, WithLogger(testLogger()))
	if err := d.FetchAndExtract(context.Background(), "u", dest, WithExpectedFile("Client.exe")); err != nil {
		t.Fatalf("FetchAndExtract() error: %v", err)
	}
	if got := readFile(t, filepath.Join(dest, "Client.exe")); got != "binary" {
		t.Errorf("Client.exe = %q", got)
	}
	if _, err := os.Stat(filepath.Join(dest, "content", "x.js")); err != nil {
		t.Errorf("nested file missing: %v", err)
	}
}

func TestFetchAndExtract_KeepsSingleRootInLayout(t *testing.T) {
	t.Parallel()

	archive := makeZip(t, map[string]string{
		"bin/Player":     "binary",
		"bin/libgame.so": "lib",
	})

	tests := map[string][]FetchOption{
		"expected file nested":    {WithExpectedFile("bin/Player")},
		"no expected file":        nil,
		"expected file elsewhere": {WithExpectedFile("Player.exe")},
	}
	for name, opts := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			dest := filepath.Join(t.TempDir(), "stage")
			d := New(&fakeSource{data: archive}, WithLogger(testLogger()))
			if err := d.FetchAndExtract(context.Background(), "u", dest, opts...); err != nil {
				t.Fatalf("FetchAndExtract() error: %v", err)
			}
			if got := readFile(t, filepath.Join(dest, "bin", "Player")); got != "binary" {
				t.Errorf("bin/Player = %q", got)
			}
			if _, err := os.Stat(filepath.Join(dest, "Player")); !os.IsNotExist(err) {
				t.Errorf("Player lifted to top level: %v", err)
			}
		})
	}
}

func TestFetchAndExtract_Checksum(t *testing.T) {
	t.Parallel()

	archive := makeZip(t, map[string]string{"a.txt": "a"})
	sum := sha256.Sum256(archive)
	good := hex.EncodeToString(sum[:])

	d := New(&fakeSource{data: archive}, WithLogger(testLogger()))

	ok := filepath.Join(t.TempDir(), "ok")
	if err := d.FetchAndExtract(context.Background(), "u", ok, WithChecksum(strings.ToUpper(good))); err != nil {
		t.Fatalf("matching checksum error: %v", err)
	}

	bad := filepath.Join(t.TempDir(), "bad")
	err := d.FetchAndExtract(context.Background(), "u", bad, WithChecksum(strings.Repeat("0", 64)))
	if !errors.Is(err, ErrChecksumMismatch) || !errors.Is(err, issue.ErrNetwork) {
		t.Fatalf("mismatch error = %v", err)
	}
	if _, statErr := os.Stat(bad); !os.IsNotExist(statErr) {
		t.Error("destination should not exist after checksum failure")
	}
	assertNoTempFiles(t, filepath.Dir(bad))
}

func TestFetchAndExtract_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  *fakeSource
		want error
	}{
		{name: "transport error", src: &fakeSource{err: errors.New("boom")}, want: issue.ErrNetwork},
		{name: "truncated", src: &fakeSource{data: []byte("PK\x03\x04abc"), size: 100}, want: issue.ErrNetwork},
		{name: "not an archive", src: &fakeSource{data: []byte("hello world")}, want: issue.ErrArchive},
		{name: "corrupt zip", src: &fakeSource{data: []byte("PK\x03\x04garbage")}, want: issue.ErrArchive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dest := filepath.Join(t.TempDir(), "stage")
			err := New(tt.src, WithLogger(testLogger())).FetchAndExtract(context.Background(), "u", dest)
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
				t.Error("destination should be removed on failure")
			}
			assertNoTempFiles(t, filepath.Dir(dest))
		})
	}
}

func TestFetchAndExtract_RejectsTraversal(t *testing.T) {
	t.Parallel()

	archive := makeZip(t, map[string]string{"../escape.txt": "x"})
	root := t.TempDir()
	dest := filepath.Join(root, "stage")
	err := New(&fakeSource{data: archive}, WithLogger(testLogger())).FetchAndExtract(context.Background(), "u", dest)
	if !errors.Is(err, issue.ErrArchive) {
		t.Fatalf("error = %v, want ErrArchive", err)
	}
	if _, statErr := os.Stat(filepath.Join(root, "escape.txt")); !os.IsNotExist(statErr) {
		t.Error("file escaped the destination")
	}
}

func TestFetchAndExtract_EntrySizeBound(t *testing.T) {
	t.Parallel()

	archive := makeTarGz(t, map[string]string{"big.bin": strings.Repeat("x", 1024)})
	dest := filepath.Join(t.TempDir(), "stage")
	d := New(&fakeSource{data: archive}, WithLogger(testLogger()), WithMaxEntryBytes(100))
	if err := d.FetchAndExtract(context.Background(), "u", dest); !errors.Is(err, issue.ErrArchive) {
		t.Fatalf("error = %v, want ErrArchive", err)
	}
}

func TestFetchAndExtract_ExistingDestUntouched(t *testing.T) {
	t.Parallel()

	dest := t.TempDir()
	keep := filepath.Join(dest, "keep.txt")
	if err := os.WriteFile(keep, []byte("k"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := New(&fakeSource{data: []byte("x")}, WithLogger(testLogger())).FetchAndExtract(context.Background(), "u", dest)
	if err == nil {
		t.Fatal("expected error for existing destination")
	}
	if _, statErr := os.Stat(keep); statErr != nil {
		t.Error("existing destination was modified")
	}
}

type cancelSource struct {
	ctx  context.Context
	read chan struct{}
}

func (c *cancelSource) DownloadAsset(context.Context, string) (io.ReadCloser, int64, error) {
	return &slowReader{ctx: c.ctx, first: bytes.Repeat([]byte("a"), 1024), read: c.read}, -1, nil
}

func TestFetchAndExtract_CancelMidDownload(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &cancelSource{ctx: ctx, read: make(chan struct{})}
	staging := filepath.Join(t.TempDir(), "staging")
	dest := filepath.Join(staging, "run")

	errCh := make(chan error, 1)
	go func() {
		errCh <- New(src, WithLogger(testLogger())).FetchAndExtract(ctx, "u", dest)
	}()

	<-src.read
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("FetchAndExtract did not observe cancellation")
	}

	entries, err := os.ReadDir(staging)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("staging not clean after cancel: %v", entries)
	}
}

func TestFetchAndExtract_Timeout(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// The reader blocks on the outer ctx; only the downloader's own timeout
	// ends the call.
	src := &timeoutSource{}
	dest := filepath.Join(t.TempDir(), "stage")
	err := New(src, WithLogger(testLogger()), WithTimeout(50*time.Millisecond)).FetchAndExtract(ctx, "u", dest)
	if !errors.Is(err, issue.ErrNetwork) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want ErrNetwork wrapping DeadlineExceeded", err)
	}
}

type timeoutSource struct{}

func (timeoutSource) DownloadAsset(ctx context.Context, _ string) (io.ReadCloser, int64, error) {
	<-ctx.Done()
	return nil, 0, ctx.Err()
}

func TestFetchAndExtract_OverHTTP(t *testing.T) {
	t.Parallel()

	archive := makeZip(t, map[string]string{"Client.exe": "bin"})
	var progressCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "stage")
	d := New(release.NewClient(srv.URL), WithLogger(testLogger()))
	err := d.FetchAndExtract(context.Background(), srv.URL+"/client.zip", dest,
		WithProgress(func(done, total int64) { progressCalls++ }))
	if err != nil {
		t.Fatalf("FetchAndExtract() error: %v", err)
	}
	if progressCalls == 0 {
		t.Error("progress callback never invoked")
	}
	if got := readFile(t, filepath.Join(dest, "Client.exe")); got != "bin" {
		t.Errorf("Client.exe = %q", got)
	}
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()

	tests := map[string]Format{
		"PK\x03\x04rest":   FormatZip,
		"\x1f\x8b\x08rest": FormatTarGz,
		"plain":            FormatUnknown,
		"":                 FormatUnknown,
	}
	for in, want := range tests {
		got, err := DetectFormat(strings.NewReader(in))
		if err != nil {
			t.Errorf("DetectFormat(%q) error: %v", in, err)
		}
		if got != want {
			t.Errorf("DetectFormat(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSafeJoin(t *testing.T) {
	t.Parallel()

	dest := filepath.Join(string(os.PathSeparator), "stage")
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"a/b.txt", false},
		{"./a.txt", false},
		{"../x", true},
		{"a/../../x", true},
		{"/etc/passwd", true},
		{"content/aux/sky.png", true},
		{"NUL.txt", true},
	}
	for _, tt := range tests {
		_, err := safeJoin(dest, tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("safeJoin(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}

func assertNoTempFiles(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "voxstrap-download-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}
