// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

type recorder struct {
	mu    sync.Mutex
	calls [][]string
	fired chan struct{}
}

func newRecorder() *recorder {
	return &recorder{fired: make(chan struct{}, 16)}
}

func (r *recorder) onChange(_ context.Context, changed []string) error {
	r.mu.Lock()
	r.calls = append(r.calls, changed)
	r.mu.Unlock()
	r.fired <- struct{}{}
	return nil
}

func (r *recorder) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

func startWatcher(t *testing.T, cfg Config) (cancel func()) {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard)
	}
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	ctx, stop := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	return func() {
		stop()
		if err := <-errCh; err != nil {
			t.Errorf("Run() error: %v", err)
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func waitFired(t *testing.T, r *recorder) {
	t.Helper()
	select {
	case <-r.fired:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
}

func TestWatcherDebounce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec := newRecorder()
	stop := startWatcher(t, Config{Dir: dir, Debounce: 100 * time.Millisecond, OnChange: rec.onChange})

	for _, name := range []string{"a.png", "b.png", "c.png"} {
		writeFile(t, filepath.Join(dir, name), "data")
		time.Sleep(10 * time.Millisecond)
	}

	waitFired(t, rec)
	time.Sleep(200 * time.Millisecond)
	stop()

	calls := rec.snapshot()
	if len(calls) != 1 {
		t.Fatalf("callbacks = %d, want 1 (%v)", len(calls), calls)
	}
	for _, want := range []string{"a.png", "b.png", "c.png"} {
		if !slices.Contains(calls[0], want) {
			t.Errorf("changed = %v, missing %q", calls[0], want)
		}
	}
	if !slices.IsSorted(calls[0]) {
		t.Errorf("changed paths not sorted: %v", calls[0])
	}
}

func TestWatcherNestedAndNewDirectories(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "content", "textures"), 0o755); err != nil {
		t.Fatal(err)
	}
	rec := newRecorder()
	stop := startWatcher(t, Config{Dir: dir, Debounce: 50 * time.Millisecond, OnChange: rec.onChange})
	defer stop()

	writeFile(t, filepath.Join(dir, "content", "textures", "sky.png"), "x")
	waitFired(t, rec)

	if err := os.Mkdir(filepath.Join(dir, "fonts"), 0o755); err != nil {
		t.Fatal(err)
	}
	// Let the create event register the new directory.
	time.Sleep(150 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "fonts", "custom.ttf"), "x")

	deadline := time.After(5 * time.Second)
	for {
		for _, c := range rec.snapshot() {
			if slices.Contains(c, "fonts/custom.ttf") {
				if !slices.Contains(rec.snapshot()[0], "content/textures/sky.png") {
					t.Errorf("first callback = %v", rec.snapshot()[0])
				}
				return
			}
		}
		select {
		case <-rec.fired:
		case <-deadline:
			t.Fatalf("file in new directory never reported: %v", rec.snapshot())
		}
	}
}

func TestWatcherIgnores(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec := newRecorder()
	stop := startWatcher(t, Config{
		Dir:      dir,
		Debounce: 50 * time.Millisecond,
		Ignore:   []string{"**/*.log"},
		OnChange: rec.onChange,
	})

	writeFile(t, filepath.Join(dir, "debug.log"), "x")
	writeFile(t, filepath.Join(dir, "voxstrap-launch.lock"), "x")
	writeFile(t, filepath.Join(dir, "sky.png.swp"), "x")
	time.Sleep(300 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "sky.png"), "x")
	waitFired(t, rec)
	stop()

	calls := rec.snapshot()
	if len(calls) != 1 || !slices.Equal(calls[0], []string{"sky.png"}) {
		t.Errorf("calls = %v, want only sky.png", calls)
	}
}

func TestWatcherPatterns(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec := newRecorder()
	stop := startWatcher(t, Config{
		Dir:      dir,
		Debounce: 50 * time.Millisecond,
		Patterns: []string{"**/*.ttf"},
		OnChange: rec.onChange,
	})

	writeFile(t, filepath.Join(dir, "readme.txt"), "x")
	time.Sleep(50 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "custom.ttf"), "x")
	waitFired(t, rec)
	stop()

	for _, c := range rec.snapshot() {
		if slices.Contains(c, "readme.txt") {
			t.Errorf("non-matching file reported: %v", c)
		}
	}
}

func TestWatcherSkipIfBusy(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var (
		mu       sync.Mutex
		active   int
		overlaps int
		calls    int
	)
	done := make(chan struct{}, 4)

	stop := startWatcher(t, Config{
		Dir:      dir,
		Debounce: 30 * time.Millisecond,
		OnChange: func(context.Context, []string) error {
			mu.Lock()
			active++
			calls++
			if active > 1 {
				overlaps++
			}
			mu.Unlock()
			time.Sleep(200 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			done <- struct{}{}
			return nil
		},
	})

	writeFile(t, filepath.Join(dir, "first.png"), "1")
	time.Sleep(80 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "second.png"), "2")

	for range 2 {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("rescheduled change was lost")
		}
	}
	stop()

	mu.Lock()
	defer mu.Unlock()
	if overlaps != 0 {
		t.Errorf("callbacks overlapped %d times", overlaps)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestWatcherCallbackErrorKeepsRunning(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fired := make(chan struct{}, 4)
	stop := startWatcher(t, Config{
		Dir:      dir,
		Debounce: 30 * time.Millisecond,
		OnChange: func(context.Context, []string) error {
			fired <- struct{}{}
			return errors.New("apply failed")
		},
	})
	defer stop()

	for _, name := range []string{"a.png", "b.png"} {
		writeFile(t, filepath.Join(dir, name), "x")
		select {
		case <-fired:
		case <-time.After(5 * time.Second):
			t.Fatalf("no callback for %s", name)
		}
	}
}

func TestWatcherRunTwice(t *testing.T) {
	t.Parallel()

	w, err := New(Config{Dir: t.TempDir(), Logger: log.New(io.Discard)})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	// The first Run may not have flipped started yet; poll until it has.
	deadline := time.Now().Add(5 * time.Second)
	for !w.started.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := w.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() = %v, want ErrAlreadyRunning", err)
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Errorf("first Run() = %v", err)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "file")
	writeFile(t, file, "x")

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "empty dir", cfg: Config{}},
		{name: "missing dir", cfg: Config{Dir: filepath.Join(t.TempDir(), "nope")}},
		{name: "not a dir", cfg: Config{Dir: file}},
		{name: "bad pattern", cfg: Config{Dir: t.TempDir(), Patterns: []string{"[unclosed"}}},
		{name: "bad ignore", cfg: Config{Dir: t.TempDir(), Ignore: []string{"{a,b"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.cfg.Logger = log.New(io.Discard)
			if _, err := New(tt.cfg); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestDefaultIgnores(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want bool
	}{
		{"voxstrap-launch.lock", true},
		{"content/sky.png.swp", true},
		{"content/sky.png~", true},
		{".git/HEAD", true},
		{"Thumbs.db", true},
		{"content/sky.png", false},
		{"fonts/custom.ttf", false},
	}
	for _, tt := range tests {
		if got := matchAny(defaultIgnores, tt.path); got != tt.want {
			t.Errorf("ignored(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}

	got := DefaultIgnores()
	got[0] = "mutated"
	if defaultIgnores[0] == "mutated" {
		t.Error("DefaultIgnores must return a copy")
	}
}
