// SPDX-License-Identifier: MPL-2.0

package launch

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/voxstrap/voxstrap/internal/issue"
)

func quietLauncher(s Settings) *Launcher {
	return New(s, log.New(io.Discard))
}

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}
}

func TestLaunch_StartsAndWaits(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")
	l := quietLauncher(Settings{Env: map[string]string{"VOXSTRAP_TEST_VALUE": "hello"}})

	p, err := l.Launch(context.Background(), Spec{
		Executable: "/bin/sh",
		WorkingDir: dir,
		Args:       []string{"-c", `printf '%s' "$VOXSTRAP_TEST_VALUE" > out.txt`},
	})
	if err != nil {
		t.Fatalf("Launch() error: %v", err)
	}
	if p.PID() <= 0 {
		t.Errorf("PID() = %d", p.PID())
	}
	if err := p.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Errorf("child saw env %q, want hello", data)
	}
}

func TestLaunch_StartFailureDeletesExecutable(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	exe := filepath.Join(t.TempDir(), "Client")
	if err := os.WriteFile(exe, []byte("corrupt"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := quietLauncher(Settings{}).Launch(context.Background(), Spec{Executable: exe})
	if !errors.Is(err, issue.ErrLaunch) {
		t.Fatalf("Launch() error = %v, want ErrLaunch", err)
	}
	if _, statErr := os.Stat(exe); !os.IsNotExist(statErr) {
		t.Error("executable should be deleted after a failed start")
	}
}

func TestLaunch_DelayHonorsCancellation(t *testing.T) {
	t.Parallel()

	l := quietLauncher(Settings{Delay: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := l.Launch(ctx, Spec{Executable: "unused"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Launch() error = %v, want DeadlineExceeded", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("delay did not observe cancellation")
	}
}

func TestLaunch_PriorityFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	var gotPrio Priority
	l := quietLauncher(Settings{Priority: "High"})
	l.setPriority = func(pid int, p Priority) error {
		gotPrio = p
		return errors.New("permission denied")
	}

	p, err := l.Launch(context.Background(), Spec{Executable: "/bin/sh", Args: []string{"-c", "exit 0"}})
	if err != nil {
		t.Fatalf("Launch() error: %v", err)
	}
	_ = p.Wait(context.Background())
	if gotPrio != High {
		t.Errorf("setPriority got %v, want High", gotPrio)
	}
}

func TestLaunch_InvalidPriorityFallsBack(t *testing.T) {
	t.Parallel()
	skipOnWindows(t)

	called := false
	l := quietLauncher(Settings{Priority: "turbo"})
	l.setPriority = func(int, Priority) error {
		called = true
		return nil
	}
	p, err := l.Launch(context.Background(), Spec{Executable: "/bin/sh", Args: []string{"-c", "exit 0"}})
	if err != nil {
		t.Fatalf("Launch() error: %v", err)
	}
	_ = p.Wait(context.Background())
	if called {
		t.Error("invalid priority should fall back to Normal without a priority call")
	}
}

func TestNeedsElevation(t *testing.T) {
	t.Parallel()

	l := quietLauncher(Settings{RunAsAdmin: []string{"StudioBeta.exe", "/opt/client/Player"}})
	tests := map[string]bool{
		"/x/studiobeta.exe":  true,
		"/opt/client/Player": true,
		"/opt/client/Other":  false,
	}
	for exe, want := range tests {
		if got := l.needsElevation(exe); got != want {
			t.Errorf("needsElevation(%q) = %v, want %v", exe, got, want)
		}
	}
}

func TestParsePriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		want   Priority
		wantOK bool
	}{
		{"Idle", Idle, true},
		{"belownormal", BelowNormal, true},
		{"", Normal, true},
		{"AboveNormal", AboveNormal, true},
		{"HIGH", High, true},
		{"RealTime", RealTime, true},
		{"ludicrous", Normal, false},
	}
	for _, tt := range tests {
		got, ok := ParsePriority(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParsePriority(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestBuildArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		mode  Mode
		raw   string
		extra string
		want  []string
	}{
		{name: "player words", mode: Player, raw: `-app "with space"`, want: []string{"-app", "with space"}},
		{name: "studio with extra", mode: Studio, raw: "-ide", extra: "--fast 'a b'", want: []string{"-ide", "--fast", "a b"}},
		{
			name: "protocol uri",
			mode: Protocol,
			raw:  "voxstrap-player:1+launchmode:play+placelauncherurl:https%3A%2F%2Fexample.test%2Fjoin",
			want: []string{"--launchmode", "play", "--placelauncherurl", "https://example.test/join"},
		},
		{name: "empty", mode: Player, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := BuildArgs(tt.mode, tt.raw, tt.extra)
			if err != nil {
				t.Fatalf("BuildArgs() error: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("BuildArgs() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildArgs_Errors(t *testing.T) {
	t.Parallel()

	if _, err := BuildArgs(Protocol, "no scheme here", ""); err == nil {
		t.Error("expected error for non-URI protocol argument")
	}
	if _, err := BuildArgs(Player, `"unterminated`, ""); err == nil {
		t.Error("expected error for unterminated quote")
	}
	if _, err := BuildArgs(Player, "", "'bad"); err == nil {
		t.Error("expected error for bad extra_args")
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	for _, m := range []Mode{Player, Studio, Protocol} {
		got, err := ParseMode(strings.ToUpper(m.String()))
		if err != nil || got != m {
			t.Errorf("ParseMode(%q) = %v, %v", m.String(), got, err)
		}
	}
	if _, err := ParseMode("editor"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestMergeEnv(t *testing.T) {
	t.Parallel()

	got := mergeEnv([]string{"A=1", "B=2"}, map[string]string{"B": "3", "C": "4"})
	want := []string{"A=1", "B=3", "C=4"}
	if !slices.Equal(got, want) {
		t.Errorf("mergeEnv() = %v, want %v", got, want)
	}
}

func TestCommandLine(t *testing.T) {
	t.Parallel()

	got := CommandLine("/opt/My Client/Player", []string{"--a", "b c", ""})
	want := `"/opt/My Client/Player" --a "b c" ""`
	if got != want {
		t.Errorf("CommandLine() = %q, want %q", got, want)
	}
}
