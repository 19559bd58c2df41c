// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigCommands(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voxstrap.cue")

	app, stdout, _ := testApp()
	if err := execute(t, app, "--config", path, "config", "path"); err != nil {
		t.Fatalf("config path: %v", err)
	}
	if strings.TrimSpace(stdout.String()) != path {
		t.Errorf("config path printed %q", stdout.String())
	}

	app, stdout, _ = testApp()
	if err := execute(t, app, "--config", path, "config", "init"); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(stdout.String(), "Created default configuration") {
		t.Errorf("init output = %q", stdout.String())
	}

	if err := os.WriteFile(path, []byte(`ui: verbose: true`), 0o644); err != nil {
		t.Fatal(err)
	}
	app, stdout, _ = testApp()
	if err := execute(t, app, "--config", path, "config", "init"); err != nil {
		t.Fatalf("second config init: %v", err)
	}
	if !strings.Contains(stdout.String(), "already exists") {
		t.Errorf("second init output = %q", stdout.String())
	}

	app, stdout, _ = testApp()
	if err := execute(t, app, "--config", path, "config", "show"); err != nil {
		t.Fatalf("config show: %v", err)
	}
	out := stdout.String()
	if !strings.Contains(out, path) || !strings.Contains(out, "verbose: true") {
		t.Errorf("show output missing file path or value:\n%s", out)
	}

	app, _, _ = testApp()
	if err := execute(t, app, "--config", path, "config", "init", "--force"); err != nil {
		t.Fatalf("config init --force: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "verbose: true") {
		t.Error("--force should restore defaults")
	}
}

func TestConfigShow_InvalidFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "voxstrap.cue")
	if err := os.WriteFile(path, []byte(`launch: colour: "red"`), 0o644); err != nil {
		t.Fatal(err)
	}

	app, _, _ := testApp()
	err := execute(t, app, "--config", path, "config", "show")
	if err == nil || !strings.Contains(err.Error(), "colour") {
		t.Errorf("config show error = %v", err)
	}
}
