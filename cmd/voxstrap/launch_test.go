// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/voxstrap/voxstrap/internal/config"
	"github.com/voxstrap/voxstrap/internal/launch"
)

func TestAfterLaunch(t *testing.T) {
	t.Parallel()

	logger := log.New(io.Discard)

	t.Run("no process", func(t *testing.T) {
		t.Parallel()
		if err := afterLaunch(context.Background(), config.LaunchConfig{KeepOpen: true}, nil, logger); err != nil {
			t.Errorf("afterLaunch() = %v", err)
		}
	})

	t.Run("keep open on an unwaitable process", func(t *testing.T) {
		t.Parallel()
		if err := afterLaunch(context.Background(), config.LaunchConfig{KeepOpen: true}, &launch.Process{}, logger); err != nil {
			t.Errorf("afterLaunch() = %v", err)
		}
	})

	t.Run("exit grace honours cancellation", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		start := time.Now()
		err := afterLaunch(ctx, config.LaunchConfig{ExitGrace: time.Minute}, &launch.Process{}, logger)
		if err != nil {
			t.Errorf("afterLaunch() = %v", err)
		}
		if time.Since(start) > 5*time.Second {
			t.Error("exit grace ignored cancellation")
		}
	})

	t.Run("exit grace elapses", func(t *testing.T) {
		t.Parallel()
		start := time.Now()
		if err := afterLaunch(context.Background(), config.LaunchConfig{ExitGrace: 50 * time.Millisecond}, &launch.Process{}, logger); err != nil {
			t.Errorf("afterLaunch() = %v", err)
		}
		if time.Since(start) < 50*time.Millisecond {
			t.Error("returned before the exit grace elapsed")
		}
	})
}

func TestLaunchCommand_BadMode(t *testing.T) {
	t.Parallel()

	app, _, _ := testApp()
	err := execute(t, app, "--config", t.TempDir()+"/none.cue", "launch", "editor")
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != exitFailure {
		t.Errorf("err = %v", err)
	}
}
