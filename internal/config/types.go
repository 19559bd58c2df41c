// SPDX-License-Identifier: MPL-2.0

package config

import (
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultPlayerExecutable is the client binary inside the live install.
	DefaultPlayerExecutable = "Client.exe"
	// DefaultSettingsFile is the client settings file relative to the live
	// install.
	DefaultSettingsFile = "ClientSettings/ClientAppSettings.json"
	// DefaultPriority is the scheduling class of launched clients.
	DefaultPriority = "Normal"
)

type (
	// Config is the full voxstrap configuration.
	Config struct {
		RootDir    string           `json:"root_dir" mapstructure:"root_dir"`
		Client     ClientConfig     `json:"client" mapstructure:"client"`
		Launcher   LauncherConfig   `json:"launcher" mapstructure:"launcher"`
		Launch     LaunchConfig     `json:"launch" mapstructure:"launch"`
		Download   DownloadConfig   `json:"download" mapstructure:"download"`
		Mods       ModsConfig       `json:"mods" mapstructure:"mods"`
		SelfUpdate SelfUpdateConfig `json:"selfupdate" mapstructure:"selfupdate"`
		UI         UIConfig         `json:"ui" mapstructure:"ui"`
		Legacy     LegacyConfig     `json:"legacy" mapstructure:"legacy"`
	}

	// ClientConfig locates the game client's release feed and binaries.
	ClientConfig struct {
		FeedURL          string `json:"feed_url" mapstructure:"feed_url"`
		Token            string `json:"token,omitempty" mapstructure:"token"`
		PlayerExecutable string `json:"player_executable" mapstructure:"player_executable"`
		StudioExecutable string `json:"studio_executable" mapstructure:"studio_executable"`
	}

	// LauncherConfig controls voxstrap's own updates.
	LauncherConfig struct {
		FeedURL    string `json:"feed_url" mapstructure:"feed_url"`
		AutoUpdate bool   `json:"auto_update" mapstructure:"auto_update"`
	}

	// LaunchConfig controls how the client process is started.
	LaunchConfig struct {
		Priority    string            `json:"priority" mapstructure:"priority"`
		KeepOpen    bool              `json:"keep_open" mapstructure:"keep_open"`
		Delay       time.Duration     `json:"delay" mapstructure:"delay"`
		ExitGrace   time.Duration     `json:"exit_grace" mapstructure:"exit_grace"`
		LockTimeout time.Duration     `json:"lock_timeout" mapstructure:"lock_timeout"`
		RunAsAdmin  []string          `json:"run_as_admin" mapstructure:"run_as_admin"`
		Env         map[string]string `json:"env" mapstructure:"env"`
		ExtraArgs   string            `json:"extra_args" mapstructure:"extra_args"`
	}

	// DownloadConfig bounds network operations.
	DownloadConfig struct {
		Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`
		ProbeTimeout time.Duration `json:"probe_timeout" mapstructure:"probe_timeout"`
	}

	// ModsConfig locates the mod directory. An empty Dir means
	// <root_dir>/mods.
	ModsConfig struct {
		Dir                string `json:"dir" mapstructure:"dir"`
		ManageSettingsFile bool   `json:"manage_settings_file" mapstructure:"manage_settings_file"`
		SettingsFile       string `json:"settings_file" mapstructure:"settings_file"`
	}

	// SelfUpdateConfig tunes the Installer.
	SelfUpdateConfig struct {
		LockTimeout time.Duration `json:"lock_timeout" mapstructure:"lock_timeout"`
	}

	// UIConfig holds terminal output preferences.
	UIConfig struct {
		Verbose bool `json:"verbose" mapstructure:"verbose"`
	}

	// LegacyConfig holds settings from older releases. They are still
	// accepted but have no effect and are cleared on upgrade.
	LegacyConfig struct {
		UseOldFont          bool   `json:"use_old_font" mapstructure:"use_old_font"`
		CheckUpdatesOnStart bool   `json:"check_updates_on_start" mapstructure:"check_updates_on_start"`
		Channel             string `json:"channel" mapstructure:"channel"`
	}
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	root := defaultRootDir()
	return &Config{
		RootDir: root,
		Client: ClientConfig{
			FeedURL:          "https://api.github.com/repos/voxstrap/client-builds/releases/latest",
			PlayerExecutable: DefaultPlayerExecutable,
			StudioExecutable: DefaultPlayerExecutable,
		},
		Launcher: LauncherConfig{
			FeedURL:    "https://api.github.com/repos/voxstrap/voxstrap/releases/latest",
			AutoUpdate: true,
		},
		Launch: LaunchConfig{
			Priority:    DefaultPriority,
			ExitGrace:   time.Second,
			LockTimeout: 30 * time.Second,
			RunAsAdmin:  []string{},
			Env:         map[string]string{},
		},
		Download: DownloadConfig{
			Timeout:      5 * time.Minute,
			ProbeTimeout: 10 * time.Second,
		},
		Mods: ModsConfig{
			SettingsFile: DefaultSettingsFile,
		},
		SelfUpdate: SelfUpdateConfig{
			LockTimeout: 5 * time.Second,
		},
	}
}

// HasDeprecated reports whether any legacy setting is set.
func (c *Config) HasDeprecated() bool {
	return c.Legacy != LegacyConfig{}
}

// ModsDir resolves the mod directory, defaulting under RootDir.
func (c *Config) ModsDir() string {
	if c.Mods.Dir != "" {
		return c.Mods.Dir
	}
	return filepath.Join(c.RootDir, "mods")
}

func defaultRootDir() string {
	dir, err := DataDir()
	if err != nil {
		return filepath.Join(os.TempDir(), AppName)
	}
	return dir
}
