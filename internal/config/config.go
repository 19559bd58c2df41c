// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/viper"

	"github.com/voxstrap/voxstrap/internal/fsutil"
	"github.com/voxstrap/voxstrap/internal/issue"
)

const (
	// AppName is the application name.
	AppName = "voxstrap"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides, e.g. VOXSTRAP_LAUNCH_PRIORITY.
	EnvPrefix = "VOXSTRAP"

	// maxConfigFileBytes bounds the config file read (4 MB).
	maxConfigFileBytes = 4 << 20
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the voxstrap configuration directory using
// platform-specific conventions: Windows uses %APPDATA%, macOS uses
// ~/Library/Application Support, and Linux/others use $XDG_CONFIG_HOME
// (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default:
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// DataDir returns the default root for installs, mods and state:
// %LOCALAPPDATA% on Windows, ~/Library/Application Support on macOS and
// $XDG_DATA_HOME (defaulting to ~/.local/share) elsewhere.
func DataDir() (string, error) {
	var dataDir string

	switch runtime.GOOS {
	case "windows":
		dataDir = os.Getenv("LOCALAPPDATA")
		if dataDir == "" {
			dataDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Local")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dataDir = filepath.Join(home, "Library", "Application Support")
	default:
		dataDir = os.Getenv("XDG_DATA_HOME")
		if dataDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			dataDir = filepath.Join(home, ".local", "share")
		}
	}

	return filepath.Join(dataDir, AppName), nil
}

// loadWithOptions reads defaults, the CUE file and environment overrides,
// in increasing precedence. It returns the file path that was used, or ""
// when only defaults and environment applied.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	if !opts.ignoreEnv {
		v.SetEnvPrefix(EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
	}

	path, explicit, err := resolvePath(opts)
	if err != nil {
		return nil, "", err
	}

	var fileEnv map[string]string
	switch {
	case fsutil.FileExists(path):
		fileEnv, err = loadCUEIntoViper(v, path)
		if err != nil {
			return nil, "", loadError(path, err)
		}
	case explicit:
		return nil, "", issue.NewErrorContext().
			WithOperation("load configuration").
			WithResource(path).
			WithSuggestion("Verify the file path is correct").
			WithSuggestion("Use 'voxstrap config init' to create a default configuration").
			Wrap(fmt.Errorf("config file not found: %s", path)).
			BuildError()
	default:
		path = ""
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if fileEnv != nil {
		cfg.Launch.Env = fileEnv
	}

	return &cfg, path, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("root_dir", d.RootDir)
	v.SetDefault("client.feed_url", d.Client.FeedURL)
	v.SetDefault("client.token", d.Client.Token)
	v.SetDefault("client.player_executable", d.Client.PlayerExecutable)
	v.SetDefault("client.studio_executable", d.Client.StudioExecutable)
	v.SetDefault("launcher.feed_url", d.Launcher.FeedURL)
	v.SetDefault("launcher.auto_update", d.Launcher.AutoUpdate)
	v.SetDefault("launch.priority", d.Launch.Priority)
	v.SetDefault("launch.keep_open", d.Launch.KeepOpen)
	v.SetDefault("launch.delay", d.Launch.Delay)
	v.SetDefault("launch.exit_grace", d.Launch.ExitGrace)
	v.SetDefault("launch.lock_timeout", d.Launch.LockTimeout)
	v.SetDefault("launch.run_as_admin", d.Launch.RunAsAdmin)
	v.SetDefault("launch.env", d.Launch.Env)
	v.SetDefault("launch.extra_args", d.Launch.ExtraArgs)
	v.SetDefault("download.timeout", d.Download.Timeout)
	v.SetDefault("download.probe_timeout", d.Download.ProbeTimeout)
	v.SetDefault("mods.dir", d.Mods.Dir)
	v.SetDefault("mods.manage_settings_file", d.Mods.ManageSettingsFile)
	v.SetDefault("mods.settings_file", d.Mods.SettingsFile)
	v.SetDefault("selfupdate.lock_timeout", d.SelfUpdate.LockTimeout)
	v.SetDefault("ui.verbose", d.UI.Verbose)
	v.SetDefault("legacy.use_old_font", d.Legacy.UseOldFont)
	v.SetDefault("legacy.check_updates_on_start", d.Legacy.CheckUpdatesOnStart)
	v.SetDefault("legacy.channel", d.Legacy.Channel)
}

// resolvePath returns the config file to read and whether the caller named
// it explicitly.
func resolvePath(opts LoadOptions) (path string, explicit bool, err error) {
	if opts.ConfigFilePath != "" {
		return opts.ConfigFilePath, true, nil
	}
	dir := opts.ConfigDirPath
	if dir == "" {
		if dir, err = ConfigDir(); err != nil {
			return "", false, err
		}
	}
	return filepath.Join(dir, ConfigFileName+"."+ConfigFileExt), false, nil
}

func loadError(path string, err error) error {
	return issue.NewErrorContext().
		WithOperation("load configuration").
		WithResource(path).
		WithSuggestion("Check that the file contains valid CUE syntax").
		WithSuggestion("Verify the configuration values match the expected schema").
		WithSuggestion("Run 'voxstrap config show' to see the effective configuration").
		Wrap(err).
		BuildError()
}

// loadCUEIntoViper parses a CUE file, validates it against #Config and
// merges it into v. launch.env is decoded on its own and returned because
// viper lower-cases map keys while environment variable names are case
// sensitive.
func loadCUEIntoViper(v *viper.Viper, path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := checkFileSize(data, maxConfigFileBytes, path); err != nil {
		return nil, err
	}

	ctx := cuecontext.New()

	schemaValue := ctx.CompileString(configSchema)
	if schemaValue.Err() != nil {
		return nil, fmt.Errorf("internal error: failed to compile config schema: %w", schemaValue.Err())
	}

	userValue := ctx.CompileBytes(data, cue.Filename(path))
	if userValue.Err() != nil {
		return nil, formatCUEError(userValue.Err(), path)
	}

	schema := schemaValue.LookupPath(cue.ParsePath("#Config"))
	unified := schema.Unify(userValue)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return nil, formatCUEError(err, path)
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return nil, formatCUEError(err, path)
	}

	// MergeConfigMap folds nested keys in place.
	env := copyEnv(configMap)
	if err := v.MergeConfigMap(configMap); err != nil {
		return nil, fmt.Errorf("failed to merge config: %w", err)
	}
	return env, nil
}

func copyEnv(configMap map[string]any) map[string]string {
	launch, _ := configMap["launch"].(map[string]any)
	env, ok := launch["env"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, val := range env {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}

// CreateDefaultConfig writes the default config to path unless a file is
// already there. created reports whether it wrote one.
func CreateDefaultConfig(path string) (created bool, err error) {
	if fsutil.Exists(path) {
		return false, nil
	}
	if err := Save(DefaultConfig(), path); err != nil {
		return false, err
	}
	return true, nil
}

// Save writes cfg to path as CUE.
func Save(cfg *Config, path string) error {
	if err := fsutil.WriteFileAtomic(path, []byte(GenerateCUE(cfg)), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateCUE renders cfg in the config file format. Legacy settings are
// written only while set.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// voxstrap configuration file\n")
	sb.WriteString("// Environment variables VOXSTRAP_<SECTION>_<KEY> override these values.\n\n")

	fmt.Fprintf(&sb, "root_dir: %q\n", cfg.RootDir)

	sb.WriteString("\nclient: {\n")
	fmt.Fprintf(&sb, "\tfeed_url:          %q\n", cfg.Client.FeedURL)
	if cfg.Client.Token != "" {
		fmt.Fprintf(&sb, "\ttoken:             %q\n", cfg.Client.Token)
	}
	fmt.Fprintf(&sb, "\tplayer_executable: %q\n", cfg.Client.PlayerExecutable)
	fmt.Fprintf(&sb, "\tstudio_executable: %q\n", cfg.Client.StudioExecutable)
	sb.WriteString("}\n")

	sb.WriteString("\nlauncher: {\n")
	fmt.Fprintf(&sb, "\tfeed_url:    %q\n", cfg.Launcher.FeedURL)
	fmt.Fprintf(&sb, "\tauto_update: %v\n", cfg.Launcher.AutoUpdate)
	sb.WriteString("}\n")

	sb.WriteString("\nlaunch: {\n")
	fmt.Fprintf(&sb, "\tpriority:     %q\n", cfg.Launch.Priority)
	fmt.Fprintf(&sb, "\tkeep_open:    %v\n", cfg.Launch.KeepOpen)
	fmt.Fprintf(&sb, "\tdelay:        %q\n", durationString(cfg.Launch.Delay))
	fmt.Fprintf(&sb, "\texit_grace:   %q\n", durationString(cfg.Launch.ExitGrace))
	fmt.Fprintf(&sb, "\tlock_timeout: %q\n", durationString(cfg.Launch.LockTimeout))
	sb.WriteString("\trun_as_admin: [")
	for i, exe := range cfg.Launch.RunAsAdmin {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%q", exe)
	}
	sb.WriteString("]\n")
	sb.WriteString("\tenv: {")
	if len(cfg.Launch.Env) > 0 {
		sb.WriteString("\n")
		keys := make([]string, 0, len(cfg.Launch.Env))
		for k := range cfg.Launch.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "\t\t%q: %q\n", k, cfg.Launch.Env[k])
		}
		sb.WriteString("\t")
	}
	sb.WriteString("}\n")
	fmt.Fprintf(&sb, "\textra_args: %q\n", cfg.Launch.ExtraArgs)
	sb.WriteString("}\n")

	sb.WriteString("\ndownload: {\n")
	fmt.Fprintf(&sb, "\ttimeout:       %q\n", durationString(cfg.Download.Timeout))
	fmt.Fprintf(&sb, "\tprobe_timeout: %q\n", durationString(cfg.Download.ProbeTimeout))
	sb.WriteString("}\n")

	sb.WriteString("\nmods: {\n")
	if cfg.Mods.Dir != "" {
		fmt.Fprintf(&sb, "\tdir:                  %q\n", cfg.Mods.Dir)
	}
	fmt.Fprintf(&sb, "\tmanage_settings_file: %v\n", cfg.Mods.ManageSettingsFile)
	fmt.Fprintf(&sb, "\tsettings_file:        %q\n", cfg.Mods.SettingsFile)
	sb.WriteString("}\n")

	sb.WriteString("\nselfupdate: {\n")
	fmt.Fprintf(&sb, "\tlock_timeout: %q\n", durationString(cfg.SelfUpdate.LockTimeout))
	sb.WriteString("}\n")

	sb.WriteString("\nui: {\n")
	fmt.Fprintf(&sb, "\tverbose: %v\n", cfg.UI.Verbose)
	sb.WriteString("}\n")

	if cfg.HasDeprecated() {
		sb.WriteString("\nlegacy: {\n")
		fmt.Fprintf(&sb, "\tuse_old_font:           %v\n", cfg.Legacy.UseOldFont)
		fmt.Fprintf(&sb, "\tcheck_updates_on_start: %v\n", cfg.Legacy.CheckUpdatesOnStart)
		fmt.Fprintf(&sb, "\tchannel:                %q\n", cfg.Legacy.Channel)
		sb.WriteString("}\n")
	}

	return sb.String()
}

// durationString renders d so that the schema's #Duration accepts it.
func durationString(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	return d.String()
}
