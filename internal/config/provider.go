// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"fmt"

	"github.com/voxstrap/voxstrap/internal/fsutil"
)

type (
	// LoadOptions defines explicit configuration loading inputs.
	LoadOptions struct {
		// ConfigFilePath forces loading from a specific config file when set.
		ConfigFilePath string
		// ConfigDirPath overrides the config directory lookup when set.
		ConfigDirPath string
		// ignoreEnv skips VOXSTRAP_* overrides so a rewrite never persists
		// them into the file.
		ignoreEnv bool
	}

	// Provider loads configuration from explicit options.
	Provider interface {
		Load(ctx context.Context, opts LoadOptions) (*Config, error)
		// Path is the config file Load reads or would read.
		Path(opts LoadOptions) (string, error)
	}

	fileProvider struct{}

	// Migrator clears deprecated settings from one config file.
	Migrator struct {
		opts LoadOptions
	}
)

// NewProvider creates a configuration provider.
func NewProvider() Provider {
	return &fileProvider{}
}

// Load reads configuration from the requested source.
func (p *fileProvider) Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	cfg, _, err := loadWithOptions(ctx, opts)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (p *fileProvider) Path(opts LoadOptions) (string, error) {
	path, _, err := resolvePath(opts)
	return path, err
}

// NewMigrator returns a Migrator for the file selected by opts.
func NewMigrator(opts LoadOptions) *Migrator {
	return &Migrator{opts: opts}
}

// ClearDeprecated removes legacy settings and rewrites the file. A missing
// file or one without legacy settings is left untouched.
func (m *Migrator) ClearDeprecated() error {
	path, _, err := resolvePath(m.opts)
	if err != nil {
		return err
	}
	if !fsutil.FileExists(path) {
		return nil
	}

	cfg, _, err := loadWithOptions(context.Background(), LoadOptions{ConfigFilePath: path, ignoreEnv: true})
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if !cfg.HasDeprecated() {
		return nil
	}
	cfg.Legacy = LegacyConfig{}
	return Save(cfg, path)
}
