// Zaparoo Handheld
// Copyright (c) 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Handheld.
//
// Zaparoo Handheld is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Handheld is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Handheld.  If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ZaparooProject/zaparoo-handheld/pkg/helpers/syncutil"
	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	SchemaVersion = 1
	CfgEnv        = "ZAPAROO_HANDHELD_CFG"
	CfgFile       = "config.toml"
)

// AppVersion is set at build time.
var AppVersion = "DEVELOPMENT"

var ErrSchemaMismatch = errors.New("schema version mismatch")

type Values struct {
	Publishers     Publishers `toml:"publishers,omitempty"`
	Readers        Readers    `toml:"readers"`
	Service        Service    `toml:"service"`
	ConfigSchema   int        `toml:"config_schema"`
	DebugLogging   bool       `toml:"debug_logging"`
	ErrorReporting bool       `toml:"error_reporting"`
}

var BaseDefaults = Values{
	ConfigSchema: SchemaVersion,
	Readers: Readers{
		UHF: ReadersUHF{
			BaudRate:       DefaultUHFBaudRate,
			MinIterationMs: int(DefaultMinIteration.Milliseconds()),
			StopSettleMs:   int(DefaultStopSettle.Milliseconds()),
		},
		Barcode: ReadersBarcode{
			Driver:          DriverSerial,
			BaudRate:        DefaultBarcodeBaudRate,
			MaxAttempts:     DefaultMaxAttempts,
			BackoffStepMs:   int(DefaultBackoffStep.Milliseconds()),
			SettleDelayMs:   int(DefaultSettleDelay.Milliseconds()),
			RestartDelayMs:  int(DefaultRestartDelay.Milliseconds()),
			RetryDelayMs:    int(DefaultRetryDelay.Milliseconds()),
			DecodeTimeoutMs: int(DefaultDecodeTimeout.Milliseconds()),
		},
		BLE: ReadersBLE{
			DiscoveryWindowMs: int(DefaultDiscoveryWindow.Milliseconds()),
			ConnectTimeoutMs:  int(DefaultConnectTimeout.Milliseconds()),
		},
	},
	Service: Service{
		WakeLockMinutes:   int(DefaultWakeLock.Minutes()),
		SecondPassDelayMs: int(DefaultSecondPassDelay.Milliseconds()),
	},
}

type Instance struct {
	fs       afero.Fs
	validate *validator.Validate
	cfgPath  string
	vals     Values
	defaults Values
	mu       syncutil.RWMutex
}

// NewConfig opens the config file in configDir, or the path in CfgEnv if
// set, writing defaults first if the file does not exist.
//
//nolint:gocritic // config struct copied for immutability
func NewConfig(fs afero.Fs, configDir string, defaults Values) (*Instance, error) {
	cfgPath := os.Getenv(CfgEnv)
	log.Debug().Msgf("env config path: %s", cfgPath)

	if cfgPath == "" {
		cfgPath = filepath.Join(configDir, CfgFile)
	}

	cfg := &Instance{
		fs:       fs,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		cfgPath:  cfgPath,
		vals:     defaults,
		defaults: defaults,
	}

	exists, err := afero.Exists(fs, cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if !exists {
		log.Info().Msg("saving new default config to disk")

		err := fs.MkdirAll(filepath.Dir(cfgPath), 0o750)
		if err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}

		err = cfg.Save()
		if err != nil {
			return nil, err
		}
	}

	err = cfg.Load()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Path returns the location of the config file.
func (c *Instance) Path() string {
	return c.cfgPath
}

func (c *Instance) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	data, err := afero.ReadFile(c.fs, c.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Fields missing from the file keep their default values.
	newVals := c.defaults
	err = toml.Unmarshal(data, &newVals)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if newVals.ConfigSchema != SchemaVersion {
		log.Error().Msgf(
			"schema version mismatch: got %d, expecting %d",
			newVals.ConfigSchema,
			SchemaVersion,
		)
		return ErrSchemaMismatch
	}

	if err := c.validate.Struct(newVals); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	c.vals = newVals
	return nil
}

func (c *Instance) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	c.vals.ConfigSchema = SchemaVersion

	data, err := toml.Marshal(&c.vals)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := afero.WriteFile(c.fs, c.cfgPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Watch reloads the config whenever the file changes on disk and then
// calls onChange. It only works for configs backed by the OS filesystem.
// A file that fails to load leaves the previous values in place.
func (c *Instance) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}

	// Editors replace files rather than writing in place, so watch the
	// directory and filter on the name.
	dir := filepath.Dir(c.cfgPath)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go func() {
		defer func() {
			if err := watcher.Close(); err != nil {
				log.Debug().Err(err).Msg("error closing config watcher")
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(c.cfgPath) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := c.Load(); err != nil {
					log.Warn().Err(err).Msg("failed to reload config")
					continue
				}
				log.Info().Msg("config reloaded")
				if onChange != nil {
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()

	return nil
}

func (c *Instance) DebugLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.DebugLogging
}

func (c *Instance) SetDebugLogging(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.DebugLogging = enabled
}

func (c *Instance) ErrorReporting() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.ErrorReporting
}

func (c *Instance) SetErrorReporting(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.ErrorReporting = enabled
}
