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

// Package helpers provides filesystem and config fixtures for tests.
package helpers

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/ZaparooProject/zaparoo-handheld/pkg/config"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

// ConfigDir is where test configs live on the in-memory filesystem.
const ConfigDir = "/test/config"

// FSHelper provides utilities for filesystem mocking in tests
type FSHelper struct {
	Fs afero.Fs
}

// NewMemoryFS creates a new in-memory filesystem for testing
func NewMemoryFS() *FSHelper {
	return &FSHelper{
		Fs: afero.NewMemMapFs(),
	}
}

// CreateConfigFile writes vals as TOML to path.
func (h *FSHelper) CreateConfigFile(path string, vals config.Values) error {
	data, err := toml.Marshal(vals)
	if err != nil {
		return fmt.Errorf("failed to marshal config to TOML: %w", err)
	}
	if err := h.Fs.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create directory for config file: %w", err)
	}
	if err := afero.WriteFile(h.Fs, path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (h *FSHelper) FileExists(path string) bool {
	ok, err := afero.Exists(h.Fs, path)
	return err == nil && ok
}

// NewTestConfig returns a config backed by an in-memory filesystem. A nil
// fs gets a fresh one; mutate applies before the file is first written.
func NewTestConfig(t *testing.T, fs afero.Fs, mutate func(*config.Values)) *config.Instance {
	t.Helper()
	if fs == nil {
		fs = afero.NewMemMapFs()
	}
	vals := config.BaseDefaults
	if mutate != nil {
		mutate(&vals)
		h := &FSHelper{Fs: fs}
		require.NoError(t, h.CreateConfigFile(filepath.Join(ConfigDir, config.CfgFile), vals))
	}
	cfg, err := config.NewConfig(fs, ConfigDir, vals)
	require.NoError(t, err)
	return cfg
}
