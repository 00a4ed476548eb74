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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch_ReloadsOnWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg, err := NewConfig(afero.NewOsFs(), dir, BaseDefaults)
	require.NoError(t, err)
	require.False(t, cfg.DebugLogging())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 1)
	require.NoError(t, cfg.Watch(ctx, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}))

	err = os.WriteFile(filepath.Join(dir, CfgFile), []byte("config_schema = 1\ndebug_logging = true\n"), 0o600)
	require.NoError(t, err)

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
	assert.True(t, cfg.DebugLogging())
}
