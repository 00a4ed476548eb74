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

// Package testutils provides common testing utilities for reader tests.
package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

// CreateTempDevicePath creates a file standing in for a device node.
func CreateTempDevicePath(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ttyTEST0")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	return path
}

// MockPortFactory returns a factory that always hands out port and
// records the mode it was opened with.
func MockPortFactory(port *MockSerialPort, mode **serial.Mode) SerialPortFactory {
	return func(_ string, m *serial.Mode) (SerialPort, error) {
		if mode != nil {
			*mode = m
		}
		return port, nil
	}
}
