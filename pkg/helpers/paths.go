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

package helpers

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/adrg/xdg"
)

const (
	AppName = "zaparoo-handheld"
	// UserDir next to the executable overrides the XDG directories, for
	// portable installs on the handheld's SD card.
	UserDir = "user"
	LogFile = "handheld.log"
	// AppEnv overrides the executable path used to find UserDir.
	AppEnv = "ZAPAROO_HANDHELD_APP"
)

var (
	userDirOnce   sync.Once
	userDirCache  string
	userDirExists bool
)

func HasUserDir() (string, bool) {
	userDirOnce.Do(func() {
		exe := os.Getenv(AppEnv)
		if exe == "" {
			var err error
			exe, err = os.Executable()
			if err != nil {
				return
			}
		}

		userDir := filepath.Join(filepath.Dir(exe), UserDir)
		info, err := os.Stat(userDir)
		if err != nil || !info.IsDir() {
			return
		}

		userDirCache = userDir
		userDirExists = true
	})

	return userDirCache, userDirExists
}

func ConfigDir() string {
	if v, ok := HasUserDir(); ok {
		return v
	}
	return filepath.Join(xdg.ConfigHome, AppName)
}

func DataDir() string {
	if v, ok := HasUserDir(); ok {
		return v
	}
	return filepath.Join(xdg.DataHome, AppName)
}

// LogDir is where the rotating log file is written.
func LogDir() string {
	if v, ok := HasUserDir(); ok {
		return filepath.Join(v, "logs")
	}
	return filepath.Join(xdg.StateHome, AppName)
}
