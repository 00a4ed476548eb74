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

//go:build linux

package wakelock

import (
	"fmt"
	"io"
	"os"

	"github.com/godbus/dbus/v5"
)

const (
	logindService = "org.freedesktop.login1"
	logindPath    = "/org/freedesktop/login1"
	logindInhibit = "org.freedesktop.login1.Manager.Inhibit"
)

// LogindInhibitor takes a systemd-logind "block" inhibitor lock on sleep
// and idle. The lock lives as long as the returned file descriptor.
type LogindInhibitor struct {
	who string
}

// NewSystemInhibitor returns the platform keep-alive backend.
func NewSystemInhibitor(who string) Inhibitor {
	return &LogindInhibitor{who: who}
}

func (l *LogindInhibitor) Inhibit(why string) (io.Closer, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system D-Bus: %w", err)
	}

	var fd dbus.UnixFD
	obj := conn.Object(logindService, logindPath)
	err = obj.Call(logindInhibit, 0, "sleep:idle", l.who, why, "block").Store(&fd)
	if err != nil {
		return nil, fmt.Errorf("logind inhibit call failed: %w", err)
	}

	return os.NewFile(uintptr(fd), "logind-inhibit"), nil
}
