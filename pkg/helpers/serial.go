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
	"fmt"
	"runtime"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

// Handheld scanners expose their RFID module and barcode engine on
// on-board UARTs (ttyS, ttyHS, ttyMSM) rather than the USB serial nodes
// desktop readers use.
var serialPrefixes = map[string][]string{
	"linux":   {"/dev/ttyS", "/dev/ttyHS", "/dev/ttyMSM", "/dev/ttyUSB", "/dev/ttyACM"},
	"darwin":  {"/dev/tty.usbserial"},
	"windows": {"COM"},
}

// GetSerialDeviceList returns the serial ports a reader could be attached
// to, sorted by name.
func GetSerialDeviceList() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports list: %w", err)
	}

	prefixes, ok := serialPrefixes[runtime.GOOS]
	if !ok {
		return ports, nil
	}

	devices := make([]string, 0, len(ports))
	for _, p := range ports {
		if hasAnyPrefix(p, prefixes) {
			devices = append(devices, p)
		}
	}
	slices.Sort(devices)

	log.Debug().Strs("ports", devices).Msg("serial devices found")
	return devices, nil
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
