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

// Package readers holds the types shared by every handheld peripheral
// engine: tag readings, discovered devices, connection and scan states and
// the errors the engines report to the controller.
package readers

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when an operation needs a live handle
	// and none exists.
	ErrNotConnected = errors.New("not connected")
	// ErrConnectFailed is returned once the connect retry budget is spent.
	ErrConnectFailed = errors.New("connect failed")
	// ErrInvalidArgument is returned for a missing address or host.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrStartFailed is returned when the driver refuses to start an
	// inventory or scan.
	ErrStartFailed = errors.New("start failed")
	// ErrLinkDisabled is returned when Bluetooth is switched off.
	ErrLinkDisabled = errors.New("bluetooth link disabled")
	// ErrNoDriver is returned when no driver is configured for a
	// peripheral class.
	ErrNoDriver = errors.New("no driver configured")
	// ErrDisconnected is returned when a link drops before a pending
	// connect completes.
	ErrDisconnected = errors.New("disconnected")
)

// Barcode stream sentinels.
const (
	BarcodeScanning = "SCANNING"
	BarcodeStopped  = "STOPPED"
)

// Link names used in connection status events.
const (
	LinkUART = "uart"
	LinkBLE  = "ble"
)

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

type ScanMode int32

const (
	ScanIdle ScanMode = iota
	ScanSingleShot
	ScanContinuous
)

func (m ScanMode) String() string {
	switch m {
	case ScanIdle:
		return "idle"
	case ScanSingleShot:
		return "single"
	case ScanContinuous:
		return "continuous"
	default:
		return fmt.Sprintf("ScanMode(%d)", int(m))
	}
}

// TagReading is one successful inventory poll. Raw fields hold the hex
// payload as reported by the reader, Text fields the decoded rendering.
type TagReading struct {
	EPCRaw   string `json:"epc_hex"`
	EPCText  string `json:"epc_ascii"`
	TIDRaw   string `json:"tid_hex"`
	TIDText  string `json:"tid_ascii"`
	UserRaw  string `json:"user_hex"`
	UserText string `json:"user_ascii"`
	RSSI     string `json:"rssi"`
	Count    int    `json:"count"`
}

// DiscoveredDevice is a peripheral announced during a discovery window.
type DiscoveredDevice struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// ConnectionStatus is published on the connection stream.
type ConnectionStatus struct {
	Link      string `json:"link"`
	Connected bool   `json:"connection"`
}

// BatteryReport is published on the config stream.
type BatteryReport struct {
	Type  string `json:"type"`
	Level int    `json:"battery"`
}
