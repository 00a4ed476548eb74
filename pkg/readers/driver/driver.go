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

// Package driver describes the hardware capabilities the session engines
// consume. Implementations wrap vendor SDKs or serial protocols; every
// method may fail, panic or block, so engines call them through Safe.
package driver

import (
	"errors"
	"fmt"
)

// ErrPanic marks an error recovered from a panicking driver call.
var ErrPanic = errors.New("driver panic")

// Host is the execution environment a driver binds to when it is opened.
// The controller receives it on attach and drops it on detach.
type Host interface {
	ID() string
}

// StaticHost is a Host identified by a fixed string.
type StaticHost string

func (h StaticHost) ID() string { return string(h) }

// ConnectStatus is the link state reported by a Bluetooth reader.
type ConnectStatus int

const (
	StatusDisconnected ConnectStatus = iota
	StatusConnecting
	StatusConnected
)

func (s ConnectStatus) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusConnecting:
		return "connecting"
	default:
		return "disconnected"
	}
}

// TagInfo is the raw result of one inventory poll. Memory banks are hex.
type TagInfo struct {
	EPC   string
	TID   string
	User  string
	RSSI  string
	Count int
}

// DecodeCode classifies a barcode decode attempt.
type DecodeCode int

const (
	DecodeSuccess DecodeCode = iota
	DecodeFailed
	DecodeTimeout
	DecodeCancelled
)

// DecodeResult is delivered to a DecodeCallback after each scan attempt.
type DecodeResult struct {
	Data string
	Code DecodeCode
}

// OK reports whether the decode produced data.
func (r DecodeResult) OK() bool {
	return r.Code == DecodeSuccess
}

type (
	// DecodeCallback receives decode outcomes on a driver goroutine.
	DecodeCallback func(DecodeResult)
	// StatusCallback receives link changes for a Bluetooth connect.
	StatusCallback func(status ConnectStatus, device DeviceInfo)
	// DeviceCallback receives peripherals seen during discovery.
	DeviceCallback func(device DeviceInfo, rssi int)
	// InventoryCallback receives tags found by a running inventory.
	InventoryCallback func(*TagInfo)
	// KeyEventCallback receives hardware trigger key events.
	KeyEventCallback func(event KeyEvent)
)

// DeviceInfo identifies a Bluetooth peripheral.
type DeviceInfo struct {
	Name    string
	Address string
}

// KeyEvent is a press or release of a hardware key on the reader.
type KeyEvent struct {
	Code int
	Down bool
}

// UHFReader is a UART attached UHF RFID module.
type UHFReader interface {
	Init(host Host) (bool, error)
	InventorySingleTag() (*TagInfo, error)
	StopInventory() error
	Free() error
}

// BarcodeDecoder is an exclusive handle on a barcode engine. Only one may
// be open per device at a time.
type BarcodeDecoder interface {
	Open(host Host) (bool, error)
	Close() error
	StartScan() error
	StopScan() error
	SetDecodeCallback(cb DecodeCallback)
}

// BLEReader is a Bluetooth UHF RFID sled.
type BLEReader interface {
	Init(host Host) (bool, error)
	Connect(address string, cb StatusCallback) error
	Disconnect() error
	ConnectStatus() ConnectStatus
	StartDiscovery(cb DeviceCallback) error
	StopDiscovery() error
	InventorySingleTag() (*TagInfo, error)
	SetInventoryCallback(cb InventoryCallback)
	StartInventoryTag() (bool, error)
	StopInventory() error
	SetKeyEventCallback(cb KeyEventCallback)
	Battery() (int, error)
	Free() error
}

// EmergencyUnlocker is implemented by decoder factories whose exclusive
// device lock can outlive the process that took it. ReleaseAll drops every
// lock the factory knows about, including ones held by handles this
// process no longer references.
//
// It is unsafe: calling it while another component uses the device breaks
// that component. Only forced cleanup should call it.
type EmergencyUnlocker interface {
	ReleaseAll() error
}

type (
	UHFReaderFactory      func() (UHFReader, error)
	BarcodeDecoderFactory func() (BarcodeDecoder, error)
	BLEReaderFactory      func() (BLEReader, error)
)

// Safe runs a driver call and converts a panic into an error.
func Safe(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: %w: %v", op, ErrPanic, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
