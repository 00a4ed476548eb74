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
	"time"
)

const (
	DriverReader18  = "reader18"
	DriverSerial    = "serial"
	DriverSimulated = "simulated"
)

const (
	DefaultUHFBaudRate     = 57600
	DefaultBarcodeBaudRate = 9600
	DefaultMaxAttempts     = 3
	DefaultMinIteration    = 5 * time.Millisecond
	DefaultStopSettle      = 50 * time.Millisecond
	DefaultBackoffStep     = 500 * time.Millisecond
	DefaultSettleDelay     = 800 * time.Millisecond
	DefaultRestartDelay    = 300 * time.Millisecond
	DefaultRetryDelay      = 100 * time.Millisecond
	DefaultDecodeTimeout   = 3 * time.Second
	DefaultDiscoveryWindow = 10 * time.Second
	DefaultConnectTimeout  = 30 * time.Second
)

type Readers struct {
	UHF     ReadersUHF     `toml:"uhf"`
	Barcode ReadersBarcode `toml:"barcode"`
	BLE     ReadersBLE     `toml:"ble"`
}

type ReadersUHF struct {
	Driver         string `toml:"driver" validate:"omitempty,oneof=reader18 simulated"`
	Path           string `toml:"path,omitempty"`
	BaudRate       int    `toml:"baud_rate,omitempty" validate:"gte=0"`
	MinIterationMs int    `toml:"min_iteration_ms,omitempty" validate:"gte=0"`
	StopSettleMs   int    `toml:"stop_settle_ms,omitempty" validate:"gte=0"`
}

type ReadersBarcode struct {
	Driver          string `toml:"driver" validate:"omitempty,oneof=serial simulated"`
	Path            string `toml:"path,omitempty"`
	BaudRate        int    `toml:"baud_rate,omitempty" validate:"gte=0"`
	MaxAttempts     int    `toml:"max_attempts,omitempty" validate:"gte=0,lte=20"`
	BackoffStepMs   int    `toml:"backoff_step_ms,omitempty" validate:"gte=0"`
	SettleDelayMs   int    `toml:"settle_delay_ms,omitempty" validate:"gte=0"`
	RestartDelayMs  int    `toml:"restart_delay_ms,omitempty" validate:"gte=0"`
	RetryDelayMs    int    `toml:"retry_delay_ms,omitempty" validate:"gte=0"`
	DecodeTimeoutMs int    `toml:"decode_timeout_ms,omitempty" validate:"gte=0"`
}

type ReadersBLE struct {
	Driver            string `toml:"driver" validate:"omitempty,oneof=simulated"`
	DiscoveryWindowMs int    `toml:"discovery_window_ms,omitempty" validate:"gte=0"`
	ConnectTimeoutMs  int    `toml:"connect_timeout_ms,omitempty" validate:"gte=0"`
}

// msOr converts a millisecond setting, using def when it is unset.
func msOr(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func (c *Instance) UHF() ReadersUHF {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Readers.UHF
}

func (c *Instance) SetUHFDriver(driver, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Readers.UHF.Driver = driver
	c.vals.Readers.UHF.Path = path
}

func (c *Instance) UHFBaudRate() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Readers.UHF.BaudRate <= 0 {
		return DefaultUHFBaudRate
	}
	return c.vals.Readers.UHF.BaudRate
}

// UHFMinIteration is the shortest continuous inventory iteration that
// does not yield the processor.
func (c *Instance) UHFMinIteration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return msOr(c.vals.Readers.UHF.MinIterationMs, DefaultMinIteration)
}

func (c *Instance) UHFStopSettle() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return msOr(c.vals.Readers.UHF.StopSettleMs, DefaultStopSettle)
}

func (c *Instance) Barcode() ReadersBarcode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Readers.Barcode
}

func (c *Instance) SetBarcodeDriver(driver, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Readers.Barcode.Driver = driver
	c.vals.Readers.Barcode.Path = path
}

func (c *Instance) BarcodeBaudRate() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Readers.Barcode.BaudRate <= 0 {
		return DefaultBarcodeBaudRate
	}
	return c.vals.Readers.Barcode.BaudRate
}

func (c *Instance) BarcodeMaxAttempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Readers.Barcode.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return c.vals.Readers.Barcode.MaxAttempts
}

func (c *Instance) BarcodeBackoffStep() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return msOr(c.vals.Readers.Barcode.BackoffStepMs, DefaultBackoffStep)
}

// BarcodeSettleDelay is the warm-up wait between opening a decoder and
// starting its first scan.
func (c *Instance) BarcodeSettleDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return msOr(c.vals.Readers.Barcode.SettleDelayMs, DefaultSettleDelay)
}

func (c *Instance) BarcodeRestartDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return msOr(c.vals.Readers.Barcode.RestartDelayMs, DefaultRestartDelay)
}

func (c *Instance) BarcodeRetryDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return msOr(c.vals.Readers.Barcode.RetryDelayMs, DefaultRetryDelay)
}

func (c *Instance) BarcodeDecodeTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return msOr(c.vals.Readers.Barcode.DecodeTimeoutMs, DefaultDecodeTimeout)
}

func (c *Instance) BLE() ReadersBLE {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Readers.BLE
}

func (c *Instance) SetBLEDriver(driver string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Readers.BLE.Driver = driver
}

func (c *Instance) BLEDiscoveryWindow() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return msOr(c.vals.Readers.BLE.DiscoveryWindowMs, DefaultDiscoveryWindow)
}

func (c *Instance) BLEConnectTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return msOr(c.vals.Readers.BLE.ConnectTimeoutMs, DefaultConnectTimeout)
}
