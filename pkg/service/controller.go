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

package service

import (
	"context"
	"sync/atomic"

	"github.com/ZaparooProject/zaparoo-handheld/pkg/config"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/barcode"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/driver"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/uhf"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/uhfble"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/wakelock"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/service/broker"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/service/scheduler"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Drivers bundles the hardware factories a controller works with. A nil
// factory makes that peripheral class report NOT_SUPPORTED.
type Drivers struct {
	UHF     driver.UHFReaderFactory
	Barcode driver.BarcodeDecoderFactory
	BLE     driver.BLEReaderFactory
	// Unlocker is the last-resort release for a leaked decoder lock.
	Unlocker driver.EmergencyUnlocker
	// Link reports whether Bluetooth is usable. Optional.
	Link uhfble.LinkMonitor
}

type Options struct {
	Config    *config.Instance
	Hub       *broker.Broker
	Inhibitor wakelock.Inhibitor
	Clock     clockwork.Clock
	Drivers   Drivers
}

// Controller owns one session engine per peripheral class and exposes
// the host command surface. Every command error is a *CommandError.
type Controller struct {
	cfg       *config.Instance
	hub       *broker.Broker
	clock     clockwork.Clock
	sched     *scheduler.Scheduler
	uhf       *uhf.Reader
	barcode   *barcode.Scanner
	ble       *uhfble.Reader
	uhfGuard  *wakelock.Guard
	bleGuard  *wakelock.Guard
	unlocker  driver.EmergencyUnlocker
	host      driver.Host
	// settled closes once the cleanup that follows an attach has run.
	settled   chan struct{}
	id        string
	cleanups  atomic.Int64
	hostMu    syncutil.RWMutex
	cleanupMu syncutil.Mutex
}

func NewController(opts Options) *Controller {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	hub := opts.Hub
	if hub == nil {
		hub = broker.NewBroker()
	}
	sched := scheduler.New(clock)

	c := &Controller{
		id:       uuid.New().String(),
		cfg:      opts.Config,
		hub:      hub,
		clock:    clock,
		sched:    sched,
		unlocker: opts.Drivers.Unlocker,
		uhfGuard: wakelock.NewGuard(opts.Inhibitor, clock, "uhf reader connected"),
		bleGuard: wakelock.NewGuard(opts.Inhibitor, clock, "ble reader connected"),
	}
	c.uhf = uhf.NewReader(uhf.Options{
		Config:    opts.Config,
		Factory:   opts.Drivers.UHF,
		Publisher: hub,
		Guard:     c.uhfGuard,
		Clock:     clock,
	})
	c.barcode = barcode.NewScanner(barcode.Options{
		Config:    opts.Config,
		Factory:   opts.Drivers.Barcode,
		Publisher: hub,
		Scheduler: sched,
		Clock:     clock,
	})
	c.ble = uhfble.NewReader(uhfble.Options{
		Config:    opts.Config,
		Factory:   opts.Drivers.BLE,
		Publisher: hub,
		Guard:     c.bleGuard,
		Scheduler: sched,
		Link:      opts.Drivers.Link,
	})

	log.Debug().Str("instance", c.id).Msg("created session controller")
	return c
}

// ID identifies this controller instance in logs.
func (c *Controller) ID() string {
	return c.id
}

func (c *Controller) Hub() *broker.Broker {
	return c.hub
}

// SetHost points every engine at host. It is normally called by the
// attach hooks.
func (c *Controller) SetHost(host driver.Host) {
	c.hostMu.Lock()
	c.host = host
	c.hostMu.Unlock()
	c.barcode.SetHost(host)
	c.ble.SetHost(host)
}

func (c *Controller) currentHost() driver.Host {
	c.hostMu.RLock()
	defer c.hostMu.RUnlock()
	return c.host
}

// Connect opens the wired RFID reader.
func (c *Controller) Connect() error {
	return commandError(connectCodes, c.uhf.Connect(c.currentHost()))
}

func (c *Controller) IsConnected() bool {
	return c.uhf.IsConnected()
}

// StartSingleScan reports whether a tag was read.
func (c *Controller) StartSingleScan() (bool, error) {
	found, err := c.uhf.SingleScan()
	if err != nil {
		return false, commandError(scanCodes, err)
	}
	return found, nil
}

func (c *Controller) StartContinuousScan() error {
	return commandError(scanCodes, c.uhf.StartContinuous())
}

func (c *Controller) StopScan() error {
	return commandError(stopCodes, c.uhf.StopScan())
}

func (c *Controller) Close() error {
	return commandError(closeCodes, c.uhf.Close())
}

func (c *Controller) ConnectBarcode(ctx context.Context) error {
	return commandError(openBarcodeCodes, c.barcode.Connect(ctx))
}

func (c *Controller) ScanBarcodeContinuous(ctx context.Context) error {
	return commandError(scanBarcodeCodes, c.barcode.Scan(ctx, true))
}

func (c *Controller) ScanBarcodeSingle(ctx context.Context) error {
	return commandError(scanBarcodeCodes, c.barcode.Scan(ctx, false))
}

func (c *Controller) StopScanBarcode() error {
	return commandError(stopCodes, c.barcode.Stop())
}

func (c *Controller) CloseBarcode() error {
	return commandError(closeCodes, c.barcode.Close())
}

func (c *Controller) StartDiscovery(ctx context.Context) error {
	return commandError(scanCodes, c.ble.StartDiscovery(ctx))
}

func (c *Controller) StopDiscovery() error {
	return commandError(stopCodes, c.ble.StopDiscovery())
}

func (c *Controller) ConnectDevice(ctx context.Context, address string) error {
	return commandError(connectDeviceCodes, c.ble.ConnectDevice(ctx, address))
}

func (c *Controller) Disconnect() error {
	return commandError(closeCodes, c.ble.Disconnect())
}

func (c *Controller) SingleInventory() (bool, error) {
	found, err := c.ble.SingleInventory()
	if err != nil {
		return false, commandError(scanCodes, err)
	}
	return found, nil
}

func (c *Controller) StartInventory() error {
	return commandError(inventoryCodes, c.ble.StartInventory())
}

func (c *Controller) StopInventory() error {
	return commandError(stopCodes, c.ble.StopInventory())
}

func (c *Controller) GetBatteryLevel() (int, error) {
	level, err := c.ble.BatteryLevel()
	if err != nil {
		return 0, commandError(scanCodes, err)
	}
	return level, nil
}

func (c *Controller) GetConnectionStatus() bool {
	return c.ble.ConnectionStatus()
}

// Modes reports the current scan mode of each engine.
func (c *Controller) Modes() (uart, barcodeMode, ble readers.ScanMode) {
	return c.uhf.Mode(), c.barcode.Mode(), c.ble.Mode()
}

// GuardsHeld reports whether any wake lock is held.
func (c *Controller) GuardsHeld() bool {
	return c.uhfGuard.Held() || c.bleGuard.Held()
}
