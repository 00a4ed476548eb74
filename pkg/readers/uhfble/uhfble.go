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

// Package uhfble drives a Bluetooth UHF RFID sled: device discovery,
// connection, inventory and the sled's hardware trigger.
package uhfble

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/zaparoo-handheld/pkg/config"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/discovery"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/driver"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/wakelock"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/service/broker"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/service/scheduler"
	"github.com/rs/zerolog/log"
)

// Trigger key codes reported by the sled.
const (
	KeyTrigger = 1
	KeyBack    = 4
)

// LinkMonitor reports whether the host's Bluetooth adapter is usable.
type LinkMonitor interface {
	Enabled(ctx context.Context) (bool, error)
}

type Options struct {
	Config    *config.Instance
	Factory   driver.BLEReaderFactory
	Publisher broker.Publisher
	Guard     *wakelock.Guard
	Scheduler *scheduler.Scheduler
	Link      LinkMonitor
}

type Reader struct {
	cfg          *config.Instance
	factory      driver.BLEReaderFactory
	pub          broker.Publisher
	guard        *wakelock.Guard
	sched        *scheduler.Scheduler
	link         LinkMonitor
	host         driver.Host
	dev          driver.BLEReader
	pending      *readers.Result[driver.DeviceInfo]
	stopWindow   func()
	seen         discovery.Registry
	status       readers.StatusDedup
	mu           syncutil.Mutex
	discovering  bool
	inventorying bool
}

func NewReader(opts Options) *Reader {
	sched := opts.Scheduler
	if sched == nil {
		sched = scheduler.New(nil)
	}
	guard := opts.Guard
	if guard == nil {
		guard = wakelock.NewGuard(nil, nil, "ble")
	}
	return &Reader{
		cfg:     opts.Config,
		factory: opts.Factory,
		pub:     opts.Publisher,
		guard:   guard,
		sched:   sched,
		link:    opts.Link,
	}
}

func (r *Reader) SetHost(host driver.Host) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.host = host
}

// Mode is continuous while an inventory runs on the sled.
func (r *Reader) Mode() readers.ScanMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inventorying {
		return readers.ScanContinuous
	}
	return readers.ScanIdle
}

func (r *Reader) Discovering() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.discovering
}

// ensureLocked creates and initialises the driver on first use.
func (r *Reader) ensureLocked() (driver.BLEReader, error) {
	if r.dev != nil {
		return r.dev, nil
	}
	if r.host == nil {
		return nil, readers.ErrInvalidArgument
	}
	if r.factory == nil {
		return nil, readers.ErrNoDriver
	}

	var dev driver.BLEReader
	err := driver.Safe("create ble reader", func() error {
		var err error
		dev, err = r.factory()
		if err == nil && dev == nil {
			err = errors.New("factory returned no reader")
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	host := r.host
	var ok bool
	err = driver.Safe("init ble reader", func() error {
		var err error
		ok, err = dev.Init(host)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Warn().Msg("ble reader init returned false")
	}
	r.dev = dev
	return dev, nil
}

// StartDiscovery opens a discovery window. Devices are published on the
// discovery stream the first time they are seen in the window, and the
// window closes by itself after the configured period.
func (r *Reader) StartDiscovery(ctx context.Context) error {
	if r.link != nil {
		enabled, err := r.link.Enabled(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("could not read bluetooth adapter state")
		} else if !enabled {
			return fmt.Errorf("ble discovery: %w", readers.ErrLinkDisabled)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	dev, err := r.ensureLocked()
	if err != nil {
		return fmt.Errorf("ble discovery: %w", err)
	}
	if r.discovering {
		return nil
	}

	r.seen.BeginWindow()
	r.discovering = true
	r.stopWindow = r.sched.After("ble discovery window", r.discoveryWindow(), func() {
		log.Debug().Msg("ble discovery window elapsed")
		if err := r.StopDiscovery(); err != nil {
			log.Warn().Err(err).Msg("failed to auto-stop ble discovery")
		}
	})

	err = driver.Safe("start ble discovery", func() error {
		return dev.StartDiscovery(r.onDevice)
	})
	if err != nil {
		r.discovering = false
		r.stopWindow()
		r.stopWindow = nil
		return fmt.Errorf("ble discovery: %w", err)
	}

	log.Info().Msg("ble discovery started")
	return nil
}

// StopDiscovery closes the discovery window if one is open.
func (r *Reader) StopDiscovery() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopDiscoveryLocked()
}

func (r *Reader) stopDiscoveryLocked() error {
	if r.dev == nil || !r.discovering {
		return nil
	}
	r.discovering = false
	if r.stopWindow != nil {
		r.stopWindow()
		r.stopWindow = nil
	}
	if err := driver.Safe("stop ble discovery", r.dev.StopDiscovery); err != nil {
		return fmt.Errorf("ble stop discovery: %w", err)
	}
	log.Info().Int("devices", r.seen.Len()).Msg("ble discovery stopped")
	return nil
}

func (r *Reader) onDevice(info driver.DeviceInfo, rssi int) {
	if !r.Discovering() {
		return
	}
	dev := readers.DiscoveredDevice{Name: info.Name, Address: info.Address}
	if !r.seen.Observe(dev) {
		return
	}
	log.Debug().Str("name", dev.Name).Str("address", dev.Address).Int("rssi", rssi).
		Msg("found new ble device")
	r.publish(broker.StreamDiscovery, dev)
}

// ConnectDevice connects to the sled at address and waits for the first
// link outcome, bounded by ctx and the configured connect timeout.
func (r *Reader) ConnectDevice(ctx context.Context, address string) error {
	if address == "" {
		return fmt.Errorf("ble connect: address required: %w", readers.ErrInvalidArgument)
	}

	res := readers.NewResult[driver.DeviceInfo]()

	r.mu.Lock()
	dev, err := r.ensureLocked()
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("ble connect: %w", err)
	}
	if r.pending != nil {
		r.pending.Fail(errors.New("superseded by a newer connect"))
	}
	r.pending = res
	r.mu.Unlock()

	log.Info().Str("address", address).Msg("connecting to ble reader")
	err = driver.Safe("ble connect", func() error {
		return dev.Connect(address, func(status driver.ConnectStatus, info driver.DeviceInfo) {
			r.onStatus(res, status, info)
		})
	})
	if err != nil {
		res.Fail(err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.connectTimeout())
	defer cancel()
	info, err := res.Wait(ctx)
	if err != nil {
		return fmt.Errorf("ble connect: %w", err)
	}
	log.Info().Str("name", info.Name).Str("address", info.Address).Msg("ble reader connected")
	return nil
}

// onStatus applies a link event from the connect that produced res.
// Events from a superseded or released connect are dropped.
func (r *Reader) onStatus(res *readers.Result[driver.DeviceInfo], status driver.ConnectStatus, info driver.DeviceInfo) {
	if status == driver.StatusConnecting {
		log.Debug().Str("address", info.Address).Msg("ble reader connecting")
		return
	}

	r.mu.Lock()
	if r.pending != res {
		r.mu.Unlock()
		log.Debug().Str("address", info.Address).Stringer("status", status).
			Msg("ignoring stale ble link event")
		return
	}

	switch status {
	case driver.StatusConnected:
		if err := r.guard.Acquire(r.wakeLockHint()); err != nil {
			log.Warn().Err(err).Msg("ble connected without wake lock")
		}
		r.publishStatus(true)
		dev := r.dev
		r.mu.Unlock()
		r.installKeyHandler(dev)
		res.Complete(info)
	case driver.StatusDisconnected:
		r.inventorying = false
		r.guard.Release()
		r.publishStatus(false)
		r.mu.Unlock()
		res.Fail(readers.ErrDisconnected)
		log.Info().Str("address", info.Address).Msg("ble reader disconnected")
	default:
		r.mu.Unlock()
	}
}

func (r *Reader) installKeyHandler(dev driver.BLEReader) {
	if dev == nil {
		return
	}
	err := driver.Safe("set key callback", func() error {
		dev.SetKeyEventCallback(r.onKey)
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to install trigger handler")
	}
}

// onKey maps the sled trigger onto inventory: press starts it, release
// (or the back key) stops it.
func (r *Reader) onKey(ev driver.KeyEvent) {
	switch {
	case ev.Down && ev.Code == KeyTrigger:
		if r.Mode() == readers.ScanContinuous {
			return
		}
		if err := r.StartInventory(); err != nil {
			log.Warn().Err(err).Msg("trigger failed to start inventory")
		}
	case !ev.Down && (ev.Code == KeyTrigger || ev.Code == KeyBack):
		if r.Mode() != readers.ScanContinuous {
			return
		}
		if err := r.StopInventory(); err != nil {
			log.Warn().Err(err).Msg("trigger failed to stop inventory")
		}
	}
}

// Disconnect drops the link. It is a no-op without a reader.
func (r *Reader) Disconnect() error {
	r.mu.Lock()
	dev := r.dev
	r.inventorying = false
	r.mu.Unlock()
	if dev == nil {
		return nil
	}

	err := driver.Safe("ble disconnect", dev.Disconnect)
	r.guard.Release()
	r.publishStatus(false)
	if err != nil {
		return fmt.Errorf("ble disconnect: %w", err)
	}
	return nil
}

// connectedLocked returns the driver if its link is up.
func (r *Reader) connectedLocked() (driver.BLEReader, bool) {
	if r.dev == nil {
		return nil, false
	}
	var status driver.ConnectStatus
	err := driver.Safe("ble status", func() error {
		status = r.dev.ConnectStatus()
		return nil
	})
	if err != nil || status != driver.StatusConnected {
		return nil, false
	}
	return r.dev, true
}

func (r *Reader) ConnectionStatus() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.connectedLocked()
	return ok
}

// SingleInventory reads one tag. An empty field is (false, nil).
func (r *Reader) SingleInventory() (bool, error) {
	r.mu.Lock()
	dev, ok := r.connectedLocked()
	if !ok {
		r.mu.Unlock()
		return false, fmt.Errorf("ble single inventory: %w", readers.ErrNotConnected)
	}
	var tag *driver.TagInfo
	err := driver.Safe("ble inventory", func() error {
		var err error
		tag, err = dev.InventorySingleTag()
		return err
	})
	r.mu.Unlock()

	if err != nil {
		return false, fmt.Errorf("ble single inventory: %w", err)
	}
	if tag == nil {
		return false, nil
	}
	r.publish(broker.StreamTags, readers.NewTagReading(tag))
	return true, nil
}

// StartInventory starts continuous inventory on the sled. Tags arrive
// through the driver callback.
func (r *Reader) StartInventory() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.connectedLocked()
	if !ok {
		return fmt.Errorf("ble start inventory: %w", readers.ErrNotConnected)
	}
	if r.inventorying {
		return nil
	}

	var started bool
	err := driver.Safe("ble start inventory", func() error {
		dev.SetInventoryCallback(r.onTag)
		var err error
		started, err = dev.StartInventoryTag()
		return err
	})
	if err != nil {
		return fmt.Errorf("ble start inventory: %w: %w", readers.ErrStartFailed, err)
	}
	if !started {
		return fmt.Errorf("ble start inventory: %w", readers.ErrStartFailed)
	}
	r.inventorying = true
	log.Info().Msg("ble inventory started")
	return nil
}

// StopInventory stops a running inventory. It succeeds without a link.
func (r *Reader) StopInventory() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, ok := r.connectedLocked()
	if !ok {
		return nil
	}
	r.inventorying = false
	if err := driver.Safe("ble stop inventory", dev.StopInventory); err != nil {
		return fmt.Errorf("ble stop inventory: %w", err)
	}
	log.Info().Msg("ble inventory stopped")
	return nil
}

func (r *Reader) onTag(tag *driver.TagInfo) {
	if tag == nil {
		return
	}
	r.publish(broker.StreamTags, readers.NewTagReading(tag))
}

// BatteryLevel reads the sled battery and publishes it on the config
// stream.
func (r *Reader) BatteryLevel() (int, error) {
	r.mu.Lock()
	dev, ok := r.connectedLocked()
	if !ok {
		r.mu.Unlock()
		return 0, fmt.Errorf("ble battery: %w", readers.ErrNotConnected)
	}
	var level int
	err := driver.Safe("ble battery", func() error {
		var err error
		level, err = dev.Battery()
		return err
	})
	r.mu.Unlock()

	if err != nil {
		return 0, fmt.Errorf("ble battery: %w", err)
	}
	r.publish(broker.StreamConfig, readers.BatteryReport{Type: "battery", Level: level})
	return level, nil
}

// Halt marks inventory stopped without touching the driver.
func (r *Reader) Halt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inventorying = false
}

// Release tears everything down for forced cleanup. It never fails.
func (r *Reader) Release() {
	r.mu.Lock()
	dev := r.dev
	r.dev = nil
	r.inventorying = false
	r.discovering = false
	if r.stopWindow != nil {
		r.stopWindow()
		r.stopWindow = nil
	}
	pending := r.pending
	r.pending = nil
	r.guard.Release()
	r.publishStatus(false)
	r.mu.Unlock()

	if pending != nil {
		pending.Fail(readers.ErrDisconnected)
	}

	if dev != nil {
		steps := []struct {
			fn func() error
			op string
		}{
			{op: "ble stop inventory", fn: dev.StopInventory},
			{op: "ble stop discovery", fn: dev.StopDiscovery},
			{op: "ble disconnect", fn: dev.Disconnect},
			{op: "ble free", fn: dev.Free},
		}
		for _, s := range steps {
			if err := driver.Safe(s.op, s.fn); err != nil {
				log.Debug().Err(err).Msg("ble release step failed")
			}
		}
	}
}

func (r *Reader) publish(stream broker.Stream, payload any) {
	if r.pub == nil {
		return
	}
	r.pub.Publish(stream, payload)
}

func (r *Reader) publishStatus(connected bool) {
	if !r.status.Changed(connected) {
		return
	}
	r.publish(broker.StreamConnection, readers.ConnectionStatus{
		Link:      readers.LinkBLE,
		Connected: connected,
	})
}

func (r *Reader) discoveryWindow() time.Duration {
	if r.cfg == nil {
		return config.DefaultDiscoveryWindow
	}
	return r.cfg.BLEDiscoveryWindow()
}

func (r *Reader) connectTimeout() time.Duration {
	if r.cfg == nil {
		return config.DefaultConnectTimeout
	}
	return r.cfg.BLEConnectTimeout()
}

func (r *Reader) wakeLockHint() time.Duration {
	if r.cfg == nil {
		return config.DefaultWakeLock
	}
	return r.cfg.WakeLockDuration()
}
