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

package simulated

import (
	"sync"

	"github.com/ZaparooProject/zaparoo-handheld/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/driver"
)

const DefaultBattery = 87

// BLEReader is a Bluetooth sled. Link changes and discovery results are
// delivered from driver goroutines, as a real stack would.
type BLEReader struct {
	statusCb        driver.StatusCallback
	invCb           driver.InventoryCallback
	keyCb           driver.KeyEventCallback
	address         string
	Devices         []driver.DeviceInfo
	tags            []driver.TagInfo
	callbacks       sync.WaitGroup
	BatteryLevel    int
	status          driver.ConnectStatus
	discoveries     int
	mu              syncutil.Mutex
	RefuseConnect   bool
	RefuseInventory bool
	discovering     bool
	inventory       bool
}

func NewBLEReader(devices ...driver.DeviceInfo) *BLEReader {
	return &BLEReader{
		Devices:      devices,
		BatteryLevel: DefaultBattery,
	}
}

func (r *BLEReader) Factory() driver.BLEReaderFactory {
	return func() (driver.BLEReader, error) {
		return r, nil
	}
}

func (*BLEReader) Init(driver.Host) (bool, error) {
	return true, nil
}

func (r *BLEReader) Connect(address string, cb driver.StatusCallback) error {
	r.mu.Lock()
	r.statusCb = cb
	r.address = address
	r.status = driver.StatusConnecting
	next := driver.StatusConnected
	if r.RefuseConnect {
		next = driver.StatusDisconnected
	}
	r.mu.Unlock()

	r.callbacks.Add(1)
	go func() {
		defer r.callbacks.Done()
		r.setStatus(next)
	}()
	return nil
}

func (r *BLEReader) Disconnect() error {
	r.mu.Lock()
	r.status = driver.StatusDisconnected
	r.inventory = false
	r.mu.Unlock()

	r.callbacks.Add(1)
	go func() {
		defer r.callbacks.Done()
		r.setStatus(driver.StatusDisconnected)
	}()
	return nil
}

// DropLink reports an unexpected link loss.
func (r *BLEReader) DropLink() {
	r.setStatus(driver.StatusDisconnected)
}

func (r *BLEReader) setStatus(status driver.ConnectStatus) {
	r.mu.Lock()
	r.status = status
	if status == driver.StatusDisconnected {
		r.inventory = false
	}
	cb := r.statusCb
	dev := driver.DeviceInfo{Name: "UHF sled", Address: r.address}
	r.mu.Unlock()

	if cb != nil {
		cb(status, dev)
	}
}

func (r *BLEReader) ConnectStatus() driver.ConnectStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// StartDiscovery announces every device twice, since real stacks repeat
// advertisements.
func (r *BLEReader) StartDiscovery(cb driver.DeviceCallback) error {
	r.mu.Lock()
	r.discovering = true
	r.discoveries++
	devices := append([]driver.DeviceInfo(nil), r.Devices...)
	r.mu.Unlock()

	r.callbacks.Add(1)
	go func() {
		defer r.callbacks.Done()
		for range 2 {
			for i, d := range devices {
				if !r.Discovering() {
					return
				}
				cb(d, -40-i)
			}
		}
	}()
	return nil
}

func (r *BLEReader) StopDiscovery() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discovering = false
	return nil
}

func (r *BLEReader) Discovering() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.discovering
}

func (r *BLEReader) Discoveries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.discoveries
}

// Queue appends tags for InventorySingleTag.
func (r *BLEReader) Queue(tags ...driver.TagInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tags = append(r.tags, tags...)
}

func (r *BLEReader) InventorySingleTag() (*driver.TagInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.tags) == 0 {
		return nil, nil //nolint:nilnil // no tag in the field is not an error
	}
	tag := r.tags[0]
	r.tags = r.tags[1:]
	return &tag, nil
}

func (r *BLEReader) SetInventoryCallback(cb driver.InventoryCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invCb = cb
}

func (r *BLEReader) StartInventoryTag() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.RefuseInventory {
		return false, nil
	}
	r.inventory = true
	return true, nil
}

func (r *BLEReader) StopInventory() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inventory = false
	return nil
}

func (r *BLEReader) Inventory() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inventory
}

// EmitTag delivers a tag to the inventory callback while an inventory
// runs. It reports whether the tag was delivered.
func (r *BLEReader) EmitTag(tag driver.TagInfo) bool {
	r.mu.Lock()
	cb := r.invCb
	running := r.inventory
	r.mu.Unlock()
	if cb == nil || !running {
		return false
	}
	cb(&tag)
	return true
}

func (r *BLEReader) SetKeyEventCallback(cb driver.KeyEventCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keyCb = cb
}

// PressKey delivers a trigger key event.
func (r *BLEReader) PressKey(code int, down bool) {
	r.mu.Lock()
	cb := r.keyCb
	r.mu.Unlock()
	if cb != nil {
		cb(driver.KeyEvent{Code: code, Down: down})
	}
}

func (r *BLEReader) Battery() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.BatteryLevel, nil
}

// Free waits for outstanding driver callbacks.
func (r *BLEReader) Free() error {
	r.callbacks.Wait()
	return nil
}
