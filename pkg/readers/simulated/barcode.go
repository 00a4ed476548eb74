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
	"errors"

	"github.com/ZaparooProject/zaparoo-handheld/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/driver"
)

var ErrDecoderClosed = errors.New("simulated decoder closed")

// Decoder is a barcode engine whose decodes are injected with Decode.
type Decoder struct {
	cb       driver.DecodeCallback
	StartErr error
	starts   int
	stops    int
	closes   int
	mu       syncutil.Mutex
	refuse   bool
	open     bool
	scanning bool
}

func (d *Decoder) Open(driver.Host) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refuse {
		return false, nil
	}
	d.open = true
	return true, nil
}

func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	d.open = false
	d.scanning = false
	return nil
}

func (d *Decoder) StartScan() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return ErrDecoderClosed
	}
	if d.StartErr != nil {
		return d.StartErr
	}
	d.starts++
	d.scanning = true
	return nil
}

func (d *Decoder) StopScan() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	d.scanning = false
	return nil
}

func (d *Decoder) SetDecodeCallback(cb driver.DecodeCallback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cb = cb
}

// Decode delivers a decode outcome to the installed callback, as the
// engine would after a trigger pull. It reports whether a callback was
// installed.
func (d *Decoder) Decode(res driver.DecodeResult) bool {
	d.mu.Lock()
	cb := d.cb
	if res.OK() || res.Code == driver.DecodeFailed {
		d.scanning = false
	}
	d.mu.Unlock()

	if cb == nil {
		return false
	}
	cb(res)
	return true
}

func (d *Decoder) SetStartErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.StartErr = err
}

func (d *Decoder) Starts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starts
}

func (d *Decoder) Stops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}

func (d *Decoder) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

func (d *Decoder) Scanning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scanning
}

func (d *Decoder) HasCallback() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cb != nil
}

// DecoderFactory builds Decoders. The first FailOpens decoders it builds
// refuse to open, like an engine still locked by a previous owner.
type DecoderFactory struct {
	built     []*Decoder
	FailOpens int
	unlocks   int
	mu        syncutil.Mutex
}

func (f *DecoderFactory) New() (driver.BarcodeDecoder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := &Decoder{refuse: len(f.built) < f.FailOpens}
	f.built = append(f.built, d)
	return d, nil
}

// ReleaseAll implements driver.EmergencyUnlocker.
func (f *DecoderFactory) ReleaseAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlocks++
	for _, d := range f.built {
		d.mu.Lock()
		d.open = false
		d.scanning = false
		d.mu.Unlock()
	}
	return nil
}

// Built returns every decoder created so far, oldest first.
func (f *DecoderFactory) Built() []*Decoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Decoder(nil), f.built...)
}

// Last returns the most recently built decoder, or nil.
func (f *DecoderFactory) Last() *Decoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.built) == 0 {
		return nil
	}
	return f.built[len(f.built)-1]
}

func (f *DecoderFactory) Unlocks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unlocks
}
