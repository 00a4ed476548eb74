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

// Package simulated provides in-memory reader drivers. The daemon uses
// them when a peripheral class is configured with the "simulated" driver,
// and the engine tests use them as scripted hardware.
package simulated

import (
	"errors"
	"time"

	"github.com/ZaparooProject/zaparoo-handheld/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/driver"
)

var ErrNotInitialised = errors.New("simulated reader not initialised")

// UHFReader hands out queued tags, one per inventory poll. An empty
// queue polls as "no tag".
type UHFReader struct {
	InitErr    error
	queue      []driver.TagInfo
	PollDelay  time.Duration
	polls      int
	stops      int
	frees      int
	mu         syncutil.Mutex
	RefuseInit bool
	ready      bool
}

func NewUHFReader(tags ...driver.TagInfo) *UHFReader {
	return &UHFReader{queue: tags}
}

// Factory returns a factory that always hands out r.
func (r *UHFReader) Factory() driver.UHFReaderFactory {
	return func() (driver.UHFReader, error) {
		return r, nil
	}
}

// Queue appends tags to be returned by later polls.
func (r *UHFReader) Queue(tags ...driver.TagInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = append(r.queue, tags...)
}

func (r *UHFReader) Init(driver.Host) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.InitErr != nil {
		return false, r.InitErr
	}
	r.ready = !r.RefuseInit
	return r.ready, nil
}

func (r *UHFReader) InventorySingleTag() (*driver.TagInfo, error) {
	if r.PollDelay > 0 {
		time.Sleep(r.PollDelay)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ready {
		return nil, ErrNotInitialised
	}
	r.polls++
	if len(r.queue) == 0 {
		return nil, nil //nolint:nilnil // no tag in the field is not an error
	}
	tag := r.queue[0]
	r.queue = r.queue[1:]
	return &tag, nil
}

func (r *UHFReader) StopInventory() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return nil
}

func (r *UHFReader) Free() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frees++
	r.ready = false
	return nil
}

func (r *UHFReader) Polls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.polls
}

func (r *UHFReader) Stops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops
}

func (r *UHFReader) Frees() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frees
}

// Pending returns how many queued tags have not been read yet.
func (r *UHFReader) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}
