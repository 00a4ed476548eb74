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

// Package uhf runs scan sessions on a UART attached UHF RFID module.
//
// The reader handle is guarded by a single mutex that is held for the
// whole of every driver call, including each inventory poll, so a close
// never frees the module under a running poll. The scan mode lives in an
// atomic so forced cleanup can stop the continuous loop without waiting
// for the lock.
package uhf

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZaparooProject/zaparoo-handheld/pkg/config"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/driver"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/wakelock"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/service/broker"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const loopErrorLogInterval = 5 * time.Second

type Options struct {
	Config    *config.Instance
	Factory   driver.UHFReaderFactory
	Publisher broker.Publisher
	Guard     *wakelock.Guard
	Clock     clockwork.Clock
}

type Reader struct {
	cfg      *config.Instance
	factory  driver.UHFReaderFactory
	pub      broker.Publisher
	guard    *wakelock.Guard
	clock    clockwork.Clock
	dev      driver.UHFReader
	loopErrs rate.Sometimes
	status   readers.StatusDedup
	worker   sync.WaitGroup
	workers  atomic.Int32
	mode     atomic.Int32
	state    atomic.Int32
	ctl      syncutil.Mutex
	mu       syncutil.Mutex
}

func NewReader(opts Options) *Reader {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	guard := opts.Guard
	if guard == nil {
		guard = wakelock.NewGuard(nil, clock, "uhf")
	}
	return &Reader{
		cfg:      opts.Config,
		factory:  opts.Factory,
		pub:      opts.Publisher,
		guard:    guard,
		clock:    clock,
		loopErrs: rate.Sometimes{Interval: loopErrorLogInterval},
	}
}

func (r *Reader) Mode() readers.ScanMode {
	return readers.ScanMode(r.mode.Load())
}

func (r *Reader) State() readers.ConnectionState {
	return readers.ConnectionState(r.state.Load())
}

func (r *Reader) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dev != nil
}

// Connect creates the reader if needed and initialises it against host.
// Calling it while connected re-initialises the existing handle.
func (r *Reader) Connect(host driver.Host) error {
	if host == nil {
		return fmt.Errorf("uhf connect: %w", readers.ErrInvalidArgument)
	}
	if r.factory == nil {
		return fmt.Errorf("uhf connect: %w", readers.ErrNoDriver)
	}

	r.mu.Lock()
	r.state.Store(int32(readers.Connecting))
	dev := r.dev
	if dev == nil {
		err := driver.Safe("create uhf reader", func() error {
			var err error
			dev, err = r.factory()
			return err
		})
		if err == nil && dev == nil {
			err = errors.New("factory returned no reader")
		}
		if err != nil {
			r.state.Store(int32(readers.Disconnected))
			r.mu.Unlock()
			return fmt.Errorf("%w: %w", readers.ErrConnectFailed, err)
		}
	}

	var ok bool
	err := driver.Safe("init uhf reader", func() error {
		var err error
		ok, err = dev.Init(host)
		return err
	})
	if err != nil || !ok {
		if err == nil {
			err = errors.New("reader refused init")
		}
		r.dev = nil
		r.state.Store(int32(readers.Disconnected))
		r.mu.Unlock()
		if ferr := driver.Safe("free uhf reader", dev.Free); ferr != nil {
			log.Debug().Err(ferr).Msg("error freeing rejected uhf reader")
		}
		return fmt.Errorf("%w: %w", readers.ErrConnectFailed, err)
	}

	r.dev = dev
	r.state.Store(int32(readers.Connected))
	// under mu so a concurrent teardown releases what this takes
	if err := r.guard.Acquire(r.wakeLockHint()); err != nil {
		log.Warn().Err(err).Msg("uhf connected without wake lock")
	}
	r.publishStatus(true)
	r.mu.Unlock()

	log.Info().Str("host", host.ID()).Msg("uhf reader connected")
	return nil
}

// SingleScan runs one inventory poll and publishes the tag it finds. No
// tag is not an error. While a continuous scan runs it does nothing.
func (r *Reader) SingleScan() (bool, error) {
	set := r.mode.CompareAndSwap(int32(readers.ScanIdle), int32(readers.ScanSingleShot))
	if !set && r.Mode() == readers.ScanContinuous {
		return false, nil
	}
	if set {
		defer r.mode.CompareAndSwap(int32(readers.ScanSingleShot), int32(readers.ScanIdle))
	}

	r.mu.Lock()
	if r.dev == nil {
		r.mu.Unlock()
		return false, fmt.Errorf("uhf single scan: %w", readers.ErrNotConnected)
	}
	tag, err := r.poll()
	r.mu.Unlock()

	if err != nil {
		return false, fmt.Errorf("uhf single scan: %w", err)
	}
	if tag == nil {
		return false, nil
	}
	r.publishTag(tag)
	return true, nil
}

// StartContinuous starts the inventory worker. Only one worker ever runs;
// asking again while continuous is a no-op.
func (r *Reader) StartContinuous() error {
	r.ctl.Lock()
	defer r.ctl.Unlock()

	if !r.IsConnected() {
		return fmt.Errorf("uhf start continuous: %w", readers.ErrNotConnected)
	}
	if r.Mode() == readers.ScanContinuous {
		return nil
	}

	// a worker halted by forced cleanup may still be finishing its poll
	r.worker.Wait()

	r.mode.Store(int32(readers.ScanContinuous))
	r.worker.Add(1)
	r.workers.Add(1)
	go r.loop()

	log.Info().Msg("uhf continuous scan started")
	return nil
}

// StopScan ends a continuous scan, waits for the in-flight poll to finish
// and tells the module to stop its inventory.
func (r *Reader) StopScan() error {
	r.ctl.Lock()
	defer r.ctl.Unlock()

	if !r.mode.CompareAndSwap(int32(readers.ScanContinuous), int32(readers.ScanIdle)) {
		return nil
	}
	r.worker.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev == nil {
		return nil
	}
	if err := driver.Safe("stop uhf inventory", r.dev.StopInventory); err != nil {
		return fmt.Errorf("uhf stop scan: %w", err)
	}
	log.Info().Msg("uhf continuous scan stopped")
	return nil
}

// Halt drops the scan mode to idle without waiting for the worker.
func (r *Reader) Halt() {
	r.mode.Store(int32(readers.ScanIdle))
}

// Close stops any scan, frees the reader and reports the link down.
func (r *Reader) Close() error {
	return r.teardown()
}

// Release is Close for forced cleanup: errors are logged, never returned.
func (r *Reader) Release() {
	if err := r.teardown(); err != nil {
		log.Warn().Err(err).Msg("uhf release")
	}
}

func (r *Reader) teardown() error {
	r.Halt()

	r.ctl.Lock()
	defer r.ctl.Unlock()
	// a StartContinuous that held ctl past the first Halt has set the
	// mode back to continuous
	r.Halt()
	r.worker.Wait()

	r.mu.Lock()
	dev := r.dev
	r.dev = nil
	r.state.Store(int32(readers.Disconnected))
	r.guard.Release()
	r.publishStatus(false)
	r.mu.Unlock()

	var errs []error
	if dev != nil {
		if err := driver.Safe("stop uhf inventory", dev.StopInventory); err != nil {
			errs = append(errs, err)
		}
		r.clock.Sleep(r.stopSettle())
		if err := driver.Safe("free uhf reader", dev.Free); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("uhf close: %w", err)
	}
	return nil
}

func (r *Reader) loop() {
	defer func() {
		r.workers.Add(-1)
		r.worker.Done()
	}()

	for r.Mode() == readers.ScanContinuous {
		start := r.clock.Now()
		if !r.iteration() {
			r.mode.CompareAndSwap(int32(readers.ScanContinuous), int32(readers.ScanIdle))
			break
		}
		if r.clock.Since(start) < r.minIteration() {
			runtime.Gosched()
		}
	}
	log.Debug().Msg("uhf inventory worker exited")
}

// iteration runs one poll and reports whether the loop should go on.
func (r *Reader) iteration() bool {
	r.mu.Lock()
	if r.dev == nil {
		r.mu.Unlock()
		return false
	}
	tag, err := r.poll()
	r.mu.Unlock()

	if err != nil {
		r.loopErrs.Do(func() {
			log.Warn().Err(err).Msg("uhf inventory poll failed")
		})
		return true
	}
	if tag != nil {
		r.publishTag(tag)
	}
	return true
}

// poll must be called with mu held and dev set.
func (r *Reader) poll() (*driver.TagInfo, error) {
	var tag *driver.TagInfo
	err := driver.Safe("uhf inventory", func() error {
		var err error
		tag, err = r.dev.InventorySingleTag()
		return err
	})
	if err != nil {
		return nil, err
	}
	return tag, nil
}

func (r *Reader) publishTag(tag *driver.TagInfo) {
	if r.pub == nil {
		return
	}
	r.pub.Publish(broker.StreamTags, readers.NewTagReading(tag))
}

func (r *Reader) publishStatus(connected bool) {
	if r.pub == nil || !r.status.Changed(connected) {
		return
	}
	r.pub.Publish(broker.StreamConnection, readers.ConnectionStatus{
		Link:      readers.LinkUART,
		Connected: connected,
	})
}

func (r *Reader) minIteration() time.Duration {
	if r.cfg == nil {
		return config.DefaultMinIteration
	}
	return r.cfg.UHFMinIteration()
}

func (r *Reader) stopSettle() time.Duration {
	if r.cfg == nil {
		return config.DefaultStopSettle
	}
	return r.cfg.UHFStopSettle()
}

func (r *Reader) wakeLockHint() time.Duration {
	if r.cfg == nil {
		return config.DefaultWakeLock
	}
	return r.cfg.WakeLockDuration()
}
