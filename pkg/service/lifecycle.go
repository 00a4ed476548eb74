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
	"fmt"
	"time"

	"github.com/ZaparooProject/zaparoo-handheld/pkg/config"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/driver"
	"github.com/rs/zerolog/log"
)

// ForceCleanup returns every engine to a closed, idle state. Calls are
// serialized, each step runs even if an earlier one failed, and it never
// panics, so it is safe to call at any time and any number of times.
func (c *Controller) ForceCleanup() {
	c.cleanupMu.Lock()
	defer c.cleanupMu.Unlock()

	n := c.cleanups.Add(1)
	log.Info().Str("instance", c.id).Int64("pass", n).Msg("forcing cleanup")

	c.step("halt scans", func() {
		c.uhf.Halt()
		c.barcode.Halt()
		c.ble.Halt()
	})
	c.step("release barcode", c.barcode.Release)
	c.step("release uhf", c.uhf.Release)
	c.step("release ble", c.ble.Release)
	c.step("cancel scheduled work", func() {
		c.sched.CancelAll()
	})
	if c.unlocker != nil {
		c.step("emergency unlock", func() {
			if err := driver.Safe("emergency unlock", c.unlocker.ReleaseAll); err != nil {
				log.Debug().Err(err).Msg("emergency unlock failed")
			}
		})
	}
	c.step("release guards", func() {
		c.uhfGuard.Release()
		c.bleGuard.Release()
	})

	if c.settled != nil {
		close(c.settled)
		c.settled = nil
	}
}

// Cleanups returns how many cleanup passes have run.
func (c *Controller) Cleanups() int64 {
	return c.cleanups.Load()
}

func (c *Controller) step(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("step", name).Msgf("panic during cleanup: %v", r)
		}
	}()
	fn()
}

// OnAttach clears any state left by a previous instance and schedules a
// second pass for native teardown that finishes late. The returned
// channel closes when the second pass, or any cleanup that cancels it,
// has run. Sessions opened before then are torn down by it.
func (c *Controller) OnAttach(host driver.Host) <-chan struct{} {
	c.SetHost(host)
	c.ForceCleanup()

	c.cleanupMu.Lock()
	defer c.cleanupMu.Unlock()
	if c.settled == nil {
		c.settled = make(chan struct{})
	}
	c.sched.After("second cleanup pass", c.secondPassDelay(), c.ForceCleanup)
	return c.settled
}

// Settled returns a channel that closes once no post-attach cleanup is
// pending. It is already closed when none is.
func (c *Controller) Settled() <-chan struct{} {
	c.cleanupMu.Lock()
	defer c.cleanupMu.Unlock()
	if c.settled == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.settled
}

// WaitSettled blocks until Settled closes or ctx ends.
func (c *Controller) WaitSettled(ctx context.Context) error {
	select {
	case <-c.Settled():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for attach cleanup: %w", ctx.Err())
	}
}

// OnReattach runs after the host is recreated by a configuration change.
func (c *Controller) OnReattach(host driver.Host) {
	c.SetHost(host)
	c.ForceCleanup()
}

func (c *Controller) OnActivityDetach() {
	c.ForceCleanup()
}

// OnDetach cleans up and drops every stream subscription.
func (c *Controller) OnDetach() {
	c.ForceCleanup()
	c.hub.UnsubscribeAll()
	c.SetHost(nil)
}

func (c *Controller) secondPassDelay() time.Duration {
	if c.cfg == nil {
		return config.DefaultSecondPassDelay
	}
	return c.cfg.SecondPassDelay()
}
