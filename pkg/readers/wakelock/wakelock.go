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

// Package wakelock keeps the host awake while a reader link is up.
//
// A Guard wraps a system keep-alive resource with acquire/release
// semantics that are safe to repeat: engines acquire it when a link comes
// up and release it on every teardown path without tracking whether some
// other path already did.
package wakelock

import (
	"fmt"
	"io"
	"time"

	"github.com/ZaparooProject/zaparoo-handheld/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Inhibitor takes a keep-alive resource from the system. Closing the
// returned handle gives it back.
type Inhibitor interface {
	Inhibit(why string) (io.Closer, error)
}

// NopInhibitor hands out handles that do nothing.
type NopInhibitor struct{}

func (NopInhibitor) Inhibit(string) (io.Closer, error) {
	return nopCloser{}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type Guard struct {
	inhibitor Inhibitor
	clock     clockwork.Clock
	lock      io.Closer
	timer     clockwork.Timer
	why       string
	gen       uint64
	mu        syncutil.Mutex
}

// NewGuard returns a released guard. A nil clock uses the real clock.
func NewGuard(inhibitor Inhibitor, clock clockwork.Clock, why string) *Guard {
	if inhibitor == nil {
		inhibitor = NopInhibitor{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Guard{
		inhibitor: inhibitor,
		clock:     clock,
		why:       why,
	}
}

// Acquire takes the resource if it is not already held. A positive hint
// releases it automatically once the hint elapses, so a link that never
// reports its own loss cannot keep the host awake forever.
func (g *Guard) Acquire(hint time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.lock != nil {
		return nil
	}

	lock, err := g.inhibitor.Inhibit(g.why)
	if err != nil {
		return fmt.Errorf("failed to acquire wake lock: %w", err)
	}
	g.lock = lock
	g.gen++

	if hint > 0 {
		gen := g.gen
		g.timer = g.clock.AfterFunc(hint, func() {
			g.expire(gen)
		})
	}

	log.Debug().Str("why", g.why).Dur("hint", hint).Msg("wake lock acquired")
	return nil
}

// Release gives the resource back. Calling it while released is a no-op.
func (g *Guard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.releaseLocked()
}

// Held reports whether the resource is currently held.
func (g *Guard) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lock != nil
}

func (g *Guard) expire(gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gen != gen || g.lock == nil {
		return
	}
	log.Debug().Str("why", g.why).Msg("wake lock hint elapsed")
	g.releaseLocked()
}

func (g *Guard) releaseLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	if g.lock == nil {
		return
	}
	if err := g.lock.Close(); err != nil {
		log.Warn().Err(err).Msg("error releasing wake lock")
	}
	g.lock = nil
	log.Debug().Str("why", g.why).Msg("wake lock released")
}
