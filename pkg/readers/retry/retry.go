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

// Package retry opens exclusive hardware handles that fail to open for a
// while after a previous holder let go of them.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/driver"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxAttempts = 3
	DefaultStep        = 500 * time.Millisecond
)

var errNoHandle = errors.New("factory returned no handle")

// Target describes the handle class being opened. Evict, Discard and
// Install may be nil.
type Target[R comparable] struct {
	// Evict force-closes any handle still live from an earlier open.
	Evict func()
	// Create builds a new, unopened handle.
	Create func() (R, error)
	// Open binds a handle to the host. False means the device refused.
	Open func(h R, host driver.Host) (bool, error)
	// Discard drops a handle whose open failed.
	Discard func(h R)
	// Install takes ownership of the opened handle. An error refuses it:
	// the handle is discarded and Open fails without further attempts.
	Install func(h R) error
}

// Connector runs the bounded open loop. Before attempt n it waits
// Step*n, giving the device time to settle after the eviction.
type Connector[R comparable] struct {
	Clock       clockwork.Clock
	OnBackoff   func(attempt int, delay time.Duration)
	MaxAttempts int
	Step        time.Duration
}

func New[R comparable](clock clockwork.Clock, maxAttempts int, step time.Duration) *Connector[R] {
	return &Connector[R]{
		Clock:       clock,
		MaxAttempts: maxAttempts,
		Step:        step,
	}
}

func (c *Connector[R]) clock() clockwork.Clock {
	if c.Clock == nil {
		return clockwork.NewRealClock()
	}
	return c.Clock
}

func (c *Connector[R]) attempts() int {
	if c.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return c.MaxAttempts
}

func (c *Connector[R]) step() time.Duration {
	if c.Step <= 0 {
		return DefaultStep
	}
	return c.Step
}

// Open runs up to MaxAttempts open attempts and returns the installed
// handle. A nil host fails at once without touching the device.
func (c *Connector[R]) Open(ctx context.Context, host driver.Host, t Target[R]) (R, error) {
	var zero R
	if host == nil {
		return zero, fmt.Errorf("open without host: %w", readers.ErrInvalidArgument)
	}

	clock := c.clock()
	maxAttempts := c.attempts()
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if t.Evict != nil {
			t.Evict()
		}

		delay := c.step() * time.Duration(attempt)
		if c.OnBackoff != nil {
			c.OnBackoff(attempt, delay)
		}
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("open cancelled: %w", ctx.Err())
		case <-clock.After(delay):
		}

		h, err := c.create(t)
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Int("attempt", attempt).Msg("failed to create handle")
			continue
		}

		ok, err := c.open(t, h, host)
		if err != nil || !ok {
			if err == nil {
				err = errors.New("device refused open")
			}
			lastErr = err
			log.Warn().Err(err).Int("attempt", attempt).Msg("failed to open handle")
			if t.Discard != nil {
				t.Discard(h)
			}
			continue
		}

		if t.Install != nil {
			if err := t.Install(h); err != nil {
				if t.Discard != nil {
					t.Discard(h)
				}
				return zero, fmt.Errorf("%w: %w", readers.ErrConnectFailed, err)
			}
		}
		log.Info().Int("attempt", attempt).Msg("handle opened")
		return h, nil
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", readers.ErrConnectFailed, maxAttempts, lastErr)
}

func (*Connector[R]) create(t Target[R]) (R, error) {
	var h R
	err := driver.Safe("create", func() error {
		var err error
		h, err = t.Create()
		return err
	})
	if err != nil {
		var zero R
		return zero, err
	}
	var zero R
	if h == zero {
		return zero, errNoHandle
	}
	return h, nil
}

func (*Connector[R]) open(t Target[R], h R, host driver.Host) (bool, error) {
	var ok bool
	err := driver.Safe("open", func() error {
		var err error
		ok, err = t.Open(h, host)
		return err
	})
	return ok, err
}
