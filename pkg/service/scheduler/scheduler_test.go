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

package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitTimers(t *testing.T, clock *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, n))
}

func TestAfter_Fires(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	s := New(clock)
	fired := make(chan struct{})

	s.After("restart", 300*time.Millisecond, func() { close(fired) })
	waitTimers(t, clock, 1)
	assert.Equal(t, 1, s.Pending())

	clock.Advance(300 * time.Millisecond)
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("task did not fire")
	}
	assert.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, time.Millisecond)
}

func TestAfter_Cancel(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	s := New(clock)
	var fired atomic.Bool

	cancel := s.After("restart", time.Second, func() { fired.Store(true) })
	cancel()
	cancel()

	clock.Advance(2 * time.Second)
	assert.False(t, fired.Load())
	assert.Equal(t, 0, s.Pending())
}

func TestCancelAll(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	s := New(clock)
	var fired atomic.Int32

	for range 3 {
		s.After("task", 100*time.Millisecond, func() { fired.Add(1) })
	}
	waitTimers(t, clock, 3)

	assert.Equal(t, 3, s.CancelAll())
	assert.Equal(t, 0, s.CancelAll())

	clock.Advance(time.Second)
	assert.Equal(t, int32(0), fired.Load())
}

func TestAfter_PanicIsRecovered(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	s := New(clock)
	after := make(chan struct{})

	s.After("bad", time.Millisecond, func() { panic("boom") })
	s.After("good", 2*time.Millisecond, func() { close(after) })
	waitTimers(t, clock, 2)

	clock.Advance(5 * time.Millisecond)
	select {
	case <-after:
	case <-time.After(time.Second):
		t.Fatal("second task did not run")
	}
}
