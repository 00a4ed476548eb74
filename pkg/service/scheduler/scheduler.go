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

// Package scheduler runs delayed callbacks that can all be cancelled at
// once during forced cleanup.
package scheduler

import (
	"time"

	"github.com/ZaparooProject/zaparoo-handheld/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type Scheduler struct {
	clock  clockwork.Clock
	timers map[uint64]clockwork.Timer
	next   uint64
	mu     syncutil.Mutex
}

func New(clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		clock:  clock,
		timers: make(map[uint64]clockwork.Timer),
	}
}

// After runs fn on its own goroutine once d has elapsed. The returned
// function cancels it if it has not fired yet. A panic in fn is logged.
func (s *Scheduler) After(name string, d time.Duration, fn func()) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	id := s.next
	s.timers[id] = s.clock.AfterFunc(d, func() {
		if !s.take(id) {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("task", name).Msgf("panic in scheduled task: %v", r)
			}
		}()
		fn()
	})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if t, ok := s.timers[id]; ok {
			t.Stop()
			delete(s.timers, id)
		}
	}
}

// take removes a fired timer and reports whether it was still pending.
func (s *Scheduler) take(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[id]; !ok {
		return false
	}
	delete(s.timers, id)
	return true
}

// CancelAll stops every pending callback and returns how many it stopped.
// Callbacks that already started keep running.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, t := range s.timers {
		if t.Stop() {
			n++
		}
		delete(s.timers, id)
	}
	if n > 0 {
		log.Debug().Int("count", n).Msg("cancelled scheduled tasks")
	}
	return n
}

// Pending returns the number of callbacks waiting to fire.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
