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
	"github.com/ZaparooProject/zaparoo-handheld/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

// Supervisor holds at most one live controller. Installing a new one
// force-cleans the old one first, so a controller left behind by a host
// restart never keeps hardware locked.
type Supervisor struct {
	current *Controller
	mu      syncutil.Mutex
}

func (s *Supervisor) Install(c *Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev := s.current; prev != nil && prev != c {
		log.Warn().Str("stale", prev.ID()).Str("instance", c.ID()).
			Msg("preempting previous controller")
		prev.ForceCleanup()
	}
	s.current = c
}

// Remove drops c if it is the installed controller.
func (s *Supervisor) Remove(c *Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == c {
		s.current = nil
	}
}

func (s *Supervisor) Current() *Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
