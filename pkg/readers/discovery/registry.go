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

// Package discovery tracks peripherals seen during a bounded discovery
// window so each one is announced once.
package discovery

import (
	"github.com/ZaparooProject/zaparoo-handheld/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers"
)

// Registry is the dedup set for one discovery window. The zero value is
// ready to use.
type Registry struct {
	seen map[readers.DiscoveredDevice]struct{}
	mu   syncutil.Mutex
}

// BeginWindow forgets every device seen in the previous window.
func (r *Registry) BeginWindow() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = make(map[readers.DiscoveredDevice]struct{})
}

// Observe records dev and reports whether it is new in this window.
// Devices without a display name are ignored.
func (r *Registry) Observe(dev readers.DiscoveredDevice) bool {
	if dev.Name == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[readers.DiscoveredDevice]struct{})
	}
	if _, ok := r.seen[dev]; ok {
		return false
	}
	r.seen[dev] = struct{}{}
	return true
}

// Len returns how many distinct devices the current window has seen.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}
