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

package discovery

import (
	"fmt"
	"sync"
	"testing"

	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestObserve_NewThenDuplicate(t *testing.T) {
	t.Parallel()

	var r Registry
	r.BeginWindow()

	dev := readers.DiscoveredDevice{Name: "R6-1234", Address: "00:11:22:33:44:55"}
	assert.True(t, r.Observe(dev))
	assert.False(t, r.Observe(dev))
	assert.Equal(t, 1, r.Len())
}

func TestObserve_EmptyNameDropped(t *testing.T) {
	t.Parallel()

	var r Registry
	r.BeginWindow()

	dev := readers.DiscoveredDevice{Address: "00:11:22:33:44:55"}
	assert.False(t, r.Observe(dev))
	assert.False(t, r.Observe(dev))
	assert.Equal(t, 0, r.Len())
}

func TestObserve_SameAddressDifferentName(t *testing.T) {
	t.Parallel()

	var r Registry
	assert.True(t, r.Observe(readers.DiscoveredDevice{Name: "A", Address: "X"}))
	assert.True(t, r.Observe(readers.DiscoveredDevice{Name: "B", Address: "X"}))
}

func TestBeginWindow_Clears(t *testing.T) {
	t.Parallel()

	var r Registry
	dev := readers.DiscoveredDevice{Name: "R6", Address: "AA"}
	assert.True(t, r.Observe(dev))

	r.BeginWindow()
	assert.Equal(t, 0, r.Len())
	assert.True(t, r.Observe(dev))
}

func TestObserve_Concurrent(t *testing.T) {
	t.Parallel()

	var r Registry
	r.BeginWindow()

	var wg sync.WaitGroup
	var mu sync.Mutex
	newCount := 0
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dev := readers.DiscoveredDevice{Name: "R6", Address: fmt.Sprintf("%02d", i%5)}
			if r.Observe(dev) {
				mu.Lock()
				newCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, newCount)
}

func TestPropertyObserveAnnouncesOnce(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		devs := rapid.SliceOf(rapid.Custom(func(t *rapid.T) readers.DiscoveredDevice {
			return readers.DiscoveredDevice{
				Name:    rapid.StringMatching(`[A-C_]{0,2}`).Draw(t, "name"),
				Address: rapid.StringMatching(`[0-2_]{1,2}`).Draw(t, "addr"),
			}
		})).Draw(t, "devices")

		var r Registry
		r.BeginWindow()
		announced := map[readers.DiscoveredDevice]int{}
		for _, d := range devs {
			if r.Observe(d) {
				announced[d]++
			}
		}
		for key, n := range announced {
			if n != 1 {
				t.Fatalf("device %+v announced %d times", key, n)
			}
		}
		if r.Len() != len(announced) {
			t.Fatalf("registry holds %d devices, announced %d", r.Len(), len(announced))
		}
	})
}

func TestObserveSeparatorInFields(t *testing.T) {
	t.Parallel()

	var r Registry
	r.BeginWindow()
	assert.True(t, r.Observe(readers.DiscoveredDevice{Name: "a_b", Address: "c"}))
	assert.True(t, r.Observe(readers.DiscoveredDevice{Name: "a", Address: "b_c"}))
	assert.Equal(t, 2, r.Len())
}
