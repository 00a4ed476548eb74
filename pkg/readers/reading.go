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

package readers

import (
	"github.com/ZaparooProject/zaparoo-handheld/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/driver"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/hextext"
)

// NewTagReading decodes every memory bank of a raw inventory result.
func NewTagReading(tag *driver.TagInfo) TagReading {
	return TagReading{
		EPCRaw:   tag.EPC,
		EPCText:  hextext.Decode(tag.EPC),
		TIDRaw:   tag.TID,
		TIDText:  hextext.Decode(tag.TID),
		UserRaw:  tag.User,
		UserText: hextext.Decode(tag.User),
		RSSI:     tag.RSSI,
		Count:    tag.Count,
	}
}

// StatusDedup suppresses repeated connection status events for a link.
// The zero value starts out disconnected, so a link that never came up
// reports nothing when it is torn down.
type StatusDedup struct {
	last bool
	mu   syncutil.Mutex
}

// Changed records connected and reports whether it differs from the
// previous report.
func (d *StatusDedup) Changed(connected bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == connected {
		return false
	}
	d.last = connected
	return true
}
