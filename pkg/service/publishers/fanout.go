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

package publishers

import (
	"github.com/ZaparooProject/zaparoo-handheld/pkg/service/broker"
)

// Fanout subscribes one sink per stream on hub that forwards to every
// publisher whose filter matches. The hub allows one sink per stream, so
// all publishers share it.
func Fanout(hub *broker.Broker, pubs []*MQTTPublisher) {
	for _, stream := range broker.AllStreams {
		var targets []*MQTTPublisher
		for _, p := range pubs {
			if p.Matches(stream) {
				targets = append(targets, p)
			}
		}
		if len(targets) == 0 {
			continue
		}
		hub.Subscribe(stream, broker.SinkFunc(func(s broker.Stream, payload any) {
			for _, p := range targets {
				p.Deliver(s, payload)
			}
		}))
	}
}
