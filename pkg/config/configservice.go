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

package config

import (
	"time"
)

const (
	DefaultWakeLock        = 10 * time.Minute
	DefaultSecondPassDelay = 1500 * time.Millisecond
	DefaultMQTTTopic       = "zaparoo/handheld"
)

type Service struct {
	WakeLockMinutes   int `toml:"wake_lock_minutes,omitempty" validate:"gte=0"`
	SecondPassDelayMs int `toml:"second_pass_delay_ms,omitempty" validate:"gte=0"`
}

type Publishers struct {
	MQTT []MQTTPublisher `toml:"mqtt,omitempty" validate:"dive"`
}

type MQTTPublisher struct {
	Enabled *bool    `toml:"enabled,omitempty"`
	Broker  string   `toml:"broker" validate:"required"`
	Topic   string   `toml:"topic"`
	Filter  []string `toml:"filter,omitempty,multiline" validate:"dive,oneof=tags connection barcode discovery config link"`
}

// WakeLockDuration is how long a connected link may hold the host awake
// without any further activity.
func (c *Instance) WakeLockDuration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Service.WakeLockMinutes <= 0 {
		return DefaultWakeLock
	}
	return time.Duration(c.vals.Service.WakeLockMinutes) * time.Minute
}

// SecondPassDelay is the wait before the repeat cleanup that follows an
// attach.
func (c *Instance) SecondPassDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return msOr(c.vals.Service.SecondPassDelayMs, DefaultSecondPassDelay)
}

func (c *Instance) GetMQTTPublishers() []MQTTPublisher {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Publishers.MQTT
}

func (c *Instance) SetMQTTPublishers(pubs []MQTTPublisher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Publishers.MQTT = pubs
}
