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
	"time"

	"github.com/ZaparooProject/zaparoo-handheld/pkg/helpers/syncutil"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// mockMQTTClient implements the calls the publisher makes. Anything else
// panics through the nil embedded interface.
type mockMQTTClient struct {
	mqtt.Client
	connectError    error
	publishError    error
	publishedMsgs   []publishedMessage
	disconnectCalls int
	connected       bool
	mu              syncutil.Mutex
}

type publishedMessage struct {
	payload any
	topic   string
}

func newMockMQTTClient() *mockMQTTClient {
	return &mockMQTTClient{}
}

func (m *mockMQTTClient) published() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]publishedMessage(nil), m.publishedMsgs...)
}

func (m *mockMQTTClient) disconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnectCalls
}

func (m *mockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockMQTTClient) Connect() mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectError != nil {
		return doneToken{err: m.connectError}
	}
	m.connected = true
	return doneToken{}
}

func (m *mockMQTTClient) Disconnect(uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.disconnectCalls++
}

func (m *mockMQTTClient) Publish(topic string, _ byte, _ bool, payload any) mqtt.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishError != nil {
		return doneToken{err: m.publishError}
	}
	m.publishedMsgs = append(m.publishedMsgs, publishedMessage{topic: topic, payload: payload})
	return doneToken{}
}

// doneToken is an already completed token.
type doneToken struct {
	err error
}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                 { return t.err }

func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
