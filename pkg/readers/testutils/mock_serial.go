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

package testutils

import (
	"errors"
	"time"

	"github.com/ZaparooProject/zaparoo-handheld/pkg/helpers/syncutil"
)

var ErrPortClosed = errors.New("port closed")

// MockSerialPort is an in-memory serial port. Respond, when set, is called
// for every write and its return value is queued for reading.
type MockSerialPort struct {
	ReadError  error
	WriteError error
	CloseError error
	TimeoutErr error
	Respond    func(written []byte) []byte
	readData   []byte
	written    [][]byte
	resets     int
	mu         syncutil.Mutex
	closed     bool
}

func NewMockSerialPort() *MockSerialPort {
	return &MockSerialPort{}
}

// Feed queues bytes for Read.
func (m *MockSerialPort) Feed(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readData = append(m.readData, data...)
}

// Read returns queued bytes. With nothing queued it behaves like a read
// timeout and returns 0, nil.
func (m *MockSerialPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrPortClosed
	}
	if m.ReadError != nil {
		err := m.ReadError
		m.mu.Unlock()
		return 0, err
	}
	if len(m.readData) == 0 {
		m.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	n := copy(p, m.readData)
	m.readData = m.readData[n:]
	m.mu.Unlock()
	return n, nil
}

func (m *MockSerialPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrPortClosed
	}
	if m.WriteError != nil {
		return 0, m.WriteError
	}
	m.written = append(m.written, append([]byte(nil), p...))
	if m.Respond != nil {
		m.readData = append(m.readData, m.Respond(p)...)
	}
	return len(p), nil
}

func (m *MockSerialPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.CloseError
}

func (m *MockSerialPort) SetReadTimeout(time.Duration) error {
	return m.TimeoutErr
}

func (m *MockSerialPort) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readData = nil
	m.resets++
	return nil
}

// SetReadError makes subsequent reads fail with err.
func (m *MockSerialPort) SetReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadError = err
}

func (m *MockSerialPort) SetCloseError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseError = err
}

// Written returns a copy of every write made to the port.
func (m *MockSerialPort) Written() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.written...)
}

func (m *MockSerialPort) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
