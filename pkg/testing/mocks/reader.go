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

// Package mocks holds testify mocks for the reader driver interfaces.
package mocks

import (
	"fmt"

	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/driver"
	"github.com/stretchr/testify/mock"
)

func mockErr(args mock.Arguments, i int) error {
	if err := args.Error(i); err != nil {
		return fmt.Errorf("mock operation failed: %w", err)
	}
	return nil
}

// MockUHFReader is a mock implementation of driver.UHFReader
type MockUHFReader struct {
	mock.Mock
}

func (m *MockUHFReader) Init(host driver.Host) (bool, error) {
	args := m.Called(host)
	return args.Bool(0), mockErr(args, 1)
}

func (m *MockUHFReader) InventorySingleTag() (*driver.TagInfo, error) {
	args := m.Called()
	tag, _ := args.Get(0).(*driver.TagInfo)
	return tag, mockErr(args, 1)
}

func (m *MockUHFReader) StopInventory() error {
	return mockErr(m.Called(), 0)
}

func (m *MockUHFReader) Free() error {
	return mockErr(m.Called(), 0)
}

// MockBarcodeDecoder is a mock implementation of driver.BarcodeDecoder
type MockBarcodeDecoder struct {
	mock.Mock
}

func (m *MockBarcodeDecoder) Open(host driver.Host) (bool, error) {
	args := m.Called(host)
	return args.Bool(0), mockErr(args, 1)
}

func (m *MockBarcodeDecoder) Close() error {
	return mockErr(m.Called(), 0)
}

func (m *MockBarcodeDecoder) StartScan() error {
	return mockErr(m.Called(), 0)
}

func (m *MockBarcodeDecoder) StopScan() error {
	return mockErr(m.Called(), 0)
}

func (m *MockBarcodeDecoder) SetDecodeCallback(cb driver.DecodeCallback) {
	m.Called(cb)
}

// MockUnlocker is a mock implementation of driver.EmergencyUnlocker
type MockUnlocker struct {
	mock.Mock
}

func (m *MockUnlocker) ReleaseAll() error {
	return mockErr(m.Called(), 0)
}
