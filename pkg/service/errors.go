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
	"context"
	"errors"

	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/driver"
)

// Command error codes returned to the host.
const (
	CodeNotConnected    = "NOT_CONNECTED"
	CodeConnectError    = "CONNECT_ERROR"
	CodeOpenError       = "OPEN_ERROR"
	CodeScanError       = "SCAN_ERROR"
	CodeStartScanError  = "START_SCAN_ERROR"
	CodeStopError       = "STOP_ERROR"
	CodeCloseError      = "CLOSE_ERROR"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeInvalidMAC      = "INVALID_MAC"
	CodeBluetoothOff    = "BLUETOOTH_OFF"
	CodeDisconnected    = "DISCONNECTED"
	CodeStartFailed     = "START_FAILED"
	CodeNotSupported    = "NOT_SUPPORTED"
	CodeException       = "EXCEPTION"
)

// CommandError is the error half of a command reply.
type CommandError struct {
	Err     error
	Code    string
	Message string
}

func (e *CommandError) Error() string {
	return e.Code + ": " + e.Message
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// codeMap picks a code for err: its own rules first, then the shared
// ones, then fallback.
type codeMap struct {
	fallback string
	rules    []codeRule
}

type codeRule struct {
	err  error
	code string
}

var baseRules = []codeRule{
	{err: readers.ErrNotConnected, code: CodeNotConnected},
	{err: readers.ErrInvalidArgument, code: CodeInvalidArgument},
	{err: readers.ErrLinkDisabled, code: CodeBluetoothOff},
	{err: readers.ErrDisconnected, code: CodeDisconnected},
	{err: readers.ErrStartFailed, code: CodeStartFailed},
	{err: readers.ErrNoDriver, code: CodeNotSupported},
	{err: driver.ErrPanic, code: CodeException},
}

func (m codeMap) code(err error) string {
	for _, rules := range [][]codeRule{m.rules, baseRules} {
		for _, r := range rules {
			if errors.Is(err, r.err) {
				return r.code
			}
		}
	}
	return m.fallback
}

// commandError converts an engine error into the reply contract. A nil
// err stays nil.
func commandError(m codeMap, err error) error {
	if err == nil {
		return nil
	}
	return &CommandError{
		Code:    m.code(err),
		Message: err.Error(),
		Err:     err,
	}
}

var (
	connectCodes     = codeMap{fallback: CodeConnectError}
	scanCodes        = codeMap{fallback: CodeScanError}
	stopCodes        = codeMap{fallback: CodeStopError}
	closeCodes       = codeMap{fallback: CodeCloseError}
	openBarcodeCodes = codeMap{fallback: CodeOpenError}
	scanBarcodeCodes = codeMap{
		fallback: CodeScanError,
		rules: []codeRule{
			{err: readers.ErrStartFailed, code: CodeStartScanError},
			{err: readers.ErrConnectFailed, code: CodeOpenError},
		},
	}
	connectDeviceCodes = codeMap{
		fallback: CodeConnectError,
		rules: []codeRule{
			{err: readers.ErrInvalidArgument, code: CodeInvalidMAC},
			{err: context.DeadlineExceeded, code: CodeDisconnected},
		},
	}
	inventoryCodes = codeMap{fallback: CodeStartFailed}
)
