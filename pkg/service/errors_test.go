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
	"fmt"
	"testing"

	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandError_Codes(t *testing.T) {
	t.Parallel()

	panicErr := driver.Safe("op", func() error { panic("boom") })

	tests := []struct {
		name  string
		err   error
		want  string
		codes codeMap
	}{
		{name: "fallback", codes: connectCodes, err: errors.New("io"), want: CodeConnectError},
		{name: "not connected", codes: scanCodes, err: readers.ErrNotConnected, want: CodeNotConnected},
		{
			name:  "wrapped not connected",
			codes: stopCodes,
			err:   fmt.Errorf("stop: %w", readers.ErrNotConnected),
			want:  CodeNotConnected,
		},
		{name: "no driver", codes: connectCodes, err: readers.ErrNoDriver, want: CodeNotSupported},
		{name: "link disabled", codes: scanCodes, err: readers.ErrLinkDisabled, want: CodeBluetoothOff},
		{name: "panic", codes: closeCodes, err: panicErr, want: CodeException},
		{name: "barcode start", codes: scanBarcodeCodes, err: readers.ErrStartFailed, want: CodeStartScanError},
		{name: "barcode open", codes: scanBarcodeCodes, err: readers.ErrConnectFailed, want: CodeOpenError},
		{name: "inventory start", codes: inventoryCodes, err: readers.ErrStartFailed, want: CodeStartFailed},
		{name: "bad address", codes: connectDeviceCodes, err: readers.ErrInvalidArgument, want: CodeInvalidMAC},
		{name: "connect timeout", codes: connectDeviceCodes, err: context.DeadlineExceeded, want: CodeDisconnected},
		{name: "dropped link", codes: connectDeviceCodes, err: readers.ErrDisconnected, want: CodeDisconnected},
		{name: "invalid argument", codes: connectCodes, err: readers.ErrInvalidArgument, want: CodeInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := commandError(tt.codes, tt.err)
			var cmdErr *CommandError
			require.ErrorAs(t, err, &cmdErr)
			assert.Equal(t, tt.want, cmdErr.Code)
			assert.Equal(t, tt.err.Error(), cmdErr.Message)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestCommandError_NilStaysNil(t *testing.T) {
	t.Parallel()
	assert.NoError(t, commandError(scanCodes, nil))
}
