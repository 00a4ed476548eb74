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

package reader18

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ZaparooProject/zaparoo-handheld/pkg/config"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/helpers"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/driver"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/testutils"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

const (
	readTimeout     = 20 * time.Millisecond
	responseTimeout = 300 * time.Millisecond
)

var (
	ErrNoPort     = errors.New("no serial port available")
	ErrNoResponse = errors.New("no response from reader")
	ErrClosed     = errors.New("reader not initialised")
)

// Reader is a driver.UHFReader over a UART link.
type Reader struct {
	port        testutils.SerialPort
	portFactory testutils.SerialPortFactory
	listPorts   func() ([]string, error)
	path        string
	pending     []byte
	baudRate    int
	mu          syncutil.Mutex
	address     byte
}

// NewReader creates a reader for path. An empty path selects the first
// serial device found on the host.
func NewReader(path string, baudRate int) *Reader {
	return &Reader{
		path:        path,
		baudRate:    baudRate,
		address:     DefaultAddress,
		portFactory: testutils.DefaultSerialPortFactory,
		listPorts:   helpers.GetSerialDeviceList,
	}
}

// Factory builds readers from the current UHF settings.
func Factory(cfg *config.Instance) driver.UHFReaderFactory {
	return func() (driver.UHFReader, error) {
		return NewReader(cfg.UHF().Path, cfg.UHFBaudRate()), nil
	}
}

// Init opens the port and probes the module. A module that does not
// answer the probe is reported as (false, nil).
func (r *Reader) Init(driver.Host) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.port != nil {
		return true, nil
	}

	path := r.path
	if path == "" {
		ports, err := r.listPorts()
		if err != nil {
			return false, fmt.Errorf("listing serial ports: %w", err)
		}
		if len(ports) == 0 {
			return false, ErrNoPort
		}
		path = ports[0]
	}

	port, err := r.portFactory(path, &serial.Mode{
		BaudRate: r.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return false, fmt.Errorf("failed to open uhf port %s: %w", path, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return false, fmt.Errorf("failed to set read timeout: %w", err)
	}
	r.port = port
	r.pending = nil

	if _, err := r.requestLocked(GetReaderInfoCommand(r.address), CmdGetReaderInfo); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("uhf module did not answer probe")
		_ = port.Close()
		r.port = nil
		return false, nil
	}

	log.Info().Str("path", path).Int("baud", r.baudRate).Msg("opened uhf module")
	return true, nil
}

// InventorySingleTag runs one inventory round. An empty field returns
// (nil, nil).
func (r *Reader) InventorySingleTag() (*driver.TagInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.port == nil {
		return nil, ErrClosed
	}
	frame, err := r.requestLocked(InventorySingleTagCommand(r.address), CmdInventorySingle)
	if err != nil {
		return nil, err
	}
	res, err := ParseSingleInventory(frame)
	if err != nil {
		return nil, err
	}
	if len(res.EPC) == 0 {
		return nil, nil //nolint:nilnil // no tag in the field
	}
	return &driver.TagInfo{
		EPC:   strings.ToUpper(hex.EncodeToString(res.EPC)),
		Count: res.Count,
	}, nil
}

// StopInventory drops any late inventory replies.
func (r *Reader) StopInventory() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.port == nil {
		return nil
	}
	r.pending = nil
	if err := r.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("failed to flush uhf port: %w", err)
	}
	return nil
}

func (r *Reader) Free() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.port == nil {
		return nil
	}
	err := r.port.Close()
	r.port = nil
	r.pending = nil
	if err != nil {
		return fmt.Errorf("failed to close uhf port: %w", err)
	}
	return nil
}

// requestLocked writes packet and reads until a frame for want arrives.
func (r *Reader) requestLocked(packet []byte, want byte) (Frame, error) {
	if _, err := r.port.Write(packet); err != nil {
		return Frame{}, fmt.Errorf("failed to write command 0x%02X: %w", want, err)
	}

	buf := make([]byte, 256)
	deadline := time.Now().Add(responseTimeout)
	for time.Now().Before(deadline) {
		n, err := r.port.Read(buf)
		if err != nil {
			return Frame{}, fmt.Errorf("failed to read response: %w", err)
		}
		if n == 0 {
			continue
		}

		var frames []Frame
		frames, r.pending = ParseFrames(append(r.pending, buf[:n]...))
		for _, f := range frames {
			if f.Command == want {
				return f, nil
			}
			log.Debug().Msgf("skipping uhf frame for command 0x%02X", f.Command)
		}
	}
	return Frame{}, fmt.Errorf("%w: command 0x%02X", ErrNoResponse, want)
}
