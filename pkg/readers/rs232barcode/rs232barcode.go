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

// Package rs232barcode drives a serial barcode engine in host trigger
// mode. Each decode arrives as one CR or LF terminated line.
package rs232barcode

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ZaparooProject/zaparoo-handheld/pkg/config"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/driver"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/testutils"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

const maxBufferSize = 8192 // QR Code v40 max is ~7KB numeric

// Serial trigger commands: SYN T CR and SYN U CR.
var (
	triggerCmd   = []byte{0x16, 'T', '\r'}
	untriggerCmd = []byte{0x16, 'U', '\r'}
)

var ErrNotOpen = errors.New("decoder not open")

// Driver builds decoders and tracks the ones holding a port so they can
// all be released in an emergency.
type Driver struct {
	cfg         *config.Instance
	clock       clockwork.Clock
	portFactory testutils.SerialPortFactory
	open        map[*Decoder]struct{}
	mu          syncutil.Mutex
}

func NewDriver(cfg *config.Instance, clock clockwork.Clock) *Driver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Driver{
		cfg:         cfg,
		clock:       clock,
		portFactory: testutils.DefaultSerialPortFactory,
		open:        make(map[*Decoder]struct{}),
	}
}

// New satisfies driver.BarcodeDecoderFactory.
func (d *Driver) New() (driver.BarcodeDecoder, error) {
	b := d.cfg.Barcode()
	return &Decoder{
		owner:         d,
		path:          b.Path,
		baudRate:      d.cfg.BarcodeBaudRate(),
		decodeTimeout: d.cfg.BarcodeDecodeTimeout(),
	}, nil
}

// ReleaseAll closes every port still held by a decoder from this driver.
func (d *Driver) ReleaseAll() error {
	d.mu.Lock()
	held := make([]*Decoder, 0, len(d.open))
	for dec := range d.open {
		held = append(held, dec)
	}
	d.mu.Unlock()

	var errs []error
	for _, dec := range held {
		if err := dec.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(held) > 0 {
		log.Warn().Int("count", len(held)).Msg("force released barcode ports")
	}
	return errors.Join(errs...)
}

// Held returns the number of decoders with an open port.
func (d *Driver) Held() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.open)
}

func (d *Driver) track(dec *Decoder, open bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if open {
		d.open[dec] = struct{}{}
	} else {
		delete(d.open, dec)
	}
}

// Decoder is a driver.BarcodeDecoder. Callbacks run on the port's read
// goroutine and must not call Close.
type Decoder struct {
	port          testutils.SerialPort
	owner         *Driver
	cb            driver.DecodeCallback
	timeout       clockwork.Timer
	done          chan struct{}
	path          string
	baudRate      int
	decodeTimeout time.Duration
	session       uint64
	mu            syncutil.Mutex
	polling       bool
	scanning      bool
}

func (d *Decoder) Open(driver.Host) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.port != nil {
		return true, nil
	}
	if d.path == "" {
		return false, errors.New("no barcode device path configured")
	}

	log.Debug().Msgf("opening serial barcode engine: %s", d.path)
	port, err := d.owner.portFactory(d.path, &serial.Mode{
		BaudRate: d.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return false, fmt.Errorf("failed to open serial port %s: %w", d.path, err)
	}
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		_ = port.Close()
		return false, fmt.Errorf("failed to set read timeout on serial port: %w", err)
	}

	d.port = port
	d.polling = true
	d.done = make(chan struct{})
	d.owner.track(d, true)
	go d.readLoop(port, d.done)

	log.Info().Msgf("opened serial barcode engine: %s", d.path)
	return true, nil
}

func (d *Decoder) SetDecodeCallback(cb driver.DecodeCallback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cb = cb
}

// StartScan triggers the engine and arms the decode timeout.
func (d *Decoder) StartScan() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.port == nil {
		return ErrNotOpen
	}
	if _, err := d.port.Write(triggerCmd); err != nil {
		return fmt.Errorf("failed to trigger barcode engine: %w", err)
	}

	d.scanning = true
	d.session++
	session := d.session
	if d.timeout != nil {
		d.timeout.Stop()
	}
	d.timeout = d.owner.clock.AfterFunc(d.decodeTimeout, func() {
		d.expire(session)
	})
	return nil
}

func (d *Decoder) StopScan() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.port == nil {
		return ErrNotOpen
	}
	d.endSessionLocked()
	if _, err := d.port.Write(untriggerCmd); err != nil {
		return fmt.Errorf("failed to untrigger barcode engine: %w", err)
	}
	return nil
}

func (d *Decoder) Close() error {
	d.mu.Lock()
	port := d.port
	done := d.done
	d.port = nil
	d.polling = false
	d.endSessionLocked()
	d.mu.Unlock()

	if port == nil {
		return nil
	}
	d.owner.track(d, false)
	err := port.Close()
	<-done
	if err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	return nil
}

func (d *Decoder) endSessionLocked() {
	d.scanning = false
	if d.timeout != nil {
		d.timeout.Stop()
		d.timeout = nil
	}
}

// expire reports a decode timeout if the session is still waiting.
func (d *Decoder) expire(session uint64) {
	d.mu.Lock()
	if !d.scanning || d.session != session {
		d.mu.Unlock()
		return
	}
	d.scanning = false
	d.timeout = nil
	cb := d.cb
	d.mu.Unlock()

	if cb != nil {
		cb(driver.DecodeResult{Code: driver.DecodeTimeout})
	}
}

// deliver hands a result to the callback if a scan is in progress.
func (d *Decoder) deliver(res driver.DecodeResult) {
	d.mu.Lock()
	if !d.scanning {
		d.mu.Unlock()
		if res.OK() {
			log.Debug().Str("data", res.Data).Msg("ignoring barcode outside a scan")
		}
		return
	}
	d.endSessionLocked()
	cb := d.cb
	d.mu.Unlock()

	if cb != nil {
		cb(res)
	}
}

func (d *Decoder) isPolling() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.polling
}

func (d *Decoder) readLoop(port testutils.SerialPort, done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, 1024)
	var lineBuf []byte
	overflowed := false

	for d.isPolling() {
		n, err := port.Read(buf)

		// process bytes even if the read also failed
		for i := range n {
			b := buf[i]

			if b == '\n' || b == '\r' {
				if overflowed {
					overflowed = false
					lineBuf = lineBuf[:0]
					continue
				}
				if len(lineBuf) > 0 {
					line, ok := parseLine(string(lineBuf))
					lineBuf = lineBuf[:0]
					if ok {
						log.Debug().Msgf("barcode decoded: %s", line)
						d.deliver(driver.DecodeResult{Code: driver.DecodeSuccess, Data: line})
					}
				}
				continue
			}

			if overflowed {
				continue
			}
			if len(lineBuf) >= maxBufferSize {
				log.Warn().Str("path", d.path).Msg("buffer overflow, discarding data until next delimiter")
				lineBuf = lineBuf[:0]
				overflowed = true
				continue
			}
			lineBuf = append(lineBuf, b)
		}

		if err != nil {
			if d.isPolling() {
				log.Error().Err(err).Msg("failed to read from barcode engine")
				d.deliver(driver.DecodeResult{Code: driver.DecodeFailed})
			}
			return
		}
	}
}

// parseLine strips whitespace and STX/ETX framing from one line.
func parseLine(line string) (string, bool) {
	line = strings.TrimSpace(line)
	line = strings.Trim(line, "\r")
	line = strings.TrimPrefix(line, "\x02")
	line = strings.TrimSuffix(line, "\x03")
	return line, line != ""
}
