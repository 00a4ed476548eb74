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

// Package barcode runs scan sessions on an exclusive barcode decoder.
//
// Continuous scanning is a chain of single decodes: every successful read
// stops the engine (turning the illuminator off) and a restart is
// scheduled shortly after, while a failed decode just schedules another
// start.
package barcode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZaparooProject/zaparoo-handheld/pkg/config"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/helpers/syncutil"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/driver"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/readers/retry"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/service/broker"
	"github.com/ZaparooProject/zaparoo-handheld/pkg/service/scheduler"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

var errReleased = errors.New("decoder released while opening")

type Options struct {
	Config    *config.Instance
	Factory   driver.BarcodeDecoderFactory
	Publisher broker.Publisher
	Scheduler *scheduler.Scheduler
	Clock     clockwork.Clock
	// OnBackoff is passed to the retry connector.
	OnBackoff func(attempt int, delay time.Duration)
}

type Scanner struct {
	cfg       *config.Instance
	factory   driver.BarcodeDecoderFactory
	pub       broker.Publisher
	sched     *scheduler.Scheduler
	clock     clockwork.Clock
	onBackoff func(int, time.Duration)
	host      driver.Host
	dec       driver.BarcodeDecoder
	connects  singleflight.Group
	// gen counts closes; an open that began before the latest close is
	// refused at install.
	gen       uint64
	mode      readers.ScanMode
	mu        syncutil.Mutex
}

func NewScanner(opts Options) *Scanner {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	sched := opts.Scheduler
	if sched == nil {
		sched = scheduler.New(clock)
	}
	return &Scanner{
		cfg:       opts.Config,
		factory:   opts.Factory,
		pub:       opts.Publisher,
		sched:     sched,
		clock:     clock,
		onBackoff: opts.OnBackoff,
	}
}

// SetHost sets the host decoders are opened against. A nil host makes
// every later connect fail with ErrInvalidArgument.
func (s *Scanner) SetHost(host driver.Host) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.host = host
}

func (s *Scanner) Mode() readers.ScanMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Halt drops the scan mode to idle. Pending restarts become no-ops.
func (s *Scanner) Halt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = readers.ScanIdle
}

func (s *Scanner) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dec != nil
}

// Connect opens a fresh decoder, force-closing the current one first.
// Concurrent callers share a single open.
func (s *Scanner) Connect(ctx context.Context) error {
	_, err, shared := s.connects.Do("connect", func() (any, error) {
		return nil, s.connect(ctx)
	})
	if shared {
		log.Debug().Msg("barcode connect joined in-flight open")
	}
	if err != nil {
		return fmt.Errorf("barcode connect: %w", err)
	}
	return nil
}

func (s *Scanner) connect(ctx context.Context) error {
	if s.factory == nil {
		return readers.ErrNoDriver
	}

	s.mu.Lock()
	host := s.host
	gen := s.gen
	s.mu.Unlock()

	conn := retry.New[driver.BarcodeDecoder](s.clock, s.maxAttempts(), s.backoffStep())
	conn.OnBackoff = s.onBackoff

	_, err := conn.Open(ctx, host, retry.Target[driver.BarcodeDecoder]{
		Evict:  s.evict,
		Create: s.factory,
		Open: func(d driver.BarcodeDecoder, h driver.Host) (bool, error) {
			return d.Open(h)
		},
		Discard: func(d driver.BarcodeDecoder) {
			if err := driver.Safe("close rejected decoder", d.Close); err != nil {
				log.Debug().Err(err).Msg("error closing rejected decoder")
			}
		},
		Install: func(d driver.BarcodeDecoder) error {
			return s.install(d, gen)
		},
	})
	if err != nil {
		return fmt.Errorf("open decoder: %w", err)
	}
	return nil
}

// evict force-closes the live decoder, if any.
func (s *Scanner) evict() {
	s.mu.Lock()
	d := s.dec
	s.dec = nil
	s.mode = readers.ScanIdle
	s.mu.Unlock()

	if d == nil {
		return
	}
	log.Info().Msg("force closing previous decoder")
	if err := closeDecoder(d); err != nil {
		log.Debug().Err(err).Msg("error force closing decoder")
	}
}

func (s *Scanner) install(d driver.BarcodeDecoder, gen uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return errReleased
	}
	d.SetDecodeCallback(func(res driver.DecodeResult) {
		s.onDecode(d, res)
	})
	s.dec = d
	s.mode = readers.ScanIdle
	return nil
}

// Scan starts a single or continuous scan, connecting first if there is
// no decoder. A fresh decoder gets the settle delay before its first scan.
func (s *Scanner) Scan(ctx context.Context, continuous bool) error {
	if !s.IsConnected() {
		if err := s.Connect(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("barcode scan: %w", ctx.Err())
		case <-s.clock.After(s.settleDelay()):
		}
	}

	s.mu.Lock()
	d := s.dec
	if d == nil {
		s.mu.Unlock()
		return fmt.Errorf("barcode scan: %w", readers.ErrNotConnected)
	}
	if s.mode == readers.ScanContinuous {
		s.mu.Unlock()
		return nil
	}

	if continuous {
		s.mode = readers.ScanContinuous
	} else {
		s.mode = readers.ScanSingleShot
	}
	if err := driver.Safe("start scan", d.StartScan); err != nil {
		s.mode = readers.ScanIdle
		s.mu.Unlock()
		return fmt.Errorf("barcode scan: %w: %w", readers.ErrStartFailed, err)
	}
	s.publish(readers.BarcodeScanning)
	s.mu.Unlock()

	log.Debug().Bool("continuous", continuous).Msg("barcode scan started")
	return nil
}

// Stop ends any scan and reports STOPPED.
func (s *Scanner) Stop() error {
	s.mu.Lock()
	d := s.dec
	if d == nil {
		s.mu.Unlock()
		return fmt.Errorf("barcode stop: %w", readers.ErrNotConnected)
	}
	s.mode = readers.ScanIdle
	err := driver.Safe("stop scan", d.StopScan)
	if err == nil {
		s.publish(readers.BarcodeStopped)
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("barcode stop: %w", err)
	}
	return nil
}

// Close stops scanning and closes the decoder. It is a no-op without one.
func (s *Scanner) Close() error {
	s.mu.Lock()
	s.gen++
	d := s.dec
	s.dec = nil
	s.mode = readers.ScanIdle
	s.mu.Unlock()

	if d == nil {
		return nil
	}
	if err := closeDecoder(d); err != nil {
		return fmt.Errorf("barcode close: %w", err)
	}
	log.Info().Msg("barcode decoder closed")
	return nil
}

// Release is Close for forced cleanup: errors are logged, never returned.
func (s *Scanner) Release() {
	if err := s.Close(); err != nil {
		log.Warn().Err(err).Msg("barcode release")
	}
}

// closeDecoder clears the callback before closing so no decode can run
// against a closed handle.
func closeDecoder(d driver.BarcodeDecoder) error {
	stopErr := driver.Safe("stop scan", d.StopScan)
	cbErr := driver.Safe("clear callback", func() error {
		d.SetDecodeCallback(nil)
		return nil
	})
	closeErr := driver.Safe("close decoder", d.Close)
	return errors.Join(stopErr, cbErr, closeErr)
}

func (s *Scanner) onDecode(d driver.BarcodeDecoder, res driver.DecodeResult) {
	s.mu.Lock()
	if s.dec != d {
		s.mu.Unlock()
		log.Debug().Msg("ignoring decode from stale decoder")
		return
	}

	if !res.OK() {
		if s.mode == readers.ScanContinuous {
			s.sched.After("barcode retry", s.retryDelay(), func() {
				s.restart(d, false)
			})
		} else {
			s.mode = readers.ScanIdle
		}
		s.mu.Unlock()
		log.Debug().Int("code", int(res.Code)).Msg("barcode decode failed")
		return
	}

	if err := driver.Safe("stop scan", d.StopScan); err != nil {
		log.Warn().Err(err).Msg("failed to stop scan after decode")
	}
	if s.mode == readers.ScanContinuous {
		s.sched.After("barcode restart", s.restartDelay(), func() {
			s.restart(d, true)
		})
	} else {
		s.mode = readers.ScanIdle
	}
	s.publish(res.Data)
	s.mu.Unlock()
}

// restart resumes a continuous scan. A failed restart after a successful
// read ends the session; a failed retry after a failed decode is only
// logged.
func (s *Scanner) restart(d driver.BarcodeDecoder, afterRead bool) {
	s.mu.Lock()
	if s.dec != d || s.mode != readers.ScanContinuous {
		s.mu.Unlock()
		return
	}

	err := driver.Safe("restart scan", d.StartScan)
	if err == nil {
		s.mu.Unlock()
		return
	}
	if !afterRead {
		s.mu.Unlock()
		log.Debug().Err(err).Msg("barcode retry start failed")
		return
	}

	s.mode = readers.ScanIdle
	s.publish(readers.BarcodeStopped)
	s.mu.Unlock()
	log.Error().Err(err).Msg("continuous barcode scan could not restart")
}

// publish is called with mu held so events leave in session order.
func (s *Scanner) publish(v string) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(broker.StreamBarcode, v)
}

func (s *Scanner) maxAttempts() int {
	if s.cfg == nil {
		return config.DefaultMaxAttempts
	}
	return s.cfg.BarcodeMaxAttempts()
}

func (s *Scanner) backoffStep() time.Duration {
	if s.cfg == nil {
		return config.DefaultBackoffStep
	}
	return s.cfg.BarcodeBackoffStep()
}

func (s *Scanner) settleDelay() time.Duration {
	if s.cfg == nil {
		return config.DefaultSettleDelay
	}
	return s.cfg.BarcodeSettleDelay()
}

func (s *Scanner) restartDelay() time.Duration {
	if s.cfg == nil {
		return config.DefaultRestartDelay
	}
	return s.cfg.BarcodeRestartDelay()
}

func (s *Scanner) retryDelay() time.Duration {
	if s.cfg == nil {
		return config.DefaultRetryDelay
	}
	return s.cfg.BarcodeRetryDelay()
}
