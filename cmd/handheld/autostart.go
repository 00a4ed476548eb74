/*
Zaparoo Handheld
Copyright (c) 2026 The Zaparoo Project Contributors.
SPDX-License-Identifier: GPL-3.0-or-later

This file is part of Zaparoo Handheld.

Zaparoo Handheld is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Zaparoo Handheld is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Zaparoo Handheld.  If not, see <http://www.gnu.org/licenses/>.
*/

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

const (
	autoNone    = "none"
	autoUHF     = "uhf"
	autoBarcode = "barcode"
	autoBLE     = "ble"
)

var errBadAutostart = errors.New("invalid autostart option")

type autostartMode struct {
	kind    string
	address string
}

func parseAutostart(kind, address string) (autostartMode, error) {
	switch kind {
	case "", autoNone:
		return autostartMode{kind: autoNone}, nil
	case autoUHF, autoBarcode:
		return autostartMode{kind: kind}, nil
	case autoBLE:
		if address == "" {
			return autostartMode{}, fmt.Errorf("%w: -scan=ble needs -address", errBadAutostart)
		}
		return autostartMode{kind: kind, address: address}, nil
	default:
		return autostartMode{}, fmt.Errorf("%w: %q", errBadAutostart, kind)
	}
}

// scanner is the part of the controller autostart drives.
type scanner interface {
	WaitSettled(ctx context.Context) error
	Connect() error
	StartContinuousScan() error
	ScanBarcodeContinuous(ctx context.Context) error
	ConnectDevice(ctx context.Context, address string) error
	StartInventory() error
}

// autostart connects the chosen reader and starts a continuous scan, so
// the daemon is useful without a host driving it. It waits out the
// cleanup that follows attach first, since that pass closes every reader.
func autostart(ctx context.Context, s scanner, mode autostartMode) error {
	if mode.kind == autoNone || mode.kind == "" {
		return nil
	}
	if err := s.WaitSettled(ctx); err != nil {
		return err
	}

	switch mode.kind {
	case autoUHF:
		if err := s.Connect(); err != nil {
			return fmt.Errorf("connect uhf: %w", err)
		}
		if err := s.StartContinuousScan(); err != nil {
			return fmt.Errorf("start uhf scan: %w", err)
		}
	case autoBarcode:
		if err := s.ScanBarcodeContinuous(ctx); err != nil {
			return fmt.Errorf("start barcode scan: %w", err)
		}
	case autoBLE:
		if err := s.ConnectDevice(ctx, mode.address); err != nil {
			return fmt.Errorf("connect ble reader: %w", err)
		}
		if err := s.StartInventory(); err != nil {
			return fmt.Errorf("start ble inventory: %w", err)
		}
	default:
		return nil
	}
	log.Info().Str("reader", mode.kind).Msg("continuous scan started")
	return nil
}
