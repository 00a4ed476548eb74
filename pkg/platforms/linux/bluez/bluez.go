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

// Package bluez reads the power state of a BlueZ adapter over the system
// D-Bus.
package bluez

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZaparooProject/zaparoo-handheld/pkg/helpers/syncutil"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

const (
	bluezService      = "org.bluez"
	adapterInterface  = "org.bluez.Adapter1"
	propsInterface    = "org.freedesktop.DBus.Properties"
	propsChanged      = "PropertiesChanged"
	poweredProperty   = "Powered"
	DefaultAdapterObj = "/org/bluez/hci0"
)

var ErrNoPowerState = errors.New("adapter did not report a power state")

// AdapterMonitor reports and watches the Powered property of one adapter.
type AdapterMonitor struct {
	conn    *dbus.Conn
	adapter dbus.ObjectPath
	mu      syncutil.Mutex
}

// NewAdapterMonitor watches the adapter at object path adapter, or hci0
// when empty. The bus connection is opened on first use.
func NewAdapterMonitor(adapter string) *AdapterMonitor {
	if adapter == "" {
		adapter = DefaultAdapterObj
	}
	return &AdapterMonitor{adapter: dbus.ObjectPath(adapter)}
}

// connLocked opens a private system bus connection so Close never affects
// the shared one.
func (m *AdapterMonitor) connLocked() (*dbus.Conn, error) {
	if m.conn != nil {
		return m.conn, nil
	}
	conn, err := dbus.SystemBusPrivate()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system D-Bus: %w", err)
	}
	if err := conn.Auth(nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to authenticate with D-Bus: %w", err)
	}
	if err := conn.Hello(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed D-Bus hello: %w", err)
	}
	m.conn = conn
	return conn, nil
}

// Enabled reports whether the adapter is powered.
func (m *AdapterMonitor) Enabled(ctx context.Context) (bool, error) {
	m.mu.Lock()
	conn, err := m.connLocked()
	m.mu.Unlock()
	if err != nil {
		return false, err
	}

	var v dbus.Variant
	err = conn.Object(bluezService, m.adapter).
		CallWithContext(ctx, propsInterface+".Get", 0, adapterInterface, poweredProperty).
		Store(&v)
	if err != nil {
		return false, fmt.Errorf("failed to read adapter power state: %w", err)
	}
	powered, ok := v.Value().(bool)
	if !ok {
		return false, ErrNoPowerState
	}
	return powered, nil
}

// Watch calls onChange each time the adapter's power state changes until
// ctx is done.
func (m *AdapterMonitor) Watch(ctx context.Context, onChange func(powered bool)) error {
	m.mu.Lock()
	conn, err := m.connLocked()
	m.mu.Unlock()
	if err != nil {
		return err
	}

	opts := []dbus.MatchOption{
		dbus.WithMatchObjectPath(m.adapter),
		dbus.WithMatchInterface(propsInterface),
		dbus.WithMatchMember(propsChanged),
	}
	if err := conn.AddMatchSignal(opts...); err != nil {
		return fmt.Errorf("failed to add match for %s: %w", propsChanged, err)
	}

	signals := make(chan *dbus.Signal, 10)
	conn.Signal(signals)

	go func() {
		defer func() {
			conn.RemoveSignal(signals)
			if err := conn.RemoveMatchSignal(opts...); err != nil {
				log.Debug().Err(err).Msg("failed to remove adapter match")
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				if sig.Path != m.adapter {
					continue
				}
				if powered, ok := PoweredChange(sig); ok {
					log.Info().Bool("powered", powered).Msg("bluetooth adapter state changed")
					onChange(powered)
				}
			}
		}
	}()
	return nil
}

// PoweredChange extracts the Powered value from a PropertiesChanged
// signal for the adapter interface.
func PoweredChange(sig *dbus.Signal) (powered, ok bool) {
	if sig == nil || sig.Name != propsInterface+"."+propsChanged || len(sig.Body) < 2 {
		return false, false
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != adapterInterface {
		return false, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return false, false
	}
	v, ok := changed[poweredProperty]
	if !ok {
		return false, false
	}
	powered, ok = v.Value().(bool)
	return powered, ok
}

func (m *AdapterMonitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn = nil
	if err != nil {
		return fmt.Errorf("failed to close D-Bus connection: %w", err)
	}
	return nil
}
