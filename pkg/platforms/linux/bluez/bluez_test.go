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

package bluez

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
)

func changed(iface string, props map[string]dbus.Variant) *dbus.Signal {
	return &dbus.Signal{
		Path: DefaultAdapterObj,
		Name: propsInterface + "." + propsChanged,
		Body: []any{iface, props, []string{}},
	}
}

func TestPoweredChange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sig         *dbus.Signal
		name        string
		wantPowered bool
		wantOK      bool
	}{
		{
			name:        "powered on",
			sig:         changed(adapterInterface, map[string]dbus.Variant{"Powered": dbus.MakeVariant(true)}),
			wantPowered: true,
			wantOK:      true,
		},
		{
			name:   "powered off",
			sig:    changed(adapterInterface, map[string]dbus.Variant{"Powered": dbus.MakeVariant(false)}),
			wantOK: true,
		},
		{
			name: "other property",
			sig:  changed(adapterInterface, map[string]dbus.Variant{"Discovering": dbus.MakeVariant(true)}),
		},
		{
			name: "other interface",
			sig:  changed("org.bluez.Device1", map[string]dbus.Variant{"Powered": dbus.MakeVariant(true)}),
		},
		{
			name: "wrong type",
			sig:  changed(adapterInterface, map[string]dbus.Variant{"Powered": dbus.MakeVariant("yes")}),
		},
		{
			name: "other signal",
			sig:  &dbus.Signal{Name: "org.bluez.Adapter1.Whatever", Body: []any{adapterInterface}},
		},
		{name: "nil"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			powered, ok := PoweredChange(tt.sig)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantPowered, powered)
		})
	}
}

func TestNewAdapterMonitorDefault(t *testing.T) {
	t.Parallel()
	assert.Equal(t, dbus.ObjectPath(DefaultAdapterObj), NewAdapterMonitor("").adapter)
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci1"), NewAdapterMonitor("/org/bluez/hci1").adapter)
	assert.NoError(t, NewAdapterMonitor("").Close())
}
