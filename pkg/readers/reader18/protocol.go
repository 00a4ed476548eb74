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

// Package reader18 speaks the UHFReader18 serial protocol used by the
// handheld's built-in UHF module.
package reader18

import (
	"errors"
	"fmt"
)

const (
	CmdInventory       byte = 0x01
	CmdInventorySingle byte = 0x0F
	CmdGetReaderInfo   byte = 0x21
	CmdSetScanTime     byte = 0x25
	CmdSetOutputPower  byte = 0x2F

	StatusSuccess        byte = 0x00
	StatusNoTag          byte = 0x01
	StatusAntennaError   byte = 0xF8
	StatusNoTagOrTimeout byte = 0xFB
	StatusCmdError       byte = 0xFE
	StatusCRCError       byte = 0xFF

	DefaultAddress   byte = 0x00
	BroadcastAddress byte = 0xFF
)

// minFrame is Len + Adr + Cmd + Status + CRC.
const minFrame = 6

var (
	ErrWrongCommand = errors.New("unexpected response command")
	ErrShortPayload = errors.New("response payload too short")
)

// Frame is one decoded response frame.
type Frame struct {
	Data    []byte
	Length  byte
	Address byte
	Command byte
	Status  byte
}

// BuildCommand builds a request packet:
// Len(1) Adr(1) Cmd(1) Data(n) CRC-L(1) CRC-H(1).
func BuildCommand(address, command byte, payload []byte) []byte {
	length := byte(len(payload) + 4)
	packet := make([]byte, 0, int(length)+1)
	packet = append(packet, length, address, command)
	packet = append(packet, payload...)

	crc := crc16(packet)
	return append(packet, byte(crc&0xFF), byte(crc>>8))
}

// VerifyPacket checks the length byte and CRC of a whole packet.
func VerifyPacket(packet []byte) bool {
	if len(packet) < minFrame || int(packet[0])+1 != len(packet) {
		return false
	}
	crc := crc16(packet[:len(packet)-2])
	return byte(crc&0xFF) == packet[len(packet)-2] && byte(crc>>8) == packet[len(packet)-1]
}

// ParseFrames decodes every complete frame in stream. Bytes that cannot
// start a valid frame are skipped; a trailing partial frame is returned
// in remaining.
func ParseFrames(stream []byte) (frames []Frame, remaining []byte) {
	buf := stream
	for len(buf) >= minFrame {
		total := int(buf[0]) + 1
		if total < minFrame {
			buf = buf[1:]
			continue
		}
		if total > len(buf) {
			break
		}
		raw := buf[:total]
		if !VerifyPacket(raw) {
			buf = buf[1:]
			continue
		}

		frames = append(frames, Frame{
			Length:  raw[0],
			Address: raw[1],
			Command: raw[2],
			Status:  raw[3],
			Data:    append([]byte(nil), raw[4:total-2]...),
		})
		buf = buf[total:]
	}
	return frames, append([]byte(nil), buf...)
}

func InventorySingleTagCommand(address byte) []byte {
	return BuildCommand(address, CmdInventorySingle, nil)
}

func GetReaderInfoCommand(address byte) []byte {
	return BuildCommand(address, CmdGetReaderInfo, nil)
}

// SetScanTimeCommand sets the inventory window in 100ms units.
func SetScanTimeCommand(address, value byte) []byte {
	return BuildCommand(address, CmdSetScanTime, []byte{value})
}

func SetOutputPowerCommand(address, dbm byte) []byte {
	return BuildCommand(address, CmdSetOutputPower, []byte{dbm})
}

// SingleInventory is the payload of a 0x0F response.
type SingleInventory struct {
	EPC     []byte
	Antenna byte
	Count   int
}

// ParseSingleInventory decodes Ant(1) Count(1) EPCLen(1) EPC(n). A
// no-tag status yields an empty result.
func ParseSingleInventory(frame Frame) (SingleInventory, error) {
	if frame.Command != CmdInventorySingle {
		return SingleInventory{}, fmt.Errorf("%w: 0x%02X", ErrWrongCommand, frame.Command)
	}
	switch frame.Status {
	case StatusSuccess:
	case StatusNoTag, StatusNoTagOrTimeout:
		return SingleInventory{}, nil
	default:
		return SingleInventory{}, fmt.Errorf("single inventory status 0x%02X", frame.Status)
	}
	if len(frame.Data) < 3 {
		return SingleInventory{}, ErrShortPayload
	}

	epcLen := int(frame.Data[2])
	if len(frame.Data) < 3+epcLen {
		return SingleInventory{}, fmt.Errorf("%w: epc length %d", ErrShortPayload, epcLen)
	}
	return SingleInventory{
		Antenna: frame.Data[0],
		Count:   int(frame.Data[1]),
		EPC:     append([]byte(nil), frame.Data[3:3+epcLen]...),
	}, nil
}

// crc16 is CRC-16/MCRF4XX: reflected poly 0x8408, init 0xFFFF.
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for range 8 {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0x8408
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
