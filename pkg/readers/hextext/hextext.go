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

// Package hextext renders raw hex tag and barcode payloads as text.
package hextext

import (
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Decode converts a hex payload to text, one character per byte. It never
// fails: an odd trailing nibble is dropped and pairs that are not valid
// hex are skipped, both with a logged warning.
func Decode(hex string) string {
	if hex == "" {
		return ""
	}

	n := len(hex)
	if n%2 != 0 {
		log.Warn().Int("length", n).Msg("hextext: odd length payload, dropping last nibble")
		n--
	}

	var sb strings.Builder
	sb.Grow(n / 2)
	for i := 0; i < n; i += 2 {
		v, err := strconv.ParseUint(hex[i:i+2], 16, 8)
		if err != nil {
			log.Warn().Int("offset", i).Str("pair", hex[i:i+2]).Msg("hextext: skipping invalid pair")
			continue
		}
		sb.WriteRune(rune(v))
	}
	return sb.String()
}
