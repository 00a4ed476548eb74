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

package rs232barcode

import (
	"strings"
	"testing"
)

// FuzzParseLine checks STX/ETX framing and trimming never produce
// surprising output.
func FuzzParseLine(f *testing.F) {
	f.Add("1234567890")
	f.Add("https://example.com/product/123")
	f.Add("\x02BARCODE\x03")
	f.Add("  \x02BARCODE\x03  ")
	f.Add("\x02\x02DATA\x03\x03")
	f.Add("CODE\x02MID\x03END")
	f.Add("\x02\x03")
	f.Add("")
	f.Add("   \r\n")
	f.Add(strings.Repeat("0123456789", 700))
	f.Add("code-Россия")
	f.Add("CODE\x00MID")

	f.Fuzz(func(t *testing.T, line string) {
		got, ok := parseLine(line)

		if ok != (got != "") {
			t.Errorf("ok=%v for %q", ok, got)
		}
		if len(got) > len(line) {
			t.Errorf("output longer than input: %d > %d", len(got), len(line))
		}
		if !strings.Contains(line, got) {
			t.Errorf("output %q is not a substring of %q", got, line)
		}

		again, ok2 := parseLine(line)
		if again != got || ok2 != ok {
			t.Errorf("non-deterministic result for %q", line)
		}
	})
}
