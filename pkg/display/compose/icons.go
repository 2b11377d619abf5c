/*
AcePanel Core
Copyright (c) 2026 The AcePanel Project Contributors.
SPDX-License-Identifier: GPL-3.0-or-later

This file is part of AcePanel Core.

AcePanel Core is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

AcePanel Core is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with AcePanel Core.  If not, see <http://www.gnu.org/licenses/>.
*/

package compose

// IconMarker prefixes display strings that should be rendered as a Material
// Design icon glyph instead of text.
const IconMarker = "mdi:"

// iconGlyphs maps MDI icon names to their private-use-area codepoints in the
// materialdesignicons webfont. Only the icons commonly used on sensor panels
// are mapped; an unmapped name skips the element rather than failing the
// render.
var iconGlyphs = map[string]rune{
	"chip":            0xF061A,
	"clock-outline":   0xF0150,
	"download":        0xF01DA,
	"ethernet":        0xF0200,
	"fan":             0xF0210,
	"harddisk":        0xF02CA,
	"home":            0xF02DC,
	"lightbulb":       0xF0335,
	"memory":          0xF035B,
	"power":           0xF0425,
	"speedometer":     0xF04C5,
	"thermometer":     0xF050F,
	"upload":          0xF0552,
	"water-percent":   0xF058E,
	"weather-sunny":   0xF0599,
	"wifi":            0xF05A9,
}

// IconGlyph resolves an "mdi:<name>" string to its font codepoint.
func IconGlyph(name string) (rune, bool) {
	r, ok := iconGlyphs[name]
	return r, ok
}
