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

import (
	"encoding/json"
	"fmt"
	"image/color"
)

// Alignment positions an element's text relative to its x coordinate.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignCenter
	AlignRight
)

// RGB is a text color. It serializes as a three-element JSON array to stay
// compatible with existing text_config.json documents.
type RGB struct {
	R, G, B uint8
}

func (c RGB) RGBA() color.RGBA {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: 255}
}

func (c RGB) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal([3]uint8{c.R, c.G, c.B})
	if err != nil {
		return nil, fmt.Errorf("marshalling color: %w", err)
	}
	return data, nil
}

func (c *RGB) UnmarshalJSON(data []byte) error {
	var arr [3]uint8
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("unmarshalling color: %w", err)
	}
	c.R, c.G, c.B = arr[0], arr[1], arr[2]
	return nil
}

// DefaultFontSize applies when an element does not set one.
const DefaultFontSize = 16

// White is the default text color.
var White = RGB{R: 255, G: 255, B: 255}

// Element is one positioned piece of text (or icon) on the display. The key
// is unique within a collection; coordinates are in the canonical landscape
// coordinate space.
type Element struct {
	Key        string    `json:"entity_id"`
	X          int       `json:"x"`
	Y          int       `json:"y"`
	FontSize   int       `json:"font_size"`
	Color      RGB       `json:"color"`
	Alignment  Alignment `json:"alignment"`
	Prefix     string    `json:"prefix"`
	Suffix     string    `json:"suffix"`
	Format     string    `json:"format"`
	FontPath   string    `json:"font_path"`
	Static     bool      `json:"is_static"`
	StaticText string    `json:"static_value"`
}

// DisplayText resolves the string an element should show. Static elements
// use their stored text regardless of any table entry for their key. Dynamic
// elements with no recorded value return ok=false and are skipped by the
// compositor.
func (e *Element) DisplayText(values map[string]Value) (text string, ok bool) {
	if e.Static && e.StaticText != "" {
		return FormatValue(e.Format, e.Prefix, e.Suffix, StringValue(e.StaticText)), true
	}

	v, ok := values[e.Key]
	if !ok || v == nil {
		return "", false
	}

	return FormatValue(e.Format, e.Prefix, e.Suffix, v), true
}
