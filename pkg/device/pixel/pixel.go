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

// Package pixel converts RGB888 frames to and from the RGB565 byte stream
// expected by the AceMagic S1 front panel LCD. The scan order of the emitted
// stream depends on the device orientation code, so encoding and decoding are
// always performed relative to an explicit Orientation.
package pixel

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// Orientation is the device-facing orientation code sent in the orientation
// packet. It determines both the logical frame size and the pixel scan order.
type Orientation byte

const (
	// Landscape (320x170) streams pixels row by row, left to right.
	Landscape Orientation = 0x01
	// Portrait (170x320) streams pixels column by column, starting from the
	// last column, top to bottom within each column.
	Portrait Orientation = 0x02
)

var (
	ErrBadOrientation = errors.New("unsupported orientation code")
	ErrBadDimensions  = errors.New("frame dimensions do not match orientation")
	ErrBadLength      = errors.New("bitmap length does not match orientation")
)

func (o Orientation) Valid() bool {
	return o == Landscape || o == Portrait
}

// Size returns the logical frame width and height for the orientation.
func (o Orientation) Size() (width, height int) {
	if o == Portrait {
		return 170, 320
	}
	return 320, 170
}

// BitmapLen returns the exact byte length of an encoded frame, two bytes per
// pixel. Any encoded bitmap whose length differs is a contract violation.
func (o Orientation) BitmapLen() int {
	w, h := o.Size()
	return w * h * 2
}

func (o Orientation) String() string {
	switch o {
	case Landscape:
		return "landscape"
	case Portrait:
		return "portrait"
	default:
		return fmt.Sprintf("orientation(0x%02X)", byte(o))
	}
}

// ParseOrientation maps the wire names used by the API and the persisted
// config back to an orientation code.
func ParseOrientation(s string) (Orientation, error) {
	switch s {
	case "landscape":
		return Landscape, nil
	case "portrait":
		return Portrait, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrBadOrientation, s)
	}
}

// scan visits every pixel coordinate of a w*h frame in the device scan order
// for the orientation. It is deliberately a standalone function: the original
// firmware mapping is easy to get backwards, so the order is pinned here and
// verified against golden fixtures in tests.
func scan(o Orientation, w, h int, visit func(x, y int)) {
	if o == Portrait {
		for x := w - 1; x >= 0; x-- {
			for y := 0; y < h; y++ {
				visit(x, y)
			}
		}
		return
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			visit(x, y)
		}
	}
}

// pack565 quantizes an RGB888 pixel to a 16-bit RGB565 value.
func pack565(r, g, b uint8) uint16 {
	return uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
}

// Encode packs an RGB888 frame into the device bitmap for the orientation.
// The frame must already match the orientation's size exactly; resizing is
// the compositor's job, never the codec's.
func Encode(img *image.RGBA, o Orientation) ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("%w: 0x%02X", ErrBadOrientation, byte(o))
	}

	w, h := o.Size()
	bounds := img.Bounds()
	if bounds.Dx() != w || bounds.Dy() != h {
		return nil, fmt.Errorf("%w: got %dx%d, want %dx%d",
			ErrBadDimensions, bounds.Dx(), bounds.Dy(), w, h)
	}

	out := make([]byte, 0, w*h*2)
	scan(o, w, h, func(x, y int) {
		i := img.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
		c := pack565(img.Pix[i], img.Pix[i+1], img.Pix[i+2])
		// High byte first; this matches the stream the panel firmware
		// expects and is unrelated to the lighting packet's byte order.
		out = append(out, byte(c>>8), byte(c))
	})

	return out, nil
}

// Decode is the exact inverse of Encode for a well-formed bitmap, expanding
// each 5/6/5 channel back to 8 bits. Encode(Decode(b)) == b holds
// bit-for-bit; the 888->565->888 trip is lossy only in quantization.
func Decode(data []byte, o Orientation) (*image.RGBA, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("%w: 0x%02X", ErrBadOrientation, byte(o))
	}

	w, h := o.Size()
	if len(data) != w*h*2 {
		return nil, fmt.Errorf("%w: got %d bytes, want %d",
			ErrBadLength, len(data), w*h*2)
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	i := 0
	scan(o, w, h, func(x, y int) {
		c := uint16(data[i])<<8 | uint16(data[i+1])
		i += 2

		r5 := (c >> 11) & 0x1F
		g6 := (c >> 5) & 0x3F
		b5 := c & 0x1F

		img.SetRGBA(x, y, color.RGBA{
			R: uint8(r5 * 255 / 31),
			G: uint8(g6 * 255 / 63),
			B: uint8(b5 * 255 / 31),
			A: 255,
		})
	})

	return img, nil
}
