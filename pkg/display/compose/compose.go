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

// Package compose overlays positioned text and icon elements onto a
// background image, producing the RGB888 frame the pixel codec consumes.
// Rendering is strictly best-effort: a missing value, font or glyph skips
// the affected element and the rest of the composition still completes.
package compose

import (
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

// Compositor renders element collections onto background frames. It owns the
// font cache; construct one per device session and share it between renders.
type Compositor struct {
	fonts        *FontCache
	iconFontPath string
}

// NewCompositor creates a compositor. iconFontPath points at a Material
// Design icon font; when empty, icon elements are skipped.
func NewCompositor(iconFontPath string) *Compositor {
	return &Compositor{
		fonts:        NewFontCache(),
		iconFontPath: iconFontPath,
	}
}

// Fonts exposes the compositor's font cache for invalidation on element
// updates.
func (c *Compositor) Fonts() *FontCache { return c.fonts }

// Render draws the elements onto a copy of the background. The background is
// never mutated; with no elements the returned frame is a byte-identical
// copy.
func (c *Compositor) Render(
	background image.Image,
	elements []Element,
	values map[string]Value,
) *image.RGBA {
	frame := cloneRGBA(background)
	if len(elements) == 0 {
		return frame
	}

	for i := range elements {
		element := &elements[i]

		text, ok := element.DisplayText(values)
		if !ok {
			log.Debug().Str("key", element.Key).Msg("no value recorded, skipping element")
			continue
		}
		if text == "" {
			continue
		}

		if err := c.drawElement(frame, element, text); err != nil {
			log.Warn().Err(err).Str("key", element.Key).Msg("skipping element")
		}
	}

	return frame
}

// drawElement draws a single element, converting any panic from the font
// machinery into an error so one bad glyph cannot abort the composition.
func (c *Compositor) drawElement(frame *image.RGBA, element *Element, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("drawing %q: %v", text, r)
		}
	}()

	if strings.HasPrefix(text, IconMarker) {
		return c.drawIcon(frame, element, strings.TrimPrefix(text, IconMarker))
	}

	face := c.fonts.Face(element.FontPath, element.FontSize)
	drawString(frame, face, text, element)
	return nil
}

func (c *Compositor) drawIcon(frame *image.RGBA, element *Element, name string) error {
	if c.iconFontPath == "" {
		return fmt.Errorf("icon %q requested but no icon font configured", name)
	}

	glyph, ok := IconGlyph(name)
	if !ok {
		return fmt.Errorf("unknown icon %q", name)
	}

	face := c.fonts.Face(c.iconFontPath, element.FontSize)
	drawString(frame, face, string(glyph), element)
	return nil
}

func drawString(frame *image.RGBA, face font.Face, text string, element *Element) {
	drawer := &font.Drawer{
		Dst:  frame,
		Src:  image.NewUniform(element.Color.RGBA()),
		Face: face,
	}

	x := element.X
	switch element.Alignment {
	case AlignCenter:
		x -= drawer.MeasureString(text).Round() / 2
	case AlignRight:
		x -= drawer.MeasureString(text).Round()
	case AlignLeft:
	}

	// The y coordinate addresses the top of the text; shift to the
	// baseline by the face ascent.
	drawer.Dot = fixed.P(x, element.Y+face.Metrics().Ascent.Round())
	drawer.DrawString(text)
}

// cloneRGBA copies any image into a fresh RGBA with origin (0,0).
func cloneRGBA(src image.Image) *image.RGBA {
	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)
	return dst
}

// SolidBackground synthesizes a single-color frame, the fallback when no
// background image is configured or resolvable.
func SolidBackground(width, height int, c RGB) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(c.RGBA()), image.Point{}, draw.Src)
	return img
}

// LoadBackground decodes a PNG or JPEG background image and scales it to the
// target size when it differs. Callers fall back to SolidBackground on any
// error.
func LoadBackground(path string, width, height int) (*image.RGBA, error) {
	f, err := os.Open(path) //nolint:gosec // background paths come from local config
	if err != nil {
		return nil, fmt.Errorf("opening background: %w", err)
	}
	defer func() { _ = f.Close() }()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding background: %w", err)
	}

	bounds := src.Bounds()
	if bounds.Dx() == width && bounds.Dy() == height {
		return cloneRGBA(src), nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), src, bounds, xdraw.Src, nil)
	return dst, nil
}
