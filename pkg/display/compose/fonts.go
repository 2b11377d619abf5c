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
	"os"
	"path/filepath"

	"github.com/acepanel/acepanel-core/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
)

// wellKnownFontPaths are tried, in order, when an element's configured font
// path cannot be resolved.
var wellKnownFontPaths = []string{
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/liberation/LiberationSans-Regular.ttf",
	"/usr/share/fonts/TTF/DejaVuSans.ttf",
}

type faceKey struct {
	path string
	size int
}

// FontCache resolves (path, size) pairs to font faces with caching. Font
// resolution never fails: a missing or unparsable font degrades through the
// well-known system paths and finally to a built-in bitmap face.
type FontCache struct {
	faces map[faceKey]font.Face
	mu    syncutil.Mutex
}

func NewFontCache() *FontCache {
	return &FontCache{faces: make(map[faceKey]font.Face)}
}

// Face returns a font face for the path and size, loading and caching it on
// first use.
func (fc *FontCache) Face(path string, size int) font.Face {
	if size <= 0 {
		size = DefaultFontSize
	}

	key := faceKey{path: path, size: size}

	fc.mu.Lock()
	defer fc.mu.Unlock()

	if face, ok := fc.faces[key]; ok {
		return face
	}

	face := loadFace(path, size)
	fc.faces[key] = face
	return face
}

// Invalidate drops any cached faces for a path so the next render reloads
// the file, used when an element's font configuration changes.
func (fc *FontCache) Invalidate(path string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	for key := range fc.faces {
		if key.path == path {
			delete(fc.faces, key)
		}
	}
}

func loadFace(path string, size int) font.Face {
	candidates := make([]string, 0, len(wellKnownFontPaths)+3)
	if path != "" {
		base := filepath.Base(path)
		candidates = append(candidates,
			path,
			filepath.Join("/usr/share/fonts/truetype/dejavu", base),
			filepath.Join("/usr/share/fonts/truetype/liberation", base),
		)
	}
	candidates = append(candidates, wellKnownFontPaths...)

	for _, candidate := range candidates {
		face, err := parseFace(candidate, size)
		if err != nil {
			log.Debug().Err(err).Str("path", candidate).Msg("font candidate rejected")
			continue
		}
		return face
	}

	log.Warn().Str("path", path).Msg("no usable font found, using built-in face")
	return basicfont.Face7x13
}

func parseFace(path string, size int) (font.Face, error) {
	data, err := os.ReadFile(path) //nolint:gosec // font paths come from local config
	if err != nil {
		return nil, err
	}

	parsed, err := opentype.Parse(data)
	if err != nil {
		return nil, err
	}

	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, err
	}

	return face, nil
}
