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

// Package store persists the display's text element collection, per-
// orientation background paths and last orientation as a single JSON
// document, rewritten after every mutating call. One Store instance is owned
// by the device session; nothing here is process-global.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/acepanel/acepanel-core/pkg/device/pixel"
	"github.com/acepanel/acepanel-core/pkg/display/compose"
	"github.com/acepanel/acepanel-core/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

var (
	ErrDuplicateKey = errors.New("text element key already exists")
	ErrNotFound     = errors.New("text element not found")
	ErrEmptyKey     = errors.New("text element key must not be empty")
)

// DefaultOrientation is used until a caller picks one.
const DefaultOrientation = pixel.Portrait

// DisplayConfig holds the persisted display settings alongside the element
// collection. Field names match the original text_config.json documents.
type DisplayConfig struct {
	BackgroundLandscape string `json:"background_image_landscape"`
	BackgroundPortrait  string `json:"background_image_portrait"`
	LastOrientation     byte   `json:"last_orientation"`
}

type document struct {
	TextElements  []compose.Element `json:"text_elements"`
	DisplayConfig DisplayConfig     `json:"display_config"`
}

// Store is the owned text/display configuration instance. All methods are
// safe for concurrent use.
type Store struct {
	values   map[string]compose.Value
	path     string
	elements []compose.Element
	display  DisplayConfig
	mu       syncutil.RWMutex
}

// NewStore creates a store backed by the JSON file at path. Call Load before
// first use.
func NewStore(path string) *Store {
	return &Store{
		path:   path,
		values: make(map[string]compose.Value),
		display: DisplayConfig{
			LastOrientation: byte(DefaultOrientation),
		},
	}
}

// Load reads the persisted document. A missing file is a clean first start;
// a malformed one is logged and treated as empty configuration. Load never
// fails the caller's startup.
func (s *Store) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path) //nolint:gosec // path comes from local config
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error().Err(err).Str("path", s.path).Msg("reading text config")
		}
		return
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("malformed text config, starting empty")
		return
	}

	s.elements = doc.TextElements
	if pixel.Orientation(doc.DisplayConfig.LastOrientation).Valid() {
		s.display = doc.DisplayConfig
	} else {
		s.display = doc.DisplayConfig
		s.display.LastOrientation = byte(DefaultOrientation)
	}

	// Static elements carry their own value; seed it so the first render
	// does not have to wait for a caller update.
	for i := range s.elements {
		element := &s.elements[i]
		if element.Static && element.StaticText != "" {
			s.values[element.Key] = compose.StringValue(element.StaticText)
		}
	}

	log.Info().
		Int("elements", len(s.elements)).
		Str("path", s.path).
		Msg("text config loaded")
}

// save writes the document to disk. Callers must hold the write lock.
func (s *Store) save() error {
	doc := document{
		TextElements:  s.elements,
		DisplayConfig: s.display,
	}
	if doc.TextElements == nil {
		doc.TextElements = []compose.Element{}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling text config: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("writing text config: %w", err)
	}

	return nil
}

func (s *Store) find(key string) int {
	for i := range s.elements {
		if s.elements[i].Key == key {
			return i
		}
	}
	return -1
}

// Add appends a new element. A duplicate key fails without overwriting the
// existing element.
func (s *Store) Add(element compose.Element) error {
	if element.Key == "" {
		return ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.find(element.Key) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, element.Key)
	}

	if element.FontSize <= 0 {
		element.FontSize = compose.DefaultFontSize
	}

	s.elements = append(s.elements, element)
	if element.Static && element.StaticText != "" {
		s.values[element.Key] = compose.StringValue(element.StaticText)
	}

	return s.save()
}

// ElementPatch carries the optional fields an update may change; nil fields
// are left untouched.
type ElementPatch struct {
	X         *int               `json:"x"`
	Y         *int               `json:"y"`
	FontSize  *int               `json:"font_size"`
	Color     *compose.RGB       `json:"color"`
	Alignment *compose.Alignment `json:"alignment"`
	Prefix    *string            `json:"prefix"`
	Suffix    *string            `json:"suffix"`
	Format    *string            `json:"format"`
	FontPath  *string            `json:"font_path"`
}

// Update patches an existing element in place.
func (s *Store) Update(key string, patch ElementPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(key)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	element := &s.elements[i]
	if patch.X != nil {
		element.X = *patch.X
	}
	if patch.Y != nil {
		element.Y = *patch.Y
	}
	if patch.FontSize != nil {
		element.FontSize = *patch.FontSize
	}
	if patch.Color != nil {
		element.Color = *patch.Color
	}
	if patch.Alignment != nil {
		element.Alignment = *patch.Alignment
	}
	if patch.Prefix != nil {
		element.Prefix = *patch.Prefix
	}
	if patch.Suffix != nil {
		element.Suffix = *patch.Suffix
	}
	if patch.Format != nil {
		element.Format = *patch.Format
	}
	if patch.FontPath != nil {
		element.FontPath = *patch.FontPath
	}

	return s.save()
}

// Remove deletes an element and its recorded value.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(key)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	s.elements = append(s.elements[:i], s.elements[i+1:]...)
	delete(s.values, key)

	return s.save()
}

// Clear removes every element and recorded value.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.elements = nil
	s.values = make(map[string]compose.Value)

	return s.save()
}

// Elements returns a copy of the ordered element collection.
func (s *Store) Elements() []compose.Element {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]compose.Element, len(s.elements))
	copy(out, s.elements)
	return out
}

// Element looks up a single element by key.
func (s *Store) Element(key string) (compose.Element, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.find(key); i >= 0 {
		return s.elements[i], true
	}
	return compose.Element{}, false
}

// SetValue records the latest known value for an entity key. Values are not
// persisted; they are re-supplied by the caller after a restart.
func (s *Store) SetValue(key string, v compose.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = v
}

// Values returns a copy of the sensor value table.
func (s *Store) Values() map[string]compose.Value {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]compose.Value, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// SetBackground persists the background image path for an orientation.
func (s *Store) SetBackground(o pixel.Orientation, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o == pixel.Landscape {
		s.display.BackgroundLandscape = path
	} else {
		s.display.BackgroundPortrait = path
	}

	return s.save()
}

// Background returns the configured background path for an orientation,
// empty when none is set.
func (s *Store) Background(o pixel.Orientation) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if o == pixel.Landscape {
		return s.display.BackgroundLandscape
	}
	return s.display.BackgroundPortrait
}

// SetOrientation persists the last chosen orientation.
func (s *Store) SetOrientation(o pixel.Orientation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.display.LastOrientation = byte(o)
	return s.save()
}

// Orientation returns the persisted orientation, falling back to the default
// when the stored code is unknown.
func (s *Store) Orientation() pixel.Orientation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o := pixel.Orientation(s.display.LastOrientation)
	if !o.Valid() {
		return DefaultOrientation
	}
	return o
}
