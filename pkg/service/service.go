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

// Package service orchestrates the panel: it owns the text element store,
// the compositor and the device session, exposes the boundary operations the
// API serves, and emits a notification for every successful state change.
package service

import (
	"crypto/md5" //nolint:gosec // static text ids only, not security sensitive
	"encoding/json"
	"errors"
	"fmt"
	"image"

	"github.com/acepanel/acepanel-core/pkg/api/models"
	"github.com/acepanel/acepanel-core/pkg/device/pixel"
	"github.com/acepanel/acepanel-core/pkg/device/session"
	"github.com/acepanel/acepanel-core/pkg/display/compose"
	"github.com/acepanel/acepanel-core/pkg/display/store"
	"github.com/rs/zerolog/log"
)

// Lighting themes understood by the controller firmware.
const (
	ThemeRainbow    = 1
	ThemeBreathing  = 2
	ThemeColorCycle = 3
	ThemeOff        = 4
	ThemeAutomatic  = 5
)

// ThemeNames maps theme codes to their display names.
var ThemeNames = map[int]string{
	ThemeRainbow:    "Rainbow",
	ThemeBreathing:  "Breathing",
	ThemeColorCycle: "Color Cycle",
	ThemeOff:        "Off",
	ThemeAutomatic:  "Automatic",
}

// Defaults applied when a caller omits a lighting field.
const (
	DefaultTheme     = ThemeRainbow
	DefaultIntensity = 3
	DefaultSpeed     = 3
)

var (
	ErrBadTheme     = errors.New("theme must be between 1 and 5")
	ErrBadIntensity = errors.New("intensity must be between 1 and 5")
	ErrBadSpeed     = errors.New("speed must be between 1 and 5")
	ErrBadBitmapLen = errors.New("bitmap length does not match orientation")
)

// Service wires the store, compositor and session together and owns the
// notification source channel feeding the broker.
type Service struct {
	store  *store.Store
	comp   *compose.Compositor
	sess   *session.Session
	notifs chan models.Notification
}

// New builds a service around an already-loaded store and an open session.
// The returned channel is the notification source to hand to a broker.
func New(
	st *store.Store,
	comp *compose.Compositor,
	sess *session.Session,
) (*Service, <-chan models.Notification) {
	svc := &Service{
		store:  st,
		comp:   comp,
		sess:   sess,
		notifs: make(chan models.Notification, 32),
	}
	sess.OnImageSent = func() {
		svc.notify(models.NotificationDisplayUpdated, nil)
	}
	return svc, svc.notifs
}

// Start pushes the persisted orientation to the device and renders the first
// frame. Both are best effort: the panel may be unplugged at startup, and
// the session reconnects on its own.
func (s *Service) Start() {
	if err := s.sess.SetOrientation(s.store.Orientation()); err != nil {
		log.Warn().Err(err).Msg("initial orientation send failed")
	}
	if err := s.Refresh(); err != nil {
		log.Warn().Err(err).Msg("initial render failed")
	}
}

// Stop closes the notification channel, releasing broker subscribers.
func (s *Service) Stop() {
	close(s.notifs)
}

// notify emits a notification without blocking. If the broker has fallen
// behind the notification is dropped; device state is authoritative either
// way.
func (s *Service) notify(method string, params any) {
	var raw json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			log.Error().Err(err).Str("method", method).Msg("marshalling notification params")
			return
		}
		raw = data
	}

	select {
	case s.notifs <- models.Notification{Method: method, Params: raw}:
	default:
		log.Warn().Str("method", method).Msg("notification channel full, dropping")
	}
}

// SetLighting validates and sends a lighting control command to the RGB
// controller.
func (s *Service) SetLighting(theme, intensity, speed int) error {
	if theme < ThemeRainbow || theme > ThemeAutomatic {
		return fmt.Errorf("%w: %d", ErrBadTheme, theme)
	}
	if intensity < 1 || intensity > 5 {
		return fmt.Errorf("%w: %d", ErrBadIntensity, intensity)
	}
	if speed < 1 || speed > 5 {
		return fmt.Errorf("%w: %d", ErrBadSpeed, speed)
	}

	if err := s.sess.SendControl(byte(theme), byte(intensity), byte(speed)); err != nil {
		return err
	}

	log.Info().
		Str("theme", ThemeNames[theme]).
		Int("intensity", intensity).
		Int("speed", speed).
		Msg("lighting updated")
	s.notify(models.NotificationLightingChanged, models.LightingParams{
		Theme:     theme,
		Intensity: intensity,
		Speed:     speed,
	})
	return nil
}

// SetOrientation persists the new orientation, informs the panel and
// re-renders at the new dimensions.
func (s *Service) SetOrientation(o pixel.Orientation) error {
	if !o.Valid() {
		return fmt.Errorf("%w: 0x%02X", pixel.ErrBadOrientation, byte(o))
	}

	if err := s.store.SetOrientation(o); err != nil {
		return err
	}
	if err := s.sess.SetOrientation(o); err != nil {
		return err
	}
	if err := s.Refresh(); err != nil {
		return err
	}

	s.notify(models.NotificationOrientationChanged, models.OrientationParams{
		Orientation: o.String(),
	})
	return nil
}

// Orientation returns the persisted orientation.
func (s *Service) Orientation() pixel.Orientation {
	return s.store.Orientation()
}

// SetImage stages a caller-supplied, already-encoded bitmap. The length must
// match the current orientation; staging an identical frame is a no-op.
func (s *Service) SetImage(bitmap []byte) error {
	want := s.sess.Orientation().BitmapLen()
	if len(bitmap) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrBadBitmapLen, len(bitmap), want)
	}
	s.sess.SubmitBitmap(bitmap)
	return nil
}

// Preview decodes the device-resident bitmap back into an image, or nil when
// nothing has been sent yet.
func (s *Service) Preview() (*image.RGBA, error) {
	bitmap := s.sess.Bitmap()
	if bitmap == nil {
		return nil, nil
	}

	img, err := pixel.Decode(bitmap, s.sess.Orientation())
	if err != nil {
		return nil, fmt.Errorf("decoding resident bitmap: %w", err)
	}
	return img, nil
}

// StaticTextID derives a stable element key from the text content, so adding
// the same static text twice collides instead of accumulating.
func StaticTextID(text string) string {
	sum := md5.Sum([]byte(text)) //nolint:gosec // id derivation, not crypto
	return fmt.Sprintf("static_text_%x", sum)[:len("static_text_")+8]
}

// AddText adds a text element and re-renders. Static elements with no key
// get one derived from their content. Returns the element's key.
func (s *Service) AddText(element compose.Element) (string, error) {
	if element.Key == "" && element.Static {
		element.Key = StaticTextID(element.StaticText)
	}

	if err := s.store.Add(element); err != nil {
		return "", err
	}
	if err := s.Refresh(); err != nil {
		return element.Key, err
	}

	s.notify(models.NotificationTextChanged, models.AddTextResponse{EntityID: element.Key})
	return element.Key, nil
}

// UpdateText patches an existing element and re-renders.
func (s *Service) UpdateText(key string, patch store.ElementPatch) error {
	if err := s.store.Update(key, patch); err != nil {
		return err
	}
	if err := s.Refresh(); err != nil {
		return err
	}
	s.notify(models.NotificationTextChanged, models.AddTextResponse{EntityID: key})
	return nil
}

// RemoveText deletes an element and re-renders.
func (s *Service) RemoveText(key string) error {
	if err := s.store.Remove(key); err != nil {
		return err
	}
	if err := s.Refresh(); err != nil {
		return err
	}
	s.notify(models.NotificationTextChanged, models.AddTextResponse{EntityID: key})
	return nil
}

// ClearText removes all elements and re-renders.
func (s *Service) ClearText() error {
	if err := s.store.Clear(); err != nil {
		return err
	}
	if err := s.Refresh(); err != nil {
		return err
	}
	s.notify(models.NotificationTextChanged, nil)
	return nil
}

// UpdateValue records a new value for a dynamic element's key and
// re-renders. Values for unknown keys are stored; an element added later
// picks them up.
func (s *Service) UpdateValue(key string, v compose.Value) error {
	s.store.SetValue(key, v)
	if err := s.Refresh(); err != nil {
		return err
	}
	s.notify(models.NotificationValuesChanged, map[string]string{"entity_id": key})
	return nil
}

// SetBackground persists a background image path for one orientation and
// re-renders if that orientation is active.
func (s *Service) SetBackground(o pixel.Orientation, path string) error {
	if err := s.store.SetBackground(o, path); err != nil {
		return err
	}
	if o == s.store.Orientation() {
		if err := s.Refresh(); err != nil {
			return err
		}
	}
	s.notify(models.NotificationBackgroundChanged, models.BackgroundParams{
		Orientation: o.String(),
		Path:        path,
	})
	return nil
}

// FillImage pushes a solid color frame, bypassing the compositor.
func (s *Service) FillImage(c compose.RGB) error {
	o := s.sess.Orientation()
	w, h := o.Size()

	bitmap, err := pixel.Encode(compose.SolidBackground(w, h, c), o)
	if err != nil {
		return err
	}
	s.sess.SubmitBitmap(bitmap)
	return nil
}

// ClearImage blanks the panel.
func (s *Service) ClearImage() error {
	return s.FillImage(compose.RGB{})
}

// TestPattern pushes full-saturation color bars for checking panel
// alignment and channel order.
func (s *Service) TestPattern() error {
	o := s.sess.Orientation()
	w, h := o.Size()

	bars := []compose.RGB{
		{R: 255}, {G: 255}, {B: 255},
		{R: 255, G: 255, B: 255}, {},
	}
	frame := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		bar := bars[x*len(bars)/w]
		for y := range h {
			frame.SetRGBA(x, y, bar.RGBA())
		}
	}

	bitmap, err := pixel.Encode(frame, o)
	if err != nil {
		return err
	}
	s.sess.SubmitBitmap(bitmap)
	return nil
}

// Refresh runs the full render pipeline: background, text composition,
// pixel encoding, then stages the frame with the session. The session
// coalesces and skips unchanged frames.
func (s *Service) Refresh() error {
	o := s.store.Orientation()
	w, h := o.Size()

	background := s.background(o, w, h)
	frame := s.comp.Render(background, s.store.Elements(), s.store.Values())

	bitmap, err := pixel.Encode(frame, o)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}

	s.sess.SubmitBitmap(bitmap)
	return nil
}

// background loads the configured image for the orientation, falling back
// to solid black when unset or unreadable.
func (s *Service) background(o pixel.Orientation, w, h int) *image.RGBA {
	path := s.store.Background(o)
	if path == "" {
		return compose.SolidBackground(w, h, compose.RGB{})
	}

	img, err := compose.LoadBackground(path, w, h)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("background image unusable, using black")
		return compose.SolidBackground(w, h, compose.RGB{})
	}
	return img
}

// Elements lists the stored text elements in insertion order.
func (s *Service) Elements() []compose.Element {
	return s.store.Elements()
}

// Status reports transport and display state for the status endpoint.
func (s *Service) Status() models.StatusResponse {
	serialConnected, usbConnected, pending := s.sess.Status()
	return models.StatusResponse{
		SerialConnected: serialConnected,
		USBConnected:    usbConnected,
		PendingUpdate:   pending,
		Orientation:     s.store.Orientation().String(),
		TextElements:    len(s.store.Elements()),
	}
}
