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

// Package session owns the two transports to the panel hardware: the serial
// link for lighting control and the USB link for the LCD. Both connect
// lazily and fail independently; a write failure marks the affected
// transport disconnected and the next send retries the connect. Image
// transfers are coalesced so the latest requested frame eventually wins, and
// mutexes serialize writes per transport, since two concurrent senders would
// corrupt chunk ordering on the wire.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/acepanel/acepanel-core/pkg/device/pixel"
	"github.com/acepanel/acepanel-core/pkg/device/protocol"
	"github.com/acepanel/acepanel-core/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ErrTransport marks connect or write failures on either transport. The
// session recovers locally: the transport is marked disconnected and the
// next send retries.
var ErrTransport = errors.New("transport failure")

const (
	defaultWriteTimeout      = 2 * time.Second
	defaultKeepaliveInterval = 1 * time.Second
	defaultKeepaliveBackoff  = 5 * time.Second
)

// Config holds the session's transport settings.
type Config struct {
	SerialPath        string
	USBVendorID       uint16
	USBProductID      uint16
	WriteTimeout      time.Duration
	KeepaliveInterval time.Duration
	KeepaliveBackoff  time.Duration
}

func (c *Config) fillDefaults() {
	if c.USBVendorID == 0 && c.USBProductID == 0 {
		c.USBVendorID = DefaultUSBVendorID
		c.USBProductID = DefaultUSBProductID
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = defaultKeepaliveInterval
	}
	if c.KeepaliveBackoff <= 0 {
		c.KeepaliveBackoff = defaultKeepaliveBackoff
	}
}

// Session manages the serial and USB connections to one panel.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	openSerial SerialOpener
	openUSB    USBOpener
	clock      clockwork.Clock

	// OnImageSent, when set before first use, is called after every
	// successful image transfer.
	OnImageSent func()

	serial   SerialPort
	serialMu syncutil.Mutex

	usb   USBLink
	usbMu syncutil.Mutex

	keepaliveDone    chan struct{}
	keepaliveStarted bool

	orientation pixel.Orientation
	bitmap      []byte
	pending     bool
	sending     bool
	frameMu     syncutil.Mutex

	cfg Config
}

// New creates a session using the real serial and USB transports.
func New(cfg Config) *Session {
	cfg.fillDefaults()
	return newSession(cfg,
		openSerialPort,
		func() (USBLink, error) { return openUSBLink(cfg.USBVendorID, cfg.USBProductID) },
		clockwork.NewRealClock(),
	)
}

// NewWithTransports creates a session with injected transports and clock,
// used by tests.
func NewWithTransports(cfg Config, so SerialOpener, uo USBOpener, clock clockwork.Clock) *Session {
	cfg.fillDefaults()
	return newSession(cfg, so, uo, clock)
}

func newSession(cfg Config, so SerialOpener, uo USBOpener, clock clockwork.Clock) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ctx:           ctx,
		cancel:        cancel,
		cfg:           cfg,
		openSerial:    so,
		openUSB:       uo,
		clock:         clock,
		orientation:   pixel.Portrait,
		keepaliveDone: make(chan struct{}),
	}
}

// SendControl frames and sends a lighting control packet over serial. The
// serial link connects lazily; on failure it stays disconnected and the next
// control send retries.
func (s *Session) SendControl(theme, intensity, speed byte) error {
	s.serialMu.Lock()
	defer s.serialMu.Unlock()

	if s.serial == nil {
		port, err := s.openSerial(s.cfg.SerialPath)
		if err != nil {
			log.Warn().Err(err).Str("path", s.cfg.SerialPath).Msg("serial connect failed")
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
		s.serial = port
		log.Info().Str("path", s.cfg.SerialPath).Msg("serial connected")
	}

	packet := protocol.ControlPacket(theme, intensity, speed)
	if err := s.writeSerial(packet); err != nil {
		_ = s.serial.Close()
		s.serial = nil
		if isSerialDisconnect(err) {
			log.Info().Err(err).Msg("serial device disconnected")
		} else {
			log.Warn().Err(err).Msg("serial write failed")
		}
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	log.Debug().
		Uint8("theme", theme).
		Uint8("intensity", intensity).
		Uint8("speed", speed).
		Msg("control packet sent")
	return nil
}

// writeSerial writes under a watchdog: the port library has no write
// deadline, so expiry closes the port to unblock the write and the error is
// treated as a transport failure.
func (s *Session) writeSerial(p []byte) error {
	port := s.serial
	watchdog := s.clock.AfterFunc(s.cfg.WriteTimeout, func() {
		_ = port.Close()
	})
	defer watchdog.Stop()

	n, err := port.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(p))
	}
	return nil
}

// SetOrientation switches the panel orientation. The device-resident bitmap
// is invalidated immediately: its expected length changes, so the caller
// must re-render.
func (s *Session) SetOrientation(o pixel.Orientation) error {
	if !o.Valid() {
		return fmt.Errorf("%w: 0x%02X", pixel.ErrBadOrientation, byte(o))
	}

	s.frameMu.Lock()
	s.orientation = o
	s.bitmap = nil
	s.pending = false
	s.frameMu.Unlock()

	s.usbMu.Lock()
	defer s.usbMu.Unlock()
	if err := s.sendUSBLocked(protocol.OrientationPacket(byte(o))); err != nil {
		return err
	}

	log.Info().Str("orientation", o.String()).Msg("orientation packet sent")
	return nil
}

// Orientation returns the orientation the session currently targets.
func (s *Session) Orientation() pixel.Orientation {
	s.frameMu.Lock()
	defer s.frameMu.Unlock()
	return s.orientation
}

// Bitmap returns a copy of the device-resident bitmap, or nil when nothing
// has been sent yet.
func (s *Session) Bitmap() []byte {
	s.frameMu.Lock()
	defer s.frameMu.Unlock()
	if s.bitmap == nil {
		return nil
	}
	out := make([]byte, len(s.bitmap))
	copy(out, s.bitmap)
	return out
}

// SubmitBitmap stages a new frame for transfer. Length mismatches and
// unchanged content are silently ignored (reported by the return value, not
// an error). At most one transfer runs at a time; a frame staged during a
// transfer supersedes any earlier staged frame, so only the latest
// eventually reaches the device.
func (s *Session) SubmitBitmap(bitmap []byte) bool {
	s.frameMu.Lock()

	want := s.orientation.BitmapLen()
	if len(bitmap) != want {
		s.frameMu.Unlock()
		log.Warn().
			Int("got", len(bitmap)).
			Int("want", want).
			Msg("bitmap length mismatch, ignored")
		return false
	}
	if bytes.Equal(bitmap, s.bitmap) {
		s.frameMu.Unlock()
		return false
	}

	s.bitmap = append([]byte(nil), bitmap...)
	s.pending = true
	kick := !s.sending
	if kick {
		s.sending = true
	}
	s.frameMu.Unlock()

	if kick {
		go s.flush()
	}
	return true
}

// flush drains staged frames until none is pending. It runs in at most one
// goroutine at a time, guarded by the sending flag.
func (s *Session) flush() {
	for {
		s.frameMu.Lock()
		if !s.pending || s.ctx.Err() != nil {
			s.sending = false
			s.frameMu.Unlock()
			return
		}
		s.pending = false
		bitmap := s.bitmap
		s.frameMu.Unlock()

		if err := s.sendImage(bitmap); err != nil {
			log.Warn().Err(err).Msg("image transfer failed")
			// Keep the frame staged; the keepalive loop retries once
			// the link is back.
			s.frameMu.Lock()
			s.pending = true
			s.sending = false
			s.frameMu.Unlock()
			return
		}

		log.Debug().Int("bytes", len(bitmap)).Msg("image transferred")
		if s.OnImageSent != nil {
			s.OnImageSent()
		}
	}
}

func (s *Session) sendImage(bitmap []byte) error {
	s.usbMu.Lock()
	defer s.usbMu.Unlock()

	for _, packet := range protocol.ImagePackets(bitmap) {
		if err := s.sendUSBLocked(packet); err != nil {
			return err
		}
	}
	return nil
}

// sendUSBLocked writes one fixed-size packet, connecting lazily. Callers
// must hold usbMu.
func (s *Session) sendUSBLocked(packet []byte) error {
	if s.usb == nil {
		link, err := s.openUSB()
		if err != nil {
			log.Warn().Err(err).Msg("usb connect failed")
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
		s.usb = link
		log.Info().Msg("usb connected")
		s.startKeepalive()
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.WriteTimeout)
	defer cancel()

	if _, err := s.usb.Write(ctx, packet); err != nil {
		_ = s.usb.Close()
		s.usb = nil
		log.Info().Err(err).Msg("usb device disconnected")
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

// startKeepalive launches the keepalive loop on first USB connect. The loop
// runs until Close and is the session's only persistent background task.
func (s *Session) startKeepalive() {
	if s.keepaliveStarted {
		return
	}
	s.keepaliveStarted = true

	go func() {
		defer close(s.keepaliveDone)
		log.Debug().Msg("keepalive started")

		delay := s.cfg.KeepaliveInterval
		for {
			select {
			case <-s.ctx.Done():
				log.Debug().Msg("keepalive stopped")
				return
			case <-s.clock.After(delay):
			}

			s.usbMu.Lock()
			err := s.sendUSBLocked(protocol.KeepalivePacket())
			s.usbMu.Unlock()

			if err != nil {
				log.Warn().Err(err).Msg("keepalive send failed, backing off")
				delay = s.cfg.KeepaliveBackoff
				continue
			}
			delay = s.cfg.KeepaliveInterval

			// The link is alive again: retry any frame that failed to
			// transfer while it was down.
			s.frameMu.Lock()
			kick := s.pending && !s.sending
			if kick {
				s.sending = true
			}
			s.frameMu.Unlock()
			if kick {
				go s.flush()
			}
		}
	}()
}

// Status reports both transports and the pending-update flag.
func (s *Session) Status() (serialConnected, usbConnected, pendingUpdate bool) {
	s.serialMu.Lock()
	serialConnected = s.serial != nil
	s.serialMu.Unlock()

	s.usbMu.Lock()
	usbConnected = s.usb != nil
	s.usbMu.Unlock()

	s.frameMu.Lock()
	pendingUpdate = s.pending
	s.frameMu.Unlock()

	return serialConnected, usbConnected, pendingUpdate
}

// Close cancels the keepalive loop, waits for it to exit, then releases both
// transports. Teardown failures are swallowed; cleanup is best effort.
func (s *Session) Close() {
	s.cancel()

	s.usbMu.Lock()
	started := s.keepaliveStarted
	s.usbMu.Unlock()
	if started {
		<-s.keepaliveDone
	}

	s.usbMu.Lock()
	if s.usb != nil {
		_ = s.usb.Close()
		s.usb = nil
	}
	s.usbMu.Unlock()

	s.serialMu.Lock()
	if s.serial != nil {
		_ = s.serial.Close()
		s.serial = nil
	}
	s.serialMu.Unlock()

	log.Info().Msg("session closed")
}
