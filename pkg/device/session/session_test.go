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

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/acepanel/acepanel-core/pkg/device/pixel"
	"github.com/acepanel/acepanel-core/pkg/device/protocol"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeSerialPort struct {
	mu       sync.Mutex
	writes   [][]byte
	writeErr error
	closed   bool
}

func (f *fakeSerialPort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeSerialPort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeUSBLink struct {
	mu       sync.Mutex
	writes   [][]byte
	attempts int
	writeErr error
	gate     chan struct{} // if non-nil, writes block until closed
	closed   bool
}

func (f *fakeUSBLink) Write(ctx context.Context, p []byte) (int, error) {
	f.mu.Lock()
	f.attempts++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeUSBLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeUSBLink) setWriteErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

func (f *fakeUSBLink) packets() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.writes))
	copy(out, f.writes)
	return out
}

// imagePayload reassembles the data bytes of the image packets in ps,
// ignoring command packets.
func imagePayload(ps [][]byte, n int) []byte {
	var data []byte
	for _, p := range ps {
		if p[1] != 0xA3 {
			continue
		}
		data = append(data, p[protocol.HeaderSize:]...)
	}
	if len(data) > n {
		data = data[:n]
	}
	return data
}

type harness struct {
	session    *Session
	serial     *fakeSerialPort
	usb        *fakeUSBLink
	clock      *clockwork.FakeClock
	serialErr  error
	usbErr     error
	openSerial int
	openUSB    int
	mu         sync.Mutex
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		serial: &fakeSerialPort{},
		usb:    &fakeUSBLink{},
		clock:  clockwork.NewFakeClock(),
	}
	h.session = NewWithTransports(Config{SerialPath: "/dev/ttyUSB0"},
		func(path string) (SerialPort, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.openSerial++
			if h.serialErr != nil {
				return nil, h.serialErr
			}
			return h.serial, nil
		},
		func() (USBLink, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.openUSB++
			if h.usbErr != nil {
				return nil, h.usbErr
			}
			return h.usb, nil
		},
		h.clock,
	)
	t.Cleanup(h.session.Close)
	return h
}

func (h *harness) serialOpens() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.openSerial
}

func (h *harness) usbOpens() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.openUSB
}

func portraitFrame(fill byte) []byte {
	frame := make([]byte, pixel.Portrait.BitmapLen())
	for i := range frame {
		frame[i] = fill
	}
	return frame
}

func TestSendControlWritesFramedPacket(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	require.NoError(t, h.session.SendControl(0x01, 0x03, 0x02))

	h.serial.mu.Lock()
	defer h.serial.mu.Unlock()
	require.Len(t, h.serial.writes, 1)
	assert.Equal(t, []byte{0xFA, 0x01, 0x03, 0x02, 0x00}, h.serial.writes[0])
}

func TestSendControlReusesConnection(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	require.NoError(t, h.session.SendControl(1, 1, 1))
	require.NoError(t, h.session.SendControl(2, 2, 2))
	assert.Equal(t, 1, h.serialOpens())
}

func TestSendControlConnectFailureRetriesNextSend(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.serialErr = errors.New("no such device")

	err := h.session.SendControl(1, 1, 1)
	require.ErrorIs(t, err, ErrTransport)

	h.mu.Lock()
	h.serialErr = nil
	h.mu.Unlock()

	require.NoError(t, h.session.SendControl(1, 1, 1))
	assert.Equal(t, 2, h.serialOpens())
}

func TestSendControlWriteFailureDisconnects(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.serial.writeErr = errors.New("input/output error")

	err := h.session.SendControl(1, 1, 1)
	require.ErrorIs(t, err, ErrTransport)
	assert.True(t, h.serial.closed)

	connected, _, _ := h.session.Status()
	assert.False(t, connected)

	h.serial.mu.Lock()
	h.serial.writeErr = nil
	h.serial.mu.Unlock()

	require.NoError(t, h.session.SendControl(1, 1, 1))
	assert.Equal(t, 2, h.serialOpens())
}

func TestSetOrientationSendsPacket(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	require.NoError(t, h.session.SetOrientation(pixel.Landscape))

	ps := h.usb.packets()
	require.Len(t, ps, 1)
	assert.Equal(t, protocol.OrientationPacket(0x01), ps[0])
	assert.Equal(t, pixel.Landscape, h.session.Orientation())
}

func TestSetOrientationRejectsUnknownCode(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	err := h.session.SetOrientation(pixel.Orientation(0x07))
	require.ErrorIs(t, err, pixel.ErrBadOrientation)
	assert.Empty(t, h.usb.packets())
}

func TestSetOrientationInvalidatesResidentBitmap(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	sent := make(chan struct{}, 4)
	h.session.OnImageSent = func() { sent <- struct{}{} }

	require.True(t, h.session.SubmitBitmap(portraitFrame(0xAA)))
	select {
	case <-sent:
	case <-time.After(5 * time.Second):
		t.Fatal("image transfer did not complete")
	}
	require.NotNil(t, h.session.Bitmap())

	require.NoError(t, h.session.SetOrientation(pixel.Landscape))
	assert.Nil(t, h.session.Bitmap())
}

func TestSubmitBitmapRejectsWrongLength(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	assert.False(t, h.session.SubmitBitmap(make([]byte, 100)))
	assert.False(t, h.session.SubmitBitmap(make([]byte, pixel.Landscape.BitmapLen())))
	assert.Empty(t, h.usb.packets())
}

func TestSubmitBitmapIgnoresUnchangedFrame(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	sent := make(chan struct{}, 4)
	h.session.OnImageSent = func() { sent <- struct{}{} }

	frame := portraitFrame(0x55)
	require.True(t, h.session.SubmitBitmap(frame))
	select {
	case <-sent:
	case <-time.After(5 * time.Second):
		t.Fatal("image transfer did not complete")
	}

	assert.False(t, h.session.SubmitBitmap(frame))
}

func TestSubmitBitmapTransfersAllChunks(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	sent := make(chan struct{}, 4)
	h.session.OnImageSent = func() { sent <- struct{}{} }

	frame := portraitFrame(0xC3)
	require.True(t, h.session.SubmitBitmap(frame))
	select {
	case <-sent:
	case <-time.After(5 * time.Second):
		t.Fatal("image transfer did not complete")
	}

	ps := h.usb.packets()
	wantChunks := (len(frame) + protocol.PayloadSize - 1) / protocol.PayloadSize
	require.Len(t, ps, wantChunks)
	assert.Equal(t, frame, imagePayload(ps, len(frame)))
	assert.Equal(t, frame, h.session.Bitmap())
}

func TestSubmitBitmapCoalescesToLatestFrame(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	gate := make(chan struct{})
	h.usb.gate = gate

	sent := make(chan struct{}, 4)
	h.session.OnImageSent = func() { sent <- struct{}{} }

	require.True(t, h.session.SubmitBitmap(portraitFrame(0x01)))
	// Wait until the transfer goroutine is blocked on the first write, then
	// stage two more frames; only the last one should follow.
	require.Eventually(t, func() bool {
		h.usb.mu.Lock()
		defer h.usb.mu.Unlock()
		return h.usb.attempts > 0
	}, 5*time.Second, time.Millisecond)
	require.True(t, h.session.SubmitBitmap(portraitFrame(0x02)))
	require.True(t, h.session.SubmitBitmap(portraitFrame(0x03)))
	close(gate)

	for i := 0; i < 2; i++ {
		select {
		case <-sent:
		case <-time.After(5 * time.Second):
			t.Fatal("image transfers did not complete")
		}
	}

	frameLen := pixel.Portrait.BitmapLen()
	ps := h.usb.packets()
	chunks := (frameLen + protocol.PayloadSize - 1) / protocol.PayloadSize
	require.Len(t, ps, 2*chunks)
	assert.Equal(t, portraitFrame(0x01), imagePayload(ps[:chunks], frameLen))
	assert.Equal(t, portraitFrame(0x03), imagePayload(ps[chunks:], frameLen))
}

func TestTransferFailureKeepsFramePending(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.usb.setWriteErr(errors.New("endpoint stalled"))

	require.True(t, h.session.SubmitBitmap(portraitFrame(0x0F)))

	require.Eventually(t, func() bool {
		_, usbConnected, pending := h.session.Status()
		return pending && !usbConnected
	}, 5*time.Second, 10*time.Millisecond)
}

func TestKeepaliveSendsAtInterval(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	// First USB write connects the link and starts the keepalive loop.
	require.NoError(t, h.session.SetOrientation(pixel.Portrait))

	h.clock.BlockUntil(1)
	h.clock.Advance(defaultKeepaliveInterval)

	require.Eventually(t, func() bool {
		ps := h.usb.packets()
		return len(ps) == 2 && assert.ObjectsAreEqual(protocol.KeepalivePacket(), ps[1])
	}, 5*time.Second, 10*time.Millisecond)
}

func TestKeepaliveReconnectsAfterBackoff(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	require.NoError(t, h.session.SetOrientation(pixel.Portrait))
	require.Equal(t, 1, h.usbOpens())

	// Fail the next keepalive so the session drops the link.
	h.usb.setWriteErr(errors.New("endpoint stalled"))
	h.clock.BlockUntil(1)
	h.clock.Advance(defaultKeepaliveInterval)

	require.Eventually(t, func() bool {
		_, connected, _ := h.session.Status()
		return !connected
	}, 5*time.Second, 10*time.Millisecond)
	h.usb.setWriteErr(nil)

	// The loop now waits out the longer backoff before reconnecting.
	h.clock.BlockUntil(1)
	h.clock.Advance(defaultKeepaliveBackoff)

	require.Eventually(t, func() bool {
		_, connected, _ := h.session.Status()
		return connected && h.usbOpens() == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestKeepaliveRetriesPendingFrame(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	sent := make(chan struct{}, 4)
	h.session.OnImageSent = func() { sent <- struct{}{} }

	h.usb.setWriteErr(errors.New("endpoint stalled"))
	require.True(t, h.session.SubmitBitmap(portraitFrame(0x7E)))

	require.Eventually(t, func() bool {
		_, _, pending := h.session.Status()
		return pending
	}, 5*time.Second, 10*time.Millisecond)
	h.usb.setWriteErr(nil)

	// The next successful keepalive reconnects and flushes the frame.
	h.clock.BlockUntil(1)
	h.clock.Advance(defaultKeepaliveBackoff)

	select {
	case <-sent:
	case <-time.After(5 * time.Second):
		t.Fatal("pending frame was not retried")
	}
	_, _, pending := h.session.Status()
	assert.False(t, pending)
}

func TestCloseStopsKeepaliveAndReleasesTransports(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := &harness{
		serial: &fakeSerialPort{},
		usb:    &fakeUSBLink{},
		clock:  clockwork.NewFakeClock(),
	}
	s := NewWithTransports(Config{SerialPath: "/dev/ttyUSB0"},
		func(string) (SerialPort, error) { return h.serial, nil },
		func() (USBLink, error) { return h.usb, nil },
		h.clock,
	)

	require.NoError(t, s.SendControl(1, 1, 1))
	require.NoError(t, s.SetOrientation(pixel.Portrait))

	s.Close()

	assert.True(t, h.serial.closed)
	assert.True(t, h.usb.closed)

	serialConnected, usbConnected, _ := s.Status()
	assert.False(t, serialConnected)
	assert.False(t, usbConnected)
}

func TestCloseBeforeAnyConnectIsSafe(t *testing.T) {
	t.Parallel()
	s := NewWithTransports(Config{},
		func(string) (SerialPort, error) { return nil, errors.New("unused") },
		func() (USBLink, error) { return nil, errors.New("unused") },
		clockwork.NewFakeClock(),
	)
	s.Close()
}
