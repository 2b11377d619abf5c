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
	"fmt"

	"github.com/google/gousb"
)

const (
	// DefaultUSBVendorID and DefaultUSBProductID identify the S1 panel's
	// Holtek display controller.
	DefaultUSBVendorID  = 0x04D9
	DefaultUSBProductID = 0xFD01

	usbInterfaceNum = 1
	usbEndpointOut  = 2
)

// USBLink is one open, claimed connection to the panel's USB interface.
type USBLink interface {
	Write(ctx context.Context, p []byte) (int, error)
	Close() error
}

// USBOpener opens and claims the panel's USB interface.
type USBOpener func() (USBLink, error)

type gousbLink struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	out  *gousb.OutEndpoint
}

// openUSBLink is the production opener: find the device by VID/PID, claim
// interface 1 and resolve the interrupt OUT endpoint.
func openUSBLink(vid, pid uint16) (USBLink, error) {
	usbCtx := gousb.NewContext()

	dev, err := usbCtx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		_ = usbCtx.Close()
		return nil, fmt.Errorf("opening usb device: %w", err)
	}
	if dev == nil {
		_ = usbCtx.Close()
		return nil, fmt.Errorf("usb device %04x:%04x not found", vid, pid)
	}

	// The kernel HID driver claims the panel by default.
	if err := dev.SetAutoDetach(true); err != nil {
		_ = dev.Close()
		_ = usbCtx.Close()
		return nil, fmt.Errorf("enabling auto detach: %w", err)
	}

	cfg, err := dev.Config(1)
	if err != nil {
		_ = dev.Close()
		_ = usbCtx.Close()
		return nil, fmt.Errorf("selecting usb config: %w", err)
	}

	intf, err := cfg.Interface(usbInterfaceNum, 0)
	if err != nil {
		_ = cfg.Close()
		_ = dev.Close()
		_ = usbCtx.Close()
		return nil, fmt.Errorf("claiming usb interface %d: %w", usbInterfaceNum, err)
	}

	out, err := intf.OutEndpoint(usbEndpointOut)
	if err != nil {
		intf.Close()
		_ = cfg.Close()
		_ = dev.Close()
		_ = usbCtx.Close()
		return nil, fmt.Errorf("resolving out endpoint %d: %w", usbEndpointOut, err)
	}

	return &gousbLink{ctx: usbCtx, dev: dev, cfg: cfg, intf: intf, out: out}, nil
}

func (l *gousbLink) Write(ctx context.Context, p []byte) (int, error) {
	n, err := l.out.WriteContext(ctx, p)
	if err != nil {
		return n, fmt.Errorf("usb write: %w", err)
	}
	return n, nil
}

// Close releases the claim and USB context. Teardown is best effort; the
// device may already be gone.
func (l *gousbLink) Close() error {
	if l.intf != nil {
		l.intf.Close()
	}
	if l.cfg != nil {
		_ = l.cfg.Close()
	}
	if l.dev != nil {
		_ = l.dev.Close()
	}
	if l.ctx != nil {
		_ = l.ctx.Close()
	}
	return nil
}
