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
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// SerialPort is the subset of a serial port the session needs. The interface
// exists so tests can inject fakes instead of real hardware.
type SerialPort interface {
	Write(p []byte) (int, error)
	Close() error
}

// SerialOpener opens the lighting controller's serial port.
type SerialOpener func(path string) (SerialPort, error)

// openSerialPort is the production opener. The lighting controller sits
// behind a CH340 bridge fixed at 9600 8N1.
func openSerialPort(path string) (SerialPort, error) {
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}
	return port, nil
}

// isSerialDisconnect reports whether a write error means the device is gone
// rather than a configuration problem.
func isSerialDisconnect(err error) bool {
	if err == nil {
		return false
	}

	var portErr serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
			return true
		default:
			return false
		}
	}

	// OS-level errors that arrive unwrapped.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "input/output error") ||
		strings.Contains(msg, "no such device") ||
		strings.Contains(msg, "device not configured") ||
		strings.Contains(msg, "broken pipe")
}
