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

// Package protocol builds the binary packets understood by the AceMagic S1
// panel firmware: the 5-byte lighting control packet sent over serial, and
// the fixed-size orientation, keepalive and chunked image packets sent over
// USB. All USB packets are exactly HeaderSize+PayloadSize bytes on the wire;
// the firmware requires fixed-size transfers.
package protocol

const (
	// HeaderSize is the fixed USB packet header length.
	HeaderSize = 8
	// PayloadSize is the fixed USB packet payload length; shorter payloads
	// are zero-padded, never truncated.
	PayloadSize = 4096
	// PacketSize is the total on-wire size of every USB packet.
	PacketSize = HeaderSize + PayloadSize

	// SignatureControl opens every serial lighting control packet.
	SignatureControl = 0xFA
	// SignatureUSB opens every USB packet header.
	SignatureUSB = 0x55

	typeCommand = 0xA1 // orientation and keepalive packets
	typeImage   = 0xA3 // chunked image packets

	cmdOrientation = 0xF1
	cmdKeepalive   = 0xF2

	// Frame codes for image chunks. A single-chunk image is marked
	// FrameFirst: the first-chunk test takes precedence over the last-chunk
	// test, and the firmware depends on that exact behavior.
	FrameFirst  = 0xF0
	FrameMiddle = 0xF1
	FrameLast   = 0xF2
)

// ControlChecksum computes the lighting packet checksum. A receiver verifies
// by recomputation; a mismatch means the packet is rejected, not corrected.
func ControlChecksum(theme, intensity, speed byte) byte {
	return byte((SignatureControl + int(theme) + int(intensity) + int(speed)) & 0xFF)
}

// ControlPacket builds the 5-byte serial lighting control packet. Range
// validation of theme/intensity/speed belongs to the caller; the encoder is
// a pure function over bytes.
func ControlPacket(theme, intensity, speed byte) []byte {
	return []byte{
		SignatureControl,
		theme,
		intensity,
		speed,
		ControlChecksum(theme, intensity, speed),
	}
}

// newUSBPacket allocates a zero-padded USB packet with the given header.
func newUSBPacket(header [HeaderSize]byte) []byte {
	packet := make([]byte, PacketSize)
	copy(packet, header[:])
	return packet
}

// OrientationPacket builds the USB packet that switches the panel's
// orientation code.
func OrientationPacket(code byte) []byte {
	return newUSBPacket([HeaderSize]byte{SignatureUSB, typeCommand, cmdOrientation, code})
}

// KeepalivePacket builds the USB no-op packet that keeps the panel from
// treating the link as idle.
func KeepalivePacket() []byte {
	return newUSBPacket([HeaderSize]byte{SignatureUSB, typeCommand, cmdKeepalive})
}

// ImagePackets splits a device bitmap into consecutive PayloadSize chunks,
// each framed as a fixed-size USB packet. The chunk index starts at 1 and
// the counter byte cycles ((idx-1)%16)*0x10. The last-chunk test compares
// the byte offset against (ceil(len/PayloadSize)-1)*PayloadSize; this exact
// arithmetic, including its behavior for single-chunk images, is what the
// firmware was verified against.
func ImagePackets(bitmap []byte) [][]byte {
	if len(bitmap) == 0 {
		return nil
	}

	lastChunk := (len(bitmap)+PayloadSize-1)/PayloadSize - 1

	var packets [][]byte
	for off := 0; off < len(bitmap); off += PayloadSize {
		chunk := bitmap[off:min(off+PayloadSize, len(bitmap))]
		idx := off / PayloadSize

		frame := byte(FrameMiddle)
		switch {
		case off == 0:
			frame = FrameFirst
		case idx == lastChunk:
			frame = FrameLast
		}

		packet := newUSBPacket([HeaderSize]byte{
			SignatureUSB,
			typeImage,
			frame,
			byte(idx + 1),
			0x00,
			byte(idx%16) * 0x10,
			0x00,
			0x10,
		})
		copy(packet[HeaderSize:], chunk)
		packets = append(packets, packet)
	}

	return packets
}
