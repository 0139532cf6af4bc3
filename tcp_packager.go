// Copyright (C) 2024  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, see <https://www.gnu.org/licenses/>.

package modbus

import (
	"encoding/binary"
	"fmt"
)

// Modbus TCP Protocol Constants
const (
	TCPHeaderLength   = 7                              // MBAP header length in bytes
	MaxPDULength      = 253                            // Maximum PDU length according to Modbus spec
	MaxTCPFrameLength = TCPHeaderLength + MaxPDULength // Maximum complete frame length
)

// MBAPHeader is the decoded Modbus Application Protocol header.
type MBAPHeader struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16 // Unit ID + PDU
	UnitID        uint8
}

// TCPPackager handles Modbus TCP packet packing and unpacking.
type TCPPackager struct{}

// NewTCPPackager creates a new TCPPackager.
func NewTCPPackager() *TCPPackager {
	return &TCPPackager{}
}

// Pack packs a Modbus TCP PDU into a complete TCP frame.
// The TCP frame format is: MBAP (7 bytes) + PDU (variable length).
// MBAP format: Transaction Identifier (2 bytes) + Protocol Identifier (2 bytes) + Length (2 bytes) + Unit Identifier (1 byte).
func (p *TCPPackager) Pack(transactionID uint16, unitID uint8, pdu []byte) ([]byte, error) {
	if len(pdu) == 0 {
		return nil, fmt.Errorf("PDU cannot be empty")
	}
	if len(pdu) > MaxPDULength {
		return nil, fmt.Errorf("PDU length %d exceeds maximum %d bytes", len(pdu), MaxPDULength)
	}

	frame := make([]byte, TCPHeaderLength+len(pdu))
	binary.BigEndian.PutUint16(frame[0:2], transactionID)
	binary.BigEndian.PutUint16(frame[2:4], ProtocolIdentifierTCP)
	binary.BigEndian.PutUint16(frame[4:6], uint16(len(pdu)+1)) // Unit ID + PDU
	frame[6] = unitID
	copy(frame[TCPHeaderLength:], pdu)
	return frame, nil
}

// ParseHeader decodes and validates an MBAP header.
func (p *TCPPackager) ParseHeader(header []byte) (MBAPHeader, error) {
	if len(header) < TCPHeaderLength {
		return MBAPHeader{}, fmt.Errorf("header too short: %d bytes, minimum: %d bytes", len(header), TCPHeaderLength)
	}
	h := MBAPHeader{
		TransactionID: binary.BigEndian.Uint16(header[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(header[2:4]),
		Length:        binary.BigEndian.Uint16(header[4:6]),
		UnitID:        header[6],
	}
	if h.ProtocolID != ProtocolIdentifierTCP {
		return h, fmt.Errorf("invalid protocol identifier: 0x%04X, expected 0x%04X", h.ProtocolID, ProtocolIdentifierTCP)
	}
	if h.Length < 2 {
		return h, fmt.Errorf("invalid length field: %d", h.Length)
	}
	if h.Length > MaxPDULength+1 {
		return h, fmt.Errorf("length field too large: %d, maximum: %d", h.Length, MaxPDULength+1)
	}
	return h, nil
}

// Unpack unpacks a Modbus TCP frame into a Transaction Identifier, Unit Identifier, and PDU.
func (p *TCPPackager) Unpack(frame []byte) (transactionID uint16, unitID uint8, pdu []byte, err error) {
	if len(frame) > MaxTCPFrameLength {
		err = fmt.Errorf("TCP frame length %d exceeds maximum %d bytes", len(frame), MaxTCPFrameLength)
		return
	}
	h, err := p.ParseHeader(frame)
	if err != nil {
		return
	}
	pdu = frame[TCPHeaderLength:]
	if int(h.Length) != len(pdu)+1 {
		err = fmt.Errorf("length field mismatch: header indicates %d, actual frame has %d", h.Length, len(pdu)+1)
		return
	}
	return h.TransactionID, h.UnitID, pdu, nil
}
