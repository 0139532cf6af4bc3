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
	"fmt"
)

// RTU frame sizes
const (
	RTUHeaderLength   = 1   // Slave ID
	RTUCRCLength      = 2   // CRC16, low byte first
	MaxRTUFrameLength = 256 // Slave ID + PDU (253) + CRC
)

// RTUPackager handles RTU frame packing/unpacking with CRC validation
type RTUPackager struct{}

// NewRTUPackager creates a new RTU packager
func NewRTUPackager() *RTUPackager {
	return &RTUPackager{}
}

// Pack creates an RTU frame with slave ID, PDU, and CRC. The slave ID is not
// range checked so broadcast and custom identifiers pass through unchanged.
func (p *RTUPackager) Pack(slaveID uint8, pdu []byte) ([]byte, error) {
	if len(pdu) == 0 {
		return nil, fmt.Errorf("PDU cannot be empty")
	}
	if len(pdu) > MaxPDULength {
		return nil, fmt.Errorf("PDU too long: %d bytes (max %d)", len(pdu), MaxPDULength)
	}

	frame := make([]byte, 0, RTUHeaderLength+len(pdu)+RTUCRCLength)
	frame = append(frame, slaveID)
	frame = append(frame, pdu...)
	return appendCRC(frame), nil
}

// Unpack extracts slave ID and PDU from RTU frame with CRC validation
func (p *RTUPackager) Unpack(frame []byte) (uint8, []byte, error) {
	if len(frame) < 4 {
		return 0, nil, fmt.Errorf("frame too short: %d bytes (minimum 4)", len(frame))
	}
	if !p.VerifyCRC(frame) {
		return 0, nil, fmt.Errorf("%w: calculated=0x%04X, received=0x%04X",
			ErrCRC, CRC16(frame[:len(frame)-2]), frameCRC(frame))
	}

	pdu := make([]byte, len(frame)-3)
	copy(pdu, frame[1:len(frame)-2])
	return frame[0], pdu, nil
}

// VerifyCRC verifies the CRC of an RTU frame
func (p *RTUPackager) VerifyCRC(frame []byte) bool {
	if len(frame) < 4 {
		return false
	}
	return CRC16(frame[:len(frame)-2]) == frameCRC(frame)
}

// frameCRC extracts the CRC stored at the end of frame (little-endian).
func frameCRC(frame []byte) uint16 {
	n := len(frame)
	return uint16(frame[n-2]) | uint16(frame[n-1])<<8
}

// ResponseDataLength tells how many bytes follow the function code of a
// response, CRC excluded. When countPrefixed is true the next byte is the
// count of data bytes that follow it.
func (p *RTUPackager) ResponseDataLength(functionCode uint8) (fixed int, countPrefixed bool) {
	if functionCode&ExceptionFlag != 0 {
		return 1, false // Exception code
	}
	switch functionCode {
	case FuncCodeWriteSingleCoil, FuncCodeWriteSingleRegister,
		FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegisters:
		return 4, false // Address + Value/Quantity
	case FuncCodeMaskWriteRegister:
		return 6, false // Address + AND mask + OR mask
	case FuncCodeReadExceptionStatus:
		return 1, false // Status byte
	default:
		// Reads, 0x11, 0x17 and anything unknown carry a byte count.
		return 0, true
	}
}
