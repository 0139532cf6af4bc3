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
	"context"
	"fmt"
	"strings"
)

// Modbus function codes
const (
	FuncCodeReadCoils                  uint8 = 0x01
	FuncCodeReadDiscreteInputs         uint8 = 0x02
	FuncCodeReadHoldingRegisters       uint8 = 0x03
	FuncCodeReadInputRegisters         uint8 = 0x04
	FuncCodeWriteSingleCoil            uint8 = 0x05
	FuncCodeWriteSingleRegister        uint8 = 0x06
	FuncCodeReadExceptionStatus        uint8 = 0x07
	FuncCodeWriteMultipleCoils         uint8 = 0x0F
	FuncCodeWriteMultipleRegisters     uint8 = 0x10
	FuncCodeReportServerID             uint8 = 0x11
	FuncCodeMaskWriteRegister          uint8 = 0x16
	FuncCodeReadWriteMultipleRegisters uint8 = 0x17

	// ExceptionFlag is set on the function code of an exception response.
	ExceptionFlag uint8 = 0x80
)

// ProtocolIdentifierTCP is the MBAP protocol identifier for Modbus.
const ProtocolIdentifierTCP uint16 = 0x0000

// Service is the request/response engine bound to one transport. It owns the
// frame encoding; callers hand it a PDU (function code + data) and get the
// response PDU back. Implementations serve one exchange at a time.
//
// For a broadcast slave the request is sent and Call returns (nil, nil)
// without waiting for a response.
type Service interface {
	Call(ctx context.Context, slave Slave, pdu []byte) ([]byte, error)
	Close() error
	String() string
}

// Framing selects the frame encoding used by a Service.
type Framing int

const (
	// FramingRTU sends RTU frames (slave + PDU + CRC) over the stream.
	FramingRTU Framing = iota
	// FramingTCP sends MBAP framed requests (Modbus TCP).
	FramingTCP
)

func (f Framing) String() string {
	switch f {
	case FramingRTU:
		return "rtu"
	case FramingTCP:
		return "tcp"
	default:
		return fmt.Sprintf("framing(%d)", int(f))
	}
}

// ParseFraming maps "rtu" / "tcp" (case-insensitive) to a Framing.
func ParseFraming(s string) (Framing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rtu", "rtu_over_tcp", "rtu-over-tcp":
		return FramingRTU, nil
	case "tcp", "mbap":
		return FramingTCP, nil
	default:
		return FramingRTU, fmt.Errorf("modbus: unknown framing %q", s)
	}
}

// buildRequestPDU constructs a Modbus request PDU from a function code and its data.
func buildRequestPDU(functionCode uint8, data []byte) []byte {
	pdu := make([]byte, 1+len(data))
	pdu[0] = functionCode
	copy(pdu[1:], data)
	return pdu
}

// isReadFunction reports whether a request with this function code expects data
// back, which makes it meaningless to broadcast.
func isReadFunction(functionCode uint8) bool {
	switch functionCode {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs,
		FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters,
		FuncCodeReadExceptionStatus, FuncCodeReportServerID,
		FuncCodeReadWriteMultipleRegisters:
		return true
	}
	return false
}
