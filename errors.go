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
	"errors"
	"fmt"
	"os"
)

// timeoutError is reported when a timer wins the race against an operation.
// It satisfies net.Error style Timeout checks and matches
// os.ErrDeadlineExceeded and context.DeadlineExceeded with errors.Is.
type timeoutError struct {
	msg string
}

func (e *timeoutError) Error() string { return e.msg }

func (e *timeoutError) Timeout() bool { return true }

func (e *timeoutError) Temporary() bool { return true }

func (e *timeoutError) Is(target error) bool {
	return target == os.ErrDeadlineExceeded || target == context.DeadlineExceeded
}

// Errors returned by this package. Dial errors are not wrapped and come
// straight from the net package.
var (
	ErrTimeout       error = &timeoutError{"modbus: operation timed out"}
	ErrClosed              = errors.New("modbus: client is closed")
	ErrBroadcastRead       = errors.New("modbus: read requests cannot be broadcast")
	ErrCRC                 = errors.New("modbus: bad frame CRC")
	ErrResponse            = errors.New("modbus: bad or invalid response")
	ErrRequest             = errors.New("modbus: bad or invalid request")
)

// IsTimeout reports whether err, or any error it wraps, is a timeout.
func IsTimeout(err error) bool {
	var t interface{ Timeout() bool }
	if errors.As(err, &t) {
		return t.Timeout()
	}
	return errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)
}

// ModbusError is an exception response sent back by a device.
type ModbusError struct {
	FunctionCode  uint8
	ExceptionCode uint8
}

func (e *ModbusError) Error() string {
	return fmt.Sprintf("modbus: exception response for func %02X: code 0x%02X - %s",
		e.FunctionCode, e.ExceptionCode, getExceptionMessage(e.ExceptionCode))
}

// getExceptionMessage returns a human-readable message for a Modbus exception code.
func getExceptionMessage(exceptionCode uint8) string {
	switch exceptionCode {
	case 0x01:
		return "Illegal function"
	case 0x02:
		return "Illegal data address"
	case 0x03:
		return "Illegal data value"
	case 0x04:
		return "Slave device failure"
	case 0x05:
		return "Acknowledge"
	case 0x06:
		return "Slave device busy"
	case 0x08:
		return "Memory parity error"
	case 0x0A:
		return "Gateway path unavailable"
	case 0x0B:
		return "Gateway target device failed to respond"
	default:
		return "Unknown exception code"
	}
}
