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
	"io"
)

// rtuService sends RTU frames (SlaveID + PDU + CRC) over any stream: a serial
// line, or a TCP connection to an RTU-over-TCP gateway.
type rtuService struct {
	transport Transport
	packager  *RTUPackager
	name      string
}

func newRTUService(transport Transport) *rtuService {
	return &rtuService{
		transport: transport,
		packager:  NewRTUPackager(),
		name:      "rtu " + describeTransport(transport),
	}
}

// Call packs pdu for slave, writes it and reads back one response frame.
func (s *rtuService) Call(ctx context.Context, slave Slave, pdu []byte) ([]byte, error) {
	frame, err := s.packager.Pack(slave.ID(), pdu)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequest, err)
	}

	var raw []byte
	err = runWithContext(ctx, s.transport, func() error {
		if err := writeFull(s.transport, frame); err != nil {
			return err
		}
		if slave.IsBroadcast() {
			return nil
		}
		var err error
		raw, err = s.readFrame()
		return err
	})
	if err != nil {
		return nil, err
	}
	if slave.IsBroadcast() {
		return nil, nil
	}

	respSlave, respPDU, err := s.packager.Unpack(raw)
	if err != nil {
		return nil, err
	}
	if respSlave != slave.ID() {
		return nil, fmt.Errorf("%w: slave ID mismatch: expected %d, got %d", ErrResponse, slave.ID(), respSlave)
	}
	return respPDU, nil
}

// readFrame reads exactly one response frame, sized from its function code.
func (s *rtuService) readFrame() ([]byte, error) {
	frame := make([]byte, 2, MaxRTUFrameLength)
	if _, err := io.ReadFull(s.transport, frame); err != nil {
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	fixed, counted := s.packager.ResponseDataLength(frame[1])
	if counted {
		var count [1]byte
		if _, err := io.ReadFull(s.transport, count[:]); err != nil {
			return nil, fmt.Errorf("failed to read byte count: %w", err)
		}
		frame = append(frame, count[0])
		fixed = int(count[0])
	}

	rest := fixed + RTUCRCLength
	if len(frame)+rest > MaxRTUFrameLength {
		return nil, fmt.Errorf("%w: frame too long: %d bytes (maximum %d)", ErrResponse, len(frame)+rest, MaxRTUFrameLength)
	}
	start := len(frame)
	frame = frame[:start+rest]
	if _, err := io.ReadFull(s.transport, frame[start:]); err != nil {
		return nil, fmt.Errorf("failed to read frame body (%d bytes): %w", rest, err)
	}
	return frame, nil
}

func (s *rtuService) Close() error {
	return s.transport.Close()
}

func (s *rtuService) String() string {
	return s.name
}
