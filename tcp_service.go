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
	"sync/atomic"
)

// maxStaleFrames bounds how many responses with a foreign transaction ID are
// skipped before a call gives up. They are left over from abandoned calls.
const maxStaleFrames = 3

// tcpService sends MBAP framed requests (Modbus TCP) over a stream.
type tcpService struct {
	transport     Transport
	packager      *TCPPackager
	transactionID uint32
	name          string
}

func newTCPService(transport Transport) *tcpService {
	return &tcpService{
		transport: transport,
		packager:  NewTCPPackager(),
		name:      "tcp " + describeTransport(transport),
	}
}

// nextTransactionID wraps around at 65535.
func (s *tcpService) nextTransactionID() uint16 {
	return uint16(atomic.AddUint32(&s.transactionID, 1) & 0xFFFF)
}

// Call sends pdu to the unit and waits for the response carrying the same
// transaction ID.
func (s *tcpService) Call(ctx context.Context, slave Slave, pdu []byte) ([]byte, error) {
	txID := s.nextTransactionID()
	frame, err := s.packager.Pack(txID, slave.ID(), pdu)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequest, err)
	}

	var respPDU []byte
	err = runWithContext(ctx, s.transport, func() error {
		if err := writeFull(s.transport, frame); err != nil {
			return err
		}
		if slave.IsBroadcast() {
			return nil
		}
		for i := 0; i <= maxStaleFrames; i++ {
			h, body, err := s.readFrame()
			if err != nil {
				return err
			}
			if h.TransactionID != txID {
				continue
			}
			if h.UnitID != slave.ID() {
				return fmt.Errorf("%w: unit ID mismatch: expected %d, got %d", ErrResponse, slave.ID(), h.UnitID)
			}
			respPDU = body
			return nil
		}
		return fmt.Errorf("%w: no response with transaction ID 0x%04X", ErrResponse, txID)
	})
	if err != nil {
		return nil, err
	}
	return respPDU, nil
}

// readFrame reads one MBAP header and the PDU it announces.
func (s *tcpService) readFrame() (MBAPHeader, []byte, error) {
	header := make([]byte, TCPHeaderLength)
	if _, err := io.ReadFull(s.transport, header); err != nil {
		return MBAPHeader{}, nil, fmt.Errorf("failed to read MBAP header: %w", err)
	}
	h, err := s.packager.ParseHeader(header)
	if err != nil {
		return h, nil, fmt.Errorf("%w: %v", ErrResponse, err)
	}
	body := make([]byte, int(h.Length)-1)
	if _, err := io.ReadFull(s.transport, body); err != nil {
		return h, nil, fmt.Errorf("failed to read PDU (%d bytes): %w", len(body), err)
	}
	return h, body, nil
}

func (s *tcpService) Close() error {
	return s.transport.Close()
}

func (s *tcpService) String() string {
	return s.name
}
