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
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SyncClient is a blocking Client. Every call is run on a scheduler owned by
// this connection alone and, when a timeout is set, abandoned with ErrTimeout
// once it expires.
//
// Like Client, a SyncClient serves one call at a time.
type SyncClient struct {
	sched   *scheduler
	client  *Client
	timeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// ConnectSync connects to address without a timeout. Requests go to the
// broadcast address until SetSlave is called.
func ConnectSync(address string) (*SyncClient, error) {
	return ConnectSyncSlave(address, Broadcast())
}

// ConnectSyncWithTimeout is ConnectSync with a timeout for the connect and
// for every later call.
func ConnectSyncWithTimeout(address string, timeout time.Duration) (*SyncClient, error) {
	return ConnectSyncSlaveWithTimeout(address, Broadcast(), timeout)
}

// ConnectSyncSlave connects to address and addresses slave, without a timeout.
func ConnectSyncSlave(address string, slave Slave) (*SyncClient, error) {
	return ConnectSyncSlaveWithTimeout(address, slave, 0)
}

// ConnectSyncSlaveWithTimeout dials address over TCP on a fresh scheduler and
// attaches RTU framing for slave. A zero timeout waits as long as the dial does.
func ConnectSyncSlaveWithTimeout(address string, slave Slave, timeout time.Duration) (*SyncClient, error) {
	return ConnectSyncFramed(address, slave, FramingRTU, timeout)
}

// ConnectSyncFramed is ConnectSyncSlaveWithTimeout with a choice of framing.
func ConnectSyncFramed(address string, slave Slave, framing Framing, timeout time.Duration) (*SyncClient, error) {
	sched := newScheduler()
	client, err := blockOnWithTimeout(sched, timeout, func(ctx context.Context) (*Client, error) {
		return ConnectFramed(ctx, address, slave, framing)
	}, func(late *Client) {
		_ = late.Close()
	})
	if err != nil {
		sched.shutdown()
		return nil, err
	}
	return &SyncClient{sched: sched, client: client, timeout: timeout}, nil
}

// Timeout returns the per-call timeout; zero means none.
func (s *SyncClient) Timeout() time.Duration {
	return s.timeout
}

// SetTimeout changes the timeout applied to subsequent calls.
func (s *SyncClient) SetTimeout(timeout time.Duration) {
	s.timeout = timeout
}

// Slave returns the slave requests are currently addressed to.
func (s *SyncClient) Slave() Slave {
	return s.client.Slave()
}

// SetSlave changes the slave used by subsequent calls.
func (s *SyncClient) SetSlave(slave Slave) {
	s.client.SetSlave(slave)
}

// SetLogger sets the logger used for request and response logs.
func (s *SyncClient) SetLogger(logger zerolog.Logger) {
	s.client.SetLogger(logger)
}

// String describes the underlying connection and slave.
func (s *SyncClient) String() string {
	return s.client.String()
}

// Close closes the connection and stops the scheduler. Only the first call
// does anything; later calls return the same error.
func (s *SyncClient) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
		s.sched.shutdown()
	})
	return s.closeErr
}

// block runs fn on the client's scheduler under the current timeout.
func block[T any](s *SyncClient, fn func(ctx context.Context, c *Client) (T, error)) (T, error) {
	return blockOnWithTimeout(s.sched, s.timeout, func(ctx context.Context) (T, error) {
		return fn(ctx, s.client)
	}, nil)
}

// blockErr is block for calls without a result.
func blockErr(s *SyncClient, fn func(ctx context.Context, c *Client) error) error {
	_, err := block(s, func(ctx context.Context, c *Client) (struct{}, error) {
		return struct{}{}, fn(ctx, c)
	})
	return err
}

// Call sends a raw request PDU and returns the response PDU.
func (s *SyncClient) Call(reqPDU []byte) ([]byte, error) {
	return block(s, func(ctx context.Context, c *Client) ([]byte, error) {
		return c.Call(ctx, reqPDU)
	})
}

func (s *SyncClient) ReadCoils(startAddress, quantity uint16) ([]bool, error) {
	return block(s, func(ctx context.Context, c *Client) ([]bool, error) {
		return c.ReadCoils(ctx, startAddress, quantity)
	})
}

func (s *SyncClient) ReadDiscreteInputs(startAddress, quantity uint16) ([]bool, error) {
	return block(s, func(ctx context.Context, c *Client) ([]bool, error) {
		return c.ReadDiscreteInputs(ctx, startAddress, quantity)
	})
}

func (s *SyncClient) ReadHoldingRegisters(startAddress, quantity uint16) ([]uint16, error) {
	return block(s, func(ctx context.Context, c *Client) ([]uint16, error) {
		return c.ReadHoldingRegisters(ctx, startAddress, quantity)
	})
}

func (s *SyncClient) ReadInputRegisters(startAddress, quantity uint16) ([]uint16, error) {
	return block(s, func(ctx context.Context, c *Client) ([]uint16, error) {
		return c.ReadInputRegisters(ctx, startAddress, quantity)
	})
}

func (s *SyncClient) WriteSingleCoil(address uint16, value bool) error {
	return blockErr(s, func(ctx context.Context, c *Client) error {
		return c.WriteSingleCoil(ctx, address, value)
	})
}

func (s *SyncClient) WriteSingleRegister(address, value uint16) error {
	return blockErr(s, func(ctx context.Context, c *Client) error {
		return c.WriteSingleRegister(ctx, address, value)
	})
}

func (s *SyncClient) WriteMultipleCoils(startAddress uint16, values []bool) error {
	return blockErr(s, func(ctx context.Context, c *Client) error {
		return c.WriteMultipleCoils(ctx, startAddress, values)
	})
}

func (s *SyncClient) WriteMultipleRegisters(startAddress uint16, values []uint16) error {
	return blockErr(s, func(ctx context.Context, c *Client) error {
		return c.WriteMultipleRegisters(ctx, startAddress, values)
	})
}

func (s *SyncClient) MaskWriteRegister(address, andMask, orMask uint16) error {
	return blockErr(s, func(ctx context.Context, c *Client) error {
		return c.MaskWriteRegister(ctx, address, andMask, orMask)
	})
}

func (s *SyncClient) ReadWriteMultipleRegisters(readAddress, readQuantity, writeAddress uint16, values []uint16) ([]uint16, error) {
	return block(s, func(ctx context.Context, c *Client) ([]uint16, error) {
		return c.ReadWriteMultipleRegisters(ctx, readAddress, readQuantity, writeAddress, values)
	})
}
