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
	"net"
)

// dialContext opens the TCP stream used by Connect. Tests replace it.
var dialContext = (&net.Dialer{}).DialContext

// Attach binds RTU framing to t and addresses the TCP device (0xFF).
// No I/O is performed.
func Attach(t Transport) *Client {
	return AttachSlave(t, TCPDevice())
}

// AttachSlave binds RTU framing to t and addresses slave.
// No I/O is performed.
func AttachSlave(t Transport, slave Slave) *Client {
	return AttachFramed(t, slave, FramingRTU)
}

// AttachFramed binds the given framing to t. FramingTCP speaks MBAP, for
// gateways that expect plain Modbus TCP instead of RTU frames.
func AttachFramed(t Transport, slave Slave, framing Framing) *Client {
	var service Service
	switch framing {
	case FramingTCP:
		service = newTCPService(t)
	default:
		service = newRTUService(t)
	}
	return newClient(service, slave)
}

// Connect dials address over TCP and attaches RTU framing for the TCP
// device (0xFF).
func Connect(ctx context.Context, address string) (*Client, error) {
	return ConnectSlave(ctx, address, TCPDevice())
}

// ConnectSlave dials address over TCP and attaches RTU framing for slave.
// Dial errors are returned as is.
func ConnectSlave(ctx context.Context, address string, slave Slave) (*Client, error) {
	return ConnectFramed(ctx, address, slave, FramingRTU)
}

// ConnectFramed dials address over TCP and attaches the given framing.
func ConnectFramed(ctx context.Context, address string, slave Slave, framing Framing) (*Client, error) {
	conn, err := dialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	connectsTotal.Inc()
	return AttachFramed(conn, slave, framing), nil
}
