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
	"io"
	"net"
	"os"
	"time"
)

// Transport is an ordered, reliable, full-duplex byte stream: a TCP
// connection, a serial port or a TLS connection wrapping either. A client
// attached to a Transport owns it and closes it on Close.
//
// Transports that also implement fmt.Stringer are described with it in logs,
// net.Conn values are described by their remote address.
type Transport interface {
	io.Reader
	io.Writer
	io.Closer
}

// deadliner is implemented by transports that can interrupt blocked I/O (net.Conn).
type deadliner interface {
	SetDeadline(t time.Time) error
}

// aLongTimeAgo is a deadline in the past, used to unblock pending I/O.
var aLongTimeAgo = time.Unix(1, 0)

// describeTransport returns a human-readable name for diagnostics.
func describeTransport(t Transport) string {
	switch v := t.(type) {
	case fmt.Stringer:
		return v.String()
	case net.Conn:
		if addr := v.RemoteAddr(); addr != nil {
			return addr.Network() + "://" + addr.String()
		}
	}
	return fmt.Sprintf("%T", t)
}

// runWithContext runs one exchange against t so that it ends when ctx does.
//
// Deadline capable transports get ctx's deadline and are unblocked on
// cancellation. For anything else the exchange is raced against ctx in a
// goroutine; a losing exchange keeps running until its blocked read or write
// returns, so the stream may carry a partial frame afterwards.
func runWithContext(ctx context.Context, t Transport, exchange func() error) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}

	if d, ok := t.(deadliner); ok {
		if dl, ok := ctx.Deadline(); ok {
			if err := d.SetDeadline(dl); err != nil {
				return fmt.Errorf("failed to set deadline: %w", err)
			}
		}
		fired := make(chan struct{})
		stop := context.AfterFunc(ctx, func() {
			_ = d.SetDeadline(aLongTimeAgo)
			close(fired)
		})
		defer func() {
			if !stop() {
				<-fired
			}
			_ = d.SetDeadline(time.Time{})
		}()

		err := exchange()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		// The transport deadline may fire just before ctx notices its own.
		if dl, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) && !time.Now().Before(dl) {
			return context.DeadlineExceeded
		}
		return err
	}

	if ctx.Done() == nil {
		return exchange()
	}
	done := make(chan error, 1)
	go func() {
		done <- exchange()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// writeFull writes all of frame, looping over short writes.
func writeFull(w io.Writer, frame []byte) error {
	written := 0
	for written < len(frame) {
		n, err := w.Write(frame[written:])
		if err != nil {
			return fmt.Errorf("write failed after %d bytes: %w", written, err)
		}
		if n == 0 {
			return fmt.Errorf("write failed after %d bytes: %w", written, io.ErrShortWrite)
		}
		written += n
	}
	return nil
}
