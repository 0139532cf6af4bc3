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
	"net"
	"syscall"
	"testing"
	"time"
)

// stubDial replaces dialContext for one test. dial is called in place of a
// real dial; the returned channel is closed once it has been entered.
func stubDial(t *testing.T, dial func(ctx context.Context) (net.Conn, error)) <-chan struct{} {
	t.Helper()
	orig := dialContext
	entered := make(chan struct{})
	dialContext = func(ctx context.Context, network, address string) (net.Conn, error) {
		close(entered)
		return dial(ctx)
	}
	t.Cleanup(func() {
		select {
		case <-entered:
		case <-time.After(time.Second):
		}
		dialContext = orig
	})
	return entered
}

func TestConnectSyncDefaultsToBroadcast(t *testing.T) {
	device := newTestDevice()
	addr, _ := listenDevice(t, device)

	plain, err := ConnectSync(addr)
	if err != nil {
		t.Fatalf("ConnectSync failed: %v", err)
	}
	defer plain.Close()
	explicit, err := ConnectSyncSlave(addr, Broadcast())
	if err != nil {
		t.Fatalf("ConnectSyncSlave failed: %v", err)
	}
	defer explicit.Close()

	if plain.Slave() != Broadcast() || explicit.Slave() != Broadcast() {
		t.Fatalf("slaves = %v, %v; want broadcast", plain.Slave(), explicit.Slave())
	}
	if plain.Timeout() != 0 {
		t.Errorf("Timeout() = %v, want 0", plain.Timeout())
	}
	if _, err := plain.ReadHoldingRegisters(0, 1); !errors.Is(err, ErrBroadcastRead) {
		t.Errorf("expected ErrBroadcastRead, got %v", err)
	}
	if err := plain.WriteSingleRegister(1, 0x0101); err != nil {
		t.Fatalf("broadcast write failed: %v", err)
	}

	// Same connection, so the device has applied the write before it answers.
	plain.SetSlave(NewSlave(1))
	registers, err := plain.ReadHoldingRegisters(1, 1)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters failed: %v", err)
	}
	assertUint16Equal(t, []uint16{0x0101}, registers)
}

func TestSyncClientOperations(t *testing.T) {
	device := newTestDevice()
	addr, _ := listenDevice(t, device)

	client, err := ConnectSyncSlaveWithTimeout(addr, NewSlave(1), time.Second)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer client.Close()

	if err := client.WriteMultipleRegisters(0, []uint16{9, 8, 7}); err != nil {
		t.Fatalf("WriteMultipleRegisters failed: %v", err)
	}
	registers, err := client.ReadInputRegisters(0, 3)
	if err != nil {
		t.Fatalf("ReadInputRegisters failed: %v", err)
	}
	assertUint16Equal(t, []uint16{9, 8, 7}, registers)

	if err := client.WriteSingleCoil(1, true); err != nil {
		t.Fatalf("WriteSingleCoil failed: %v", err)
	}
	if err := client.WriteMultipleCoils(2, []bool{true, true}); err != nil {
		t.Fatalf("WriteMultipleCoils failed: %v", err)
	}
	coils, err := client.ReadCoils(0, 4)
	if err != nil {
		t.Fatalf("ReadCoils failed: %v", err)
	}
	if coils[0] || !coils[1] || !coils[2] || !coils[3] {
		t.Errorf("ReadCoils = %v", coils)
	}
	if _, err := client.ReadDiscreteInputs(0, 4); err != nil {
		t.Fatalf("ReadDiscreteInputs failed: %v", err)
	}
	if err := client.MaskWriteRegister(0, 0x0000, 0x00FF); err != nil {
		t.Fatalf("MaskWriteRegister failed: %v", err)
	}
	registers, err = client.ReadWriteMultipleRegisters(0, 1, 5, []uint16{0x5555})
	if err != nil {
		t.Fatalf("ReadWriteMultipleRegisters failed: %v", err)
	}
	assertUint16Equal(t, []uint16{0x00FF}, registers)

	resp, err := client.Call([]byte{FuncCodeReadHoldingRegisters, 0x00, 0x05, 0x00, 0x01})
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if len(resp) != 4 || resp[2] != 0x55 || resp[3] != 0x55 {
		t.Errorf("Call response = % X", resp)
	}

	if _, err := client.ReadHoldingRegisters(60, 10); err == nil {
		t.Error("expected an exception response")
	}
}

func TestConnectSyncRefused(t *testing.T) {
	_, err := ConnectSync(unusedAddress(t))
	if !errors.Is(err, syscall.ECONNREFUSED) {
		t.Fatalf("expected connection refused, got %v", err)
	}
	if IsTimeout(err) {
		t.Errorf("refusal reported as timeout: %v", err)
	}
}

func TestConnectSyncTimeout(t *testing.T) {
	stubDial(t, func(ctx context.Context) (net.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	start := time.Now()
	_, err := ConnectSyncWithTimeout("192.0.2.1:502", time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if !IsTimeout(err) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ErrTimeout does not classify as a timeout: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}

func TestConnectSyncClosesLateConnection(t *testing.T) {
	clientEnd, peerEnd := net.Pipe()
	defer peerEnd.Close()
	stubDial(t, func(ctx context.Context) (net.Conn, error) {
		<-ctx.Done()
		return clientEnd, nil
	})

	if _, err := ConnectSyncSlaveWithTimeout("192.0.2.1:502", NewSlave(1), time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	_ = peerEnd.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := peerEnd.Read(make([]byte, 1)); !isEOF(err) {
		t.Fatalf("late connection was not closed: %v", err)
	}
}

func TestSyncClientZeroTimeoutWaits(t *testing.T) {
	device := newTestDevice()
	device.delay = 50 * time.Millisecond
	addr, _ := listenDevice(t, device)

	client, err := ConnectSyncSlave(addr, NewSlave(1))
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer client.Close()
	if _, err := client.ReadHoldingRegisters(0, 1); err != nil {
		t.Fatalf("ReadHoldingRegisters failed: %v", err)
	}
}

func TestSyncClientCallTimeout(t *testing.T) {
	device := newTestDevice()
	device.silent = true
	addr, _ := listenDevice(t, device)

	client, err := ConnectSyncSlave(addr, NewSlave(1))
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer client.Close()
	client.SetTimeout(20 * time.Millisecond)
	if client.Timeout() != 20*time.Millisecond {
		t.Errorf("Timeout() = %v", client.Timeout())
	}

	start := time.Now()
	if _, err := client.ReadHoldingRegisters(0, 1); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}

func TestSyncClientClose(t *testing.T) {
	addr, served := listenDevice(t, newTestDevice())

	client, err := ConnectSyncSlave(addr, NewSlave(1))
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
	if _, err := client.ReadHoldingRegisters(0, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	select {
	case err := <-served:
		if !isEOF(err) {
			t.Errorf("peer saw %v, want EOF", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("peer did not observe the close")
	}
}
