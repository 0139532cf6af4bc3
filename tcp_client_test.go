package modbus

import (
	"context"
	"os"
	"testing"
	"time"

	modbus_server "github.com/hootrhino/mbserver"
	"github.com/hootrhino/mbserver/store"
)

// startTestTCPServer runs a Modbus TCP server with sample holding registers
// on a free loopback port.
func startTestTCPServer(t *testing.T) (*modbus_server.Server, string) {
	t.Helper()
	server := modbus_server.NewServer(store.NewInMemoryStore(), 1)
	server.SetErrorHandler(func(err error) {
		t.Logf("Modbus server error: %v", err)
	})
	server.SetLogger(os.Stdout)

	sampleHoldingRegisters := make([]uint16, 10)
	for i := range sampleHoldingRegisters {
		sampleHoldingRegisters[i] = 0xABCD
	}
	if err := server.SetHoldingRegisters(sampleHoldingRegisters); err != nil {
		t.Fatalf("Failed to set holding registers: %v", err)
	}

	addr := unusedAddress(t)
	if err := server.Start(addr); err != nil {
		t.Skipf("Failed to start Modbus server: %v", err)
	}
	return server, addr
}

// TestModbusServerTCP talks MBAP to a real server implementation. It binds a
// port and is only run when MODBUS_INTEGRATION is set.
func TestModbusServerTCP(t *testing.T) {
	if os.Getenv("MODBUS_INTEGRATION") == "" {
		t.Skip("set MODBUS_INTEGRATION=1 to run against mbserver")
	}
	server, addr := startTestTCPServer(t)
	defer server.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := ConnectFramed(ctx, addr, NewSlave(1), FramingTCP)
	if err != nil {
		t.Fatalf("Failed to connect to server: %v", err)
	}
	defer client.Close()

	for i := range 2 {
		registers, err := client.ReadHoldingRegisters(ctx, uint16(i), 1)
		if err != nil {
			t.Fatalf("ReadHoldingRegisters failed: %v", err)
		}
		t.Log("ReadHoldingRegisters=", registers)
		assertUint16Equal(t, []uint16{0xABCD}, registers)
	}
}
