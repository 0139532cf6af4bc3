package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// testDevice is an in-memory Modbus slave serving coils and holding
// registers. Input registers and discrete inputs alias them.
type testDevice struct {
	mu       sync.Mutex
	coils    []bool
	holding  []uint16
	requests [][]byte // raw request frames, in arrival order

	silent  bool                      // never answer
	delay   time.Duration             // wait before answering
	rewrite func(frame []byte) []byte // tamper with the response frame
}

func newTestDevice() *testDevice {
	d := &testDevice{
		coils:   make([]bool, 64),
		holding: make([]uint16, 64),
	}
	for i := range d.holding {
		d.holding[i] = uint16(i + 1)
	}
	return d
}

func (d *testDevice) seen() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.requests))
	copy(out, d.requests)
	return out
}

func (d *testDevice) register(i int) uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.holding[i]
}

// handle executes a request PDU and returns the response PDU.
func (d *testDevice) handle(pdu []byte) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	fc := pdu[0]
	exception := func(code byte) []byte { return []byte{fc | ExceptionFlag, code} }
	u16 := func(off int) int { return int(binary.BigEndian.Uint16(pdu[off:])) }

	switch fc {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs:
		addr, qty := u16(1), u16(3)
		if addr+qty > len(d.coils) {
			return exception(0x02)
		}
		data := packBits(d.coils[addr : addr+qty])
		return append([]byte{fc, byte(len(data))}, data...)
	case FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
		addr, qty := u16(1), u16(3)
		if addr+qty > len(d.holding) {
			return exception(0x02)
		}
		return append([]byte{fc, byte(2 * qty)}, packRegisters(d.holding[addr:addr+qty])...)
	case FuncCodeWriteSingleCoil:
		addr := u16(1)
		if addr >= len(d.coils) {
			return exception(0x02)
		}
		d.coils[addr] = u16(3) == 0xFF00
		return append([]byte(nil), pdu[:5]...)
	case FuncCodeWriteSingleRegister:
		addr := u16(1)
		if addr >= len(d.holding) {
			return exception(0x02)
		}
		d.holding[addr] = uint16(u16(3))
		return append([]byte(nil), pdu[:5]...)
	case FuncCodeWriteMultipleCoils:
		addr, qty := u16(1), u16(3)
		if addr+qty > len(d.coils) {
			return exception(0x02)
		}
		bits, err := unpackBits(pdu[6:], uint16(qty))
		if err != nil {
			return exception(0x03)
		}
		copy(d.coils[addr:], bits)
		return append([]byte(nil), pdu[:5]...)
	case FuncCodeWriteMultipleRegisters:
		addr, qty := u16(1), u16(3)
		if addr+qty > len(d.holding) {
			return exception(0x02)
		}
		for i := 0; i < qty; i++ {
			d.holding[addr+i] = binary.BigEndian.Uint16(pdu[6+2*i:])
		}
		return append([]byte(nil), pdu[:5]...)
	case FuncCodeMaskWriteRegister:
		addr, and, or := u16(1), uint16(u16(3)), uint16(u16(5))
		if addr >= len(d.holding) {
			return exception(0x02)
		}
		d.holding[addr] = (d.holding[addr] & and) | (or &^ and)
		return append([]byte(nil), pdu[:7]...)
	case FuncCodeReadWriteMultipleRegisters:
		ra, rq, wa, wq := u16(1), u16(3), u16(5), u16(7)
		if ra+rq > len(d.holding) || wa+wq > len(d.holding) {
			return exception(0x02)
		}
		for i := 0; i < wq; i++ {
			d.holding[wa+i] = binary.BigEndian.Uint16(pdu[10+2*i:])
		}
		return append([]byte{fc, byte(2 * rq)}, packRegisters(d.holding[ra:ra+rq])...)
	default:
		return exception(0x01)
	}
}

func (d *testDevice) record(frame []byte) {
	d.mu.Lock()
	d.requests = append(d.requests, frame)
	d.mu.Unlock()
}

// answer writes frame unless the device is silent.
func (d *testDevice) answer(w io.Writer, frame []byte) error {
	if d.silent {
		return nil
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if d.rewrite != nil {
		frame = d.rewrite(frame)
	}
	_, err := w.Write(frame)
	return err
}

// readRTURequest reads one RTU request frame, sized from its function code.
func readRTURequest(r io.Reader) ([]byte, error) {
	frame := make([]byte, 2)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	var head int
	switch frame[1] {
	case FuncCodeReadExceptionStatus, FuncCodeReportServerID:
		head = 0
	case 0x01, 0x02, 0x03, 0x04, 0x05, 0x06:
		head = 4
	case FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegisters:
		head = 5
	case FuncCodeMaskWriteRegister:
		head = 6
	case FuncCodeReadWriteMultipleRegisters:
		head = 9
	default:
		return nil, fmt.Errorf("unsupported function %02X", frame[1])
	}
	frame = append(frame, make([]byte, head)...)
	if _, err := io.ReadFull(r, frame[2:]); err != nil {
		return nil, err
	}
	rest := RTUCRCLength
	switch frame[1] {
	case FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegisters, FuncCodeReadWriteMultipleRegisters:
		rest += int(frame[len(frame)-1])
	}
	start := len(frame)
	frame = append(frame, make([]byte, rest)...)
	if _, err := io.ReadFull(r, frame[start:]); err != nil {
		return nil, err
	}
	return frame, nil
}

// serveRTU answers RTU requests on conn until it is closed. Broadcast
// requests are executed without a response.
func (d *testDevice) serveRTU(conn io.ReadWriter) error {
	for {
		frame, err := readRTURequest(conn)
		if err != nil {
			return err
		}
		d.record(frame)
		if !NewRTUPackager().VerifyCRC(frame) {
			return ErrCRC
		}
		slave := frame[0]
		respPDU := d.handle(frame[1 : len(frame)-RTUCRCLength])
		if slave == BroadcastID {
			continue
		}
		resp := appendCRC(append([]byte{slave}, respPDU...))
		if err := d.answer(conn, resp); err != nil {
			return err
		}
	}
}

// serveTCP answers MBAP framed requests on conn until it is closed.
func (d *testDevice) serveTCP(conn io.ReadWriter) error {
	p := NewTCPPackager()
	for {
		header := make([]byte, TCPHeaderLength)
		if _, err := io.ReadFull(conn, header); err != nil {
			return err
		}
		h, err := p.ParseHeader(header)
		if err != nil {
			return err
		}
		body := make([]byte, int(h.Length)-1)
		if _, err := io.ReadFull(conn, body); err != nil {
			return err
		}
		d.record(append(header, body...))
		respPDU := d.handle(body)
		if h.UnitID == BroadcastID {
			continue
		}
		resp, err := p.Pack(h.TransactionID, h.UnitID, respPDU)
		if err != nil {
			return err
		}
		if err := d.answer(conn, resp); err != nil {
			return err
		}
	}
}

// pipeDevice connects a client end of net.Pipe to d. The server side is
// closed when the test ends.
func pipeDevice(t *testing.T, d *testDevice, framing Framing) net.Conn {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	go func() {
		if framing == FramingTCP {
			_ = d.serveTCP(serverConn)
		} else {
			_ = d.serveRTU(serverConn)
		}
	}()
	t.Cleanup(func() {
		serverConn.Close()
		clientConn.Close()
	})
	return clientConn
}

// listenDevice serves d with RTU framing on a loopback TCP listener and
// returns its address. Each accepted connection's serve error is sent on
// the returned channel.
func listenDevice(t *testing.T, d *testDevice) (string, <-chan error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	served := make(chan error, 8)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				served <- d.serveRTU(conn)
			}()
		}
	}()
	return ln.Addr().String(), served
}

// unusedAddress returns a loopback address nothing listens on.
func unusedAddress(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// noDeadline hides SetDeadline so the goroutine race path is used.
type noDeadline struct {
	io.ReadWriteCloser
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed)
}

func assertUint16Equal(t *testing.T, expected []uint16, actual []uint16) {
	t.Helper()
	if len(expected) != len(actual) {
		t.Errorf("Expected length %d, but got %d", len(expected), len(actual))
		return
	}
	for i := range expected {
		if expected[i] != actual[i] {
			t.Errorf("Expected %v, but got %v", expected, actual)
			return
		}
	}
}
