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
	"encoding/binary"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Standard Response PDU Lengths (Including Function Code)
const (
	RespPDULenWriteSingleCoil        = 1 + 2 + 2     // FuncCode (1) + Address (2) + Value (2)
	RespPDULenWriteSingleRegister    = 1 + 2 + 2     // FuncCode (1) + Address (2) + Value (2)
	RespPDULenWriteMultipleCoils     = 1 + 2 + 2     // FuncCode (1) + Address (2) + Quantity (2)
	RespPDULenWriteMultipleRegisters = 1 + 2 + 2     // FuncCode (1) + Address (2) + Quantity (2)
	RespPDULenMaskWriteRegister      = 1 + 2 + 2 + 2 // FuncCode (1) + Address (2) + AND (2) + OR (2)
)

// Client issues Modbus requests over one attached transport on behalf of one
// default slave. It is created by Attach/Connect and owns the transport until
// Close.
//
// A Client serves one request at a time. Callers must not start a second
// operation before the first returned; this is not guarded by a lock.
//
// Every operation honors ctx. When ctx ends mid-exchange the request may be
// half written or its response left unread, and the connection should not
// be trusted for further requests.
type Client struct {
	service Service
	slave   Slave
	logger  zerolog.Logger
}

func newClient(service Service, slave Slave) *Client {
	return &Client{
		service: service,
		slave:   slave,
		logger:  zerolog.Nop(),
	}
}

// Slave returns the slave requests are currently addressed to.
func (c *Client) Slave() Slave {
	return c.slave
}

// SetSlave changes the slave used by subsequent requests.
func (c *Client) SetSlave(slave Slave) {
	c.slave = slave
}

// SetLogger sets the logger used for request and response logs.
// Clients log nothing until one is set.
func (c *Client) SetLogger(logger zerolog.Logger) {
	c.logger = logger
}

// String describes the transport and the current slave.
func (c *Client) String() string {
	return fmt.Sprintf("%s slave %d", c.service, c.slave.ID())
}

// Close releases the transport.
func (c *Client) Close() error {
	c.logger.Debug().Str("service", c.service.String()).Msg("closing client")
	return c.service.Close()
}

// Call sends a raw request PDU (function code + data) and returns the response
// PDU. Exception responses are returned as *ModbusError. For a broadcast slave
// the response is nil.
func (c *Client) Call(ctx context.Context, reqPDU []byte) ([]byte, error) {
	if len(reqPDU) == 0 {
		return nil, fmt.Errorf("%w: empty PDU", ErrRequest)
	}
	funcCode := reqPDU[0]
	slave := c.slave
	if slave.IsBroadcast() && isReadFunction(funcCode) {
		return nil, ErrBroadcastRead
	}

	c.logger.Debug().
		Uint8("slave", slave.ID()).
		Hex("func", []byte{funcCode}).
		Hex("pdu", reqPDU[1:]).
		Str("service", c.service.String()).
		Msg("sending request")

	start := time.Now()
	respPDU, err := c.service.Call(ctx, slave, reqPDU)
	if err == nil && !slave.IsBroadcast() {
		err = checkResponse(funcCode, respPDU)
	}
	observeCall(start, err)
	if err != nil {
		c.logger.Warn().Err(err).
			Uint8("slave", slave.ID()).
			Hex("func", []byte{funcCode}).
			Msg("request failed")
		return nil, err
	}

	c.logger.Debug().
		Uint8("slave", slave.ID()).
		Hex("pdu", respPDU).
		Dur("elapsed", time.Since(start)).
		Msg("received response")
	return respPDU, nil
}

// checkResponse turns exception responses into *ModbusError and rejects
// responses for another function.
func checkResponse(funcCode uint8, respPDU []byte) error {
	if len(respPDU) == 0 {
		return fmt.Errorf("%w: empty response for func %02X", ErrResponse, funcCode)
	}
	if respPDU[0]&ExceptionFlag != 0 && respPDU[0]&^ExceptionFlag == funcCode {
		exceptionCode := uint8(0)
		if len(respPDU) > 1 {
			exceptionCode = respPDU[1]
		}
		return &ModbusError{FunctionCode: funcCode, ExceptionCode: exceptionCode}
	}
	if respPDU[0] != funcCode {
		return fmt.Errorf("%w: unexpected function code in response for func %02X: got %02X", ErrResponse, funcCode, respPDU[0])
	}
	return nil
}

// readModbusData sends a standard read request (address + quantity) and
// returns the data payload after the byte count.
func (c *Client) readModbusData(ctx context.Context, funcCode uint8, startAddress, quantity uint16) ([]byte, error) {
	if quantity == 0 {
		return nil, fmt.Errorf("%w: quantity cannot be zero", ErrRequest)
	}
	pduData := make([]byte, 4)
	binary.BigEndian.PutUint16(pduData[0:2], startAddress)
	binary.BigEndian.PutUint16(pduData[2:4], quantity)

	respPDU, err := c.Call(ctx, buildRequestPDU(funcCode, pduData))
	if err != nil {
		return nil, fmt.Errorf("modbus: send/receive failed for func %02X (slave %d): %w", funcCode, c.slave.ID(), err)
	}
	return byteCountPayload(funcCode, respPDU)
}

// byteCountPayload validates FuncCode + ByteCount + Data and returns Data.
func byteCountPayload(funcCode uint8, respPDU []byte) ([]byte, error) {
	if len(respPDU) < 2 {
		return nil, fmt.Errorf("%w: invalid response length for func %02X: expected at least 2 bytes, got %d", ErrResponse, funcCode, len(respPDU))
	}
	byteCount := int(respPDU[1])
	if len(respPDU) != 2+byteCount {
		return nil, fmt.Errorf("%w: invalid response data length for func %02X: expected %d bytes, got %d", ErrResponse, funcCode, byteCount, len(respPDU)-2)
	}
	return respPDU[2:], nil
}

// writeModbusData sends a write request and, unless broadcast, checks the
// response length. It returns the response PDU for echo validation.
func (c *Client) writeModbusData(ctx context.Context, funcCode uint8, pduData []byte, expectedRespPDULen int) ([]byte, error) {
	respPDU, err := c.Call(ctx, buildRequestPDU(funcCode, pduData))
	if err != nil {
		return nil, fmt.Errorf("modbus: send/receive failed for func %02X (slave %d): %w", funcCode, c.slave.ID(), err)
	}
	if respPDU == nil {
		return nil, nil // broadcast
	}
	if len(respPDU) != expectedRespPDULen {
		return nil, fmt.Errorf("%w: invalid response length for func %02X: expected %d bytes, got %d", ErrResponse, funcCode, expectedRespPDULen, len(respPDU))
	}
	return respPDU, nil
}

// checkEcho compares the two uint16 fields echoed by write responses.
func checkEcho(respPDU []byte, what string, address, value uint16) error {
	if respPDU == nil {
		return nil
	}
	respAddress := binary.BigEndian.Uint16(respPDU[1:3])
	respValue := binary.BigEndian.Uint16(respPDU[3:5])
	if respAddress != address {
		return fmt.Errorf("%w: %s response address mismatch: expected %d, got %d", ErrResponse, what, address, respAddress)
	}
	if respValue != value {
		return fmt.Errorf("%w: %s response value mismatch: expected 0x%04X, got 0x%04X", ErrResponse, what, value, respValue)
	}
	return nil
}

// ReadCoils reads the specified number of coils starting from the given address.
func (c *Client) ReadCoils(ctx context.Context, startAddress, quantity uint16) ([]bool, error) {
	data, err := c.readModbusData(ctx, FuncCodeReadCoils, startAddress, quantity)
	if err != nil {
		return nil, err
	}
	return unpackBits(data, quantity)
}

// ReadDiscreteInputs reads the specified number of discrete inputs starting from the given address.
func (c *Client) ReadDiscreteInputs(ctx context.Context, startAddress, quantity uint16) ([]bool, error) {
	data, err := c.readModbusData(ctx, FuncCodeReadDiscreteInputs, startAddress, quantity)
	if err != nil {
		return nil, err
	}
	return unpackBits(data, quantity)
}

// ReadHoldingRegisters reads the specified number of holding registers starting from the given address.
func (c *Client) ReadHoldingRegisters(ctx context.Context, startAddress, quantity uint16) ([]uint16, error) {
	data, err := c.readModbusData(ctx, FuncCodeReadHoldingRegisters, startAddress, quantity)
	if err != nil {
		return nil, err
	}
	return unpackRegisters(data, quantity)
}

// ReadInputRegisters reads the specified number of input registers starting from the given address.
func (c *Client) ReadInputRegisters(ctx context.Context, startAddress, quantity uint16) ([]uint16, error) {
	data, err := c.readModbusData(ctx, FuncCodeReadInputRegisters, startAddress, quantity)
	if err != nil {
		return nil, err
	}
	return unpackRegisters(data, quantity)
}

// WriteSingleCoil writes a single coil.
func (c *Client) WriteSingleCoil(ctx context.Context, address uint16, value bool) error {
	coil := uint16(0x0000)
	if value {
		coil = 0xFF00
	}
	pduData := make([]byte, 4)
	binary.BigEndian.PutUint16(pduData[0:2], address)
	binary.BigEndian.PutUint16(pduData[2:4], coil)

	respPDU, err := c.writeModbusData(ctx, FuncCodeWriteSingleCoil, pduData, RespPDULenWriteSingleCoil)
	if err != nil {
		return err
	}
	return checkEcho(respPDU, "write single coil", address, coil)
}

// WriteSingleRegister writes a single holding register.
func (c *Client) WriteSingleRegister(ctx context.Context, address, value uint16) error {
	pduData := make([]byte, 4)
	binary.BigEndian.PutUint16(pduData[0:2], address)
	binary.BigEndian.PutUint16(pduData[2:4], value)

	respPDU, err := c.writeModbusData(ctx, FuncCodeWriteSingleRegister, pduData, RespPDULenWriteSingleRegister)
	if err != nil {
		return err
	}
	return checkEcho(respPDU, "write single register", address, value)
}

// WriteMultipleCoils writes consecutive coils starting at startAddress.
func (c *Client) WriteMultipleCoils(ctx context.Context, startAddress uint16, values []bool) error {
	if len(values) == 0 {
		return fmt.Errorf("%w: no coils to write", ErrRequest)
	}
	quantity := uint16(len(values))
	packed := packBits(values)

	pduData := make([]byte, 5, 5+len(packed))
	binary.BigEndian.PutUint16(pduData[0:2], startAddress)
	binary.BigEndian.PutUint16(pduData[2:4], quantity)
	pduData[4] = byte(len(packed))
	pduData = append(pduData, packed...)

	respPDU, err := c.writeModbusData(ctx, FuncCodeWriteMultipleCoils, pduData, RespPDULenWriteMultipleCoils)
	if err != nil {
		return err
	}
	return checkEcho(respPDU, "write multiple coils", startAddress, quantity)
}

// WriteMultipleRegisters writes consecutive holding registers starting at startAddress.
func (c *Client) WriteMultipleRegisters(ctx context.Context, startAddress uint16, values []uint16) error {
	if len(values) == 0 {
		return fmt.Errorf("%w: no registers to write", ErrRequest)
	}
	quantity := uint16(len(values))

	pduData := make([]byte, 5, 5+2*len(values))
	binary.BigEndian.PutUint16(pduData[0:2], startAddress)
	binary.BigEndian.PutUint16(pduData[2:4], quantity)
	pduData[4] = byte(2 * len(values))
	pduData = append(pduData, packRegisters(values)...)

	respPDU, err := c.writeModbusData(ctx, FuncCodeWriteMultipleRegisters, pduData, RespPDULenWriteMultipleRegisters)
	if err != nil {
		return err
	}
	return checkEcho(respPDU, "write multiple registers", startAddress, quantity)
}

// MaskWriteRegister sets register = (register AND andMask) OR (orMask AND NOT andMask).
func (c *Client) MaskWriteRegister(ctx context.Context, address, andMask, orMask uint16) error {
	pduData := make([]byte, 6)
	binary.BigEndian.PutUint16(pduData[0:2], address)
	binary.BigEndian.PutUint16(pduData[2:4], andMask)
	binary.BigEndian.PutUint16(pduData[4:6], orMask)

	respPDU, err := c.writeModbusData(ctx, FuncCodeMaskWriteRegister, pduData, RespPDULenMaskWriteRegister)
	if err != nil || respPDU == nil {
		return err
	}
	if err := checkEcho(respPDU, "mask write register", address, andMask); err != nil {
		return err
	}
	if respOr := binary.BigEndian.Uint16(respPDU[5:7]); respOr != orMask {
		return fmt.Errorf("%w: mask write register OR mask mismatch: expected 0x%04X, got 0x%04X", ErrResponse, orMask, respOr)
	}
	return nil
}

// ReadWriteMultipleRegisters writes values at writeAddress, then reads
// readQuantity registers from readAddress, in one transaction.
func (c *Client) ReadWriteMultipleRegisters(ctx context.Context, readAddress, readQuantity, writeAddress uint16, values []uint16) ([]uint16, error) {
	if readQuantity == 0 || len(values) == 0 {
		return nil, fmt.Errorf("%w: read and write quantities must be positive", ErrRequest)
	}
	pduData := make([]byte, 9, 9+2*len(values))
	binary.BigEndian.PutUint16(pduData[0:2], readAddress)
	binary.BigEndian.PutUint16(pduData[2:4], readQuantity)
	binary.BigEndian.PutUint16(pduData[4:6], writeAddress)
	binary.BigEndian.PutUint16(pduData[6:8], uint16(len(values)))
	pduData[8] = byte(2 * len(values))
	pduData = append(pduData, packRegisters(values)...)

	respPDU, err := c.Call(ctx, buildRequestPDU(FuncCodeReadWriteMultipleRegisters, pduData))
	if err != nil {
		return nil, fmt.Errorf("modbus: send/receive failed for func %02X (slave %d): %w", FuncCodeReadWriteMultipleRegisters, c.slave.ID(), err)
	}
	data, err := byteCountPayload(FuncCodeReadWriteMultipleRegisters, respPDU)
	if err != nil {
		return nil, err
	}
	return unpackRegisters(data, readQuantity)
}

// unpackBits expands quantity LSB-first bits from data.
func unpackBits(data []byte, quantity uint16) ([]bool, error) {
	if len(data) < (int(quantity)+7)/8 {
		return nil, fmt.Errorf("%w: %d bytes cannot hold %d bits", ErrResponse, len(data), quantity)
	}
	bits := make([]bool, quantity)
	for i := range bits {
		bits[i] = data[i/8]&(1<<(i%8)) != 0
	}
	return bits, nil
}

// packBits packs values LSB-first into bytes.
func packBits(values []bool) []byte {
	packed := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if v {
			packed[i/8] |= 1 << (i % 8)
		}
	}
	return packed
}

// unpackRegisters decodes big-endian registers and checks their count.
func unpackRegisters(data []byte, quantity uint16) ([]uint16, error) {
	if len(data) != 2*int(quantity) {
		return nil, fmt.Errorf("%w: expected %d register bytes, got %d", ErrResponse, 2*int(quantity), len(data))
	}
	registers := make([]uint16, quantity)
	for i := range registers {
		registers[i] = binary.BigEndian.Uint16(data[2*i : 2*i+2])
	}
	return registers, nil
}

func packRegisters(values []uint16) []byte {
	out := make([]byte, 2*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(out[2*i:], v)
	}
	return out
}
