package main

import (
	"context"
	"time"

	modbus "github.com/hootrhino/gomodbus-client"
)

// device is the blocking surface the commands use. *modbus.SyncClient
// implements it for TCP; serial lines go through serialDevice.
type device interface {
	ReadCoils(startAddress, quantity uint16) ([]bool, error)
	ReadDiscreteInputs(startAddress, quantity uint16) ([]bool, error)
	ReadHoldingRegisters(startAddress, quantity uint16) ([]uint16, error)
	ReadInputRegisters(startAddress, quantity uint16) ([]uint16, error)
	WriteSingleCoil(address uint16, value bool) error
	WriteMultipleCoils(startAddress uint16, values []bool) error
	WriteSingleRegister(address, value uint16) error
	WriteMultipleRegisters(startAddress uint16, values []uint16) error
	Close() error
}

func openDevice() (device, error) {
	if cfg.UseSerial() {
		port, err := modbus.OpenSerial(cfg.Serial)
		if err != nil {
			return nil, err
		}
		client := modbus.AttachSlave(port, cfg.Slave)
		client.SetLogger(logger)
		logger.Debug().Str("client", client.String()).Msg("attached serial line")
		return &serialDevice{client: client, timeout: cfg.Timeout}, nil
	}

	client, err := modbus.ConnectSyncFramed(cfg.Address, cfg.Slave, cfg.Framing, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	client.SetLogger(logger)
	logger.Debug().Str("client", client.String()).Msg("connected")
	return client, nil
}

// serialDevice drives an attached Client with a per call deadline.
type serialDevice struct {
	client  *modbus.Client
	timeout time.Duration
}

func (d *serialDevice) ctx() (context.Context, context.CancelFunc) {
	if d.timeout > 0 {
		return context.WithTimeout(context.Background(), d.timeout)
	}
	return context.WithCancel(context.Background())
}

func (d *serialDevice) ReadCoils(startAddress, quantity uint16) ([]bool, error) {
	ctx, cancel := d.ctx()
	defer cancel()
	return d.client.ReadCoils(ctx, startAddress, quantity)
}

func (d *serialDevice) ReadDiscreteInputs(startAddress, quantity uint16) ([]bool, error) {
	ctx, cancel := d.ctx()
	defer cancel()
	return d.client.ReadDiscreteInputs(ctx, startAddress, quantity)
}

func (d *serialDevice) ReadHoldingRegisters(startAddress, quantity uint16) ([]uint16, error) {
	ctx, cancel := d.ctx()
	defer cancel()
	return d.client.ReadHoldingRegisters(ctx, startAddress, quantity)
}

func (d *serialDevice) ReadInputRegisters(startAddress, quantity uint16) ([]uint16, error) {
	ctx, cancel := d.ctx()
	defer cancel()
	return d.client.ReadInputRegisters(ctx, startAddress, quantity)
}

func (d *serialDevice) WriteSingleCoil(address uint16, value bool) error {
	ctx, cancel := d.ctx()
	defer cancel()
	return d.client.WriteSingleCoil(ctx, address, value)
}

func (d *serialDevice) WriteMultipleCoils(startAddress uint16, values []bool) error {
	ctx, cancel := d.ctx()
	defer cancel()
	return d.client.WriteMultipleCoils(ctx, startAddress, values)
}

func (d *serialDevice) WriteSingleRegister(address, value uint16) error {
	ctx, cancel := d.ctx()
	defer cancel()
	return d.client.WriteSingleRegister(ctx, address, value)
}

func (d *serialDevice) WriteMultipleRegisters(startAddress uint16, values []uint16) error {
	ctx, cancel := d.ctx()
	defer cancel()
	return d.client.WriteMultipleRegisters(ctx, startAddress, values)
}

func (d *serialDevice) Close() error {
	return d.client.Close()
}
