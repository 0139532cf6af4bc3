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
	"fmt"
	"io"
	"time"

	serial "github.com/hootrhino/goserial"
)

// SerialConfig describes a serial line.
type SerialConfig struct {
	Address  string        `toml:"address"`
	BaudRate int           `toml:"baud_rate"`
	DataBits int           `toml:"data_bits"`
	StopBits int           `toml:"stop_bits"`
	Parity   string        `toml:"parity"` // "N", "E" or "O"
	Timeout  time.Duration `toml:"timeout"`
}

// DefaultSerialConfig returns 9600 8N1 with a 1s read timeout.
func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		BaudRate: 9600,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  time.Second,
	}
}

// Validate checks the line settings.
func (c SerialConfig) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("serial: address is required")
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("serial: invalid baud rate %d", c.BaudRate)
	}
	if c.DataBits < 5 || c.DataBits > 8 {
		return fmt.Errorf("serial: invalid data bits %d", c.DataBits)
	}
	if c.StopBits != 1 && c.StopBits != 2 {
		return fmt.Errorf("serial: invalid stop bits %d", c.StopBits)
	}
	switch c.Parity {
	case "N", "E", "O":
	default:
		return fmt.Errorf("serial: invalid parity %q", c.Parity)
	}
	return nil
}

func (c SerialConfig) String() string {
	return fmt.Sprintf("serial://%s?baud=%d&format=%d%s%d", c.Address, c.BaudRate, c.DataBits, c.Parity, c.StopBits)
}

// serialPort names an open port for diagnostics.
type serialPort struct {
	io.ReadWriteCloser
	name string
}

func (p *serialPort) String() string {
	return p.name
}

// OpenSerial opens the serial line described by cfg. The result can be passed
// to Attach, AttachSlave or AttachFramed.
func OpenSerial(cfg SerialConfig) (Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	port, err := serial.Open(&serial.Config{
		Address:  cfg.Address,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("serial: failed to open %s: %w", cfg.Address, err)
	}
	return &serialPort{ReadWriteCloser: port, name: cfg.String()}, nil
}
