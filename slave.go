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

import "fmt"

// Slave identifiers with a fixed meaning on the bus.
const (
	BroadcastID uint8 = 0    // Addressed to every device, no response is sent
	MinDevice   uint8 = 1    // Lowest individual device address
	MaxDevice   uint8 = 247  // Highest individual device address
	TCPDeviceID uint8 = 0xFF // Device directly reachable over TCP, no gateway routing
)

// SlaveKind classifies a Slave value.
type SlaveKind int

const (
	SlaveUnit SlaveKind = iota
	SlaveBroadcast
	SlaveCustom
)

func (k SlaveKind) String() string {
	switch k {
	case SlaveUnit:
		return "unit"
	case SlaveBroadcast:
		return "broadcast"
	default:
		return "custom"
	}
}

// Slave is the unit identifier put on every outgoing request.
// Range validation is left to the device: any byte is accepted.
type Slave uint8

// NewSlave returns a Slave for an explicit unit or raw identifier.
func NewSlave(id uint8) Slave {
	return Slave(id)
}

// Broadcast returns the broadcast address.
func Broadcast() Slave {
	return Slave(BroadcastID)
}

// TCPDevice returns the address used when a device is reached directly over
// the network and no particular unit is selected.
func TCPDevice() Slave {
	return Slave(TCPDeviceID)
}

// ID returns the raw identifier byte.
func (s Slave) ID() uint8 {
	return uint8(s)
}

// IsBroadcast reports whether s is the broadcast address 0.
func (s Slave) IsBroadcast() bool {
	return uint8(s) == BroadcastID
}

// IsSingleDevice reports whether s addresses exactly one device (1..247).
func (s Slave) IsSingleDevice() bool {
	return uint8(s) >= MinDevice && uint8(s) <= MaxDevice
}

// IsReserved reports whether s lies in the reserved range 248..255.
func (s Slave) IsReserved() bool {
	return uint8(s) > MaxDevice
}

// Kind classifies s as unit, broadcast or custom.
func (s Slave) Kind() SlaveKind {
	switch {
	case s.IsBroadcast():
		return SlaveBroadcast
	case s.IsSingleDevice():
		return SlaveUnit
	default:
		return SlaveCustom
	}
}

// String formats s as decimal, hex and kind, e.g. "255 (0xFF, custom)".
func (s Slave) String() string {
	return fmt.Sprintf("%d (0x%02X, %s)", uint8(s), uint8(s), s.Kind())
}
