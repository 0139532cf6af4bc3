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
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// registerWidth is the number of 16-bit registers per value of each type.
var registerWidth = map[string]int{
	"uint16":  1,
	"int16":   1,
	"uint32":  2,
	"int32":   2,
	"float32": 2,
	"uint64":  4,
	"int64":   4,
	"float64": 4,
}

// RegistersPerValue returns how many registers one value of dataType spans.
func RegistersPerValue(dataType string) (int, error) {
	if n, ok := registerWidth[strings.ToLower(dataType)]; ok {
		return n, nil
	}
	return 0, fmt.Errorf("unsupported data type: %s", dataType)
}

// DecodeRegisters interprets consecutive registers as values of dataType.
// order names the wire position of each byte, most significant first: "AB"
// or "BA" for 16-bit types, "ABCD", "DCBA", "BADC", "CDAB" for 32-bit types
// and "ABCDEFGH", "HGFEDCBA", "BADCFEHG", "GHEFCDAB" for 64-bit types. An
// empty order means big endian.
func DecodeRegisters(registers []uint16, dataType, order string) ([]any, error) {
	dataType = strings.ToLower(dataType)
	width, err := RegistersPerValue(dataType)
	if err != nil {
		return nil, err
	}
	if len(registers)%width != 0 {
		return nil, fmt.Errorf("%d registers do not hold whole %s values", len(registers), dataType)
	}
	if order != "" && len(order) != 2*width {
		return nil, fmt.Errorf("byte order %s does not fit %s", order, dataType)
	}

	raw := packRegisters(registers)
	values := make([]any, 0, len(registers)/width)
	for off := 0; off < len(raw); off += 2 * width {
		b, err := reorderBytes(raw[off:off+2*width], strings.ToUpper(order))
		if err != nil {
			return nil, err
		}
		values = append(values, decodeValue(b, dataType))
	}
	return values, nil
}

func decodeValue(b []byte, dataType string) any {
	switch dataType {
	case "uint16":
		return binary.BigEndian.Uint16(b)
	case "int16":
		return int16(binary.BigEndian.Uint16(b))
	case "uint32":
		return binary.BigEndian.Uint32(b)
	case "int32":
		return int32(binary.BigEndian.Uint32(b))
	case "float32":
		return math.Float32frombits(binary.BigEndian.Uint32(b))
	case "uint64":
		return binary.BigEndian.Uint64(b)
	case "int64":
		return int64(binary.BigEndian.Uint64(b))
	default:
		return math.Float64frombits(binary.BigEndian.Uint64(b))
	}
}

// reorderBytes returns data rearranged into big endian order.
func reorderBytes(data []byte, order string) ([]byte, error) {
	d := data
	switch order {
	case "", "AB", "ABCD", "ABCDEFGH":
		return data, nil
	case "BA":
		return []byte{d[1], d[0]}, nil
	case "DCBA":
		return []byte{d[3], d[2], d[1], d[0]}, nil
	case "BADC":
		return []byte{d[1], d[0], d[3], d[2]}, nil
	case "CDAB":
		return []byte{d[2], d[3], d[0], d[1]}, nil
	case "HGFEDCBA":
		return []byte{d[7], d[6], d[5], d[4], d[3], d[2], d[1], d[0]}, nil
	case "BADCFEHG":
		return []byte{d[1], d[0], d[3], d[2], d[5], d[4], d[7], d[6]}, nil
	case "GHEFCDAB":
		return []byte{d[6], d[7], d[4], d[5], d[2], d[3], d[0], d[1]}, nil
	}
	return nil, fmt.Errorf("unsupported byte order: %s", order)
}
