package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.bug.st/serial"

	modbus "github.com/hootrhino/gomodbus-client"
)

var (
	readCmd = &cobra.Command{
		Use:       "read [coils|discrete|holding|input] [address] [quantity]",
		Short:     "Reads coils, discrete inputs or registers",
		Args:      cobra.ExactArgs(3),
		ValidArgs: []string{"coils", "discrete", "holding", "input"},
		PreRunE:   func(cmd *cobra.Command, _ []string) error { return loadConfig(cmd) },
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := parseUint16("address", args[1])
			if err != nil {
				return err
			}
			quantity, err := parseUint16("quantity", args[2])
			if err != nil {
				return err
			}

			dev, err := openDevice()
			if err != nil {
				return err
			}
			defer dev.Close()

			switch args[0] {
			case "coils":
				bits, err := dev.ReadCoils(address, quantity)
				if err != nil {
					return err
				}
				printBits(address, bits)
			case "discrete":
				bits, err := dev.ReadDiscreteInputs(address, quantity)
				if err != nil {
					return err
				}
				printBits(address, bits)
			case "holding":
				registers, err := dev.ReadHoldingRegisters(address, quantity)
				if err != nil {
					return err
				}
				return printRegisters(cmd, address, registers)
			case "input":
				registers, err := dev.ReadInputRegisters(address, quantity)
				if err != nil {
					return err
				}
				return printRegisters(cmd, address, registers)
			default:
				return fmt.Errorf("unknown table %q (expected coils, discrete, holding or input)", args[0])
			}
			return nil
		},
	}

	writeCmd = &cobra.Command{
		Use:     "write [coil|register] [address] [value...]",
		Short:   "Writes one or more coils or holding registers",
		Args:    cobra.MinimumNArgs(3),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return loadConfig(cmd) },
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := parseUint16("address", args[1])
			if err != nil {
				return err
			}
			rawValues := args[2:]

			var write func(dev device) error
			switch args[0] {
			case "coil", "coils":
				values := make([]bool, len(rawValues))
				for i, raw := range rawValues {
					if values[i], err = parseCoil(raw); err != nil {
						return err
					}
				}
				write = func(dev device) error {
					if len(values) == 1 {
						return dev.WriteSingleCoil(address, values[0])
					}
					return dev.WriteMultipleCoils(address, values)
				}
			case "register", "registers":
				values := make([]uint16, len(rawValues))
				for i, raw := range rawValues {
					if values[i], err = parseUint16("value", raw); err != nil {
						return err
					}
				}
				write = func(dev device) error {
					if len(values) == 1 {
						return dev.WriteSingleRegister(address, values[0])
					}
					return dev.WriteMultipleRegisters(address, values)
				}
			default:
				return fmt.Errorf("unknown table %q (expected coil or register)", args[0])
			}

			dev, err := openDevice()
			if err != nil {
				return err
			}
			defer dev.Close()
			if err := write(dev); err != nil {
				return err
			}
			fmt.Printf("wrote %d value(s) at %d\n", len(rawValues), address)
			return nil
		},
	}

	portsCmd = &cobra.Command{
		Use:   "ports",
		Short: "Lists the serial ports of this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := serial.GetPortsList()
			if err != nil {
				return fmt.Errorf("list serial ports: %w", err)
			}
			if len(ports) == 0 {
				fmt.Println("no serial ports found")
				return nil
			}
			for _, port := range ports {
				fmt.Println(port)
			}
			return nil
		},
	}

	metricsCmd = &cobra.Command{
		Use:     "metrics [read args...]",
		Short:   "Runs a read and prints the client metrics in Prometheus format",
		Args:    cobra.ExactArgs(3),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return loadConfig(cmd) },
		RunE: func(cmd *cobra.Command, args []string) error {
			err := readCmd.RunE(cmd, args)
			modbus.WriteMetrics(os.Stdout)
			return err
		},
	}
)

func init() {
	for _, cmd := range []*cobra.Command{readCmd, metricsCmd} {
		cmd.Flags().String("as", "", "decode registers as uint16, int16, uint32, int32, float32, uint64, int64 or float64")
		cmd.Flags().String("order", "", "byte order of decoded values, e.g. ABCD, CDAB, DCBA (default big endian)")
	}
}

func parseUint16(name, s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number in 0..65535: %w", name, err)
	}
	return uint16(v), nil
}

func parseCoil(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "on", "true":
		return true, nil
	case "0", "off", "false":
		return false, nil
	}
	return false, fmt.Errorf("coil value must be on/off, true/false or 1/0, got %q", s)
}

func printBits(start uint16, bits []bool) {
	for i, b := range bits {
		v := 0
		if b {
			v = 1
		}
		fmt.Printf("%d\t%d\n", int(start)+i, v)
	}
}

// printRegisters prints raw registers, or decoded values when --as is set.
func printRegisters(cmd *cobra.Command, start uint16, registers []uint16) error {
	dataType, _ := cmd.Flags().GetString("as")
	if dataType == "" {
		for i, r := range registers {
			fmt.Printf("%d\t%d\t0x%04X\n", int(start)+i, r, r)
		}
		return nil
	}
	order, _ := cmd.Flags().GetString("order")
	values, err := modbus.DecodeRegisters(registers, dataType, order)
	if err != nil {
		return err
	}
	width, _ := modbus.RegistersPerValue(dataType)
	for i, v := range values {
		fmt.Printf("%d\t%v\n", int(start)+i*width, v)
	}
	return nil
}
