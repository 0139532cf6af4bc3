// Package config loads mbclient settings from TOML files.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	modbus "github.com/hootrhino/gomodbus-client"
)

// Config is the resolved client configuration.
type Config struct {
	Address string // host:port of the gateway; empty when Serial.Address is set
	Framing modbus.Framing
	Slave   modbus.Slave
	Timeout time.Duration // zero disables the timeout
	Serial  modbus.SerialConfig
	Log     LogConfig
}

type LogConfig struct {
	Level  string
	Output string // "stdout", "stderr" or a file path
}

// mbclient config.toml key mapping.
type fileConfig struct {
	Address        string `toml:"address"`
	Framing        string `toml:"framing"`
	Slave          int    `toml:"slave"`
	Timeout        string `toml:"timeout"`
	SerialAddress  string `toml:"serial_address"`
	SerialBaudRate int    `toml:"serial_baud_rate"`
	SerialDataBits int    `toml:"serial_data_bits"`
	SerialStopBits int    `toml:"serial_stop_bits"`
	SerialParity   string `toml:"serial_parity"`
	SerialTimeout  string `toml:"serial_timeout"`
	LogLevel       string `toml:"log_level"`
	LogOutput      string `toml:"log_output"`
}

// Default returns a config for a local RTU-over-TCP gateway.
func Default() Config {
	return Config{
		Address: "127.0.0.1:502",
		Framing: modbus.FramingRTU,
		Slave:   modbus.NewSlave(1),
		Timeout: 3 * time.Second,
		Serial:  modbus.DefaultSerialConfig(),
		Log: LogConfig{
			Level:  "info",
			Output: "stderr",
		},
	}
}

// Load reads path and overlays the keys it defines onto Default.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load mbclient config: %w", err)
	}

	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("framing") {
		framing, err := modbus.ParseFraming(raw.Framing)
		if err != nil {
			return Config{}, fmt.Errorf("load mbclient config: %w", err)
		}
		cfg.Framing = framing
	}
	if meta.IsDefined("slave") {
		if raw.Slave < 0 || raw.Slave > 255 {
			return Config{}, fmt.Errorf("load mbclient config: slave %d out of range 0..255", raw.Slave)
		}
		cfg.Slave = modbus.NewSlave(uint8(raw.Slave))
	}
	if meta.IsDefined("timeout") {
		d, err := parseDuration("timeout", raw.Timeout)
		if err != nil {
			return Config{}, err
		}
		cfg.Timeout = d
	}
	if meta.IsDefined("serial_address") {
		cfg.Serial.Address = strings.TrimSpace(raw.SerialAddress)
	}
	if meta.IsDefined("serial_baud_rate") {
		cfg.Serial.BaudRate = raw.SerialBaudRate
	}
	if meta.IsDefined("serial_data_bits") {
		cfg.Serial.DataBits = raw.SerialDataBits
	}
	if meta.IsDefined("serial_stop_bits") {
		cfg.Serial.StopBits = raw.SerialStopBits
	}
	if meta.IsDefined("serial_parity") {
		cfg.Serial.Parity = strings.ToUpper(strings.TrimSpace(raw.SerialParity))
	}
	if meta.IsDefined("serial_timeout") {
		d, err := parseDuration("serial_timeout", raw.SerialTimeout)
		if err != nil {
			return Config{}, err
		}
		cfg.Serial.Timeout = d
	}
	if meta.IsDefined("log_level") {
		cfg.Log.Level = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_output") {
		cfg.Log.Output = strings.TrimSpace(raw.LogOutput)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("load mbclient config: invalid %s %q: %w", key, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("load mbclient config: %s must not be negative", key)
	}
	return d, nil
}

// UseSerial reports whether the config selects a serial line over TCP.
func (c Config) UseSerial() bool {
	return c.Serial.Address != ""
}

// Validate checks that exactly one usable endpoint is configured.
func (c Config) Validate() error {
	if c.UseSerial() {
		if err := c.Serial.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
	} else if c.Address == "" {
		return fmt.Errorf("invalid config: address or serial_address is required")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("invalid config: negative timeout")
	}
	if _, err := modbus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
