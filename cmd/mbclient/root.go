package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	modbus "github.com/hootrhino/gomodbus-client"
	"github.com/hootrhino/gomodbus-client/internal/config"
)

const Version = "0.1.0"

var (
	cfg    config.Config
	logger zerolog.Logger

	rootCmd = &cobra.Command{
		Use:   "mbclient",
		Short: "Modbus client for RTU-over-TCP gateways and serial lines",
		Long: fmt.Sprintf(`mbclient (v%s)

Reads and writes coils and registers of a Modbus device reached through a
TCP gateway (RTU or MBAP framing) or directly on a serial line.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of mbclient",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mbclient v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(initEnv)

	key := "config"
	rootCmd.PersistentFlags().String(key, "", "path to a TOML config file")
	key = "address"
	rootCmd.PersistentFlags().String(key, "127.0.0.1:502", "host:port of the gateway")
	key = "framing"
	rootCmd.PersistentFlags().String(key, "rtu", "frame encoding on TCP (rtu, tcp)")
	key = "slave"
	rootCmd.PersistentFlags().Int(key, 1, "slave address (0 broadcasts writes)")
	key = "timeout"
	rootCmd.PersistentFlags().Duration(key, 0, "per request timeout, 0 disables it (default from config)")
	key = "serial"
	rootCmd.PersistentFlags().String(key, "", "serial port; when set the TCP address is ignored")
	key = "baud-rate"
	rootCmd.PersistentFlags().Int(key, 9600, "serial baud rate")
	key = "parity"
	rootCmd.PersistentFlags().String(key, "N", "serial parity (N, E, O)")
	key = "log-level"
	rootCmd.PersistentFlags().String(key, "info", "log level (debug, info, warn, error, none)")

	rootCmd.AddCommand(readCmd, writeCmd, portsCmd, metricsCmd, versionCmd)
}

func initEnv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("mbclient")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadConfig binds the command's flags and resolves cfg and logger from them.
func loadConfig(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	resolved, err := resolveConfig(viper.GetViper())
	if err != nil {
		return err
	}
	cfg = resolved
	logger, err = modbus.NewLogger(logOutput(cfg.Log.Output), cfg.Log.Level, "mbclient")
	return err
}

// resolveConfig reads the config file named by v, then overrides it with
// flags and MBCLIENT_* environment variables that were actually set.
func resolveConfig(v *viper.Viper) (config.Config, error) {
	c := config.Default()
	if path := v.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		c = loaded
	}

	if v.IsSet("address") {
		c.Address = v.GetString("address")
	}
	if v.IsSet("framing") {
		framing, err := modbus.ParseFraming(v.GetString("framing"))
		if err != nil {
			return config.Config{}, err
		}
		c.Framing = framing
	}
	if v.IsSet("slave") {
		id := v.GetInt("slave")
		if id < 0 || id > 255 {
			return config.Config{}, fmt.Errorf("slave %d out of range 0..255", id)
		}
		c.Slave = modbus.NewSlave(uint8(id))
	}
	if v.IsSet("timeout") {
		c.Timeout = v.GetDuration("timeout")
	}
	if v.IsSet("serial") {
		c.Serial.Address = v.GetString("serial")
	}
	if v.IsSet("baud-rate") {
		c.Serial.BaudRate = v.GetInt("baud-rate")
	}
	if v.IsSet("parity") {
		c.Serial.Parity = strings.ToUpper(v.GetString("parity"))
	}
	if v.IsSet("log-level") {
		c.Log.Level = v.GetString("log-level")
	}
	if err := c.Validate(); err != nil {
		return config.Config{}, err
	}
	return c, nil
}

func logOutput(name string) io.Writer {
	switch name {
	case "", "stderr":
		return os.Stderr
	case "stdout":
		return os.Stdout
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot open log file %s: %v, logging to stderr\n", name, err)
		return os.Stderr
	}
	return f
}
