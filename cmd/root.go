// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"os"

	"github.com/Thermoquad/amplistat/internal/config"
	"github.com/Thermoquad/amplistat/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string

	// Serial connection flags
	portName string
	baudRate int
	bitrate  int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
)

// Loaded by the root command before any subcommand runs
var (
	cfg    *config.Config
	logger *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "amplistat",
	Short: "RF power amplifier controller",
	Long: `Amplistat - controller for a solid state RF power amplifier.

Measures forward and reflected power at the input, low pass filter and
antenna bridges, derives SWR, and manages the Huawei R4850G2 rectifier that
supplies the amplifier over CAN.

The CAN bus is reached through an SLCAN (Lawicel) USB adapter or a
WebSocket bridge to one.

Connection modes:
  Serial:    --port /dev/ttyACM0 [--baud 115200] [--bitrate 125000]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the AMPLISTAT_PASSWORD
environment variable, or prompted interactively if not set.

Settings not given as flags come from the YAML file named by --config.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port of the SLCAN adapter")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")
	rootCmd.PersistentFlags().IntVar(&bitrate, "bitrate", 125000, "CAN bitrate in bit/s")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// loadConfig reads the config file, when present, and applies flags given
// on the command line on top of it
func loadConfig(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()

	if _, err := os.Stat(configPath); err == nil || flags.Changed("config") {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if flags.Changed("port") {
		cfg.Bus.Port = portName
	}
	if flags.Changed("baud") {
		cfg.Bus.Baud = baudRate
	}
	if flags.Changed("bitrate") {
		cfg.Bus.Bitrate = bitrate
	}
	if flags.Changed("url") {
		cfg.Bus.URL = wsURL
	}
	if flags.Changed("username") {
		cfg.Bus.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		cfg.Bus.NoSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}

	logger = logging.Setup(cfg.Log)
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
