// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/overwave/internal/config"
	"github.com/Thermoquad/overwave/internal/logging"
	"github.com/Thermoquad/overwave/internal/monitor"
)

var (
	configFile string

	// Link flags, overriding the config file when set
	transportName string
	remoteAddr    string
	listenAddr    string
	rfcommChannel uint8
	portName      string
	baudRate      int
	wsUsername    string
	wsNoSSLVerify bool

	logLevel    string
	metricsAddr string

	cfg    *config.Config
	logger *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "overwave",
	Short: "Side-channel messaging over light, sound, brightness and vibration",
	Long: `Overwave - send short text messages between two devices over a physical
side channel, coordinated over a Bluetooth control link.

The sender announces the wave, bit duration and text over the control link,
the receiver arms its sensor and acknowledges, then the sender plays the
framed message on its actuator and asks the receiver to decode.

Control link transports:
  RFCOMM:    --transport rfcomm [--channel 3] [--remote AA:BB:CC:DD:EE:FF]
  TCP:       --transport tcp --listen :7628 [--remote host:7628]
  WebSocket: --transport websocket --listen :7628 [--remote ws://host:7628/]
  Serial:    --transport serial --port /dev/rfcomm0 [--baud 115200]

For WebSocket authentication, the password is read from the OVERWAVE_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML configuration file")

	rootCmd.PersistentFlags().StringVarP(&transportName, "transport", "t", "", "Control link transport (rfcomm, tcp, websocket, serial)")
	rootCmd.PersistentFlags().StringVarP(&remoteAddr, "remote", "r", "", "Peer to connect to (address, host:port or URL)")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", "", "Listen address (tcp and websocket)")
	rootCmd.PersistentFlags().Uint8Var(&rfcommChannel, "channel", 0, "RFCOMM channel")
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 0, "Baud rate (serial only)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics", "", "Serve Prometheus metrics on this address")
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		c, err := config.LoadConfig(configFile)
		if err != nil {
			return err
		}
		cfg = c
	} else {
		cfg = config.GetDefaultConfig()
	}

	flags := cmd.Flags()
	if flags.Changed("transport") {
		cfg.Link.Transport = transportName
	}
	if flags.Changed("remote") {
		cfg.Link.Remote = remoteAddr
	}
	if flags.Changed("listen") {
		cfg.Link.Listen = listenAddr
	}
	if flags.Changed("channel") {
		cfg.Link.Channel = rfcommChannel
	}
	if flags.Changed("port") {
		cfg.Link.SerialPort = portName
	}
	if flags.Changed("baud") {
		cfg.Link.BaudRate = baudRate
	}
	if flags.Changed("username") {
		cfg.Link.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		cfg.Link.SkipSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("metrics") {
		cfg.Monitor.Enabled = metricsAddr != ""
		cfg.Monitor.Addr = metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger = logging.New(cfg.Log)
	return nil
}

// startMonitor serves metrics when enabled and returns nil otherwise.
func startMonitor(ctx context.Context) (*monitor.Monitor, error) {
	if !cfg.Monitor.Enabled {
		return nil, nil
	}
	mon := monitor.New(logger)
	if err := mon.StartMetricsServer(ctx, cfg.Monitor.Addr); err != nil {
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}
	return mon, nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
