// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/overwave/internal/bluez"
	"github.com/Thermoquad/overwave/pkg/link"
)

var devicesPowerOn bool

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List peers and ports usable for the control link",
	Long: `List the Bluetooth devices known to BlueZ on the configured adapter,
paired devices first, and the serial ports present on this machine.

Use --power-on to power the adapter up before listing.

Exit codes:
  0 - At least one candidate peer or port was found
  1 - Nothing found`,
	RunE: runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
	devicesCmd.Flags().BoolVar(&devicesPowerOn, "power-on", false, "Power the Bluetooth adapter on first")
}

func runDevices(cmd *cobra.Command, args []string) error {
	found := 0

	fmt.Printf("Overwave - Devices\n\n")
	fmt.Printf("Bluetooth (%s):\n", bluez.AdapterPath(cfg.Link.Adapter))
	client, err := bluez.Open(cfg.Link.Adapter)
	if err != nil {
		fmt.Printf("  unavailable: %v\n", err)
	} else {
		defer client.Close()
		found += listBluetooth(client)
	}

	fmt.Printf("\nSerial ports:\n")
	ports, err := link.Ports()
	switch {
	case err != nil:
		fmt.Printf("  unavailable: %v\n", err)
	case len(ports) == 0:
		fmt.Printf("  none\n")
	default:
		for _, p := range ports {
			fmt.Printf("  %s\n", p)
		}
		found += len(ports)
	}

	if found == 0 {
		os.Exit(1)
	}
	return nil
}

func listBluetooth(client *bluez.Client) int {
	if devicesPowerOn {
		if err := client.SetPowered(true); err != nil {
			fmt.Printf("  power on failed: %v\n", err)
		}
	}
	powered, err := client.Powered()
	if err != nil {
		fmt.Printf("  adapter: %v\n", err)
		return 0
	}
	if !powered {
		fmt.Printf("  adapter is powered off (use --power-on)\n")
	}

	devices, err := client.Devices()
	if err != nil {
		fmt.Printf("  %v\n", err)
		return 0
	}
	if len(devices) == 0 {
		fmt.Printf("  no known devices\n")
		return 0
	}
	for _, d := range devices {
		flags := ""
		if d.Paired {
			flags += " paired"
		}
		if d.Connected {
			flags += " connected"
		}
		fmt.Printf("  %s  %-24s%s\n", d.Address, d.Name, flags)
	}
	return len(devices)
}
