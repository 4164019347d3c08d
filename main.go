// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Overwave - Side-Channel Messaging
//
// A CLI tool for sending short text messages between two devices over
// light, brightness, sound or vibration, coordinated over a control link.

package main

import (
	"os"

	"github.com/Thermoquad/overwave/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
