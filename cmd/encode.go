// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/overwave/pkg/device"
	"github.com/Thermoquad/overwave/pkg/handshake"
	"github.com/Thermoquad/overwave/pkg/modem"
	"github.com/Thermoquad/overwave/pkg/wave"
)

var encodeCaptureOut string

var encodeCmd = &cobra.Command{
	Use:   "encode [text]",
	Short: "Show the frame and timing pattern for a message",
	Long: `Frame the text for the selected wave and print the frame layout, the
modulated timing pattern and how long the transmission will take.

With --capture-out, a noise-free capture of the transmission is also written
as a CBOR file that the decode command can read back.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEncode,
}

func init() {
	rootCmd.AddCommand(encodeCmd)
	addTransmissionFlags(encodeCmd)
	encodeCmd.Flags().StringVarP(&encodeCaptureOut, "capture-out", "o", "", "Write a synthesized capture to this file")
}

// synthesizeCapture renders what an ideal sensor would record for cfg,
// with a second of idle signal on each side. Every bit is stretched by the
// wave's actuation latency, as on real hardware.
func synthesizeCapture(cfg handshake.Config) (*modem.Capture, error) {
	profile := wave.ProfileFor(cfg.Wave)
	bits := profile.Codec.EncodeString(cfg.Text)
	p, err := modem.ForProfile(profile).Modulate(bits, cfg.BitDuration+profile.Latency)
	if err != nil {
		return nil, err
	}
	levels := device.NewLoopback(device.SystemClock{}, profile).Levels()
	return &modem.Capture{
		Wave:        cfg.Wave.String(),
		BitDuration: cfg.BitDuration,
		Text:        cfg.Text,
		Recorded:    time.Now(),
		Samples:     modem.Synthesize(p, levels, 0, time.Second, profile.SamplingPeriod),
	}, nil
}

func runEncode(cmd *cobra.Command, args []string) error {
	if err := applyTransmissionFlags(cmd); err != nil {
		return err
	}
	tc, err := transmissionConfig(strings.Join(args, " "))
	if err != nil {
		return err
	}
	profile := wave.ProfileFor(tc.Wave)
	p, err := device.Pattern(tc)
	if err != nil {
		return err
	}

	fmt.Printf("Wave: %s (%s), bit duration %v\n\n", tc.Wave, profile.Keying, tc.BitDuration)
	fmt.Print(profile.Codec.Format(profile.Codec.EncodeString(tc.Text)))
	fmt.Printf("\nPattern (%d segments):\n  %s\n", len(p), p)
	fmt.Printf("\nTransmission time: %v\n", p.Total())

	if encodeCaptureOut != "" {
		c, err := synthesizeCapture(tc)
		if err != nil {
			return err
		}
		if err := modem.SaveCapture(encodeCaptureOut, c); err != nil {
			return fmt.Errorf("failed to write capture: %w", err)
		}
		fmt.Printf("Capture written to %s\n", encodeCaptureOut)
	}
	return nil
}
