// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/overwave/pkg/device"
	"github.com/Thermoquad/overwave/pkg/handshake"
	"github.com/Thermoquad/overwave/pkg/modem"
	"github.com/Thermoquad/overwave/pkg/wave"
)

var (
	decodeBit     time.Duration
	decodeVerbose bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode [capture files...]",
	Short: "Demodulate saved captures",
	Long: `Read captures saved by "receive --capture-dir" or "encode --capture-out"
and run them through the demodulator again. Captures recorded with the text
the sender announced are scored, with a summary across all files.

Use --bit to try a different bit duration than the one recorded.

Exit codes:
  0 - Every capture decoded
  1 - At least one capture held no decodable frame`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().DurationVar(&decodeBit, "bit", 0, "Override the recorded bit duration")
	decodeCmd.Flags().BoolVar(&decodeVerbose, "verbose", false, "Print the demodulated frame layout")
}

// decodeCapture re-runs the receiver's decoding over c.
func decodeCapture(rx *device.Receiver, c *modem.Capture) (handshake.Result, error) {
	w, err := wave.Parse(c.Wave)
	if err != nil {
		return handshake.Result{}, err
	}
	cfg := handshake.Config{Wave: w, BitDuration: c.BitDuration, Trials: 1, Text: c.Text}
	if decodeBit > 0 {
		cfg.BitDuration = decodeBit
	}
	return rx.Decode(cfg, c.Samples), nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	rx := device.NewReceiver(nil, device.ReceiverOptions{Logger: logger})
	stats := device.NewStatistics()
	failed := 0

	for _, path := range args {
		c, err := modem.LoadCapture(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		res, err := decodeCapture(rx, c)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		fmt.Printf("%s (%s, %d samples)\n", path, c.Recorded.Format("2006-01-02 15:04:05"), len(c.Samples))
		if decodeVerbose {
			profile := wave.ProfileFor(res.Config.Wave)
			bits := modem.DemodulatorFor(profile).Demodulate(c.Samples, res.Config.BitDuration)
			fmt.Print(profile.Codec.Format(bits))
		}

		switch {
		case res.Err != nil:
			failed++
			fmt.Printf("  %v\n", res.Err)
		case c.Text == "":
			fmt.Printf("  %q\n", res.Text)
		default:
			fmt.Printf("  %s\n", describeResult(res))
		}
		if c.Text != "" || res.Err != nil {
			stats.Update(res)
		}
	}

	if stats.Trials > 1 {
		fmt.Printf("\n%s", stats.String())
	}
	if failed > 0 {
		return errors.New("some captures held no decodable frame")
	}
	return nil
}
