// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/overwave/pkg/handshake"
	"github.com/Thermoquad/overwave/pkg/link"
)

// cmdPing is not part of the protocol; a receiver rejects it with NACK,
// which is all a liveness probe needs.
const cmdPing = "PING"

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check the control link to a receiver",
	Long: `Connect to a receiver and send PING probes over the control link.

A receiver answers any unknown command with NACK, so every "NACK PING" is a
round trip through the peer's message handling. No wave is transmitted.

This is useful for verifying:
  - The link transport is reachable and paired
  - HTTP Basic authentication works (websocket)
  - The peer is running the receive command

Exit codes:
  0 - All pings answered
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	if cfg.Link.Remote == "" {
		return fmt.Errorf("ping needs --remote")
	}
	transport, connInfo, err := OpenTransport(cfg.Link)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	connected := make(chan string, 1)
	replies := make(chan handshake.Message, 8)
	var splitter handshake.Splitter

	p := newPeer(transport, nil, logger, func(ev link.Event) {
		switch ev.Kind {
		case link.EventDeviceName:
			select {
			case connected <- ev.Name:
			default:
			}
		case link.EventDisconnected:
			splitter.Reset()
		}
	})
	p.setHandler(func(data []byte) {
		for _, m := range splitter.Feed(data) {
			if m.IsResponse() && m.Subject == cmdPing {
				replies <- m
			}
		}
	})
	defer p.close()

	fmt.Printf("Overwave - Link Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	if err := p.svc.Connect(cfg.Link.Remote); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	timeout := time.Duration(pingTimeout) * time.Second
	select {
	case name := <-connected:
		fmt.Printf("Connected to %s\n\n", name)
	case <-time.After(timeout):
		fmt.Fprintf(os.Stderr, "Connection error: no link to %s after %ds\n", cfg.Link.Remote, pingTimeout)
		os.Exit(2)
	}

	probe := handshake.Message{Command: cmdPing}.Bytes()
	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		startTime := time.Now()
		if !p.svc.Write(probe) {
			fmt.Printf("SEND FAILED: link is %s\n", p.svc.State())
			failCount++
			continue
		}

		select {
		case m := <-replies:
			fmt.Printf("%s from %s, rtt=%v\n", m.Command, cfg.Link.Remote, time.Since(startTime).Round(time.Millisecond))
			successCount++
		case <-time.After(timeout):
			fmt.Printf("TIMEOUT (no response in %ds)\n", pingTimeout)
			failCount++
		}

		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)

	if failCount > 0 {
		p.close()
		os.Exit(1)
	}
	return nil
}
