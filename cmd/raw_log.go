// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/overwave/pkg/handshake"
	"github.com/Thermoquad/overwave/pkg/link"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display control messages in human-readable format",
	Long: `Hold the control link open and print every handshake message as it
arrives, with a timestamp. Nothing is answered, so a sender talking to this
command will wait for an ACK that never comes.

Without --remote the command listens; with it, it dials.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

func formatMessage(at time.Time, m handshake.Message) string {
	return fmt.Sprintf("[%s] %s\n", at.Format("15:04:05.000"), m.String())
}

func runRawLog(cmd *cobra.Command, args []string) error {
	transport, connInfo, err := OpenTransport(cfg.Link)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var splitter handshake.Splitter
	p := newPeer(transport, nil, logger, func(ev link.Event) {
		switch ev.Kind {
		case link.EventDeviceName:
			fmt.Printf("[%s] connected to %s\n", time.Now().Format("15:04:05.000"), ev.Name)
		case link.EventDisconnected:
			fmt.Printf("[%s] connection closed: %v\n", time.Now().Format("15:04:05.000"), ev.Err)
			splitter.Reset()
		}
	})
	p.setHandler(func(data []byte) {
		now := time.Now()
		for _, m := range splitter.Feed(data) {
			fmt.Print(formatMessage(now, m))
		}
	})
	defer p.close()

	fmt.Printf("Overwave - Raw Message Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if err := p.svc.Start(); err != nil {
		return err
	}
	if cfg.Link.Remote != "" {
		if err := p.svc.Connect(cfg.Link.Remote); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return nil
}
