// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/overwave/pkg/device"
	"github.com/Thermoquad/overwave/pkg/handshake"
	"github.com/Thermoquad/overwave/pkg/link"
	"github.com/Thermoquad/overwave/pkg/modem"
)

var (
	receiveTUI        bool
	receiveCaptureDir string
)

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Wait for transmissions and decode them",
	Long: `Listen on the control link and answer a sender's announcements: arm the
sensor of the announced wave on START, decode the capture on END, and report
every trial with running statistics.

The link is kept alive across sessions; when it drops, listening restarts.
Use --capture-dir to keep every capture as a CBOR file for the decode command.`,
	RunE: runReceive,
}

func init() {
	rootCmd.AddCommand(receiveCmd)
	receiveCmd.Flags().BoolVar(&receiveTUI, "tui", false, "Show a live dashboard instead of log lines")
	receiveCmd.Flags().StringVar(&receiveCaptureDir, "capture-dir", "", "Directory to save captures in")
}

// captureWriter saves captures under dir, named by wave and time.
func captureWriter(dir string) func(*modem.Capture) {
	if dir == "" {
		return nil
	}
	return func(c *modem.Capture) {
		name := fmt.Sprintf("%s-%s.cbor", c.Wave, c.Recorded.Format("20060102-150405.000"))
		path := filepath.Join(dir, name)
		if err := modem.SaveCapture(path, c); err != nil {
			logger.WithError(err).Warn("failed to save capture")
			return
		}
		logger.WithField("path", path).Debug("capture saved")
	}
}

func describeResult(res handshake.Result) string {
	switch {
	case res.Err != nil:
		return fmt.Sprintf("%s: nothing decoded (%d samples)", res.Config.Wave, res.Samples)
	case res.Text == res.Config.Text:
		return fmt.Sprintf("%s: %q (match)", res.Config.Wave, res.Text)
	default:
		return fmt.Sprintf("%s: %q (expected %q)", res.Config.Wave, res.Text, res.Config.Text)
	}
}

func runReceive(cmd *cobra.Command, args []string) error {
	sensors, err := openSensors()
	if err != nil {
		return err
	}
	if len(sensors) == 0 {
		return fmt.Errorf("%w: configure devices.sensors", device.ErrNoSensor)
	}
	captureDir := cfg.Devices.CaptureDir
	if cmd.Flags().Changed("capture-dir") {
		captureDir = receiveCaptureDir
	}
	if captureDir != "" {
		if err := os.MkdirAll(captureDir, 0o755); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mon, err := startMonitor(ctx)
	if err != nil {
		return err
	}
	transport, connInfo, err := OpenTransport(cfg.Link)
	if err != nil {
		return err
	}

	var program *tea.Program
	if receiveTUI {
		program = tea.NewProgram(initialModel(connInfo), tea.WithAltScreen())
		logger.SetOutput(tuiLogOutput())
	}

	var statsMu sync.Mutex
	stats := device.NewStatistics()
	rx := device.NewReceiver(sensors, device.ReceiverOptions{
		OnCapture: captureWriter(captureDir),
		Logger:    logger,
	})

	var p *peer
	newSession := func() *handshake.ReceiverSession {
		return handshake.NewReceiverSession(rx, p.send, handshake.ReceiverOptions{
			Logger: logger,
			OnResult: func(res handshake.Result) {
				statsMu.Lock()
				stats.Update(res)
				snapshot := *stats
				statsMu.Unlock()
				if mon != nil {
					mon.ObserveResult(res, &snapshot)
				}
				if program != nil {
					program.Send(resultMsg{result: res, stats: snapshot})
					return
				}
				fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05.000"), describeResult(res))
			},
			OnDone: func() {
				statsMu.Lock()
				summary := stats.String()
				statsMu.Unlock()
				if program != nil {
					program.Send(sessionDoneMsg{})
					return
				}
				fmt.Printf("\nSession complete\n%s\n", summary)
			},
			OnReset: func(err error) {
				logger.WithError(err).Warn("resetting link")
				p.svc.Reset(err)
			},
		})
	}

	p = newPeer(transport, mon, logger, func(ev link.Event) {
		switch {
		case ev.Kind == link.EventStateChanged && ev.State == link.StateConnected:
			s := newSession()
			p.setHandler(func(data []byte) { s.Feed(ctx, data) })
		case ev.Kind == link.EventDisconnected:
			rx.Disarm()
			p.setHandler(nil)
		}
		if program != nil {
			program.Send(linkEventMsg(ev))
		}
	})
	defer p.close()

	if err := p.svc.Start(); err != nil {
		return err
	}
	if cfg.Link.Remote != "" {
		if err := p.svc.Connect(cfg.Link.Remote); err != nil {
			return err
		}
	}

	if program != nil {
		go func() {
			<-ctx.Done()
			program.Quit()
		}()
		if _, err := program.Run(); err != nil {
			return fmt.Errorf("TUI error: %v", err)
		}
		return nil
	}

	fmt.Printf("Overwave - Receive\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")
	<-ctx.Done()

	statsMu.Lock()
	defer statsMu.Unlock()
	if stats.Trials > 0 {
		fmt.Printf("\n%s", stats.String())
	}
	return nil
}
