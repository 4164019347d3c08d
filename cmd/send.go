// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/overwave/internal/monitor"
	"github.com/Thermoquad/overwave/pkg/device"
	"github.com/Thermoquad/overwave/pkg/handshake"
	"github.com/Thermoquad/overwave/pkg/link"
)

var (
	sendWave    string
	sendBit     time.Duration
	sendTrials  int
	sendSilence time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send [text]",
	Short: "Transmit a message to a receiving peer",
	Long: `Announce a transmission over the control link, play the framed text on
the configured actuator once the receiver has armed, and repeat for the
requested number of trials.

If --remote is given the link is dialed; otherwise the command waits for the
receiver to connect.

Exit codes:
  0 - All trials sent and acknowledged
  1 - The receiver rejected the transmission or the link failed`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	addTransmissionFlags(sendCmd)
	sendCmd.Flags().DurationVar(&sendSilence, "silence", time.Second, "Idle time held before and after the frame")
}

func addTransmissionFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&sendWave, "wave", "w", "", "Wave to transmit on (light, brightness, sound, vibration)")
	cmd.Flags().DurationVar(&sendBit, "bit", 0, "Bit duration (default depends on the wave)")
	cmd.Flags().IntVarP(&sendTrials, "trials", "n", 0, "Number of trials")
}

// applyTransmissionFlags folds the transmission flags into cfg.
func applyTransmissionFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	if flags.Changed("wave") {
		cfg.Transmission.Wave = sendWave
	}
	if flags.Changed("bit") {
		cfg.Transmission.BitDuration = sendBit
	}
	if flags.Changed("trials") {
		cfg.Transmission.Trials = sendTrials
	}
	return cfg.Validate()
}

// timedEmitter records how long every transmission takes.
type timedEmitter struct {
	handshake.Emitter
	mon *monitor.Monitor
}

func (e timedEmitter) Transmit(ctx context.Context, c handshake.Config, progress func(float64)) error {
	start := time.Now()
	err := e.Emitter.Transmit(ctx, c, progress)
	if err == nil && e.mon != nil {
		e.mon.ObserveTransmit(c, time.Since(start))
	}
	return err
}

func runSend(cmd *cobra.Command, args []string) error {
	if err := applyTransmissionFlags(cmd); err != nil {
		return err
	}
	tc, err := transmissionConfig(strings.Join(args, " "))
	if err != nil {
		return err
	}

	acts, err := openActuators(cfg.Devices.Actuators)
	if err != nil {
		return err
	}
	if _, ok := acts[tc.Wave]; !ok {
		return fmt.Errorf("%w: configure devices.actuators.%s", device.ErrNoActuator, tc.Wave)
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

	sessionID := uuid.New()
	log := logger.WithField("session", sessionID.String()[:8])
	tx := device.NewTransmitter(acts, device.TransmitterOptions{Silence: sendSilence, Logger: log})
	emitter := timedEmitter{Emitter: tx, mon: mon}

	fmt.Printf("Overwave - Send\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Wave: %s, bit duration %v, %d trial(s)\n", tc.Wave, tc.BitDuration, tc.Trials)
	fmt.Printf("Press Ctrl+C to abort\n\n")

	done := make(chan error, 1)
	acked, lost := 0, 0
	var (
		sessionMu sync.Mutex
		session   *handshake.SenderSession
	)
	current := func() *handshake.SenderSession {
		sessionMu.Lock()
		defer sessionMu.Unlock()
		return session
	}

	var p *peer
	p = newPeer(transport, mon, log, func(ev link.Event) {
		switch {
		case ev.Kind == link.EventStateChanged && ev.State == link.StateConnected:
			if current() != nil {
				return
			}
			s, err := handshake.NewSenderSession(tc, emitter, p.send, handshake.SenderOptions{
				EndDelay: cfg.Transmission.EndDelay,
				Logger:   log,
				OnProgress: func(trial int, pct float64) {
					fmt.Printf("\rTrial %d/%d: %3.0f%%", trial, tc.Trials, pct)
				},
				OnTrial: func(trial int, ok bool) {
					if ok {
						acked++
						fmt.Printf("\rTrial %d/%d: acknowledged\n", trial, tc.Trials)
					} else {
						lost++
						fmt.Printf("\rTrial %d/%d: receiver was not armed\n", trial, tc.Trials)
					}
					if mon != nil {
						mon.ObserveTrial(tc, ok)
					}
				},
				OnDone: func(err error) { done <- err },
			})
			if err != nil {
				done <- err
				return
			}
			sessionMu.Lock()
			session = s
			sessionMu.Unlock()
			p.setHandler(s.Feed)
			s.Begin(ctx)

		case ev.Kind == link.EventDisconnected:
			if s := current(); s != nil {
				s.Cancel()
			}
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
	} else {
		fmt.Printf("Waiting for the receiver to connect...\n")
	}

	select {
	case err = <-done:
	case <-ctx.Done():
		if s := current(); s != nil {
			s.Cancel()
		}
		err = ctx.Err()
	}

	fmt.Printf("\n--- Send statistics ---\n")
	fmt.Printf("%d trials, %d acknowledged, %d lost\n", tc.Trials, acked, lost)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("session aborted")
	default:
		return err
	}
}
