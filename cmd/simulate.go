// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/overwave/pkg/device"
	"github.com/Thermoquad/overwave/pkg/handshake"
	"github.com/Thermoquad/overwave/pkg/link"
	"github.com/Thermoquad/overwave/pkg/wave"
)

var simulateRealtime bool

var simulateCmd = &cobra.Command{
	Use:   "simulate [text]",
	Short: "Run a sender and a receiver in one process",
	Long: `Run a complete session between an in-process sender and receiver.

The control link is an in-memory pipe and the physical channel is a loopback
device whose sensor sees exactly what the actuator played, including the wave's
hardware latency. By default the session runs on a virtual clock and finishes
instantly; --realtime plays it at wall-clock speed.

Useful for checking framing and demodulation settings without hardware.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	addTransmissionFlags(simulateCmd)
	simulateCmd.Flags().BoolVar(&simulateRealtime, "realtime", false, "Play the transmission in real time")
}

// simulation is an in-process sender and receiver joined by a memory link
// and a loopback device.
type simulation struct {
	cfg      handshake.Config
	network  *link.MemoryNetwork
	loopback *device.Loopback
	sender   *peer
	receiver *peer
	stats    *device.Statistics
	results  chan handshake.Result
	done     chan error
}

func newSimulation(ctx context.Context, tc handshake.Config, clock device.Clock) *simulation {
	sim := &simulation{
		cfg:      tc,
		network:  link.NewMemoryNetwork(),
		loopback: device.NewLoopback(clock, wave.ProfileFor(tc.Wave)),
		stats:    device.NewStatistics(),
		results:  make(chan handshake.Result, tc.Trials),
		done:     make(chan error, 1),
	}
	log := logger.WithField("session", uuid.New().String()[:8])

	rx := device.NewReceiver(device.Sensors{tc.Wave: sim.loopback}, device.ReceiverOptions{Clock: clock, Logger: log})
	sim.receiver = newPeer(sim.network.Transport("receiver"), nil, log.WithField("role", "receiver"), func(ev link.Event) {
		if ev.Kind != link.EventStateChanged || ev.State != link.StateConnected {
			return
		}
		s := handshake.NewReceiverSession(rx, sim.receiver.send, handshake.ReceiverOptions{
			Logger: log.WithField("role", "receiver"),
			OnResult: func(res handshake.Result) {
				sim.stats.Update(res)
				sim.results <- res
			},
		})
		sim.receiver.setHandler(func(data []byte) { s.Feed(ctx, data) })
	})

	tx := device.NewTransmitter(device.Actuators{tc.Wave: sim.loopback}, device.TransmitterOptions{
		Clock:   clock,
		Silence: time.Second,
		Logger:  log,
	})
	sim.sender = newPeer(sim.network.Transport("sender"), nil, log.WithField("role", "sender"), func(ev link.Event) {
		if ev.Kind != link.EventStateChanged || ev.State != link.StateConnected {
			return
		}
		s, err := handshake.NewSenderSession(tc, tx, sim.sender.send, handshake.SenderOptions{
			Logger: log.WithField("role", "sender"),
			OnDone: func(err error) { sim.done <- err },
		})
		if err != nil {
			sim.done <- err
			return
		}
		sim.sender.setHandler(s.Feed)
		s.Begin(ctx)
	})
	return sim
}

// run connects the two peers and waits for the session to end.
func (sim *simulation) run(ctx context.Context) error {
	defer sim.sender.close()
	defer sim.receiver.close()

	if err := sim.receiver.svc.Start(); err != nil {
		return err
	}
	// the receiver listens asynchronously; retry until the dial lands
	for {
		if err := sim.sender.svc.Connect("receiver"); err != nil {
			return err
		}
		deadline := time.Now().Add(time.Second)
		for sim.sender.svc.State() == link.StateConnecting && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		if sim.sender.svc.State() == link.StateConnected {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	select {
	case err := <-sim.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if err := applyTransmissionFlags(cmd); err != nil {
		return err
	}
	tc, err := transmissionConfig(strings.Join(args, " "))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var clock device.Clock = device.NewVirtualClock(time.Now())
	if simulateRealtime {
		clock = device.SystemClock{}
	}

	fmt.Printf("Overwave - Simulation\n")
	fmt.Printf("Wave: %s, bit duration %v, %d trial(s)\n\n", tc.Wave, tc.BitDuration, tc.Trials)

	sim := newSimulation(ctx, tc, clock)
	runErr := sim.run(ctx)

	for trial := 1; len(sim.results) > 0; trial++ {
		fmt.Printf("Trial %d: %s\n", trial, describeResult(<-sim.results))
	}
	fmt.Printf("\n%s", sim.stats.String())
	return runErr
}
