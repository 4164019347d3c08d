// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/overwave/internal/monitor"
	"github.com/Thermoquad/overwave/pkg/device"
	"github.com/Thermoquad/overwave/pkg/handshake"
	"github.com/Thermoquad/overwave/pkg/link"
	"github.com/Thermoquad/overwave/pkg/wave"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for sending messages",
	Long: `Send messages to a receiver from an interactive terminal UI.

Features:
  - Wave selection among the configured actuators
  - Message and trial count entry
  - Live transmission progress per trial
  - Acknowledged/lost trial counts
  - Event logging
  - Automatic reconnection on link loss

Tab switches between the wave list, the inputs and the send button. Esc aborts
a running session.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
}

var (
	errNotConnected = errors.New("link is not connected")
	errBusy         = errors.New("a session is already running")
)

// sessionManager owns the link and starts one sender session at a time on
// behalf of the TUI.
type sessionManager struct {
	ctx     context.Context
	emitter handshake.Emitter
	mon     *monitor.Monitor
	p       *peer
	program *tea.Program

	mu      sync.Mutex
	session *handshake.SenderSession
}

func (sm *sessionManager) send(msg tea.Msg) {
	if sm.program != nil {
		sm.program.Send(msg)
	}
}

func (sm *sessionManager) observe(ev link.Event) {
	if ev.Kind == link.EventDisconnected {
		sm.cancel()
	}
	sm.send(linkEventMsg(ev))
}

// begin starts a session for tc. Progress and results are delivered to the
// program as messages.
func (sm *sessionManager) begin(tc handshake.Config) error {
	if sm.p.svc.State() != link.StateConnected {
		return errNotConnected
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.session != nil {
		return errBusy
	}

	log := logger.WithField("session", uuid.New().String()[:8])
	s, err := handshake.NewSenderSession(tc, sm.emitter, sm.p.send, handshake.SenderOptions{
		EndDelay: cfg.Transmission.EndDelay,
		Logger:   log,
		OnProgress: func(trial int, pct float64) {
			sm.send(sendProgressMsg{trial: trial, percent: pct})
		},
		OnTrial: func(trial int, acked bool) {
			if sm.mon != nil {
				sm.mon.ObserveTrial(tc, acked)
			}
			sm.send(sendTrialMsg{trial: trial, acked: acked})
		},
		OnDone: func(err error) {
			sm.mu.Lock()
			sm.session = nil
			sm.mu.Unlock()
			sm.send(sendDoneMsg{err: err})
		},
	})
	if err != nil {
		return err
	}
	sm.session = s
	sm.p.setHandler(s.Feed)
	s.Begin(sm.ctx)
	return nil
}

func (sm *sessionManager) cancel() {
	sm.mu.Lock()
	s := sm.session
	sm.mu.Unlock()
	if s != nil {
		s.Cancel()
	}
}

func runControl(cmd *cobra.Command, args []string) error {
	acts, err := openActuators(cfg.Devices.Actuators)
	if err != nil {
		return err
	}
	if len(acts) == 0 {
		return fmt.Errorf("%w: configure devices.actuators", device.ErrNoActuator)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mon, err := startMonitor(ctx)
	if err != nil {
		return err
	}
	transport, connInfo, err := OpenTransport(cfg.Link)
	if err != nil {
		return err
	}

	tx := device.NewTransmitter(acts, device.TransmitterOptions{Silence: time.Second, Logger: logger})
	sm := &sessionManager{ctx: ctx, emitter: timedEmitter{Emitter: tx, mon: mon}, mon: mon}
	sm.p = newPeer(transport, mon, logger, sm.observe)
	defer sm.p.close()

	available := make([]wave.Wave, 0, len(acts))
	for _, w := range wave.All() {
		if _, ok := acts[w]; ok {
			available = append(available, w)
		}
	}

	// the dashboard owns the terminal
	logger.SetOutput(tuiLogOutput())

	p := tea.NewProgram(initialControlModel(sm, connInfo, available), tea.WithAltScreen(), tea.WithMouseCellMotion())
	sm.program = p

	if err := sm.p.svc.Start(); err != nil {
		return err
	}
	if cfg.Link.Remote != "" {
		if err := sm.p.svc.Connect(cfg.Link.Remote); err != nil {
			return err
		}
	}

	if _, err := p.Run(); err != nil {
		sm.cancel()
		return fmt.Errorf("TUI error: %v", err)
	}
	sm.cancel()
	return nil
}
