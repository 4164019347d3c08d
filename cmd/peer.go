// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/overwave/internal/monitor"
	"github.com/Thermoquad/overwave/pkg/device"
	"github.com/Thermoquad/overwave/pkg/handshake"
	"github.com/Thermoquad/overwave/pkg/link"
	"github.com/Thermoquad/overwave/pkg/wave"
)

// peer owns the link service and routes its events to whichever handshake
// session is currently active.
type peer struct {
	svc *link.Service
	mon *monitor.Monitor
	log logrus.FieldLogger

	mu       sync.Mutex
	onData   func([]byte)
	onEvent  func(link.Event)
	inCount  handshake.Splitter
	outCount handshake.Splitter
}

func newPeer(transport link.Transport, mon *monitor.Monitor, log logrus.FieldLogger, onEvent func(link.Event)) *peer {
	p := &peer{mon: mon, log: log, onEvent: onEvent}
	p.svc = link.New(transport, link.Options{
		Observer:        p.observe,
		Logger:          log,
		RestartDelay:    cfg.Link.RestartDelay,
		MaxRestartDelay: cfg.Link.MaxRestartDelay,
	})
	return p
}

// setHandler routes received bytes to fn.
func (p *peer) setHandler(fn func([]byte)) {
	p.mu.Lock()
	p.onData = fn
	p.mu.Unlock()
}

func (p *peer) observe(ev link.Event) {
	if p.mon != nil {
		p.mon.ObserveLink(ev)
	}

	switch ev.Kind {
	case link.EventStateChanged:
		p.log.WithField("state", ev.State).Debug("link state")
	case link.EventDeviceName:
		p.log.WithField("remote", ev.Name).Info("peer connected")
	case link.EventDisconnected:
		p.log.WithError(ev.Err).Warn("link lost")
	case link.EventReceived:
		p.count(&p.inCount, ev.Data, p.monReceived)
		p.mu.Lock()
		fn := p.onData
		p.mu.Unlock()
		if fn != nil {
			fn(ev.Data)
		}
	}

	if p.onEvent != nil {
		p.onEvent(ev)
	}
}

// send writes handshake bytes to the peer.
func (p *peer) send(data []byte) {
	p.count(&p.outCount, data, p.monSent)
	if !p.svc.Write(data) {
		p.log.WithField("bytes", len(data)).Warn("not connected, message dropped")
	}
}

func (p *peer) monSent(m handshake.Message)     { p.mon.MessageSent(m) }
func (p *peer) monReceived(m handshake.Message) { p.mon.MessageReceived(m) }

// count feeds a private splitter so metrics see whole messages.
func (p *peer) count(s *handshake.Splitter, data []byte, record func(handshake.Message)) {
	if p.mon == nil {
		return
	}
	p.mu.Lock()
	msgs := s.Feed(data)
	p.mu.Unlock()
	for _, m := range msgs {
		record(m)
	}
}

func (p *peer) close() {
	p.svc.Close()
}

// openActuators builds the configured actuators from "led:<name>" and
// "backlight:<name>" bindings.
func openActuators(bindings map[string]string) (device.Actuators, error) {
	acts := device.Actuators{}
	for name, binding := range bindings {
		w, err := wave.Parse(name)
		if err != nil {
			return nil, err
		}
		kind, target, _ := strings.Cut(binding, ":")
		switch kind {
		case "led":
			acts[w] = device.NewLED(target)
		case "backlight":
			acts[w] = device.NewBacklight(target)
		default:
			return nil, fmt.Errorf("actuator for %s: unsupported binding %q (want led:<name> or backlight:<name>)", w, binding)
		}
	}
	return acts, nil
}

func openSensors() (device.Sensors, error) {
	sensors := device.Sensors{}
	for name, sc := range cfg.Devices.Sensors {
		w, err := wave.Parse(name)
		if err != nil {
			return nil, err
		}
		sensors[w] = &device.SysfsSensor{Path: sc.Path, Scale: sc.Scale}
	}
	return sensors, nil
}

// transmissionConfig resolves the announced configuration from config and
// command flags.
func transmissionConfig(text string) (handshake.Config, error) {
	w := cfg.Transmission.WaveKind()
	bit := cfg.Transmission.BitDuration
	if bit == 0 {
		bit = wave.ProfileFor(w).DefaultBitDuration
	}
	c := handshake.Config{
		Wave:        w,
		BitDuration: bit,
		Trials:      cfg.Transmission.Trials,
		Text:        text,
	}
	return c, c.Validate()
}
