// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package monitor

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Thermoquad/overwave/internal/logging"
	"github.com/Thermoquad/overwave/pkg/device"
	"github.com/Thermoquad/overwave/pkg/frame"
	"github.com/Thermoquad/overwave/pkg/handshake"
	"github.com/Thermoquad/overwave/pkg/link"
	"github.com/Thermoquad/overwave/pkg/wave"
)

func TestObserveLink(t *testing.T) {
	m := New(logging.Discard())

	m.ObserveLink(link.Event{Kind: link.EventStateChanged, State: link.StateConnected})
	m.ObserveLink(link.Event{Kind: link.EventReceived, Data: []byte("ACK\nSTART\n")})
	m.ObserveLink(link.Event{Kind: link.EventDisconnected, Err: errors.New("gone")})
	m.ObserveLink(link.Event{Kind: link.EventDisconnected, Err: errors.New("gone")})

	if v := testutil.ToFloat64(m.LinkState); v != 3 {
		t.Errorf("link state = %v, want 3", v)
	}
	if v := testutil.ToFloat64(m.BytesRecv); v != 10 {
		t.Errorf("bytes = %v, want 10", v)
	}
	if v := testutil.ToFloat64(m.Disconnects); v != 2 {
		t.Errorf("disconnects = %v, want 2", v)
	}
}

func TestObserveResult(t *testing.T) {
	m := New(logging.Discard())
	stats := device.NewStatistics()
	cfg := handshake.Config{Wave: wave.Sound, Text: "abcd"}

	results := []handshake.Result{
		{Config: cfg, Text: "abcd", Samples: 40},
		{Config: cfg, Text: "abce", Samples: 40},
		{Config: cfg, Err: fmt.Errorf("%w: %w", device.ErrNothingReceived, frame.ErrNoData), Samples: 20},
	}
	for _, res := range results {
		stats.Update(res)
		m.ObserveResult(res, stats)
	}

	for outcome, want := range map[string]float64{"match": 1, "corrupt": 1, "no_data": 1} {
		if v := testutil.ToFloat64(m.Trials.WithLabelValues("sound", outcome)); v != want {
			t.Errorf("%s = %v, want %v", outcome, v, want)
		}
	}
	if v := testutil.ToFloat64(m.CapturedSample); v != 100 {
		t.Errorf("samples = %v, want 100", v)
	}
	if v := testutil.ToFloat64(m.CharAccuracy); v != stats.CharAccuracy() {
		t.Errorf("accuracy = %v, want %v", v, stats.CharAccuracy())
	}
}

func TestMessagesByCommand(t *testing.T) {
	m := New(logging.Discard())
	m.MessageSent(handshake.Ack(handshake.CmdStart))
	m.MessageSent(handshake.Ack(handshake.CmdEnd))
	m.MessageReceived(handshake.Message{Command: handshake.CmdStart})

	if v := testutil.ToFloat64(m.MessagesSent.WithLabelValues(handshake.CmdAck)); v != 2 {
		t.Errorf("sent ACK = %v, want 2", v)
	}
	if v := testutil.ToFloat64(m.MessagesRecv.WithLabelValues(handshake.CmdStart)); v != 1 {
		t.Errorf("received START = %v, want 1", v)
	}
}

func TestHandler(t *testing.T) {
	m := New(logging.Discard())
	m.ObserveTrial(handshake.Config{Wave: wave.Light}, true)
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `overwave_trials_total{outcome="acked",wave="light"} 1`) {
		t.Errorf("metrics output missing trial counter:\n%s", body)
	}
}
