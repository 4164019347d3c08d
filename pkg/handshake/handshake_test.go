// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package handshake

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/overwave/pkg/wave"
)

func TestConfigMessage(t *testing.T) {
	cfg := Config{Wave: wave.Light, BitDuration: 100 * time.Millisecond, Trials: 3, Text: "hello"}
	got := string(cfg.Message().Bytes())
	want := "START\nwave:light\nfrequency:100\ntrials:3\ntext:hello"
	if got != want {
		t.Errorf("Bytes() = %q, want %q", got, want)
	}

	back, err := ParseConfig(cfg.Message())
	if err != nil {
		t.Fatal(err)
	}
	if back != cfg {
		t.Errorf("ParseConfig = %+v, want %+v", back, cfg)
	}
}

func TestResponseBytes(t *testing.T) {
	if got := string(Ack(CmdStart).Bytes()); got != "ACK\nSTART" {
		t.Errorf("Ack = %q", got)
	}
	if got := string(Nack("PING").Bytes()); got != "NACK\nPING" {
		t.Errorf("Nack = %q", got)
	}
}

func TestParseConfigErrors(t *testing.T) {
	base := func(fields ...Field) Message { return Message{Command: CmdStart, Fields: fields} }
	tests := []struct {
		name string
		msg  Message
		want error
	}{
		{"no wave", base(Field{KeyFrequency, "100"}), ErrMissingField},
		{"bad wave", base(Field{KeyWave, "smoke"}, Field{KeyFrequency, "100"}), ErrInvalidField},
		{"no frequency", base(Field{KeyWave, "light"}), ErrMissingField},
		{"bad frequency", base(Field{KeyWave, "light"}, Field{KeyFrequency, "fast"}), ErrInvalidField},
		{"zero frequency", base(Field{KeyWave, "light"}, Field{KeyFrequency, "0"}), ErrInvalidField},
		{"bad trials", base(Field{KeyWave, "light"}, Field{KeyFrequency, "10"}, Field{KeyTrials, "-1"}), ErrInvalidField},
		{"not start", Message{Command: CmdEnd}, ErrUnknownCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig(tt.msg)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			var perr *ProtocolError
			if !errors.As(err, &perr) {
				t.Errorf("error %v is not a *ProtocolError", err)
			}
		})
	}
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig(Message{Command: CmdStart, Fields: []Field{{KeyWave, "Vibration"}, {KeyFrequency, "250"}}})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Wave != wave.Vibration || cfg.BitDuration != 250*time.Millisecond || cfg.Trials != 1 || cfg.Text != "" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestConfigValidate(t *testing.T) {
	ok := Config{Wave: wave.Light, BitDuration: time.Millisecond, Trials: 1}
	if err := ok.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
	bad := []Config{
		{BitDuration: 0, Trials: 1},
		{BitDuration: time.Second, Trials: 0},
		{BitDuration: time.Second, Trials: 1, Text: "two\nlines"},
	}
	for _, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("Validate(%+v) should fail", c)
		}
	}
}

func TestSplitter(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   []string
	}{
		{"single ack", []string{"ACK\nSTART\n"}, []string{"ACK START"}},
		{"concatenated", []string{"ACK\nEND\nEND_TRIALS\n"}, []string{"ACK END", "END_TRIALS"}},
		{"subject in next chunk", []string{"ACK\n", "START"}, []string{"ACK START"}},
		{"crlf", []string{"END\r\n"}, []string{"END"}},
		{"unknown", []string{"PING\n"}, []string{"PING"}},
		{"unterminated keyword", []string{"PING"}, []string{"PING"}},
		{"unterminated response", []string{"ACK\nSTART"}, []string{"ACK START"}},
		{"one message per chunk", []string{"ACK\nEND", "END_TRIALS"}, []string{"ACK END", "END_TRIALS"}},
		{
			"unterminated start",
			[]string{"START\nwave:vibration\nfrequency:100\ntrials:1\ntext:a:b"},
			[]string{"START wave=vibration frequency=100 trials=1 text=a:b"},
		},
		{
			"start then end",
			[]string{"START\nwave:light\nfrequency:100\ntrials:1\ntext:x\nEND\n"},
			[]string{"START wave=light frequency=100 trials=1 text=x", "END"},
		},
		{"short start", []string{"START\nwave:light\nfrequency:5"}, []string{"START wave=light frequency=5"}},
		{"response without subject held", []string{"NACK"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s Splitter
			var got []string
			for _, c := range tt.chunks {
				for _, m := range s.Feed([]byte(c)) {
					got = append(got, m.String())
				}
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("messages = %q, want %q", got, tt.want)
			}
		})
	}
}

// fakeArmer records arming and returns the announced text as the decode result.
type fakeArmer struct {
	mu       sync.Mutex
	armed    bool
	arms     int
	disarms  int
	armErr   error
	finishFn func(Config) (Result, error)
	cfg      Config
}

func (f *fakeArmer) Arm(cfg Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.armErr != nil {
		return f.armErr
	}
	f.armed = true
	f.arms++
	f.cfg = cfg
	return nil
}

func (f *fakeArmer) Finish(ctx context.Context) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed = false
	if f.finishFn != nil {
		return f.finishFn(f.cfg)
	}
	return Result{Text: f.cfg.Text, Samples: 10}, nil
}

func (f *fakeArmer) Disarm() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed = false
	f.disarms++
}

type recorder struct {
	mu     sync.Mutex
	msgs   []string
	writes [][]byte
}

func (r *recorder) send(b []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, b)
	var s Splitter
	for _, m := range s.Feed(b) {
		r.msgs = append(r.msgs, m.String())
	}
}

func (r *recorder) raw() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.writes...)
}

func (r *recorder) joined() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.msgs, "|")
}

const startLight = "START\nwave:light\nfrequency:100\ntrials:1\ntext:hi\n"

func TestReceiverSessionFlow(t *testing.T) {
	armer := &fakeArmer{}
	rec := &recorder{}
	var results []Result
	done := false
	s := NewReceiverSession(armer, rec.send, ReceiverOptions{
		OnResult: func(r Result) { results = append(results, r) },
		OnDone:   func() { done = true },
	})
	ctx := context.Background()

	s.Feed(ctx, []byte(startLight))
	if !s.Armed() || armer.arms != 1 {
		t.Fatal("START should arm the sensor")
	}
	s.Feed(ctx, []byte("END\n"))
	if s.Armed() {
		t.Error("END should disarm")
	}
	s.Feed(ctx, []byte("END_TRIALS\n"))

	if got := rec.joined(); got != "ACK START|ACK END" {
		t.Errorf("replies = %s", got)
	}
	if len(results) != 1 || results[0].Text != "hi" || results[0].Config.Wave != wave.Light {
		t.Errorf("results = %+v", results)
	}
	if !done {
		t.Error("END_TRIALS should end the session")
	}
}

func TestReceiverSessionRejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"unknown command", "PING\n", "NACK PING"},
		{"bad wave", "START\nwave:smoke\nfrequency:100\ntrials:1\ntext:x\n", "NACK START"},
		{"missing frequency", "START\nwave:light\n", "NACK START"},
		{"end before start", "END\n", "NACK END"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			armer := &fakeArmer{}
			rec := &recorder{}
			reset := false
			s := NewReceiverSession(armer, rec.send, ReceiverOptions{OnReset: func(error) { reset = true }})
			s.Feed(context.Background(), []byte(tt.input))
			if got := rec.joined(); got != tt.want {
				t.Errorf("replies = %s, want %s", got, tt.want)
			}
			if s.Armed() {
				t.Error("rejected message must not arm")
			}
			if reset {
				t.Error("protocol errors keep the connection")
			}
		})
	}
}

func TestReceiverSessionUnterminatedMessages(t *testing.T) {
	armer := &fakeArmer{}
	rec := &recorder{}
	s := NewReceiverSession(armer, rec.send, ReceiverOptions{})
	ctx := context.Background()

	s.Feed(ctx, []byte("PING"))
	if got := rec.joined(); got != "NACK PING" {
		t.Fatalf("replies = %s, want NACK PING", got)
	}

	s.Feed(ctx, []byte("START\nwave:vibration\nfrequency:100\ntrials:1\ntext:hi"))
	if !s.Armed() {
		t.Fatal("START without a trailing newline should arm the sensor")
	}
	s.Feed(ctx, []byte("END"))
	if got := rec.joined(); got != "NACK PING|ACK START|ACK END" {
		t.Errorf("replies = %s", got)
	}
	for _, b := range rec.raw() {
		if strings.HasSuffix(string(b), "\n") {
			t.Errorf("reply %q ends with a newline", b)
		}
	}
}

func TestReceiverSessionHandlerFailureResets(t *testing.T) {
	armer := &fakeArmer{armErr: errors.New("sensor unavailable")}
	rec := &recorder{}
	var resetErr error
	s := NewReceiverSession(armer, rec.send, ReceiverOptions{OnReset: func(err error) { resetErr = err }})
	s.Feed(context.Background(), []byte(startLight))
	if got := rec.joined(); got != "NACK START" {
		t.Errorf("replies = %s", got)
	}
	if resetErr == nil || !strings.Contains(resetErr.Error(), "sensor unavailable") {
		t.Errorf("reset error = %v", resetErr)
	}
}

func TestReceiverSessionPanicIsContained(t *testing.T) {
	armer := &fakeArmer{finishFn: func(Config) (Result, error) { panic("boom") }}
	rec := &recorder{}
	reset := false
	s := NewReceiverSession(armer, rec.send, ReceiverOptions{OnReset: func(error) { reset = true }})
	s.Feed(context.Background(), []byte(startLight+"END\n"))
	if got := rec.joined(); got != "ACK START|NACK END" {
		t.Errorf("replies = %s", got)
	}
	if !reset {
		t.Error("panic should reset the link")
	}
}

func TestReceiverSessionRestartRearms(t *testing.T) {
	armer := &fakeArmer{}
	rec := &recorder{}
	s := NewReceiverSession(armer, rec.send, ReceiverOptions{})
	s.Feed(context.Background(), []byte(startLight))
	s.Feed(context.Background(), []byte(startLight))
	if armer.arms != 2 || armer.disarms != 1 {
		t.Errorf("arms=%d disarms=%d", armer.arms, armer.disarms)
	}
}

type fakeEmitter struct {
	mu    sync.Mutex
	calls int
	err   error
	block bool
}

func (f *fakeEmitter) Transmit(ctx context.Context, cfg Config, progress func(float64)) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	progress(100)
	return f.err
}

func TestSessionsEndToEnd(t *testing.T) {
	cfg := Config{Wave: wave.Light, BitDuration: 50 * time.Millisecond, Trials: 3, Text: "hey"}
	armer := &fakeArmer{}
	emitter := &fakeEmitter{}

	var mu sync.Mutex
	var results []Result
	var trials []bool
	receiverDone := make(chan struct{})
	senderDone := make(chan error, 1)

	var sender *SenderSession
	receiver := NewReceiverSession(armer, func(b []byte) { sender.Feed(b) }, ReceiverOptions{
		OnResult: func(r Result) {
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		},
		OnDone: func() { close(receiverDone) },
	})

	var err error
	sender, err = NewSenderSession(cfg, emitter, func(b []byte) { receiver.Feed(context.Background(), b) }, SenderOptions{
		OnTrial: func(trial int, acked bool) {
			mu.Lock()
			trials = append(trials, acked)
			mu.Unlock()
		},
		OnDone: func(err error) { senderDone <- err },
	})
	if err != nil {
		t.Fatal(err)
	}
	sender.Begin(context.Background())

	select {
	case err := <-senderDone:
		if err != nil {
			t.Fatalf("sender finished with %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("sender did not finish")
	}
	select {
	case <-receiverDone:
	case <-time.After(5 * time.Second):
		t.Fatal("receiver did not see END_TRIALS")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(results) != 3 || len(trials) != 3 || emitter.calls != 3 {
		t.Fatalf("results=%d trials=%d transmissions=%d", len(results), len(trials), emitter.calls)
	}
	for _, r := range results {
		if r.Text != "hey" {
			t.Errorf("result text = %q", r.Text)
		}
	}
	if sender.Remaining() != 0 {
		t.Errorf("Remaining() = %d", sender.Remaining())
	}
}

func TestSenderAbortsOnNack(t *testing.T) {
	cfg := Config{Wave: wave.Sound, BitDuration: 10 * time.Millisecond, Trials: 2}
	rec := &recorder{}
	done := make(chan error, 1)
	s, err := NewSenderSession(cfg, &fakeEmitter{}, rec.send, SenderOptions{OnDone: func(err error) { done <- err }})
	if err != nil {
		t.Fatal(err)
	}
	s.Begin(context.Background())
	s.Feed([]byte("NACK\nSTART\n"))

	select {
	case err := <-done:
		if !errors.Is(err, ErrRejected) {
			t.Errorf("done error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("session did not finish")
	}
	if got := rec.joined(); !strings.HasPrefix(got, "START") || strings.Contains(got, "END") {
		t.Errorf("sent = %s", got)
	}
}

func TestSenderCancelStopsTransmission(t *testing.T) {
	cfg := Config{Wave: wave.Light, BitDuration: 10 * time.Millisecond, Trials: 1}
	rec := &recorder{}
	done := make(chan error, 1)
	s, _ := NewSenderSession(cfg, &fakeEmitter{block: true}, rec.send, SenderOptions{OnDone: func(err error) { done <- err }})
	s.Begin(context.Background())
	s.Feed([]byte("ACK\nSTART\n"))
	s.Cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("done error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancel did not finish the session")
	}
}

func TestSenderAnswersUnknown(t *testing.T) {
	cfg := Config{Wave: wave.Light, BitDuration: 10 * time.Millisecond, Trials: 1}
	rec := &recorder{}
	s, _ := NewSenderSession(cfg, &fakeEmitter{}, rec.send, SenderOptions{})
	s.Feed([]byte("HELLO\n"))
	if got := rec.joined(); got != "NACK HELLO" {
		t.Errorf("sent = %s", got)
	}
}

func TestNewSenderSessionValidates(t *testing.T) {
	_, err := NewSenderSession(Config{Trials: 1}, &fakeEmitter{}, func([]byte) {}, SenderOptions{})
	if !errors.Is(err, ErrInvalidField) {
		t.Errorf("error = %v", err)
	}
}
