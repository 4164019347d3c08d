// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package monitor exposes link and transmission metrics for Prometheus.
package monitor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/overwave/pkg/device"
	"github.com/Thermoquad/overwave/pkg/frame"
	"github.com/Thermoquad/overwave/pkg/handshake"
	"github.com/Thermoquad/overwave/pkg/link"
)

// Monitor owns a private registry so tests and multiple instances never
// collide on the global one.
type Monitor struct {
	log      logrus.FieldLogger
	registry *prometheus.Registry

	LinkState      prometheus.Gauge
	Disconnects    prometheus.Counter
	MessagesSent   *prometheus.CounterVec
	MessagesRecv   *prometheus.CounterVec
	BytesRecv      prometheus.Counter
	Trials         *prometheus.CounterVec
	CharAccuracy   prometheus.Gauge
	TransmitTime   *prometheus.HistogramVec
	CapturedSample prometheus.Counter
}

// New creates and registers all metrics.
func New(log logrus.FieldLogger) *Monitor {
	m := &Monitor{
		log:      log,
		registry: prometheus.NewRegistry(),
		LinkState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "overwave_link_state",
			Help: "Link state (0 none, 1 listening, 2 connecting, 3 connected)",
		}),
		Disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overwave_link_disconnects_total",
			Help: "Link failures and dropped connections",
		}),
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "overwave_messages_sent_total",
			Help: "Handshake messages written to the link",
		}, []string{"command"}),
		MessagesRecv: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "overwave_messages_received_total",
			Help: "Handshake messages read from the link",
		}, []string{"command"}),
		BytesRecv: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overwave_link_bytes_received_total",
			Help: "Bytes read from the link",
		}),
		Trials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "overwave_trials_total",
			Help: "Trials by wave and outcome",
		}, []string{"wave", "outcome"}),
		CharAccuracy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "overwave_char_accuracy_percent",
			Help: "Character accuracy over the current session",
		}),
		TransmitTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "overwave_transmit_duration_seconds",
			Help:    "Duration of one physical transmission",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"wave"}),
		CapturedSample: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "overwave_sensor_samples_total",
			Help: "Sensor samples captured while armed",
		}),
	}

	m.registry.MustRegister(
		m.LinkState,
		m.Disconnects,
		m.MessagesSent,
		m.MessagesRecv,
		m.BytesRecv,
		m.Trials,
		m.CharAccuracy,
		m.TransmitTime,
		m.CapturedSample,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the registry, mainly for tests.
func (m *Monitor) Registry() *prometheus.Registry { return m.registry }

// ObserveLink records a link event. Chain it into the link.Observer.
func (m *Monitor) ObserveLink(ev link.Event) {
	switch ev.Kind {
	case link.EventStateChanged:
		m.LinkState.Set(float64(ev.State))
	case link.EventDisconnected:
		m.Disconnects.Inc()
	case link.EventReceived:
		m.BytesRecv.Add(float64(len(ev.Data)))
	}
}

// MessageSent counts an outbound handshake message.
func (m *Monitor) MessageSent(msg handshake.Message) {
	m.MessagesSent.WithLabelValues(msg.Command).Inc()
}

// MessageReceived counts an inbound handshake message.
func (m *Monitor) MessageReceived(msg handshake.Message) {
	m.MessagesRecv.WithLabelValues(msg.Command).Inc()
}

// ObserveResult records a decoded trial and the running accuracy.
func (m *Monitor) ObserveResult(res handshake.Result, stats *device.Statistics) {
	outcome := "match"
	switch {
	case errors.Is(res.Err, frame.ErrNoData):
		outcome = "no_data"
	case res.Err != nil, res.Text != res.Config.Text:
		outcome = "corrupt"
	}
	m.Trials.WithLabelValues(res.Config.Wave.String(), outcome).Inc()
	m.CapturedSample.Add(float64(res.Samples))
	if stats != nil {
		m.CharAccuracy.Set(stats.CharAccuracy())
	}
}

// ObserveTrial records a trial seen from the sending side.
func (m *Monitor) ObserveTrial(cfg handshake.Config, acked bool) {
	outcome := "acked"
	if !acked {
		outcome = "lost"
	}
	m.Trials.WithLabelValues(cfg.Wave.String(), outcome).Inc()
}

// ObserveTransmit records how long a transmission took.
func (m *Monitor) ObserveTransmit(cfg handshake.Config, d time.Duration) {
	m.TransmitTime.WithLabelValues(cfg.Wave.String()).Observe(d.Seconds())
}

// Handler serves /metrics and /health.
func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// StartMetricsServer serves Handler on addr until ctx is done.
func (m *Monitor) StartMetricsServer(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
	m.log.Infof("metrics server listening on %s", ln.Addr())

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Errorf("metrics server error: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()
	return nil
}
