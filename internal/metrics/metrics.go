// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exports amplifier readings and power supply state to
// Prometheus.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Thermoquad/amplistat/pkg/calibration"
	"github.com/Thermoquad/amplistat/pkg/pwrswr"
	"github.com/Thermoquad/amplistat/pkg/r4850"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "amplistat"

// Metrics owns a private registry so several controllers (and tests) can
// coexist in one process
type Metrics struct {
	registry *prometheus.Registry
	log      *logrus.Logger

	power       *prometheus.GaugeVec
	peakPower   *prometheus.GaugeVec
	swr         *prometheus.GaugeVec
	smoothedSWR *prometheus.GaugeVec
	trips       *prometheus.CounterVec
	psu         *prometheus.GaugeVec
	outcomes    *prometheus.CounterVec
	cycle       prometheus.Histogram
	sampleErrs  prometheus.Counter
}

func New(log *logrus.Logger) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		log:      log,

		power: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "power_watts",
			Help:      "Calibrated bridge power",
		}, []string{"point", "direction"}),

		peakPower: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "forward_peak_watts",
			Help:      "Forward peak power",
		}, []string{"point"}),

		swr: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "swr",
			Help:      "Instantaneous standing wave ratio",
		}, []string{"point"}),

		smoothedSWR: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "swr_smoothed",
			Help:      "Standing wave ratio averaged over the smoothing window",
		}, []string{"point"}),

		trips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swr_trips_total",
			Help:      "Smoothed SWR threshold crossings",
		}, []string{"point"}),

		psu: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "psu_value",
			Help:      "Last rectifier telemetry value",
		}, []string{"field"}),

		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "psu_exchanges_total",
			Help:      "Resolved rectifier exchanges",
		}, []string{"flow", "outcome"}),

		cycle: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Sampling cycle duration",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}),

		sampleErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sample_errors_total",
			Help:      "Failed analog sample reads",
		}),
	}

	m.registry.MustRegister(
		m.power,
		m.peakPower,
		m.swr,
		m.smoothedSWR,
		m.trips,
		m.psu,
		m.outcomes,
		m.cycle,
		m.sampleErrs,
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterSession exports the bus counters of a session. Values are read
// from the session on every scrape.
func (m *Metrics) RegisterSession(s *r4850.Session) {
	counter := func(name, help string, get func(r4850.Statistics) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(get(s.Statistics()))
		})
	}

	m.registry.MustRegister(
		counter("frames_total", "Received CAN frames",
			func(st r4850.Statistics) uint64 { return st.TotalFrames }),
		counter("malformed_total", "Frames with a known id and an invalid payload",
			func(st r4850.Statistics) uint64 { return st.Malformed }),
		counter("anomalies_total", "Telemetry values outside plausible ranges",
			func(st r4850.Statistics) uint64 { return st.Anomalies }),
		counter("timeouts_total", "Exchanges that timed out",
			func(st r4850.Statistics) uint64 { return st.Timeouts }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "last_rx_timestamp_seconds",
			Help:      "Time of the last frame from the rectifier",
		}, func() float64 {
			last := s.LastRx()
			if last.IsZero() {
				return 0
			}
			return float64(last.UnixNano()) / 1e9
		}),
	)
}

// ObserveReadings records the readings of every point
func (m *Metrics) ObserveReadings(readings map[calibration.Point]pwrswr.Reading) {
	for p, r := range readings {
		point := p.String()
		m.power.WithLabelValues(point, calibration.Forward.String()).Set(r.FwdWatts)
		m.power.WithLabelValues(point, calibration.Reverse.String()).Set(r.RevWatts)
		m.peakPower.WithLabelValues(point).Set(r.FwdPeakWatts)
		m.swr.WithLabelValues(point).Set(r.SWR)
		m.smoothedSWR.WithLabelValues(point).Set(r.SmoothedSWR())
	}
}

// ObserveTrip counts a threshold crossing of a point
func (m *Metrics) ObserveTrip(p calibration.Point) {
	m.trips.WithLabelValues(p.String()).Inc()
}

// ObserveStatus records a completed rectifier status
func (m *Metrics) ObserveStatus(st r4850.Status) {
	for _, f := range r4850.Fields {
		if v, ok := st.Get(f); ok {
			m.psu.WithLabelValues(f.String()).Set(v)
		}
	}
}

// ObserveOutcome counts a resolved exchange; flow is "status" or "set"
func (m *Metrics) ObserveOutcome(flow string, o r4850.Outcome) {
	m.outcomes.WithLabelValues(flow, o.String()).Inc()
}

func (m *Metrics) ObserveCycle(d time.Duration) {
	m.cycle.Observe(d.Seconds())
}

func (m *Metrics) ObserveSampleError() {
	m.sampleErrs.Inc()
}

// Handler serves the registry plus a /health endpoint
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// StartServer serves Handler on port in the background. Shut it down with
// the returned server.
func (m *Metrics) StartServer(port int) *http.Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	m.log.Infof("metrics server listening on %s", srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.log.Errorf("metrics server error: %v", err)
		}
	}()
	return srv
}
