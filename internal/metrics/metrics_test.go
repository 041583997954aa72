// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package metrics

import (
	"encoding/binary"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Thermoquad/amplistat/pkg/calibration"
	"github.com/Thermoquad/amplistat/pkg/pwrswr"
	"github.com/Thermoquad/amplistat/pkg/r4850"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
)

type nopTx struct{}

func (nopTx) Send(r4850.Message) error { return nil }

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestObserveReadings(t *testing.T) {
	m := New(quietLogger())
	engine, err := pwrswr.New(calibration.Default())
	if err != nil {
		t.Fatal(err)
	}

	var s pwrswr.Samples
	s[pwrswr.AntennaForward] = 2200 // 1000 W
	s[pwrswr.AntennaReverse] = 22   // 10 W
	engine.Compute(s)
	m.ObserveReadings(engine.Readings())

	got := testutil.ToFloat64(m.power.WithLabelValues("antenna", "forward"))
	if got < 999 || got > 1001 {
		t.Errorf("antenna forward watts = %v, want 1000", got)
	}
	if got := testutil.ToFloat64(m.swr.WithLabelValues("antenna")); got <= 1.0 {
		t.Errorf("antenna swr = %v, want > 1", got)
	}
	if got := testutil.ToFloat64(m.swr.WithLabelValues("input")); got != 1.0 {
		t.Errorf("input swr = %v, want 1.0", got)
	}
}

func TestObserveOutcomeAndTrip(t *testing.T) {
	m := New(quietLogger())
	m.ObserveOutcome("status", r4850.OutcomeOK)
	m.ObserveOutcome("status", r4850.OutcomeOK)
	m.ObserveOutcome("set", r4850.OutcomeFail)
	m.ObserveTrip(calibration.PointAntenna)

	if got := testutil.ToFloat64(m.outcomes.WithLabelValues("status", "OK")); got != 2 {
		t.Errorf("status OK = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.outcomes.WithLabelValues("set", "FAIL")); got != 1 {
		t.Errorf("set FAIL = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.trips.WithLabelValues("antenna")); got != 1 {
		t.Errorf("antenna trips = %v, want 1", got)
	}
}

func TestRegisterSession(t *testing.T) {
	m := New(quietLogger())
	s := r4850.NewSession(nopTx{}, r4850.WithLogger(quietLogger()))
	m.RegisterSession(s)

	data := make([]byte, 8)
	binary.BigEndian.PutUint32(data[0:4], uint32(r4850.FieldOutputVoltage))
	binary.BigEndian.PutUint32(data[4:8], 53*1024)
	s.HandleMessage(r4850.Message{ID: r4850.IDStatusResponse, Data: data})
	s.HandleMessage(r4850.Message{ID: 0x123, Data: nil})

	mfs, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() = %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "amplistat_bus_frames_total" {
			found = true
			if v := mf.GetMetric()[0].GetCounter().GetValue(); v != 2 {
				t.Errorf("frames_total = %v, want 2", v)
			}
		}
	}
	if !found {
		t.Error("amplistat_bus_frames_total not registered")
	}
}

func TestObserveStatus(t *testing.T) {
	m := New(quietLogger())
	m.ObserveStatus(r4850.Status{OutputVoltage: 53.5, OutputCurrent: 12.25})

	if got := testutil.ToFloat64(m.psu.WithLabelValues("output_voltage")); got != 53.5 {
		t.Errorf("output_voltage = %v, want 53.5", got)
	}
	if got := testutil.ToFloat64(m.psu.WithLabelValues("output_current")); got != 12.25 {
		t.Errorf("output_current = %v, want 12.25", got)
	}
}

func TestHandler(t *testing.T) {
	m := New(quietLogger())
	m.ObserveTrip(calibration.PointFilter)
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "OK" {
		t.Errorf("/health = %q, want OK", body)
	}

	resp, err = srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `amplistat_swr_trips_total{point="filter"} 1`) {
		t.Errorf("/metrics missing trip counter:\n%s", body)
	}
}
