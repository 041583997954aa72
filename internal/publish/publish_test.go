// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package publish

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/Thermoquad/amplistat/internal/config"
	"github.com/Thermoquad/amplistat/pkg/calibration"
	"github.com/Thermoquad/amplistat/pkg/pwrswr"
	"github.com/Thermoquad/amplistat/pkg/r4850"
	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"
)

func testReadings(t *testing.T) map[calibration.Point]pwrswr.Reading {
	t.Helper()
	engine, err := pwrswr.New(calibration.Default())
	if err != nil {
		t.Fatal(err)
	}
	var s pwrswr.Samples
	s[pwrswr.FilterForward] = 1100
	s[pwrswr.FilterReverse] = 11
	engine.Compute(s)
	return engine.Readings()
}

// ============================================================
// Snapshot Tests
// ============================================================

func TestNewSnapshot(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tripped := map[calibration.Point]bool{calibration.PointFilter: true}
	snap := NewSnapshot(now, testReadings(t), tripped, r4850.Status{OutputVoltage: 53.5}, r4850.OutcomeOK, r4850.OutcomeWait)

	if snap.ID == "" {
		t.Error("snapshot has no id")
	}
	if snap.Timestamp != now.UnixMilli() {
		t.Errorf("Timestamp = %d, want %d", snap.Timestamp, now.UnixMilli())
	}
	if len(snap.Points) != len(calibration.Points) {
		t.Fatalf("len(Points) = %d, want %d", len(snap.Points), len(calibration.Points))
	}
	for i, p := range calibration.Points {
		if snap.Points[i].Point != p.String() {
			t.Errorf("Points[%d] = %s, want %s", i, snap.Points[i].Point, p)
		}
	}
	filter := snap.Points[1]
	if !filter.Tripped || filter.FwdWatts < 499 || filter.FwdWatts > 501 {
		t.Errorf("filter point = %+v", filter)
	}
	if snap.StatusOutcome != "OK" || snap.SetOutcome != "WAIT" {
		t.Errorf("outcomes = %s/%s", snap.StatusOutcome, snap.SetOutcome)
	}
}

func TestSnapshot_EncodeUsesIntegerKeys(t *testing.T) {
	snap := NewSnapshot(time.Unix(1700000000, 0), testReadings(t), nil, r4850.Status{OutputVoltage: 53.5}, r4850.OutcomeOK, r4850.OutcomeFail)
	data, err := snap.Encode()
	if err != nil {
		t.Fatalf("Encode() = %v", err)
	}

	var raw map[int]interface{}
	if err := cbor.Unmarshal(data, &raw); err != nil {
		t.Fatalf("snapshot is not an integer keyed map: %v", err)
	}
	for key := 1; key <= 6; key++ {
		if _, ok := raw[key]; !ok {
			t.Errorf("key %d missing", key)
		}
	}

	back, err := DecodeSnapshot(data)
	if err != nil {
		t.Fatalf("DecodeSnapshot() = %v", err)
	}
	if back.ID != snap.ID || back.PSU.OutputVoltage != 53.5 || len(back.Points) != 3 {
		t.Errorf("decoded snapshot = %+v", back)
	}
}

func TestDecodeSnapshot_Garbage(t *testing.T) {
	if _, err := DecodeSnapshot([]byte{0xFF, 0x00}); err == nil {
		t.Error("DecodeSnapshot(garbage) = nil error")
	}
}

// ============================================================
// Multi Tests
// ============================================================

type recorder struct {
	got    []Snapshot
	err    error
	closed bool
}

func (r *recorder) Publish(_ context.Context, s Snapshot) error {
	r.got = append(r.got, s)
	return r.err
}

func (r *recorder) Close() error {
	r.closed = true
	return r.err
}

func TestMulti(t *testing.T) {
	errDown := errors.New("broker down")
	ok := &recorder{}
	failing := &recorder{err: errDown}
	m := Multi{failing, ok}

	err := m.Publish(context.Background(), Snapshot{ID: "a"})
	if !errors.Is(err, errDown) {
		t.Errorf("Publish() = %v, want broker down", err)
	}
	if len(ok.got) != 1 {
		t.Error("publisher after a failing one was skipped")
	}

	if err := m.Close(); !errors.Is(err, errDown) {
		t.Errorf("Close() = %v", err)
	}
	if !ok.closed || !failing.closed {
		t.Error("Close() did not close every publisher")
	}
}

func TestFromConfig_Empty(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	m, err := FromConfig(context.Background(), config.PublishConfig{}, log)
	if err != nil {
		t.Fatalf("FromConfig() = %v", err)
	}
	if len(m) != 0 {
		t.Errorf("len = %d, want 0", len(m))
	}
	if err := m.Publish(context.Background(), Snapshot{}); err != nil {
		t.Errorf("empty Publish() = %v", err)
	}
}
