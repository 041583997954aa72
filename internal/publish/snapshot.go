// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package publish ships controller snapshots to MQTT and Redis consumers.
//
// Snapshots are CBOR maps with small integer keys so that they stay compact
// on constrained links.
package publish

import (
	"fmt"
	"time"

	"github.com/Thermoquad/amplistat/pkg/calibration"
	"github.com/Thermoquad/amplistat/pkg/pwrswr"
	"github.com/Thermoquad/amplistat/pkg/r4850"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// PointSnapshot is the reading of one measurement point
type PointSnapshot struct {
	Point        string  `json:"point" cbor:"1,keyasint"`
	FwdWatts     float64 `json:"fwd_watts" cbor:"2,keyasint"`
	FwdPeakWatts float64 `json:"fwd_peak_watts" cbor:"3,keyasint"`
	FwdDBm       float64 `json:"fwd_dbm" cbor:"4,keyasint"`
	RevWatts     float64 `json:"rev_watts" cbor:"5,keyasint"`
	RevDBm       float64 `json:"rev_dbm" cbor:"6,keyasint"`
	SWR          float64 `json:"swr" cbor:"7,keyasint"`
	SmoothedSWR  float64 `json:"swr_smoothed" cbor:"8,keyasint"`
	Tripped      bool    `json:"tripped" cbor:"9,keyasint"`
}

// Snapshot is one controller cycle
type Snapshot struct {
	ID            string          `json:"id" cbor:"1,keyasint"`
	Timestamp     int64           `json:"timestamp" cbor:"2,keyasint"` // unix milliseconds
	Points        []PointSnapshot `json:"points" cbor:"3,keyasint"`
	PSU           r4850.Status    `json:"psu" cbor:"4,keyasint"`
	StatusOutcome string          `json:"status_outcome" cbor:"5,keyasint"`
	SetOutcome    string          `json:"set_outcome" cbor:"6,keyasint"`
}

// NewSnapshot assembles a snapshot in measurement point order. tripped may
// be nil.
func NewSnapshot(now time.Time, readings map[calibration.Point]pwrswr.Reading, tripped map[calibration.Point]bool,
	psu r4850.Status, statusOutcome, setOutcome r4850.Outcome) Snapshot {
	snap := Snapshot{
		ID:            uuid.NewString(),
		Timestamp:     now.UnixMilli(),
		Points:        make([]PointSnapshot, 0, len(readings)),
		PSU:           psu,
		StatusOutcome: statusOutcome.String(),
		SetOutcome:    setOutcome.String(),
	}
	for _, p := range calibration.Points {
		r, ok := readings[p]
		if !ok {
			continue
		}
		snap.Points = append(snap.Points, PointSnapshot{
			Point:        p.String(),
			FwdWatts:     r.FwdWatts,
			FwdPeakWatts: r.FwdPeakWatts,
			FwdDBm:       r.FwdDBm,
			RevWatts:     r.RevWatts,
			RevDBm:       r.RevDBm,
			SWR:          r.SWR,
			SmoothedSWR:  r.SmoothedSWR(),
			Tripped:      tripped[p],
		})
	}
	return snap
}

// Encode returns the CBOR form of the snapshot
func (s Snapshot) Encode() ([]byte, error) {
	data, err := cbor.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a CBOR snapshot
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return s, nil
}
