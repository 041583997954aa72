// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package pwrswr turns raw power bridge detector voltages into forward,
// reverse and peak power plus SWR for each measurement point.
//
// The engine never fails on bad physical readings: zero or negative power,
// a missing forward signal and reflection coefficients at or above one are
// all clamped to defined values.
package pwrswr

import (
	"math"
	"sync"

	"github.com/Thermoquad/amplistat/pkg/calibration"
	"gonum.org/v1/gonum/stat"
)

const (
	// SmoothLen is the number of SWR values averaged per point
	SmoothLen = 10

	// FloorDBm is reported for zero or negative power
	FloorDBm = -99.0

	// MinForwardWatts is the smallest forward power an SWR is derived from
	MinForwardWatts = 1e-3

	// MaxSWR caps the reported SWR (open or shorted load)
	MaxSWR = 99.9
)

// Channel is an analog input, in the board's pin order
type Channel int

const (
	FilterReverse Channel = iota
	FilterForward
	AntennaReverse
	AntennaForward
	InputReverse
	InputForward

	NumChannels
)

// Samples holds one sampling cycle, in millivolts, indexed by Channel
type Samples [NumChannels]float64

// ChannelFor returns the analog channel of a point's detector
func ChannelFor(p calibration.Point, d calibration.Direction) Channel {
	switch p {
	case calibration.PointFilter:
		if d == calibration.Reverse {
			return FilterReverse
		}
		return FilterForward
	case calibration.PointAntenna:
		if d == calibration.Reverse {
			return AntennaReverse
		}
		return AntennaForward
	default:
		if d == calibration.Reverse {
			return InputReverse
		}
		return InputForward
	}
}

// Reading is the power/SWR state of one measurement point
type Reading struct {
	FwdDBm       float64
	FwdPeakDBm   float64
	FwdWatts     float64
	FwdPeakWatts float64
	RevDBm       float64
	RevWatts     float64
	SWR          float64

	smooth [SmoothLen]float64
	cursor int
	filled int
}

// SmoothedSWR is the mean of the buffered SWR values, or 0 before the
// first sample
func (r Reading) SmoothedSWR() float64 {
	if r.filled == 0 {
		return 0
	}
	return stat.Mean(r.smooth[:r.filled], nil)
}

// push stores an SWR value, overwriting the oldest once full
func (r *Reading) push(swr float64) {
	r.smooth[r.cursor] = swr
	r.cursor = (r.cursor + 1) % SmoothLen
	if r.filled < SmoothLen {
		r.filled++
	}
}

// DBm converts watts to dBm, returning FloorDBm for non-positive power.
// +Inf is treated as math.MaxFloat64.
func DBm(watts float64) float64 {
	if !(watts > 0) {
		return FloorDBm
	}
	if math.IsInf(watts, 1) {
		watts = math.MaxFloat64
	}
	dbm := 10*math.Log10(watts) + 30
	if dbm < FloorDBm {
		return FloorDBm
	}
	return dbm
}

// SWR derives the standing wave ratio from forward and reverse power.
// The reflection coefficient is the voltage ratio sqrt(rev/fwd).
func SWR(fwdWatts, revWatts float64) float64 {
	if !(fwdWatts >= MinForwardWatts) || !(revWatts > 0) {
		return 1.0
	}
	// Inf/Inf leaves rho NaN, which counts as total reflection
	rho := math.Sqrt(revWatts / fwdWatts)
	if !(rho < 1) {
		return MaxSWR
	}
	swr := (1 + rho) / (1 - rho)
	if swr > MaxSWR {
		return MaxSWR
	}
	return swr
}

// Engine owns the readings of all measurement points
type Engine struct {
	mu       sync.RWMutex
	table    calibration.Table
	readings [len(calibration.Points)]Reading
}

// New creates an engine. An invalid calibration table is rejected.
func New(table calibration.Table) (*Engine, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &Engine{table: table}, nil
}

// Calibration returns the table the engine was built with
func (e *Engine) Calibration() calibration.Table {
	return e.table
}

// Compute updates every measurement point from one sampling cycle. All
// points are updated before Compute returns.
func (e *Engine) Compute(s Samples) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, p := range calibration.Points {
		e.update(p, s[ChannelFor(p, calibration.Forward)], s[ChannelFor(p, calibration.Reverse)])
	}
}

func (e *Engine) update(p calibration.Point, fwdMv, revMv float64) {
	r := &e.readings[p]
	cal := e.table.Entry(p, calibration.Forward)

	r.FwdWatts = cal.Watts(fwdMv)
	r.FwdDBm = DBm(r.FwdWatts)
	r.RevWatts = cal.Watts(revMv)
	r.RevDBm = DBm(r.RevWatts)

	if r.FwdWatts > r.FwdPeakWatts {
		r.FwdPeakWatts = r.FwdWatts
	}
	r.FwdPeakDBm = DBm(r.FwdPeakWatts)

	// no reverse detector output means nothing is reflected, regardless of
	// the calibration offset
	if revMv > 0 {
		r.SWR = SWR(r.FwdWatts, r.RevWatts)
	} else {
		r.SWR = 1.0
	}
	r.push(r.SWR)
}

// Reading returns a copy of a point's current state
func (e *Engine) Reading(p calibration.Point) Reading {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.readings[p]
}

// Readings returns copies of all points keyed by point
func (e *Engine) Readings() map[calibration.Point]Reading {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[calibration.Point]Reading, len(e.readings))
	for _, p := range calibration.Points {
		out[p] = e.readings[p]
	}
	return out
}

// Tripped reports whether the smoothed SWR of a point exceeds maxSWR
func (e *Engine) Tripped(p calibration.Point, maxSWR float64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.readings[p].SmoothedSWR() > maxSWR
}

// Reset zeroes one point, including peak hold and the smoothing buffer
func (e *Engine) Reset(p calibration.Point) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.readings[p] = Reading{}
}

// ResetAll zeroes every point
func (e *Engine) ResetAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.readings {
		e.readings[i] = Reading{}
	}
}
