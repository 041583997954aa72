// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package calibration holds the per-measurement-point detector calibration
// used to turn power bridge voltages into watts.
//
// Each entry is a straight line through two reference points
// (MillivoltsLow, WattsLow) and (MillivoltsHigh, WattsHigh). The same entry
// is used for the forward and the reverse detector of a bridge.
package calibration

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrInvalidRange is wrapped by every RangeError
var ErrInvalidRange = errors.New("invalid calibration range")

// Point identifies a power bridge on the amplifier
type Point int

// Measurement points in sampling order
const (
	PointInput Point = iota // driver / amplifier input bridge
	PointFilter
	PointAntenna
)

// Points lists all measurement points in the order they are sampled
var Points = [...]Point{PointInput, PointFilter, PointAntenna}

func (p Point) String() string {
	switch p {
	case PointInput:
		return "input"
	case PointFilter:
		return "filter"
	case PointAntenna:
		return "antenna"
	default:
		return fmt.Sprintf("point(%d)", int(p))
	}
}

// ParsePoint resolves a point name as returned by Point.String
func ParsePoint(name string) (Point, error) {
	for _, p := range Points {
		if p.String() == name {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown measurement point %q", name)
}

// Direction selects the forward or reverse detector of a bridge
type Direction int

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// PowerCalibration maps detector millivolts to watts
type PowerCalibration struct {
	WattsLow       float64 `yaml:"w_low"`
	WattsHigh      float64 `yaml:"w_high"`
	MillivoltsLow  float64 `yaml:"mv_low"`
	MillivoltsHigh float64 `yaml:"mv_high"`
}

// Watts maps a detector voltage to power. Results below zero (noise floor)
// are floored to zero, as is a NaN input. A result too large to represent
// saturates at math.MaxFloat64, so the power is always finite.
func (c PowerCalibration) Watts(mv float64) float64 {
	if math.IsNaN(mv) {
		return 0
	}
	w := c.WattsLow + (mv-c.MillivoltsLow)*(c.WattsHigh-c.WattsLow)/(c.MillivoltsHigh-c.MillivoltsLow)
	switch {
	case math.IsInf(w, 1):
		return math.MaxFloat64
	case !(w > 0):
		return 0
	}
	return w
}

// validate checks a single entry
func (c PowerCalibration) validate() string {
	for _, v := range []float64{c.WattsLow, c.WattsHigh, c.MillivoltsLow, c.MillivoltsHigh} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "non-finite calibration value"
		}
	}
	if c.MillivoltsHigh <= c.MillivoltsLow {
		return fmt.Sprintf("mv_high (%.1f) must be greater than mv_low (%.1f)", c.MillivoltsHigh, c.MillivoltsLow)
	}
	return ""
}

// RangeError reports an unusable calibration entry
type RangeError struct {
	Point  Point
	Reason string
}

// Error implements the error interface
func (e *RangeError) Error() string {
	return fmt.Sprintf("calibration %s: %s", e.Point, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidRange
func (e *RangeError) Unwrap() error {
	return ErrInvalidRange
}

// Table is the calibration for all three bridges
type Table struct {
	Antenna PowerCalibration `yaml:"ant"`
	Filter  PowerCalibration `yaml:"flt"`
	Driver  PowerCalibration `yaml:"drv"`
}

// New builds a validated table
func New(ant, flt, drv PowerCalibration) (Table, error) {
	t := Table{Antenna: ant, Filter: flt, Driver: drv}
	if err := t.Validate(); err != nil {
		return Table{}, err
	}
	return t, nil
}

// Default returns the factory calibration of the controller board
func Default() Table {
	return Table{
		Antenna: PowerCalibration{WattsLow: 0, WattsHigh: 1500, MillivoltsLow: 0, MillivoltsHigh: 3300},
		Filter:  PowerCalibration{WattsLow: 0, WattsHigh: 1500, MillivoltsLow: 0, MillivoltsHigh: 3300},
		Driver:  PowerCalibration{WattsLow: 0, WattsHigh: 100, MillivoltsLow: 0, MillivoltsHigh: 3300},
	}
}

// Entry returns the calibration for a point. Both directions share the
// same entry.
func (t Table) Entry(p Point, _ Direction) PowerCalibration {
	switch p {
	case PointAntenna:
		return t.Antenna
	case PointFilter:
		return t.Filter
	default:
		return t.Driver
	}
}

// Validate returns a *RangeError for the first unusable entry
func (t Table) Validate() error {
	for _, p := range Points {
		if reason := t.Entry(p, Forward).validate(); reason != "" {
			return &RangeError{Point: p, Reason: reason}
		}
	}
	return nil
}

// Parse decodes and validates a YAML calibration table
func Parse(data []byte) (Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, fmt.Errorf("failed to parse calibration: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Table{}, err
	}
	return t, nil
}

// Load reads a YAML calibration table from disk
func Load(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("failed to read calibration file: %w", err)
	}
	return Parse(data)
}
