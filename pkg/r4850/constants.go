// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package r4850 implements the CAN protocol of the Huawei R4850G2 rectifier
// used as the amplifier's high voltage supply.
//
// The package provides message encoding/decoding, the status snapshot and a
// non-blocking request/response session that polls and commands the module.
// Framing below the 29-bit identifier and eight data bytes is left to the
// transport (see package slcan).
package r4850

import "fmt"

// Frame identifiers (extended 29-bit CAN ids)
const (
	IDRequestStatus  uint32 = 0x108040FE
	IDPresent        uint32 = 0x100011FE
	IDSetCommand     uint32 = 0x108180FE
	IDSetResponse    uint32 = 0x1081807E
	IDStatusResponse uint32 = 0x1081407F
)

// FrameLen is the data length of every request, command and response frame
const FrameLen = 8

// fieldMask selects the report identifier from the first four data bytes
const fieldMask = 0xFFFF0000

// Value scaling of the rectifier's fixed point encoding
const (
	scaleDefault    = 1024.0
	scaleCurrentMax = 20.0
	scaleCurrent    = 20.0
	scaleVoltage    = 1024.0
)

// Field is a telemetry report identifier carried in a status response
type Field uint32

// Telemetry report identifiers
const (
	FieldInputPower        Field = 0x01700000
	FieldInputFrequency    Field = 0x01710000
	FieldInputCurrent      Field = 0x01720000
	FieldOutputPower       Field = 0x01730000
	FieldEfficiency        Field = 0x01740000
	FieldOutputVoltage     Field = 0x01750000
	FieldOutputCurrentMax  Field = 0x01760000
	FieldInputVoltage      Field = 0x01780000
	FieldOutputTemperature Field = 0x017F0000
	FieldInputTemperature  Field = 0x01800000
	FieldOutputCurrent     Field = 0x01810000
)

// Fields lists every telemetry report of a full status cycle
var Fields = []Field{
	FieldInputPower,
	FieldInputFrequency,
	FieldInputCurrent,
	FieldOutputPower,
	FieldEfficiency,
	FieldOutputVoltage,
	FieldOutputCurrentMax,
	FieldInputVoltage,
	FieldOutputTemperature,
	FieldInputTemperature,
	FieldOutputCurrent,
}

// Valid reports whether f is one of the known report identifiers
func (f Field) Valid() bool {
	_, ok := fieldNames[f]
	return ok
}

// scale returns the fixed point divisor of a field
func (f Field) scale() float64 {
	if f == FieldOutputCurrentMax {
		return scaleCurrentMax
	}
	return scaleDefault
}

// signed reports whether a field is a two's complement value
func (f Field) signed() bool {
	return f == FieldInputTemperature || f == FieldOutputTemperature
}

var fieldNames = map[Field]string{
	FieldInputPower:        "input_power",
	FieldInputFrequency:    "input_frequency",
	FieldInputCurrent:      "input_current",
	FieldOutputPower:       "output_power",
	FieldEfficiency:        "efficiency",
	FieldOutputVoltage:     "output_voltage",
	FieldOutputCurrentMax:  "output_current_max",
	FieldInputVoltage:      "input_voltage",
	FieldOutputTemperature: "output_temperature",
	FieldInputTemperature:  "input_temperature",
	FieldOutputCurrent:     "output_current",
}

func (f Field) String() string {
	if name, ok := fieldNames[f]; ok {
		return name
	}
	return fmt.Sprintf("field(0x%08X)", uint32(f))
}

// ParseField resolves a field name as returned by Field.String
func ParseField(name string) (Field, error) {
	for f, n := range fieldNames {
		if n == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown telemetry field %q", name)
}

// Setting selects the parameter written by a set command
type Setting uint8

// Settable parameters
const (
	SetOnlineOutputVoltage  Setting = 0x00
	SetOfflineOutputVoltage Setting = 0x01
	SetOVP                  Setting = 0x02
	SetOnlineCurrentLimit   Setting = 0x03
	SetOfflineCurrentLimit  Setting = 0x04
)

// Settings lists every settable parameter
var Settings = []Setting{
	SetOnlineOutputVoltage,
	SetOfflineOutputVoltage,
	SetOVP,
	SetOnlineCurrentLimit,
	SetOfflineCurrentLimit,
}

type settingInfo struct {
	name  string
	unit  string
	scale float64
	min   float64
	max   float64
}

// Limits from the R4850G2 datasheet
var settingInfos = map[Setting]settingInfo{
	SetOnlineOutputVoltage:  {"online_voltage", "V", scaleVoltage, 41.5, 58.5},
	SetOfflineOutputVoltage: {"offline_voltage", "V", scaleVoltage, 41.5, 58.5},
	SetOVP:                  {"ovp", "V", scaleVoltage, 41.5, 60.0},
	SetOnlineCurrentLimit:   {"online_current", "A", scaleCurrent, 0, 50.0},
	SetOfflineCurrentLimit:  {"offline_current", "A", scaleCurrent, 0, 50.0},
}

// Valid reports whether s is a known setting
func (s Setting) Valid() bool {
	_, ok := settingInfos[s]
	return ok
}

// Unit returns "V" or "A"
func (s Setting) Unit() string {
	return settingInfos[s].unit
}

// Range returns the accepted value range of a setting
func (s Setting) Range() (min, max float64) {
	info := settingInfos[s]
	return info.min, info.max
}

func (s Setting) String() string {
	if info, ok := settingInfos[s]; ok {
		return info.name
	}
	return fmt.Sprintf("setting(%d)", uint8(s))
}

// ParseSetting resolves a setting name as returned by Setting.String
func ParseSetting(name string) (Setting, error) {
	for _, s := range Settings {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown setting %q", name)
}
