// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package r4850

// Status holds the latest value received for each telemetry field.
// Fields keep their previous value until a new report overwrites them.
type Status struct {
	InputPower        float64 `json:"input_power" cbor:"1,keyasint"`
	InputFrequency    float64 `json:"input_frequency" cbor:"2,keyasint"`
	InputCurrent      float64 `json:"input_current" cbor:"3,keyasint"`
	InputVoltage      float64 `json:"input_voltage" cbor:"4,keyasint"`
	InputTemperature  float64 `json:"input_temperature" cbor:"5,keyasint"`
	OutputPower       float64 `json:"output_power" cbor:"6,keyasint"`
	OutputCurrent     float64 `json:"output_current" cbor:"7,keyasint"`
	OutputVoltage     float64 `json:"output_voltage" cbor:"8,keyasint"`
	OutputCurrentMax  float64 `json:"output_current_max" cbor:"9,keyasint"`
	OutputTemperature float64 `json:"output_temperature" cbor:"10,keyasint"`
	Efficiency        float64 `json:"efficiency" cbor:"11,keyasint"`
}

// field returns a pointer to the struct member holding f, or nil
func (s *Status) field(f Field) *float64 {
	switch f {
	case FieldInputPower:
		return &s.InputPower
	case FieldInputFrequency:
		return &s.InputFrequency
	case FieldInputCurrent:
		return &s.InputCurrent
	case FieldInputVoltage:
		return &s.InputVoltage
	case FieldInputTemperature:
		return &s.InputTemperature
	case FieldOutputPower:
		return &s.OutputPower
	case FieldOutputCurrent:
		return &s.OutputCurrent
	case FieldOutputVoltage:
		return &s.OutputVoltage
	case FieldOutputCurrentMax:
		return &s.OutputCurrentMax
	case FieldOutputTemperature:
		return &s.OutputTemperature
	case FieldEfficiency:
		return &s.Efficiency
	}
	return nil
}

// Apply stores a telemetry value. Unknown fields are ignored and reported
// as false.
func (s *Status) Apply(f Field, value float64) bool {
	p := s.field(f)
	if p == nil {
		return false
	}
	*p = value
	return true
}

// Get returns the stored value of a field
func (s Status) Get(f Field) (float64, bool) {
	p := s.field(f)
	if p == nil {
		return 0, false
	}
	return *p, true
}
