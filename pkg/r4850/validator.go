// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package r4850

import "fmt"

// AnomalyType represents different kinds of implausible telemetry
type AnomalyType int

const (
	AnomalyEfficiency AnomalyType = iota
	AnomalyTemperature
	AnomalyFrequency
)

// ValidationError represents a telemetry plausibility failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// Plausible ranges of the rectifier's reports
const (
	minTemperature = -40.0
	maxTemperature = 125.0
	maxEfficiency  = 1.0
	minFrequency   = 40.0
	maxFrequency   = 70.0
)

// ValidateTelemetry checks a decoded telemetry value for plausibility.
// Returns an empty slice for valid values and for non-telemetry messages.
func ValidateTelemetry(d Decoded) []ValidationError {
	errors := []ValidationError{}
	if d.Kind != KindTelemetry {
		return errors
	}

	switch d.Field {
	case FieldInputTemperature, FieldOutputTemperature:
		if d.Value < minTemperature || d.Value > maxTemperature {
			errors = append(errors, ValidationError{
				Type:    AnomalyTemperature,
				Message: fmt.Sprintf("%s out of range (%.1f°C, valid: %.0f to %.0f°C)", d.Field, d.Value, minTemperature, maxTemperature),
				Details: map[string]interface{}{"value": d.Value, "min": minTemperature, "max": maxTemperature},
			})
		}

	case FieldEfficiency:
		if d.Value > maxEfficiency {
			errors = append(errors, ValidationError{
				Type:    AnomalyEfficiency,
				Message: fmt.Sprintf("efficiency above 100%% (%.3f)", d.Value),
				Details: map[string]interface{}{"value": d.Value, "max": maxEfficiency},
			})
		}

	case FieldInputFrequency:
		// zero is reported while the module runs without AC input
		if d.Value != 0 && (d.Value < minFrequency || d.Value > maxFrequency) {
			errors = append(errors, ValidationError{
				Type:    AnomalyFrequency,
				Message: fmt.Sprintf("input frequency out of range (%.1f Hz, valid: %.0f to %.0f Hz)", d.Value, minFrequency, maxFrequency),
				Details: map[string]interface{}{"value": d.Value, "min": minFrequency, "max": maxFrequency},
			})
		}
	}

	return errors
}
