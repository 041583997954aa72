// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package r4850

import (
	"fmt"
	"strings"
	"time"
)

// FormatMessage formats a received frame into a human-readable string
func FormatMessage(m Message, ts time.Time) string {
	d := Decode(m)
	result := fmt.Sprintf("[%s] %s (0x%08X) len=%d\n", ts.Format("15:04:05.000"), FormatID(m.ID), m.ID, len(m.Data))
	result += FormatDecoded(d)
	return result
}

// FormatID returns the human-readable name for a frame identifier
func FormatID(id uint32) string {
	switch id {
	case IDRequestStatus:
		return "REQUEST_STATUS"
	case IDPresent:
		return "PRESENT"
	case IDSetCommand:
		return "SET_COMMAND"
	case IDSetResponse:
		return "SET_RESPONSE"
	case IDStatusResponse:
		return "STATUS_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// FormatDecoded formats the payload of a decoded frame
func FormatDecoded(d Decoded) string {
	switch d.Kind {
	case KindTelemetry:
		return fmt.Sprintf("  %s: %s\n", d.Field, formatValue(d.Field, d.Value))
	case KindSetAck:
		result := "OK"
		if !d.AckOK {
			result = "\033[1;31mREJECTED\033[0m"
		}
		return fmt.Sprintf("  Setting: %s, Result: %s\n", d.Setting, result)
	case KindPresence:
		return "  (module present)\n"
	case KindMalformed:
		return fmt.Sprintf("  \033[1;33mMALFORMED:\033[0m %s\n", d.Reason)
	default:
		if d.ID == IDStatusResponse {
			return fmt.Sprintf("  unknown report 0x%08X\n", uint32(d.Field))
		}
		return ""
	}
}

// formatValue appends the unit of a telemetry field
func formatValue(f Field, v float64) string {
	switch f {
	case FieldInputPower, FieldOutputPower:
		return fmt.Sprintf("%.1f W", v)
	case FieldInputFrequency:
		return fmt.Sprintf("%.2f Hz", v)
	case FieldInputCurrent, FieldOutputCurrent, FieldOutputCurrentMax:
		return fmt.Sprintf("%.2f A", v)
	case FieldInputVoltage, FieldOutputVoltage:
		return fmt.Sprintf("%.2f V", v)
	case FieldInputTemperature, FieldOutputTemperature:
		return fmt.Sprintf("%.1f°C", v)
	case FieldEfficiency:
		return fmt.Sprintf("%.1f%%", v*100)
	default:
		return fmt.Sprintf("%.3f", v)
	}
}

// FormatStatus formats a full status snapshot, one field per line
func FormatStatus(s Status) string {
	var b strings.Builder
	for _, f := range Fields {
		v, _ := s.Get(f)
		fmt.Fprintf(&b, "  %-20s %s\n", f.String()+":", formatValue(f, v))
	}
	return b.String()
}
