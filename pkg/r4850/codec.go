// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package r4850

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrValueOutOfRange is returned when a set value is outside the module's limits
var ErrValueOutOfRange = errors.New("value out of range")

// ErrUnknownSetting is returned for a setting selector the module does not know
var ErrUnknownSetting = errors.New("unknown setting")

// Message is a single CAN frame: identifier plus up to eight data bytes
type Message struct {
	ID   uint32
	Data []byte
}

// Kind classifies a decoded message
type Kind int

const (
	KindUnrecognized Kind = iota
	KindTelemetry
	KindSetAck
	KindPresence
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindTelemetry:
		return "TELEMETRY"
	case KindSetAck:
		return "SET_ACK"
	case KindPresence:
		return "PRESENCE"
	case KindMalformed:
		return "MALFORMED"
	default:
		return "UNRECOGNIZED"
	}
}

// Decoded is the result of Decode. Which fields are meaningful depends on Kind:
//   - KindTelemetry: Field, Value
//   - KindSetAck: Setting, AckOK
//   - KindMalformed: Reason
type Decoded struct {
	Kind    Kind
	ID      uint32
	Field   Field
	Value   float64
	Setting Setting
	AckOK   bool
	Reason  string
}

// EncodeRequest builds the frame asking the module to report its full status
func EncodeRequest() Message {
	return Message{ID: IDRequestStatus, Data: make([]byte, FrameLen)}
}

// EncodeSet builds a set command. Values are in volts or amps and are
// checked against the module's limits.
func EncodeSet(setting Setting, value float64) (Message, error) {
	info, ok := settingInfos[setting]
	if !ok {
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownSetting, uint8(setting))
	}
	if math.IsNaN(value) || value < info.min || value > info.max {
		return Message{}, fmt.Errorf("%w: %s %.2f%s (valid %.1f-%.1f)",
			ErrValueOutOfRange, setting, value, info.unit, info.min, info.max)
	}

	data := make([]byte, FrameLen)
	data[0] = 0x01
	data[1] = byte(setting)
	binary.BigEndian.PutUint32(data[4:], uint32(math.Round(value*info.scale)))
	return Message{ID: IDSetCommand, Data: data}, nil
}

// Decode classifies a received frame. It never fails: identifiers outside
// the protocol are KindUnrecognized, known frames with a bad payload are
// KindMalformed.
func Decode(m Message) Decoded {
	d := Decoded{ID: m.ID}

	switch m.ID {
	case IDStatusResponse:
		if len(m.Data) != FrameLen {
			d.Kind = KindMalformed
			d.Reason = fmt.Sprintf("status response length %d (expected %d)", len(m.Data), FrameLen)
			return d
		}
		field := Field(binary.BigEndian.Uint32(m.Data[0:4]) & fieldMask)
		if !field.Valid() {
			d.Kind = KindUnrecognized
			d.Field = field
			return d
		}
		d.Kind = KindTelemetry
		d.Field = field
		raw := binary.BigEndian.Uint32(m.Data[4:8])
		if field.signed() {
			d.Value = float64(int32(raw)) / field.scale()
		} else {
			d.Value = float64(raw) / field.scale()
		}
		return d

	case IDSetResponse:
		if len(m.Data) != FrameLen {
			d.Kind = KindMalformed
			d.Reason = fmt.Sprintf("set response length %d (expected %d)", len(m.Data), FrameLen)
			return d
		}
		d.Kind = KindSetAck
		d.Setting = Setting(m.Data[1])
		d.AckOK = m.Data[0]&0x20 == 0
		return d

	case IDPresent:
		d.Kind = KindPresence
		return d

	default:
		d.Kind = KindUnrecognized
		return d
	}
}
