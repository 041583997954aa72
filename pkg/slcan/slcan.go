// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package slcan implements the Lawicel SLCAN ASCII protocol spoken by
// serial USB-CAN adapters (CANable, USBtin, CAN232 and friends).
//
// Frames look like
//
//	T1081407F80175000000003500\r   extended id, dlc 8, data
//	t12380102030405060708\r        standard id
//
// Adapter replies to commands are \r (ok) or \a (error).
package slcan

import (
	"errors"
	"fmt"
	"time"
)

// Protocol characters
const (
	CmdExtended   = 'T'
	CmdStandard   = 't'
	CmdOpen       = 'O'
	CmdClose      = 'C'
	CmdBitrate    = 'S'
	RespOK        = '\r'
	RespError     = '\a'
	RespTxAckStd  = 'z'
	RespTxAckExt  = 'Z'
	MaxDataLen    = 8
	extendedIDLen = 8
	standardIDLen = 3
	timestampLen  = 4
)

// Identifier limits
const (
	MaxStandardID = 0x7FF
	MaxExtendedID = 0x1FFFFFFF
)

// Bitrates selectable with the S command
var bitrates = map[int]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

// ErrUnsupportedBitrate is returned for a bitrate without an S code
var ErrUnsupportedBitrate = errors.New("unsupported CAN bitrate")

// Frame is a classic CAN data frame
type Frame struct {
	ID        uint32
	Extended  bool
	Data      []byte
	Timestamp time.Time
}

// String returns the frame in candump style
func (f Frame) String() string {
	if f.Extended {
		return fmt.Sprintf("%08X#% X", f.ID, f.Data)
	}
	return fmt.Sprintf("%03X#% X", f.ID, f.Data)
}

// Decoder states (internal)
const (
	stateIdle = iota
	stateID
	stateDLC
	stateData
	stateTail
)

// Decoder turns the adapter's byte stream into frames
type Decoder struct {
	state    int
	extended bool
	idLen    int
	digits   int
	nibbles  []byte
	frame    *Frame
}

// NewDecoder creates a new SLCAN decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:   stateIdle,
		nibbles: make([]byte, 0, 2*MaxDataLen+timestampLen),
	}
}

// Reset resets the decoder state to idle
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.digits = 0
	d.nibbles = d.nibbles[:0]
	d.frame = nil
}

func hexValue(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	}
	return 0, false
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed frame, or nil if the frame is incomplete.
// Returns an error if the line is not a valid frame.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	// Frame start always resynchronizes
	if b == CmdExtended || b == CmdStandard {
		d.Reset()
		d.extended = b == CmdExtended
		d.idLen = standardIDLen
		if d.extended {
			d.idLen = extendedIDLen
		}
		d.frame = &Frame{Extended: d.extended}
		d.state = stateID
		return nil, nil
	}

	if b == RespOK {
		if d.state == stateIdle {
			return nil, nil
		}
		return d.finish()
	}

	switch d.state {
	case stateIdle:
		// command replies and anything else between frames
		return nil, nil

	case stateID:
		v, ok := hexValue(b)
		if !ok {
			d.Reset()
			return nil, fmt.Errorf("invalid id character 0x%02X", b)
		}
		d.frame.ID = d.frame.ID<<4 | uint32(v)
		d.digits++
		if d.digits == d.idLen {
			d.state = stateDLC
		}
		return nil, nil

	case stateDLC:
		v, ok := hexValue(b)
		if !ok || v > MaxDataLen {
			d.Reset()
			return nil, fmt.Errorf("invalid dlc character 0x%02X", b)
		}
		d.frame.Data = make([]byte, 0, v)
		d.digits = int(v) * 2
		if v == 0 {
			d.state = stateTail
		} else {
			d.state = stateData
		}
		return nil, nil

	case stateData, stateTail:
		if _, ok := hexValue(b); !ok {
			d.Reset()
			return nil, fmt.Errorf("invalid data character 0x%02X", b)
		}
		if len(d.nibbles) >= cap(d.nibbles) {
			d.Reset()
			return nil, fmt.Errorf("line too long")
		}
		d.nibbles = append(d.nibbles, b)
		if d.state == stateData && len(d.nibbles) == d.digits {
			d.state = stateTail
		}
		return nil, nil

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid state: %d", d.state)
	}
}

// finish validates the collected line once the terminating \r arrives
func (d *Decoder) finish() (*Frame, error) {
	defer d.Reset()

	if d.state != stateTail {
		return nil, fmt.Errorf("truncated frame in state %d", d.state)
	}
	// optional timestamp field
	extra := len(d.nibbles) - d.digits
	if extra != 0 && extra != timestampLen {
		return nil, fmt.Errorf("unexpected %d trailing characters", extra)
	}

	frame := d.frame
	for i := 0; i < d.digits; i += 2 {
		hi, _ := hexValue(d.nibbles[i])
		lo, _ := hexValue(d.nibbles[i+1])
		frame.Data = append(frame.Data, hi<<4|lo)
	}
	if frame.Extended && frame.ID > MaxExtendedID {
		return nil, fmt.Errorf("extended id 0x%X out of range", frame.ID)
	}
	if !frame.Extended && frame.ID > MaxStandardID {
		return nil, fmt.Errorf("standard id 0x%X out of range", frame.ID)
	}
	frame.Timestamp = time.Now()
	return frame, nil
}

// EncodeFrame formats a frame as an SLCAN transmit command
func EncodeFrame(f Frame) ([]byte, error) {
	if len(f.Data) > MaxDataLen {
		return nil, fmt.Errorf("frame data too long: %d bytes (max %d)", len(f.Data), MaxDataLen)
	}

	var line string
	if f.Extended {
		if f.ID > MaxExtendedID {
			return nil, fmt.Errorf("extended id 0x%X out of range", f.ID)
		}
		line = fmt.Sprintf("%c%08X%d", CmdExtended, f.ID, len(f.Data))
	} else {
		if f.ID > MaxStandardID {
			return nil, fmt.Errorf("standard id 0x%X out of range", f.ID)
		}
		line = fmt.Sprintf("%c%03X%d", CmdStandard, f.ID, len(f.Data))
	}
	for _, b := range f.Data {
		line += fmt.Sprintf("%02X", b)
	}
	line += string(rune(RespOK))
	return []byte(line), nil
}

// BitrateCommand returns the S command for a bitrate in bit/s
func BitrateCommand(bitrate int) ([]byte, error) {
	code, ok := bitrates[bitrate]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBitrate, bitrate)
	}
	return []byte{CmdBitrate, code, RespOK}, nil
}
