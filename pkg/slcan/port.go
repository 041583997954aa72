// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package slcan

import (
	"fmt"
	"io"
	"sync"
)

// DecodeError wraps a malformed line; reading may continue after it
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "slcan: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Port speaks SLCAN over a byte stream (serial port or bridge connection)
type Port struct {
	rw      io.ReadWriter
	decoder *Decoder
	buf     []byte
	pending []result
	readErr error
	mu      sync.Mutex // serializes writes
}

// result is one decoded line, kept in arrival order
type result struct {
	frame *Frame
	err   error
}

// NewPort wraps a byte stream
func NewPort(rw io.ReadWriter) *Port {
	return &Port{
		rw:      rw,
		decoder: NewDecoder(),
		buf:     make([]byte, 128),
	}
}

func (p *Port) write(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.rw.Write(data)
	return err
}

// Open closes any open channel, sets the bitrate and opens the channel
func (p *Port) Open(bitrate int) error {
	rate, err := BitrateCommand(bitrate)
	if err != nil {
		return err
	}
	for _, cmd := range [][]byte{{CmdClose, RespOK}, rate, {CmdOpen, RespOK}} {
		if err := p.write(cmd); err != nil {
			return fmt.Errorf("slcan setup %q failed: %w", cmd[0], err)
		}
	}
	return nil
}

// Close closes the CAN channel. The underlying stream stays open.
func (p *Port) Close() error {
	return p.write([]byte{CmdClose, RespOK})
}

// WriteFrame transmits one frame
func (p *Port) WriteFrame(f Frame) error {
	line, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	return p.write(line)
}

// ReadFrame blocks until a frame is decoded. A malformed line is returned
// as *DecodeError and the next call continues with the following bytes.
// Lines decoded before a read error are delivered before the error.
func (p *Port) ReadFrame() (*Frame, error) {
	for {
		if len(p.pending) > 0 {
			r := p.pending[0]
			p.pending = p.pending[1:]
			if r.err != nil {
				return nil, &DecodeError{Err: r.err}
			}
			return r.frame, nil
		}
		if p.readErr != nil {
			err := p.readErr
			p.readErr = nil
			return nil, err
		}

		n, err := p.rw.Read(p.buf)
		p.readErr = err

		for i := 0; i < n; i++ {
			frame, derr := p.decoder.DecodeByte(p.buf[i])
			switch {
			case derr != nil:
				p.pending = append(p.pending, result{err: derr})
			case frame != nil:
				p.pending = append(p.pending, result{frame: frame})
			}
		}
	}
}
