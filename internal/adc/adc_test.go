// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package adc

import (
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/Thermoquad/amplistat/pkg/pwrswr"
)

// ============================================================
// MCP3208 Tests
// ============================================================

// fakeSPI answers each conversion with codes[channel]
type fakeSPI struct {
	codes  [8]uint16
	writes [][]byte
	err    error
}

func (f *fakeSPI) Tx(w, r []byte) error {
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, append([]byte(nil), w...))
	ch := int(w[0]&0x01)<<2 | int(w[1]>>6)
	code := f.codes[ch]
	r[0] = 0xFF
	r[1] = 0xE0 | byte(code>>8)
	r[2] = byte(code)
	return nil
}

func TestMCP3208_ReadChannel(t *testing.T) {
	spi := &fakeSPI{}
	spi.codes[5] = 0xABC
	adc := NewMCP3208(spi, 3300)

	code, err := adc.ReadChannel(5)
	if err != nil {
		t.Fatalf("ReadChannel() = %v", err)
	}
	if code != 0xABC {
		t.Errorf("code = 0x%X, want 0xABC", code)
	}
	want := []byte{0x07, 0x40, 0x00}
	if got := spi.writes[0]; got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("command = % X, want % X", got, want)
	}

	if _, err := adc.ReadChannel(8); err == nil {
		t.Error("ReadChannel(8) = nil error")
	}
}

func TestMCP3208_Read(t *testing.T) {
	spi := &fakeSPI{}
	for ch := 0; ch < int(pwrswr.NumChannels); ch++ {
		spi.codes[ch] = uint16(ch * 512)
	}
	adc := NewMCP3208(spi, 4096)

	s, err := adc.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() = %v", err)
	}
	for ch := range s {
		if want := float64(ch * 512); math.Abs(s[ch]-want) > 1e-9 {
			t.Errorf("channel %d = %v mV, want %v", ch, s[ch], want)
		}
	}
	if len(spi.writes) != int(pwrswr.NumChannels) {
		t.Errorf("%d conversions, want %d", len(spi.writes), pwrswr.NumChannels)
	}
}

func TestMCP3208_ReadError(t *testing.T) {
	busErr := errors.New("bus fault")
	adc := NewMCP3208(&fakeSPI{err: busErr}, 3300)
	if _, err := adc.Read(context.Background()); !errors.Is(err, busErr) {
		t.Errorf("Read() = %v, want bus fault", err)
	}
	if err := adc.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

// ============================================================
// Replay Tests
// ============================================================

func TestReplay(t *testing.T) {
	log := `flt_rev,flt_fwd,ant_rev,ant_fwd,in_rev,in_fwd
# warm up
1,2,3,4,5,6
10, 20, 30, 40, 50, 60
`
	rp := NewReplay(strings.NewReader(log))
	ctx := context.Background()

	s, err := rp.Read(ctx)
	if err != nil {
		t.Fatalf("first Read() = %v", err)
	}
	if s != (pwrswr.Samples{1, 2, 3, 4, 5, 6}) {
		t.Errorf("first record = %v", s)
	}
	s, err = rp.Read(ctx)
	if err != nil || s[pwrswr.InputForward] != 60 {
		t.Errorf("second Read() = %v, %v", s, err)
	}
	if _, err := rp.Read(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Read() at end = %v, want EOF", err)
	}
}

func TestReplay_Errors(t *testing.T) {
	tests := []struct {
		name string
		log  string
	}{
		{"short record", "1,2,3\n"},
		{"bad value", "1,2,3,4,5,6\n1,2,x,4,5,6\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rp := NewReplay(strings.NewReader(tt.log))
			var err error
			for err == nil {
				_, err = rp.Read(context.Background())
			}
			if errors.Is(err, io.EOF) {
				t.Error("reached EOF without an error")
			}
		})
	}
}

func TestReplay_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rp := NewReplay(strings.NewReader("1,2,3,4,5,6\n"))
	if _, err := rp.Read(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Read() = %v, want context.Canceled", err)
	}
}
