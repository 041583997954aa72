// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package adc

import (
	"context"
	"fmt"

	"github.com/Thermoquad/amplistat/pkg/pwrswr"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"
)

// MCP3208 resolution
const (
	mcp3208Bits  = 12
	mcp3208Codes = 1 << mcp3208Bits
)

// Transferer is the part of spi.Conn the converter needs
type Transferer interface {
	Tx(w, r []byte) error
}

// MCP3208 reads the bridge detectors wired to channels 0-5 in the order of
// pwrswr.Channel
type MCP3208 struct {
	conn   Transferer
	port   spi.PortCloser
	vrefMv float64
}

// NewMCP3208 uses an already connected SPI device
func NewMCP3208(conn Transferer, vrefMv float64) *MCP3208 {
	return &MCP3208{conn: conn, vrefMv: vrefMv}
}

// OpenMCP3208 initializes the host drivers and opens the SPI port by name
// ("" selects the first port)
func OpenMCP3208(portName string, speedHz int64, vrefMv float64) (*MCP3208, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init failed: %w", err)
	}

	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %q: %w", portName, err)
	}

	conn, err := port.Connect(physic.Frequency(speedHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to configure SPI port %q: %w", portName, err)
	}

	m := NewMCP3208(conn, vrefMv)
	m.port = port
	return m, nil
}

// ReadChannel returns the raw 12-bit conversion of a single ended channel
func (m *MCP3208) ReadChannel(ch int) (uint16, error) {
	if ch < 0 || ch > 7 {
		return 0, fmt.Errorf("invalid MCP3208 channel %d", ch)
	}
	// start bit, single ended, channel D2..D0
	write := []byte{0x06 | byte(ch>>2), byte(ch&0x03) << 6, 0x00}
	read := make([]byte, len(write))
	if err := m.conn.Tx(write, read); err != nil {
		return 0, fmt.Errorf("SPI transfer on channel %d failed: %w", ch, err)
	}
	return uint16(read[1]&0x0F)<<8 | uint16(read[2]), nil
}

// Read converts all detector channels to millivolts
func (m *MCP3208) Read(ctx context.Context) (pwrswr.Samples, error) {
	var s pwrswr.Samples
	for ch := range s {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		code, err := m.ReadChannel(ch)
		if err != nil {
			return s, err
		}
		s[ch] = float64(code) * m.vrefMv / mcp3208Codes
	}
	return s, nil
}

func (m *MCP3208) Close() error {
	if m.port == nil {
		return nil
	}
	return m.port.Close()
}
