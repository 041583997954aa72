// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package controller

import (
	"context"
	"errors"

	"github.com/Thermoquad/amplistat/pkg/r4850"
	"github.com/Thermoquad/amplistat/pkg/slcan"
	"github.com/sirupsen/logrus"
)

// FrameWriter is implemented by *slcan.Port
type FrameWriter interface {
	WriteFrame(f slcan.Frame) error
}

// FrameReader is implemented by *slcan.Port
type FrameReader interface {
	ReadFrame() (*slcan.Frame, error)
}

// BusTransmitter sends session messages as extended CAN frames
type BusTransmitter struct {
	W FrameWriter
}

func (b BusTransmitter) Send(m r4850.Message) error {
	return b.W.WriteFrame(slcan.Frame{ID: m.ID, Extended: true, Data: m.Data})
}

// Receive pumps frames from the bus into the session until the reader
// fails or ctx is done. ReadFrame blocks, so callers cancel by closing the
// underlying connection as well. Malformed lines are skipped.
func Receive(ctx context.Context, r FrameReader, s *r4850.Session, log *logrus.Logger) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		frame, err := r.ReadFrame()
		if err != nil {
			var decodeErr *slcan.DecodeError
			if errors.As(err, &decodeErr) {
				log.Debugf("bus: %v", err)
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !frame.Extended {
			log.WithField("id", frame.ID).Trace("standard frame ignored")
			continue
		}
		s.HandleMessage(r4850.Message{ID: frame.ID, Data: frame.Data})
	}
}
