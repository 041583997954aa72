// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package r4850

import (
	"fmt"
	"time"
)

// Statistics tracks bus traffic and exchange results of a session
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Received frames
	TotalFrames  uint64
	Telemetry    uint64
	SetAcks      uint64
	Presence     uint64
	Unrecognized uint64
	Malformed    uint64
	Anomalies    uint64

	// Exchanges
	StatusRequests uint64
	SetRequests    uint64
	Successes      uint64
	Timeouts       uint64
	SetRejects     uint64
	BusyRejections uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics(now time.Time) *Statistics {
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update counts one received frame and its validation result
func (s *Statistics) Update(d Decoded, anomalies []ValidationError, now time.Time) {
	s.TotalFrames++

	switch d.Kind {
	case KindTelemetry:
		s.Telemetry++
	case KindSetAck:
		s.SetAcks++
	case KindPresence:
		s.Presence++
	case KindMalformed:
		s.Malformed++
	default:
		s.Unrecognized++
	}
	s.Anomalies += uint64(len(anomalies))

	s.LastUpdateTime = now
}

// CalculateRates calculates frame and error rates up to now
func (s *Statistics) CalculateRates(now time.Time) {
	elapsed := now.Sub(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		errorCount := s.Malformed + s.Anomalies + s.Timeouts + s.SetRejects
		s.ErrorRate = float64(errorCount) / elapsed
	}
}

// String returns a formatted statistics summary. Call CalculateRates first
// for current rates.
func (s *Statistics) String() string {
	var telemetryPercent, malformedPercent, unrecognizedPercent float64
	if s.TotalFrames > 0 {
		telemetryPercent = float64(s.Telemetry) * 100.0 / float64(s.TotalFrames)
		malformedPercent = float64(s.Malformed) * 100.0 / float64(s.TotalFrames)
		unrecognizedPercent = float64(s.Unrecognized) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := s.LastUpdateTime.Sub(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Telemetry:       %8d (%.1f%%)\n", s.Telemetry, telemetryPercent)
	result += fmt.Sprintf("Set Acks:        %8d\n", s.SetAcks)
	result += fmt.Sprintf("Presence:        %8d\n", s.Presence)

	if s.Unrecognized > 0 {
		result += fmt.Sprintf("Unrecognized:    %8d (%.1f%%)\n", s.Unrecognized, unrecognizedPercent)
	}
	if s.Malformed > 0 {
		result += fmt.Sprintf("Malformed:       %8d (%.1f%%)\n", s.Malformed, malformedPercent)
	}
	if s.Anomalies > 0 {
		result += fmt.Sprintf("Anomalous Values:%8d\n", s.Anomalies)
	}

	result += fmt.Sprintf("Requests:        %8d status, %d set\n", s.StatusRequests, s.SetRequests)
	result += fmt.Sprintf("Successes:       %8d\n", s.Successes)
	if s.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d\n", s.Timeouts)
	}
	if s.SetRejects > 0 {
		result += fmt.Sprintf("Set Rejected:    %8d\n", s.SetRejects)
	}
	if s.BusyRejections > 0 {
		result += fmt.Sprintf("Busy Rejections: %8d\n", s.BusyRejections)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}
