// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package controller runs the amplifier control loop: it samples the power
// bridges, feeds the power/SWR engine, drives the power supply session and
// exports the results.
package controller

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/Thermoquad/amplistat/internal/adc"
	"github.com/Thermoquad/amplistat/internal/metrics"
	"github.com/Thermoquad/amplistat/internal/publish"
	"github.com/Thermoquad/amplistat/pkg/calibration"
	"github.com/Thermoquad/amplistat/pkg/pwrswr"
	"github.com/Thermoquad/amplistat/pkg/r4850"
	"github.com/sirupsen/logrus"
)

// silentPolls is the number of poll intervals without a frame after which
// the power supply is reported as silent
const silentPolls = 3

// Options wires a controller. Publisher and Metrics are optional.
type Options struct {
	Engine    *pwrswr.Engine
	Session   *r4850.Session
	Source    adc.Source
	Publisher publish.Publisher
	Metrics   *metrics.Metrics
	Log       *logrus.Logger

	SWRTrip        float64
	PollInterval   time.Duration
	SampleInterval time.Duration

	// Now defaults to time.Now
	Now func() time.Time
}

type Controller struct {
	engine    *pwrswr.Engine
	session   *r4850.Session
	source    adc.Source
	publisher publish.Publisher
	metrics   *metrics.Metrics
	log       *logrus.Logger

	swrTrip        float64
	pollInterval   time.Duration
	sampleInterval time.Duration
	now            func() time.Time

	mu          sync.Mutex
	lastPoll    time.Time
	watchStatus bool
	watchSet    bool
	silent      bool
	tripped     map[calibration.Point]bool
}

func New(o Options) *Controller {
	c := &Controller{
		engine:         o.Engine,
		session:        o.Session,
		source:         o.Source,
		publisher:      o.Publisher,
		metrics:        o.Metrics,
		log:            o.Log,
		swrTrip:        o.SWRTrip,
		pollInterval:   o.PollInterval,
		sampleInterval: o.SampleInterval,
		now:            o.Now,
		tripped:        make(map[calibration.Point]bool, len(calibration.Points)),
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	return c
}

// Engine returns the power/SWR engine
func (c *Controller) Engine() *pwrswr.Engine {
	return c.engine
}

// Session returns the power supply session
func (c *Controller) Session() *r4850.Session {
	return c.session
}

// Cycle runs one sampling cycle: read samples, compute every point, enforce
// session deadlines, then export the results. The snapshot is returned even
// when publishing fails.
func (c *Controller) Cycle(ctx context.Context) (publish.Snapshot, error) {
	start := c.now()

	samples, err := c.source.Read(ctx)
	if err != nil {
		if c.metrics != nil && !errors.Is(err, io.EOF) {
			c.metrics.ObserveSampleError()
		}
		return publish.Snapshot{}, err
	}

	c.engine.Compute(samples)
	c.session.Tick()
	c.observeOutcomes()

	readings := c.engine.Readings()
	tripped := c.updateTrips()

	snap := publish.NewSnapshot(c.now(), readings, tripped,
		c.session.Status(), c.session.StatusOutcome(), c.session.SetOutcome())

	if c.metrics != nil {
		c.metrics.ObserveReadings(readings)
		c.metrics.ObserveCycle(c.now().Sub(start))
	}

	if c.publisher != nil {
		if err := c.publisher.Publish(ctx, snap); err != nil {
			c.log.Warnf("failed to publish snapshot: %v", err)
		}
	}
	return snap, nil
}

// observeOutcomes reports exchanges that resolved since the last cycle
func (c *Controller) observeOutcomes() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.watchStatus {
		if o := c.session.StatusOutcome(); o != r4850.OutcomeWait {
			c.watchStatus = false
			if c.metrics != nil {
				c.metrics.ObserveOutcome("status", o)
				if o == r4850.OutcomeOK {
					c.metrics.ObserveStatus(c.session.Status())
				}
			}
			c.log.WithField("outcome", o).Debug("status exchange resolved")
		}
	}
	if c.watchSet {
		if o := c.session.SetOutcome(); o != r4850.OutcomeWait {
			c.watchSet = false
			if c.metrics != nil {
				c.metrics.ObserveOutcome("set", o)
			}
			c.log.WithField("outcome", o).Info("set command resolved")
		}
	}
}

// updateTrips logs points whose smoothed SWR crosses the trip threshold
func (c *Controller) updateTrips() map[calibration.Point]bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[calibration.Point]bool, len(calibration.Points))
	for _, p := range calibration.Points {
		trip := c.swrTrip > 0 && c.engine.Tripped(p, c.swrTrip)
		if trip && !c.tripped[p] {
			r := c.engine.Reading(p)
			c.log.WithFields(logrus.Fields{
				"point": p,
				"swr":   r.SmoothedSWR(),
				"fwd_w": r.FwdWatts,
				"rev_w": r.RevWatts,
			}).Warn("SWR above trip threshold")
			if c.metrics != nil {
				c.metrics.ObserveTrip(p)
			}
		} else if !trip && c.tripped[p] {
			c.log.WithField("point", p).Info("SWR back below trip threshold")
		}
		c.tripped[p] = trip
		out[p] = trip
	}
	return out
}

// Poll issues a status request once per poll interval. A request still in
// flight is left alone.
func (c *Controller) Poll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.lastPoll.IsZero() && now.Sub(c.lastPoll) < c.pollInterval {
		return
	}
	first := c.lastPoll.IsZero()
	c.lastPoll = now

	err := c.session.RequestStatus()
	switch {
	case errors.Is(err, r4850.ErrBusy):
		c.log.Debug("status request still pending, poll skipped")
	case err != nil:
		c.log.Warnf("status request failed: %v", err)
	default:
		c.watchStatus = true
	}

	if first {
		return
	}
	silent := c.session.Silent(silentPolls * c.pollInterval)
	if silent && !c.silent {
		c.log.WithField("last_rx", c.session.LastRx()).Warn("power supply silent")
	} else if !silent && c.silent {
		c.log.Info("power supply responding again")
	}
	c.silent = silent
}

// Set sends a set command; the result shows up in the session's set outcome
func (c *Controller) Set(setting r4850.Setting, value float64) error {
	if err := c.session.SetParameter(setting, value); err != nil {
		return err
	}
	c.mu.Lock()
	c.watchSet = true
	c.mu.Unlock()
	c.log.WithFields(logrus.Fields{"setting": setting, "value": value}).Info("set command sent")
	return nil
}

// Run cycles at the sampling interval until ctx is done or the sample
// source is exhausted. Sample read errors are logged and the loop goes on.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.sampleInterval)
	defer ticker.Stop()

	for {
		c.Poll()
		if _, err := c.Cycle(ctx); err != nil {
			switch {
			case errors.Is(err, io.EOF):
				c.log.Info("sample source exhausted")
				return nil
			case ctx.Err() != nil:
				return nil
			default:
				c.log.Warnf("sample read failed: %v", err)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
