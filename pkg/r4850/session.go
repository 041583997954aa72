// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package r4850

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTimeout applies to both status and set exchanges
const DefaultTimeout = time.Second

// ErrBusy is returned when an exchange of the same kind is still pending
var ErrBusy = errors.New("request already pending")

// Transmitter puts a frame on the bus. Send must not block on a response
// and must not call back into the Session.
type Transmitter interface {
	Send(Message) error
}

// State of the status polling flow
type State int

const (
	StateIdle State = iota
	StateAwaitingPresence
	StateAwaitingStatusResponse
)

func (s State) String() string {
	switch s {
	case StateAwaitingPresence:
		return "AWAITING_PRESENCE"
	case StateAwaitingStatusResponse:
		return "AWAITING_STATUS"
	default:
		return "IDLE"
	}
}

// SetState of the parameter set flow
type SetState int

const (
	SetIdle SetState = iota
	SetAwaitingAck
)

func (s SetState) String() string {
	if s == SetAwaitingAck {
		return "AWAITING_ACK"
	}
	return "IDLE"
}

// Outcome of an exchange
type Outcome int

const (
	OutcomeWait Outcome = iota
	OutcomeOK
	OutcomeFail
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "OK"
	case OutcomeFail:
		return "FAIL"
	default:
		return "WAIT"
	}
}

// exchange tracks one request and its result
type exchange struct {
	pending bool
	sentAt  time.Time
	outcome Outcome
}

// Option configures a Session
type Option func(*Session)

// WithTimeout sets the response deadline of status and set exchanges
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithExpectedFields sets which telemetry reports complete a status cycle.
// An empty list keeps the default of all fields.
func WithExpectedFields(fields ...Field) Option {
	return func(s *Session) {
		if len(fields) == 0 {
			return
		}
		s.expected = make(map[Field]struct{}, len(fields))
		for _, f := range fields {
			s.expected[f] = struct{}{}
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// WithLogger sets the session logger
func WithLogger(log *logrus.Logger) Option {
	return func(s *Session) {
		s.log = log
	}
}

// Session polls and commands one R4850G2 module. It never blocks: requests
// are sent and return immediately, responses arrive through HandleMessage
// and deadlines are enforced by Tick. Callers poll the outcome.
type Session struct {
	mu       sync.Mutex
	tx       Transmitter
	timeout  time.Duration
	expected map[Field]struct{}
	now      func() time.Time
	log      *logrus.Logger

	state    State
	status   exchange
	received map[Field]struct{}

	setState   SetState
	set        exchange
	setPending Setting

	last   *exchange
	heard  bool
	lastRx time.Time

	snapshot Status
	stats    *Statistics
}

// NewSession creates an idle session sending through tx
func NewSession(tx Transmitter, opts ...Option) *Session {
	s := &Session{
		tx:       tx,
		timeout:  DefaultTimeout,
		now:      time.Now,
		log:      logrus.StandardLogger(),
		received: make(map[Field]struct{}, len(Fields)),
	}
	WithExpectedFields(Fields...)(s)
	for _, opt := range opts {
		opt(s)
	}
	s.stats = NewStatistics(s.now())
	return s
}

// Timeout returns the exchange deadline
func (s *Session) Timeout() time.Duration {
	return s.timeout
}

// RequestStatus sends a status request. It returns ErrBusy while a status
// exchange is pending; the result is read later with LastResponseStatus.
func (s *Session) RequestStatus() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		s.stats.BusyRejections++
		return ErrBusy
	}

	for f := range s.received {
		delete(s.received, f)
	}
	s.status = exchange{pending: true, sentAt: s.now(), outcome: OutcomeWait}
	s.last = &s.status
	if s.heard {
		s.state = StateAwaitingStatusResponse
	} else {
		s.state = StateAwaitingPresence
	}
	s.stats.StatusRequests++

	if err := s.tx.Send(EncodeRequest()); err != nil {
		s.resolveStatus(OutcomeFail)
		return fmt.Errorf("failed to send status request: %w", err)
	}
	return nil
}

// SetParameter sends a set command. At most one set may be outstanding;
// a second one is rejected with ErrBusy and the pending one is untouched.
func (s *Session) SetParameter(setting Setting, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.setState == SetAwaitingAck {
		s.stats.BusyRejections++
		return ErrBusy
	}

	msg, err := EncodeSet(setting, value)
	if err != nil {
		return err
	}

	s.set = exchange{pending: true, sentAt: s.now(), outcome: OutcomeWait}
	s.setPending = setting
	s.setState = SetAwaitingAck
	s.last = &s.set
	s.stats.SetRequests++

	if err := s.tx.Send(msg); err != nil {
		s.resolveSet(OutcomeFail)
		return fmt.Errorf("failed to send set command: %w", err)
	}
	s.log.WithFields(logrus.Fields{"setting": setting, "value": value}).Debug("set command sent")
	return nil
}

// HandleMessage is the receive callback. Frames that are not part of the
// protocol, or are malformed, are counted and otherwise ignored.
func (s *Session) HandleMessage(m Message) Decoded {
	d := Decode(m)

	s.mu.Lock()
	defer s.mu.Unlock()

	var anomalies []ValidationError
	if d.Kind == KindTelemetry {
		anomalies = ValidateTelemetry(d)
	}
	s.stats.Update(d, anomalies, s.now())

	switch d.Kind {
	case KindUnrecognized:
		s.log.WithField("id", fmt.Sprintf("0x%08X", m.ID)).Trace("unrecognized frame dropped")
		return d
	case KindMalformed:
		s.log.WithField("id", fmt.Sprintf("0x%08X", m.ID)).Debugf("malformed frame dropped: %s", d.Reason)
		return d
	}

	s.lastRx = s.now()
	s.heard = true
	if s.state == StateAwaitingPresence {
		s.state = StateAwaitingStatusResponse
	}

	switch d.Kind {
	case KindTelemetry:
		for _, a := range anomalies {
			s.log.WithField("field", d.Field).Warn(a.Message)
		}
		s.snapshot.Apply(d.Field, d.Value)
		if s.state == StateAwaitingStatusResponse {
			if _, ok := s.expected[d.Field]; ok {
				s.received[d.Field] = struct{}{}
			}
			if len(s.received) == len(s.expected) {
				s.resolveStatus(OutcomeOK)
			}
		}

	case KindSetAck:
		if s.setState != SetAwaitingAck || d.Setting != s.setPending {
			return d
		}
		if d.AckOK {
			s.resolveSet(OutcomeOK)
		} else {
			s.stats.SetRejects++
			s.log.WithField("setting", d.Setting).Warn("set command rejected by module")
			s.resolveSet(OutcomeFail)
		}
	}
	return d
}

// Tick fails exchanges whose deadline has passed. Nothing is retried.
func (s *Session) Tick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.status.pending && now.Sub(s.status.sentAt) >= s.timeout {
		s.stats.Timeouts++
		s.log.WithFields(logrus.Fields{
			"state":    s.state,
			"received": len(s.received),
			"expected": len(s.expected),
		}).Warn("status request timed out")
		// force the next request through the presence check again
		s.heard = false
		s.resolveStatus(OutcomeFail)
	}
	if s.set.pending && now.Sub(s.set.sentAt) >= s.timeout {
		s.stats.Timeouts++
		s.log.WithField("setting", s.setPending).Warn("set command timed out")
		s.resolveSet(OutcomeFail)
	}
}

func (s *Session) resolveStatus(o Outcome) {
	s.status.pending = false
	s.status.outcome = o
	s.state = StateIdle
	if o == OutcomeOK {
		s.stats.Successes++
	}
}

func (s *Session) resolveSet(o Outcome) {
	s.set.pending = false
	s.set.outcome = o
	s.setState = SetIdle
	if o == OutcomeOK {
		s.stats.Successes++
	}
}

// LastResponseStatus returns the outcome of the most recently started
// exchange, status or set. It is OutcomeWait before the first request.
func (s *Session) LastResponseStatus() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return OutcomeWait
	}
	return s.last.outcome
}

// StatusOutcome returns the outcome of the latest status exchange
func (s *Session) StatusOutcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.outcome
}

// SetOutcome returns the outcome of the latest set exchange
func (s *Session) SetOutcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.outcome
}

// State returns the status flow state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState returns the set flow state
func (s *Session) SetState() SetState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setState
}

// LastRx returns when a frame was last received from the module. It is the
// zero time until the module has been heard.
func (s *Session) LastRx() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRx
}

// Silent reports whether nothing has been heard from the module for d
func (s *Session) Silent(d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRx.IsZero() || s.now().Sub(s.lastRx) >= d
}

// Status returns a copy of the latest telemetry
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Statistics returns a copy of the session counters
func (s *Session) Statistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := *s.stats
	stats.CalculateRates(s.now())
	return stats
}
