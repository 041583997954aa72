// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package r4850

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// ============================================================
// Test Helpers
// ============================================================

type fakeTx struct {
	sent []Message
	err  error
}

func (f *fakeTx) Send(m Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestSession(opts ...Option) (*Session, *fakeTx, *fakeClock) {
	tx := &fakeTx{}
	clock := &fakeClock{t: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now), WithLogger(quietLogger()), WithTimeout(500 * time.Millisecond)}, opts...)
	return NewSession(tx, opts...), tx, clock
}

// sendFullCycle feeds one report per field
func sendFullCycle(s *Session) {
	for i, f := range Fields {
		s.HandleMessage(telemetryMsg(f, uint32(i+1)*1024))
	}
}

// ============================================================
// Status Flow Tests
// ============================================================

func TestSession_InitialState(t *testing.T) {
	s, _, _ := newTestSession()
	if s.State() != StateIdle || s.SetState() != SetIdle {
		t.Errorf("initial state = %v/%v, want IDLE/IDLE", s.State(), s.SetState())
	}
	if s.LastResponseStatus() != OutcomeWait {
		t.Errorf("LastResponseStatus() = %v, want WAIT", s.LastResponseStatus())
	}
	if !s.LastRx().IsZero() {
		t.Error("LastRx() should be zero before the module is heard")
	}
	if !s.Silent(time.Hour) {
		t.Error("Silent() = false before the module is heard")
	}
}

func TestSession_RequestStatusSuccess(t *testing.T) {
	s, tx, clock := newTestSession()

	if err := s.RequestStatus(); err != nil {
		t.Fatalf("RequestStatus() = %v", err)
	}
	if len(tx.sent) != 1 || tx.sent[0].ID != IDRequestStatus {
		t.Fatalf("sent = %+v, want one status request", tx.sent)
	}
	if s.State() != StateAwaitingPresence {
		t.Errorf("State() = %v, want AWAITING_PRESENCE", s.State())
	}
	if s.LastResponseStatus() != OutcomeWait {
		t.Errorf("LastResponseStatus() = %v, want WAIT", s.LastResponseStatus())
	}

	clock.Advance(100 * time.Millisecond)
	s.HandleMessage(Message{ID: IDPresent, Data: []byte{0}})
	if s.State() != StateAwaitingStatusResponse {
		t.Errorf("State() after presence = %v, want AWAITING_STATUS", s.State())
	}
	if !s.LastRx().Equal(clock.Now()) {
		t.Errorf("LastRx() = %v, want %v", s.LastRx(), clock.Now())
	}

	for i, f := range Fields[:len(Fields)-1] {
		s.HandleMessage(telemetryMsg(f, uint32(i+1)*1024))
	}
	if s.LastResponseStatus() != OutcomeWait {
		t.Errorf("outcome with one field missing = %v, want WAIT", s.LastResponseStatus())
	}

	last := Fields[len(Fields)-1]
	s.HandleMessage(telemetryMsg(last, 7*1024))
	if s.LastResponseStatus() != OutcomeOK {
		t.Errorf("LastResponseStatus() = %v, want OK", s.LastResponseStatus())
	}
	if s.State() != StateIdle {
		t.Errorf("State() = %v, want IDLE", s.State())
	}

	status := s.Status()
	if v, _ := status.Get(last); v != 7 {
		t.Errorf("%v = %v, want 7", last, v)
	}
	if status.InputPower != 1 {
		t.Errorf("InputPower = %v, want 1", status.InputPower)
	}
}

func TestSession_SecondRequestSkipsPresence(t *testing.T) {
	s, _, _ := newTestSession()
	s.RequestStatus()
	sendFullCycle(s)

	if err := s.RequestStatus(); err != nil {
		t.Fatalf("RequestStatus() = %v", err)
	}
	if s.State() != StateAwaitingStatusResponse {
		t.Errorf("State() = %v, want AWAITING_STATUS once the module was heard", s.State())
	}
}

func TestSession_StatusTimeout(t *testing.T) {
	s, tx, clock := newTestSession()
	s.RequestStatus()

	clock.Advance(499 * time.Millisecond)
	s.Tick()
	if s.LastResponseStatus() != OutcomeWait {
		t.Fatalf("outcome before deadline = %v, want WAIT", s.LastResponseStatus())
	}

	clock.Advance(time.Millisecond)
	s.Tick()
	if s.LastResponseStatus() != OutcomeFail {
		t.Errorf("LastResponseStatus() = %v, want FAIL", s.LastResponseStatus())
	}
	if s.State() != StateIdle {
		t.Errorf("State() = %v, want IDLE", s.State())
	}

	// a new request is accepted right away
	if err := s.RequestStatus(); err != nil {
		t.Errorf("RequestStatus() after timeout = %v", err)
	}
	if len(tx.sent) != 2 {
		t.Errorf("sent %d frames, want 2", len(tx.sent))
	}
	if s.LastResponseStatus() != OutcomeWait {
		t.Errorf("LastResponseStatus() = %v, want WAIT", s.LastResponseStatus())
	}
	if s.Statistics().Timeouts != 1 {
		t.Errorf("Timeouts = %d, want 1", s.Statistics().Timeouts)
	}
}

func TestSession_PartialDataTimesOut(t *testing.T) {
	s, _, clock := newTestSession()
	s.RequestStatus()
	s.HandleMessage(telemetryMsg(FieldOutputVoltage, 50*1024))

	clock.Advance(time.Second)
	s.Tick()
	if s.StatusOutcome() != OutcomeFail {
		t.Errorf("StatusOutcome() = %v, want FAIL", s.StatusOutcome())
	}
	// partial data is kept
	if s.Status().OutputVoltage != 50 {
		t.Errorf("OutputVoltage = %v, want 50", s.Status().OutputVoltage)
	}
	// the presence check is repeated after a failure
	s.RequestStatus()
	if s.State() != StateAwaitingPresence {
		t.Errorf("State() = %v, want AWAITING_PRESENCE", s.State())
	}
}

func TestSession_RequestStatusBusy(t *testing.T) {
	s, tx, _ := newTestSession()
	s.RequestStatus()
	if err := s.RequestStatus(); !errors.Is(err, ErrBusy) {
		t.Errorf("second RequestStatus() = %v, want ErrBusy", err)
	}
	if len(tx.sent) != 1 {
		t.Errorf("sent %d frames, want 1", len(tx.sent))
	}
}

func TestSession_SendErrorFails(t *testing.T) {
	s, tx, _ := newTestSession()
	tx.err = errors.New("bus off")

	if err := s.RequestStatus(); err == nil {
		t.Fatal("RequestStatus() = nil, want send error")
	}
	if s.LastResponseStatus() != OutcomeFail || s.State() != StateIdle {
		t.Errorf("after send error: %v/%v, want FAIL/IDLE", s.LastResponseStatus(), s.State())
	}
}

func TestSession_ExpectedFields(t *testing.T) {
	s, _, _ := newTestSession(WithExpectedFields(FieldOutputVoltage, FieldOutputCurrent))
	s.RequestStatus()
	s.HandleMessage(telemetryMsg(FieldInputPower, 1024))
	s.HandleMessage(telemetryMsg(FieldOutputVoltage, 1024))
	if s.StatusOutcome() != OutcomeWait {
		t.Fatalf("StatusOutcome() = %v, want WAIT", s.StatusOutcome())
	}
	s.HandleMessage(telemetryMsg(FieldOutputCurrent, 1024))
	if s.StatusOutcome() != OutcomeOK {
		t.Errorf("StatusOutcome() = %v, want OK", s.StatusOutcome())
	}
}

func TestSession_UnsolicitedTelemetryMerged(t *testing.T) {
	s, _, _ := newTestSession()
	s.HandleMessage(telemetryMsg(FieldOutputPower, 1500*1024))
	if s.Status().OutputPower != 1500 {
		t.Errorf("OutputPower = %v, want 1500", s.Status().OutputPower)
	}
	if s.State() != StateIdle {
		t.Errorf("State() = %v, want IDLE", s.State())
	}
}

func TestSession_UnrecognizedLeavesStateUnchanged(t *testing.T) {
	s, _, clock := newTestSession()
	s.HandleMessage(telemetryMsg(FieldOutputVoltage, 48*1024))
	s.RequestStatus()
	before := s.Status()
	rx := s.LastRx()

	clock.Advance(10 * time.Millisecond)
	frames := []Message{
		{ID: 0x0CAFE000, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		telemetryMsg(Field(0x01990000), 5),
		{ID: IDStatusResponse, Data: []byte{0x01, 0x75}},
	}
	for _, m := range frames {
		s.HandleMessage(m)
	}

	if s.Status() != before {
		t.Errorf("Status changed: %+v -> %+v", before, s.Status())
	}
	if !s.LastRx().Equal(rx) {
		t.Error("LastRx updated by ignored frames")
	}
	if s.State() != StateAwaitingStatusResponse {
		t.Errorf("State() = %v, want AWAITING_STATUS", s.State())
	}
	stats := s.Statistics()
	if stats.Unrecognized != 2 || stats.Malformed != 1 {
		t.Errorf("Unrecognized=%d Malformed=%d, want 2/1", stats.Unrecognized, stats.Malformed)
	}
}

// ============================================================
// Set Flow Tests
// ============================================================

func TestSession_SetParameterAck(t *testing.T) {
	s, tx, _ := newTestSession()
	if err := s.SetParameter(SetOnlineOutputVoltage, 52); err != nil {
		t.Fatalf("SetParameter() = %v", err)
	}
	if len(tx.sent) != 1 || tx.sent[0].ID != IDSetCommand {
		t.Fatalf("sent = %+v, want one set command", tx.sent)
	}
	if s.SetState() != SetAwaitingAck || s.LastResponseStatus() != OutcomeWait {
		t.Errorf("after send: %v/%v, want AWAITING_ACK/WAIT", s.SetState(), s.LastResponseStatus())
	}

	// an ack for another setting does not resolve the exchange
	s.HandleMessage(setAckMsg(SetOVP, true))
	if s.SetState() != SetAwaitingAck {
		t.Error("ack for a different setting resolved the exchange")
	}

	s.HandleMessage(setAckMsg(SetOnlineOutputVoltage, true))
	if s.LastResponseStatus() != OutcomeOK || s.SetState() != SetIdle {
		t.Errorf("after ack: %v/%v, want OK/IDLE", s.LastResponseStatus(), s.SetState())
	}
}

func TestSession_SetParameterRejectedAck(t *testing.T) {
	s, _, _ := newTestSession()
	s.SetParameter(SetOnlineCurrentLimit, 20)
	s.HandleMessage(setAckMsg(SetOnlineCurrentLimit, false))
	if s.SetOutcome() != OutcomeFail {
		t.Errorf("SetOutcome() = %v, want FAIL", s.SetOutcome())
	}
	if s.Statistics().SetRejects != 1 {
		t.Errorf("SetRejects = %d, want 1", s.Statistics().SetRejects)
	}
}

func TestSession_SetParameterBusy(t *testing.T) {
	s, tx, clock := newTestSession()
	s.SetParameter(SetOVP, 58)

	clock.Advance(200 * time.Millisecond)
	if err := s.SetParameter(SetOnlineOutputVoltage, 50); !errors.Is(err, ErrBusy) {
		t.Fatalf("second SetParameter() = %v, want ErrBusy", err)
	}
	if len(tx.sent) != 1 {
		t.Errorf("sent %d frames, want 1", len(tx.sent))
	}

	// the pending exchange still resolves from its own ack
	s.HandleMessage(setAckMsg(SetOVP, true))
	if s.SetOutcome() != OutcomeOK {
		t.Errorf("SetOutcome() = %v, want OK", s.SetOutcome())
	}
}

func TestSession_SetParameterBusyKeepsDeadline(t *testing.T) {
	s, _, clock := newTestSession()
	s.SetParameter(SetOVP, 58)
	clock.Advance(400 * time.Millisecond)
	s.SetParameter(SetOVP, 57)
	clock.Advance(100 * time.Millisecond)
	s.Tick()
	if s.SetOutcome() != OutcomeFail {
		t.Errorf("SetOutcome() = %v, want FAIL at the original deadline", s.SetOutcome())
	}
}

func TestSession_SetParameterInvalid(t *testing.T) {
	s, tx, _ := newTestSession()
	if err := s.SetParameter(SetOVP, 100); !errors.Is(err, ErrValueOutOfRange) {
		t.Errorf("SetParameter() = %v, want ErrValueOutOfRange", err)
	}
	if len(tx.sent) != 0 || s.SetState() != SetIdle {
		t.Error("invalid set changed session state")
	}
}

func TestSession_SetTimeout(t *testing.T) {
	s, _, clock := newTestSession()
	s.SetParameter(SetOfflineOutputVoltage, 48)
	clock.Advance(500 * time.Millisecond)
	s.Tick()
	if s.LastResponseStatus() != OutcomeFail || s.SetState() != SetIdle {
		t.Errorf("after timeout: %v/%v, want FAIL/IDLE", s.LastResponseStatus(), s.SetState())
	}
	if err := s.SetParameter(SetOfflineOutputVoltage, 48); err != nil {
		t.Errorf("SetParameter() after timeout = %v", err)
	}
}

func TestSession_StatusAndSetIndependent(t *testing.T) {
	s, _, _ := newTestSession()
	s.RequestStatus()
	if err := s.SetParameter(SetOVP, 58); err != nil {
		t.Fatalf("SetParameter() while polling = %v", err)
	}

	// last started exchange is the set
	s.HandleMessage(setAckMsg(SetOVP, true))
	if s.LastResponseStatus() != OutcomeOK {
		t.Errorf("LastResponseStatus() = %v, want OK", s.LastResponseStatus())
	}
	if s.StatusOutcome() != OutcomeWait {
		t.Errorf("StatusOutcome() = %v, want WAIT", s.StatusOutcome())
	}
}

// ============================================================
// Watchdog Tests
// ============================================================

func TestSession_Silent(t *testing.T) {
	s, _, clock := newTestSession()
	s.HandleMessage(Message{ID: IDPresent})

	clock.Advance(2 * time.Second)
	if s.Silent(3 * time.Second) {
		t.Error("Silent(3s) = true after 2s")
	}
	clock.Advance(time.Second)
	if !s.Silent(3 * time.Second) {
		t.Error("Silent(3s) = false after 3s")
	}
}

func TestStatistics_String(t *testing.T) {
	s, _, clock := newTestSession()
	s.RequestStatus()
	sendFullCycle(s)
	clock.Advance(10 * time.Second)

	stats := s.Statistics()
	if stats.Telemetry != uint64(len(Fields)) || stats.Successes != 1 {
		t.Errorf("Telemetry=%d Successes=%d", stats.Telemetry, stats.Successes)
	}
	if stats.FrameRate != float64(len(Fields))/10 {
		t.Errorf("FrameRate = %v, want %v", stats.FrameRate, float64(len(Fields))/10)
	}
	if out := stats.String(); out == "" {
		t.Error("String() is empty")
	}
}
