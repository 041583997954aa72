// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package r4850

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// newFuzzRng creates a random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := time.Now().UnixNano()
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if s, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			seed = s
		}
	}
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomMessage picks either a protocol identifier or a random one, with a
// random payload length
func randomMessage(rng *rand.Rand) Message {
	ids := []uint32{IDStatusResponse, IDSetResponse, IDPresent, IDRequestStatus, IDSetCommand}
	var id uint32
	if rng.Intn(2) == 0 {
		id = ids[rng.Intn(len(ids))]
	} else {
		id = rng.Uint32()
	}
	data := make([]byte, rng.Intn(12))
	rng.Read(data)
	return Message{ID: id, Data: data}
}

func TestFuzz_DecodeTotal(t *testing.T) {
	rng := newFuzzRng(t)
	for i := 0; i < getFuzzRounds(); i++ {
		m := randomMessage(rng)
		d := Decode(m)

		switch d.Kind {
		case KindTelemetry:
			if len(m.Data) != FrameLen || !d.Field.Valid() {
				t.Fatalf("round %d: telemetry from %+v", i, m)
			}
		case KindSetAck:
			if len(m.Data) != FrameLen {
				t.Fatalf("round %d: set ack from %d bytes", i, len(m.Data))
			}
		case KindMalformed:
			if d.Reason == "" {
				t.Fatalf("round %d: malformed without reason", i)
			}
		}
	}
}

func TestFuzz_SessionIgnoresNoise(t *testing.T) {
	rng := newFuzzRng(t)
	s, _, clock := newTestSession()

	for i := 0; i < getFuzzRounds(); i++ {
		if rng.Intn(20) == 0 {
			s.RequestStatus()
		}
		if rng.Intn(20) == 0 {
			s.SetParameter(SetOVP, 41.5+rng.Float64()*18)
		}
		s.HandleMessage(randomMessage(rng))
		clock.Advance(time.Duration(rng.Intn(100)) * time.Millisecond)
		s.Tick()

		if o := s.LastResponseStatus(); o < OutcomeWait || o > OutcomeFail {
			t.Fatalf("round %d: invalid outcome %d", i, o)
		}
	}

	stats := s.Statistics()
	if stats.TotalFrames != uint64(getFuzzRounds()) {
		t.Errorf("TotalFrames = %d, want %d", stats.TotalFrames, getFuzzRounds())
	}
}
