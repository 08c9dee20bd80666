// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestBreaker(clock *fakeClock) *CircuitBreaker {
	return New(Options{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		RollingWindow:    60 * time.Second,
		MaxFailureRate:   0.5,
		MinWindowEvents:  10,
		Clock:            clock.Now,
	})
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)

	for i := 0; i < 4; i++ {
		cb.Record("model-x", false)
		assert.Equal(t, StateClosed, cb.State("model-x"), "circuit must stay closed below the threshold")
		assert.True(t, cb.Allow("model-x"))
	}

	cb.Record("model-x", false)
	assert.Equal(t, StateOpen, cb.State("model-x"))
	assert.False(t, cb.Allow("model-x"))
}

func TestBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)

	for i := 0; i < 4; i++ {
		cb.Record("model-x", false)
	}
	cb.Record("model-x", true)
	for i := 0; i < 4; i++ {
		cb.Record("model-x", false)
	}

	assert.Equal(t, StateClosed, cb.State("model-x"), "an interleaved success must reset the consecutive count")
}

func TestBreaker_OpenRefusesForFullTimeout(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		cb.Record("model-x", false)
	}
	require.Equal(t, StateOpen, cb.State("model-x"))

	clock.Advance(29 * time.Second)
	assert.False(t, cb.Allow("model-x"), "open circuit must refuse before the timeout")

	clock.Advance(time.Second)
	assert.True(t, cb.Allow("model-x"), "timeout lapse must admit a probe")
	assert.Equal(t, StateHalfOpen, cb.State("model-x"))
}

func TestBreaker_HalfOpenNeedsSuccessThreshold(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		cb.Record("model-x", false)
	}
	clock.Advance(30 * time.Second)
	require.True(t, cb.Allow("model-x"))
	require.Equal(t, StateHalfOpen, cb.State("model-x"))

	cb.Record("model-x", true)
	assert.Equal(t, StateHalfOpen, cb.State("model-x"), "one success must not close the circuit when two are required")

	cb.Record("model-x", true)
	assert.Equal(t, StateClosed, cb.State("model-x"))
}

func TestBreaker_HalfOpenFailureRestartsClock(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		cb.Record("model-x", false)
	}
	clock.Advance(30 * time.Second)
	require.True(t, cb.Allow("model-x"))

	cb.Record("model-x", false)
	require.Equal(t, StateOpen, cb.State("model-x"))

	// The timeout restarts from the reopen, not the original trip.
	clock.Advance(29 * time.Second)
	assert.False(t, cb.Allow("model-x"))
	clock.Advance(time.Second)
	assert.True(t, cb.Allow("model-x"))
}

func TestBreaker_PermanentFailuresTripFaster(t *testing.T) {
	clock := newFakeClock()
	cb := New(Options{
		FailureThreshold:     5,
		PermanentErrorWeight: 2,
		Clock:                clock.Now,
	})

	cb.RecordFailure("model-x", true)
	cb.RecordFailure("model-x", true)
	assert.Equal(t, StateClosed, cb.State("model-x"))

	cb.RecordFailure("model-x", true)
	assert.Equal(t, StateOpen, cb.State("model-x"), "three weighted permanent failures must reach the threshold of five")
}

func TestBreaker_FailureRateTripsInsideWindow(t *testing.T) {
	clock := newFakeClock()
	cb := New(Options{
		// High consecutive threshold so only the rate condition can trip.
		FailureThreshold: 100,
		MaxFailureRate:   0.5,
		MinWindowEvents:  10,
		RollingWindow:    60 * time.Second,
		Clock:            clock.Now,
	})

	for i := 0; i < 5; i++ {
		cb.Record("model-x", true)
		cb.Record("model-x", false)
		clock.Advance(time.Second)
	}

	assert.Equal(t, StateOpen, cb.State("model-x"), "half the window failing must open the circuit")
}

func TestBreaker_FailureRateIgnoresSparseWindow(t *testing.T) {
	clock := newFakeClock()
	cb := New(Options{
		FailureThreshold: 100,
		MaxFailureRate:   0.5,
		MinWindowEvents:  10,
		Clock:            clock.Now,
	})

	cb.Record("model-x", true)
	cb.Record("model-x", false)
	cb.Record("model-x", false)

	assert.Equal(t, StateClosed, cb.State("model-x"), "too few window events for the rate trip")
}

func TestBreaker_WindowPruneForgetsOldFailures(t *testing.T) {
	clock := newFakeClock()
	cb := New(Options{
		FailureThreshold: 100,
		MaxFailureRate:   0.5,
		MinWindowEvents:  10,
		RollingWindow:    60 * time.Second,
		Clock:            clock.Now,
	})

	for i := 0; i < 4; i++ {
		cb.Record("model-x", true)
		cb.Record("model-x", false)
	}

	// Let the old events age out, then add a thin recent tail that would
	// trip if the history were still counted.
	clock.Advance(2 * time.Minute)
	cb.Record("model-x", true)
	cb.Record("model-x", false)

	assert.Equal(t, StateClosed, cb.State("model-x"))
}

func TestBreaker_ResetClosesCircuit(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		cb.Record("model-x", false)
	}
	require.Equal(t, StateOpen, cb.State("model-x"))

	cb.Reset("model-x")
	assert.Equal(t, StateClosed, cb.State("model-x"))
	assert.True(t, cb.Allow("model-x"))
}

func TestBreaker_ModelsAreIndependent(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(clock)

	for i := 0; i < 5; i++ {
		cb.Record("model-x", false)
	}

	assert.Equal(t, StateOpen, cb.State("model-x"))
	assert.Equal(t, StateClosed, cb.State("model-y"))
	assert.True(t, cb.Allow("model-y"))
}

// TestProperty_OpenCircuitRefusesWholeWindow checks that no elapsed time
// short of the open timeout admits a request.
func TestProperty_OpenCircuitRefusesWholeWindow(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("open circuit refuses for the entire timeout", prop.ForAll(
		func(elapsedMs int64) bool {
			clock := newFakeClock()
			cb := newTestBreaker(clock)

			for i := 0; i < 5; i++ {
				cb.Record("model-x", false)
			}

			clock.Advance(time.Duration(elapsedMs) * time.Millisecond)
			return !cb.Allow("model-x")
		},
		gen.Int64Range(0, 29_999),
	))

	properties.TestingRun(t)
}
