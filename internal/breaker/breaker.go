// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package breaker implements the per-model circuit breaker gating whether a
// model may be attempted. Each model gets an independent state machine
// (closed -> open -> half_open) guarded by its own lock; admission reads are
// cheap and eventually consistent across concurrent requests.
package breaker

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// State is the circuit state for one model.
type State string

const (
	// StateClosed admits every request.
	StateClosed State = "closed"
	// StateOpen refuses admission until the open timeout elapses.
	StateOpen State = "open"
	// StateHalfOpen admits probe requests; successes close the circuit,
	// a single failure reopens it.
	StateHalfOpen State = "half_open"
)

// Options configures the circuit breaker.
type Options struct {
	// FailureThreshold is the consecutive-failure count that opens a closed
	// circuit. Default: 5.
	FailureThreshold int

	// SuccessThreshold is the consecutive half-open successes required to
	// close the circuit. Default: 2.
	SuccessThreshold int

	// OpenTimeout is how long an open circuit refuses admission before the
	// half-open probe window. Default: 30s.
	OpenTimeout time.Duration

	// RollingWindow is the observation window for the failure-rate trip.
	// Default: 60s.
	RollingWindow time.Duration

	// MaxFailureRate opens a closed circuit when failures/(failures+successes)
	// inside the rolling window reaches this ratio. Either this or
	// FailureThreshold is sufficient on its own. Default: 0.5.
	MaxFailureRate float64

	// MinWindowEvents is the minimum number of window events before the
	// failure-rate trip applies, so a single early failure cannot open a
	// fresh circuit. Default: 10.
	MinWindowEvents int

	// PermanentErrorWeight counts one permanent provider error as this many
	// consecutive failures. Default: 2.
	PermanentErrorWeight int

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.FailureThreshold <= 0 {
		out.FailureThreshold = 5
	}
	if out.SuccessThreshold <= 0 {
		out.SuccessThreshold = 2
	}
	if out.OpenTimeout <= 0 {
		out.OpenTimeout = 30 * time.Second
	}
	if out.RollingWindow <= 0 {
		out.RollingWindow = 60 * time.Second
	}
	if out.MaxFailureRate <= 0 || out.MaxFailureRate > 1 {
		out.MaxFailureRate = 0.5
	}
	if out.MinWindowEvents <= 0 {
		out.MinWindowEvents = 10
	}
	if out.PermanentErrorWeight <= 0 {
		out.PermanentErrorWeight = 2
	}
	if out.Clock == nil {
		out.Clock = time.Now
	}
	return out
}

// circuit is the state machine for a single model.
type circuit struct {
	mu sync.Mutex

	state                State
	consecutiveFailures  int
	consecutiveSuccesses int
	failureTimes         []time.Time
	successTimes         []time.Time
	openedAt             time.Time
}

// CircuitBreaker holds one circuit per model, created lazily on first
// reference.
type CircuitBreaker struct {
	opts Options

	mu       sync.RWMutex
	circuits map[string]*circuit

	store *SnapshotStore
}

// New creates a circuit breaker with no persistence.
func New(opts Options) *CircuitBreaker {
	return &CircuitBreaker{
		opts:     opts.withDefaults(),
		circuits: make(map[string]*circuit),
	}
}

// NewWithStore creates a circuit breaker whose counters are loaded from and
// periodically flushed to the given snapshot store, so circuits survive
// process restarts.
func NewWithStore(opts Options, store *SnapshotStore) *CircuitBreaker {
	cb := New(opts)
	cb.store = store
	if store == nil {
		return cb
	}

	snapshots, err := store.Load()
	if err != nil {
		log.Warnf("circuit breaker snapshot load failed, starting fresh: %v", err)
	} else {
		for model, snap := range snapshots {
			cb.circuits[model] = snap.restore()
		}
		if len(snapshots) > 0 {
			log.Infof("restored circuit state for %d models", len(snapshots))
		}
	}
	store.Start(cb.Snapshot)
	return cb
}

// Allow reports whether a request may be attempted against the model. An
// open circuit refuses admission for the entire open timeout; once the
// timeout elapses the circuit moves to half_open and the call is admitted as
// a probe.
func (cb *CircuitBreaker) Allow(modelID string) bool {
	c := cb.get(modelID)
	c.mu.Lock()
	defer c.mu.Unlock()

	now := cb.opts.Clock()
	c.prune(now, cb.opts.RollingWindow)

	switch c.state {
	case StateOpen:
		if now.Sub(c.openedAt) >= cb.opts.OpenTimeout {
			c.state = StateHalfOpen
			c.consecutiveSuccesses = 0
			c.consecutiveFailures = 0
			log.Debugf("circuit for %s half-open after timeout", modelID)
			return true
		}
		return false
	default:
		return true
	}
}

// Record feeds an attempt outcome into the model's circuit.
func (cb *CircuitBreaker) Record(modelID string, success bool) {
	if success {
		cb.recordOutcome(modelID, true, 1)
	} else {
		cb.recordOutcome(modelID, false, 1)
	}
}

// RecordFailure records a failed attempt. Permanent failures (auth, bad
// request) are weighted so the circuit trips faster than it does for
// generic transient errors.
func (cb *CircuitBreaker) RecordFailure(modelID string, permanent bool) {
	weight := 1
	if permanent {
		weight = cb.opts.PermanentErrorWeight
	}
	cb.recordOutcome(modelID, false, weight)
}

func (cb *CircuitBreaker) recordOutcome(modelID string, success bool, weight int) {
	c := cb.get(modelID)
	c.mu.Lock()

	now := cb.opts.Clock()
	c.prune(now, cb.opts.RollingWindow)

	if success {
		c.successTimes = append(c.successTimes, now)
		c.consecutiveSuccesses++
		c.consecutiveFailures = 0

		if c.state == StateHalfOpen && c.consecutiveSuccesses >= cb.opts.SuccessThreshold {
			c.state = StateClosed
			c.consecutiveSuccesses = 0
			log.Infof("circuit for %s closed after successful probes", modelID)
		}
	} else {
		c.failureTimes = append(c.failureTimes, now)
		c.consecutiveFailures += weight
		c.consecutiveSuccesses = 0

		switch c.state {
		case StateHalfOpen:
			// Any failure while probing reopens immediately and restarts
			// the timeout clock.
			c.open(now)
			log.Warnf("circuit for %s reopened by half-open failure", modelID)
		case StateClosed:
			if c.consecutiveFailures >= cb.opts.FailureThreshold {
				c.open(now)
				log.Warnf("circuit for %s opened: %d consecutive failures", modelID, c.consecutiveFailures)
			} else if cb.windowTripped(c) {
				c.open(now)
				log.Warnf("circuit for %s opened: failure rate over %.0f%% in window", modelID, cb.opts.MaxFailureRate*100)
			}
		}
	}
	c.mu.Unlock()

	if cb.store != nil {
		cb.store.MarkDirty()
	}
}

// windowTripped evaluates the rolling-window failure-rate condition.
// Caller holds the circuit lock, timestamps already pruned.
func (cb *CircuitBreaker) windowTripped(c *circuit) bool {
	failures := len(c.failureTimes)
	total := failures + len(c.successTimes)
	if total < cb.opts.MinWindowEvents {
		return false
	}
	return float64(failures)/float64(total) >= cb.opts.MaxFailureRate
}

// State returns the model's current circuit state without side effects
// beyond window pruning.
func (cb *CircuitBreaker) State(modelID string) State {
	c := cb.get(modelID)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune(cb.opts.Clock(), cb.opts.RollingWindow)
	return c.state
}

// Snapshot returns a durable copy of every circuit, keyed by model id.
func (cb *CircuitBreaker) Snapshot() map[string]CircuitSnapshot {
	cb.mu.RLock()
	models := make([]string, 0, len(cb.circuits))
	circuits := make([]*circuit, 0, len(cb.circuits))
	for id, c := range cb.circuits {
		models = append(models, id)
		circuits = append(circuits, c)
	}
	cb.mu.RUnlock()

	out := make(map[string]CircuitSnapshot, len(models))
	for i, c := range circuits {
		c.mu.Lock()
		out[models[i]] = c.snapshot()
		c.mu.Unlock()
	}
	return out
}

// Reset clears the model's circuit back to closed. Operator action only.
func (cb *CircuitBreaker) Reset(modelID string) {
	c := cb.get(modelID)
	c.mu.Lock()
	c.state = StateClosed
	c.consecutiveFailures = 0
	c.consecutiveSuccesses = 0
	c.failureTimes = nil
	c.successTimes = nil
	c.openedAt = time.Time{}
	c.mu.Unlock()

	if cb.store != nil {
		cb.store.MarkDirty()
	}
}

// Close flushes and stops the snapshot store, if any.
func (cb *CircuitBreaker) Close() {
	if cb.store != nil {
		cb.store.Close()
	}
}

// get returns the model's circuit, creating it lazily.
func (cb *CircuitBreaker) get(modelID string) *circuit {
	cb.mu.RLock()
	c, ok := cb.circuits[modelID]
	cb.mu.RUnlock()
	if ok {
		return c
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if c, ok = cb.circuits[modelID]; ok {
		return c
	}
	c = &circuit{state: StateClosed}
	cb.circuits[modelID] = c
	return c
}

// open transitions to the open state and stamps the clock. Caller holds the
// circuit lock.
func (c *circuit) open(now time.Time) {
	c.state = StateOpen
	c.openedAt = now
	c.consecutiveSuccesses = 0
}

// prune drops window timestamps older than the rolling window. Called on
// every access so the slices stay bounded.
func (c *circuit) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	c.failureTimes = pruneBefore(c.failureTimes, cutoff)
	c.successTimes = pruneBefore(c.successTimes, cutoff)
}

func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	// Timestamps are appended in order, so find the first survivor.
	idx := 0
	for idx < len(times) && times[idx].Before(cutoff) {
		idx++
	}
	if idx == 0 {
		return times
	}
	return append(times[:0], times[idx:]...)
}
