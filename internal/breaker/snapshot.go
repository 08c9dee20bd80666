// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package breaker

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"

	"github.com/modelmux/modelmux/internal/util"
)

// CircuitSnapshot is the durable form of one model's circuit.
type CircuitSnapshot struct {
	State                State       `json:"state"`
	ConsecutiveFailures  int         `json:"consecutive_failures"`
	ConsecutiveSuccesses int         `json:"consecutive_successes"`
	OpenedAt             time.Time   `json:"opened_at,omitempty"`
	FailureTimes         []time.Time `json:"failure_times,omitempty"`
	SuccessTimes         []time.Time `json:"success_times,omitempty"`
}

func (c *circuit) snapshot() CircuitSnapshot {
	return CircuitSnapshot{
		State:                c.state,
		ConsecutiveFailures:  c.consecutiveFailures,
		ConsecutiveSuccesses: c.consecutiveSuccesses,
		OpenedAt:             c.openedAt,
		FailureTimes:         append([]time.Time(nil), c.failureTimes...),
		SuccessTimes:         append([]time.Time(nil), c.successTimes...),
	}
}

func (s CircuitSnapshot) restore() *circuit {
	state := s.State
	switch state {
	case StateClosed, StateOpen, StateHalfOpen:
	default:
		state = StateClosed
	}
	return &circuit{
		state:                state,
		consecutiveFailures:  s.ConsecutiveFailures,
		consecutiveSuccesses: s.ConsecutiveSuccesses,
		openedAt:             s.OpenedAt,
		failureTimes:         append([]time.Time(nil), s.FailureTimes...),
		successTimes:         append([]time.Time(nil), s.SuccessTimes...),
	}
}

// SnapshotStore persists circuit snapshots to a JSON file with debounced
// background flushes, keeping persistence off the request hot path.
type SnapshotStore struct {
	path     string
	interval time.Duration

	dirty    atomic.Bool
	snapshot func() map[string]CircuitSnapshot

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewSnapshotStore creates a store writing to the given path. A non-positive
// flush interval defaults to 5s.
func NewSnapshotStore(path string, flushInterval time.Duration) *SnapshotStore {
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &SnapshotStore{
		path:     path,
		interval: flushInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Load reads the snapshot file. A missing file is not an error; it simply
// yields no circuits.
func (s *SnapshotStore) Load() (map[string]CircuitSnapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var snapshots map[string]CircuitSnapshot
	if err := json.Unmarshal(data, &snapshots); err != nil {
		return nil, err
	}
	return snapshots, nil
}

// Start begins the background flush loop using the given snapshot source.
func (s *SnapshotStore) Start(snapshot func() map[string]CircuitSnapshot) {
	s.snapshot = snapshot
	go s.loop()
}

// MarkDirty schedules a flush on the next tick.
func (s *SnapshotStore) MarkDirty() {
	s.dirty.Store(true)
}

// Close stops the loop and performs a final flush.
func (s *SnapshotStore) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
}

func (s *SnapshotStore) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.dirty.Swap(false) {
				s.flush()
			}
		case <-s.stop:
			if s.dirty.Swap(false) {
				s.flush()
			}
			return
		}
	}
}

func (s *SnapshotStore) flush() {
	if s.snapshot == nil {
		return
	}
	data, err := json.Marshal(s.snapshot())
	if err != nil {
		log.Warnf("circuit snapshot marshal failed: %v", err)
		return
	}
	if err := util.SecureWrite(s.path, data, 0o600); err != nil {
		log.Warnf("circuit snapshot write failed: %v", err)
	}
}
