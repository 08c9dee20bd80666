// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package latency maintains an exponentially-weighted moving average of
// response time per model, feeding the registry scorer's speed bias.
package latency

import (
	"sync"
)

// Record holds the smoothed latency state for one model. No history is kept
// beyond the scalar EMA.
type Record struct {
	// EMALatencyMs is the smoothed response time in milliseconds.
	EMALatencyMs float64 `json:"ema_latency_ms"`
	// RequestCount is the number of samples recorded.
	RequestCount int64 `json:"request_count"`
}

// Tracker tracks per-model latency EMAs. Safe for concurrent use; each model
// entry is guarded by its own lock so unrelated models never contend.
type Tracker struct {
	alpha float64

	mu      sync.RWMutex
	records map[string]*entry
}

type entry struct {
	mu     sync.Mutex
	record Record
}

// NewTracker creates a tracker with the given EMA smoothing constant.
// Alpha outside (0,1] falls back to 0.3.
func NewTracker(alpha float64) *Tracker {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	return &Tracker{
		alpha:   alpha,
		records: make(map[string]*entry),
	}
}

// Record folds a latency sample into the model's EMA. The first sample seeds
// the EMA exactly; afterwards new = alpha*sample + (1-alpha)*old.
func (t *Tracker) Record(modelID string, latencyMs float64) {
	if modelID == "" || latencyMs < 0 {
		return
	}

	e := t.getOrCreate(modelID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.record.RequestCount == 0 {
		e.record.EMALatencyMs = latencyMs
	} else {
		e.record.EMALatencyMs = t.alpha*latencyMs + (1-t.alpha)*e.record.EMALatencyMs
	}
	e.record.RequestCount++
}

// Score converts the model's EMA into a speed score in [0,1]:
// max(0, baseline-ema)/baseline. Unknown models return a neutral 0.5 so
// untested models are not permanently penalized. Used only as a scoring
// input, never as a gate.
func (t *Tracker) Score(modelID string, baselineMs float64) float64 {
	if baselineMs <= 0 {
		return 0.5
	}

	t.mu.RLock()
	e, ok := t.records[modelID]
	t.mu.RUnlock()
	if !ok {
		return 0.5
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.record.RequestCount == 0 {
		return 0.5
	}
	score := (baselineMs - e.record.EMALatencyMs) / baselineMs
	if score < 0 {
		return 0
	}
	return score
}

// Get returns a copy of the model's latency record.
func (t *Tracker) Get(modelID string) (Record, bool) {
	t.mu.RLock()
	e, ok := t.records[modelID]
	t.mu.RUnlock()
	if !ok {
		return Record{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record, true
}

// Snapshot returns a copy of every latency record, keyed by model id.
func (t *Tracker) Snapshot() map[string]Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]Record, len(t.records))
	for id, e := range t.records {
		e.mu.Lock()
		out[id] = e.record
		e.mu.Unlock()
	}
	return out
}

// Reset clears the model's latency state. Explicit operator action only;
// nothing in the request path resets EMAs.
func (t *Tracker) Reset(modelID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, modelID)
}

func (t *Tracker) getOrCreate(modelID string) *entry {
	t.mu.RLock()
	e, ok := t.records[modelID]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.records[modelID]; ok {
		return e
	}
	e = &entry{}
	t.records[modelID] = e
	return e
}
