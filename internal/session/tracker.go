// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package session maintains per-conversation adaptive state: model
// preference scores nudged by outcomes, skill usage boosts, and bounded
// recent-intent history. Sessions live only in memory; losing one resets
// personalization to neutral defaults and never affects correctness.
package session

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// successNudge is added to a model's preference score on success.
	successNudge = 0.10
	// fastBonus is the extra nudge when the successful call was fast.
	fastBonus = 0.05
	// fastLatencyMs is the cutoff for the fast bonus.
	fastLatencyMs = 1000.0
	// failureNudge is subtracted on failure.
	failureNudge = 0.15
	// failurePenaltyStep is the per-recorded-failure penalty applied when
	// the preference is queried.
	failurePenaltyStep = 0.05
	// failurePenaltyCap bounds the queried failure penalty.
	failurePenaltyCap = 0.30
	// neutralPreference is the score reported for unknown models.
	neutralPreference = 0.5
)

// Context is the adaptive state for one conversation.
type Context struct {
	CreatedAt    time.Time
	LastActivity time.Time

	skillUsageCount map[string]int
	skillLastUsed   map[string]time.Time
	recentSkills    *ring
	recentIntents   *ring

	modelPreference map[string]float64
	modelFailures   map[string]int
}

// Tracker holds all active sessions, created lazily and evicted after the
// inactivity TTL. Any access path may trigger the eviction sweep.
type Tracker struct {
	ttl         time.Duration
	historySize int
	clock       func() time.Time

	mu        sync.Mutex
	sessions  map[string]*Context
	lastSweep time.Time

	// sweepInterval bounds how often the lazy eviction pass runs.
	sweepInterval time.Duration
}

// NewTracker creates a session tracker with the given inactivity TTL and
// ring-buffer capacity.
func NewTracker(ttl time.Duration, historySize int) *Tracker {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if historySize <= 0 {
		historySize = 20
	}
	return &Tracker{
		ttl:           ttl,
		historySize:   historySize,
		clock:         time.Now,
		sessions:      make(map[string]*Context),
		sweepInterval: time.Minute,
	}
}

// SetClock overrides the time source, for tests.
func (t *Tracker) SetClock(clock func() time.Time) {
	t.clock = clock
}

// RecordIntents appends the classified intents to the session's history ring
// and refreshes activity. A missing session is created.
func (t *Tracker) RecordIntents(sessionID string, intents []string) {
	if sessionID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked()

	s := t.getOrCreateLocked(sessionID)
	for _, it := range intents {
		s.recentIntents.push(it)
	}
	s.LastActivity = t.clock()
}

// RecordSkillUse counts one use of a skill (an assistant behavior such as an
// intent family) for the session.
func (t *Tracker) RecordSkillUse(sessionID, skill string) {
	if sessionID == "" || skill == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked()

	s := t.getOrCreateLocked(sessionID)
	now := t.clock()
	s.skillUsageCount[skill]++
	s.skillLastUsed[skill] = now
	s.recentSkills.push(skill)
	s.LastActivity = now
}

// RecordOutcome nudges the session's preference for the model: up on
// success (more when the call was fast), down on failure. Scores stay
// clamped to [0,1]; failures also bump a counter that penalizes later
// preference queries.
func (t *Tracker) RecordOutcome(sessionID, modelID string, success bool, latencyMs float64) {
	if sessionID == "" || modelID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked()

	s := t.getOrCreateLocked(sessionID)
	score, ok := s.modelPreference[modelID]
	if !ok {
		score = neutralPreference
	}

	if success {
		score += successNudge
		if latencyMs > 0 && latencyMs < fastLatencyMs {
			score += fastBonus
		}
	} else {
		score -= failureNudge
		s.modelFailures[modelID]++
	}

	s.modelPreference[modelID] = clamp01(score)
	s.LastActivity = t.clock()
}

// PreferenceScore returns the session's preference for the model in [0,1]:
// the raw learned score minus a small penalty per recorded failure. Unknown
// sessions or models report the neutral 0.5.
func (t *Tracker) PreferenceScore(sessionID, modelID string) float64 {
	if sessionID == "" || modelID == "" {
		return neutralPreference
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked()

	s, ok := t.sessions[sessionID]
	if !ok {
		return neutralPreference
	}

	score, ok := s.modelPreference[modelID]
	if !ok {
		score = neutralPreference
	}

	penalty := float64(s.modelFailures[modelID]) * failurePenaltyStep
	if penalty > failurePenaltyCap {
		penalty = failurePenaltyCap
	}
	return clamp01(score - penalty)
}

// PriorityBoost returns a step function of the session's usage count for the
// skill: 0 for unused, rising to a cap for heavily used skills, so
// previously useful behaviors are mildly reinforced without runaway
// feedback.
func (t *Tracker) PriorityBoost(sessionID, skill string) float64 {
	if sessionID == "" || skill == "" {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked()

	s, ok := t.sessions[sessionID]
	if !ok {
		return 0
	}

	switch count := s.skillUsageCount[skill]; {
	case count <= 0:
		return 0
	case count <= 2:
		return 0.05
	case count <= 5:
		return 0.10
	case count <= 9:
		return 0.15
	default:
		return 0.20
	}
}

// RecentIntents returns the session's recent intent tags, oldest first.
func (t *Tracker) RecentIntents(sessionID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[sessionID]; ok {
		return s.recentIntents.values()
	}
	return nil
}

// ActiveSessions returns the number of live sessions.
func (t *Tracker) ActiveSessions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked()
	return len(t.sessions)
}

// Stats returns an introspection snapshot of the tracker.
func (t *Tracker) Stats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweepLocked()

	return map[string]interface{}{
		"active_sessions": len(t.sessions),
		"ttl":             t.ttl.String(),
		"history_size":    t.historySize,
	}
}

// Sweep evicts expired sessions immediately, regardless of the sweep
// interval. Exposed for operators and tests.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.evictLocked()
}

func (t *Tracker) getOrCreateLocked(sessionID string) *Context {
	s, ok := t.sessions[sessionID]
	if ok {
		return s
	}
	now := t.clock()
	s = &Context{
		CreatedAt:       now,
		LastActivity:    now,
		skillUsageCount: make(map[string]int),
		skillLastUsed:   make(map[string]time.Time),
		recentSkills:    newRing(t.historySize),
		recentIntents:   newRing(t.historySize),
		modelPreference: make(map[string]float64),
		modelFailures:   make(map[string]int),
	}
	t.sessions[sessionID] = s
	return s
}

// sweepLocked runs the lazy eviction pass at most once per sweep interval.
func (t *Tracker) sweepLocked() {
	now := t.clock()
	if now.Sub(t.lastSweep) < t.sweepInterval {
		return
	}
	t.lastSweep = now
	t.evictLocked()
}

func (t *Tracker) evictLocked() int {
	now := t.clock()
	evicted := 0
	for id, s := range t.sessions {
		if now.Sub(s.LastActivity) > t.ttl {
			delete(t.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		log.Debugf("evicted %d expired sessions", evicted)
	}
	return evicted
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
