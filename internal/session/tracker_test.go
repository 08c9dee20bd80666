// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

func TestTracker_UnknownSessionIsNeutral(t *testing.T) {
	tr := NewTracker(time.Hour, 20)

	assert.Equal(t, 0.5, tr.PreferenceScore("nobody", "model-x"))
	assert.Equal(t, 0.0, tr.PriorityBoost("nobody", "math"))
	assert.Nil(t, tr.RecentIntents("nobody"))
}

func TestTracker_SuccessNudgesPreferenceUp(t *testing.T) {
	tr := NewTracker(time.Hour, 20)

	tr.RecordOutcome("s1", "model-x", true, 5000)
	assert.InDelta(t, 0.60, tr.PreferenceScore("s1", "model-x"), 1e-9)

	// Fast successes earn the extra bonus.
	tr.RecordOutcome("s1", "model-y", true, 400)
	assert.InDelta(t, 0.65, tr.PreferenceScore("s1", "model-y"), 1e-9)
}

func TestTracker_FailureNudgesDownAndPenalizes(t *testing.T) {
	tr := NewTracker(time.Hour, 20)

	tr.RecordOutcome("s1", "model-x", false, 0)
	// 0.5 - 0.15 nudge, minus one 0.05 failure-penalty step at query time.
	assert.InDelta(t, 0.30, tr.PreferenceScore("s1", "model-x"), 1e-9)
}

func TestTracker_PreferenceStaysClamped(t *testing.T) {
	tr := NewTracker(time.Hour, 20)

	for i := 0; i < 30; i++ {
		tr.RecordOutcome("s1", "good", true, 100)
		tr.RecordOutcome("s1", "bad", false, 0)
	}

	assert.LessOrEqual(t, tr.PreferenceScore("s1", "good"), 1.0)
	assert.GreaterOrEqual(t, tr.PreferenceScore("s1", "bad"), 0.0)
	assert.Equal(t, 0.0, tr.PreferenceScore("s1", "bad"))
}

func TestTracker_PriorityBoostSteps(t *testing.T) {
	tr := NewTracker(time.Hour, 20)

	steps := []struct {
		uses int
		want float64
	}{
		{1, 0.05},
		{2, 0.05},
		{3, 0.10},
		{5, 0.10},
		{6, 0.15},
		{9, 0.15},
		{10, 0.20},
		{50, 0.20},
	}

	used := 0
	for _, step := range steps {
		for used < step.uses {
			tr.RecordSkillUse("s1", "math")
			used++
		}
		assert.Equal(t, step.want, tr.PriorityBoost("s1", "math"), "after %d uses", step.uses)
	}
}

func TestTracker_RecentIntentsBounded(t *testing.T) {
	tr := NewTracker(time.Hour, 3)

	tr.RecordIntents("s1", []string{"a", "b", "c", "d", "e"})

	assert.Equal(t, []string{"c", "d", "e"}, tr.RecentIntents("s1"))
}

func TestTracker_TTLEviction(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(time.Hour, 20)
	tr.SetClock(clock.Now)

	tr.RecordIntents("old", []string{"math"})
	clock.Advance(30 * time.Minute)
	tr.RecordIntents("fresh", []string{"creative"})
	require.Equal(t, 2, tr.ActiveSessions())

	clock.Advance(45 * time.Minute)
	evicted := tr.Sweep()

	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, tr.ActiveSessions())
	assert.Equal(t, 0.5, tr.PreferenceScore("old", "model-x"), "evicted session resets to neutral")
	assert.Equal(t, []string{"creative"}, tr.RecentIntents("fresh"))
}

func TestTracker_Stats(t *testing.T) {
	tr := NewTracker(2*time.Hour, 10)
	tr.RecordIntents("s1", []string{"math"})

	stats := tr.Stats()
	assert.Equal(t, 1, stats["active_sessions"])
	assert.Equal(t, "2h0m0s", stats["ttl"])
	assert.Equal(t, 10, stats["history_size"])
}

func TestTracker_ConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Hour, 20)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.RecordIntents("s1", []string{"math"})
			tr.RecordSkillUse("s1", "math")
			tr.RecordOutcome("s1", "model-x", true, 100)
			_ = tr.PreferenceScore("s1", "model-x")
			_ = tr.PriorityBoost("s1", "math")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, tr.ActiveSessions())
	assert.Equal(t, 0.20, tr.PriorityBoost("s1", "math"))
}
