// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package latency

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_FirstSampleSeedsExactly(t *testing.T) {
	tr := NewTracker(0.3)

	tr.Record("model-x", 1000)

	rec, ok := tr.Get("model-x")
	require.True(t, ok)
	assert.Equal(t, 1000.0, rec.EMALatencyMs)
	assert.Equal(t, int64(1), rec.RequestCount)
}

func TestTracker_EMAFoldsSubsequentSamples(t *testing.T) {
	tr := NewTracker(0.3)

	tr.Record("model-x", 1000)
	tr.Record("model-x", 500)

	rec, ok := tr.Get("model-x")
	require.True(t, ok)
	// 0.3*500 + 0.7*1000
	assert.InDelta(t, 850.0, rec.EMALatencyMs, 1e-9)
	assert.Equal(t, int64(2), rec.RequestCount)
}

func TestTracker_ScoreUnknownModelIsNeutral(t *testing.T) {
	tr := NewTracker(0.3)

	assert.Equal(t, 0.5, tr.Score("never-seen", 2000))
}

func TestTracker_ScoreScalesWithBaseline(t *testing.T) {
	tr := NewTracker(0.3)

	tr.Record("fast", 200)
	tr.Record("slow", 4000)

	assert.InDelta(t, 0.9, tr.Score("fast", 2000), 1e-9)
	assert.Equal(t, 0.0, tr.Score("slow", 2000), "slower than baseline floors at zero")
}

func TestTracker_ResetForgetsModel(t *testing.T) {
	tr := NewTracker(0.3)

	tr.Record("model-x", 1000)
	tr.Reset("model-x")

	_, ok := tr.Get("model-x")
	assert.False(t, ok)
	assert.Equal(t, 0.5, tr.Score("model-x", 2000))
}

func TestTracker_SnapshotIsCopy(t *testing.T) {
	tr := NewTracker(0.3)
	tr.Record("model-x", 1000)

	snap := tr.Snapshot()
	require.Contains(t, snap, "model-x")
	snap["model-x"] = Record{EMALatencyMs: 999999}

	rec, _ := tr.Get("model-x")
	assert.Equal(t, 1000.0, rec.EMALatencyMs)
}

func TestTracker_ConcurrentRecords(t *testing.T) {
	tr := NewTracker(0.5)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Record("model-x", 100)
			tr.Record("model-y", 200)
		}()
	}
	wg.Wait()

	x, ok := tr.Get("model-x")
	require.True(t, ok)
	assert.Equal(t, int64(50), x.RequestCount)
	// Identical samples keep the EMA fixed regardless of interleaving.
	assert.InDelta(t, 100.0, x.EMALatencyMs, 1e-9)

	y, ok := tr.Get("model-y")
	require.True(t, ok)
	assert.Equal(t, int64(50), y.RequestCount)
}
