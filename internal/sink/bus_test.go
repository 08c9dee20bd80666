// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sink

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelmux/modelmux/internal/orchestrator"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestBus_DeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var got atomic.Value
	bus.Subscribe(func(d *orchestrator.RoutingDecision) {
		got.Store(d.RequestID)
	})

	bus.Publish(&orchestrator.RoutingDecision{RequestID: "req-1"})

	waitFor(t, func() bool { return got.Load() != nil })
	assert.Equal(t, "req-1", got.Load())
}

func TestBus_FanOut(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var first, second atomic.Int32
	bus.Subscribe(func(*orchestrator.RoutingDecision) { first.Add(1) })
	bus.Subscribe(func(*orchestrator.RoutingDecision) { second.Add(1) })

	for i := 0; i < 3; i++ {
		bus.Publish(&orchestrator.RoutingDecision{RequestID: "req"})
	}

	waitFor(t, func() bool { return first.Load() == 3 && second.Load() == 3 })
}

func TestBus_PanickingSubscriberDoesNotStopOthers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var survived atomic.Bool
	bus.Subscribe(func(*orchestrator.RoutingDecision) { panic("bad subscriber") })
	bus.Subscribe(func(*orchestrator.RoutingDecision) { survived.Store(true) })

	bus.Publish(&orchestrator.RoutingDecision{RequestID: "req"})

	waitFor(t, func() bool { return survived.Load() })
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var calls atomic.Int32
	sub := bus.Subscribe(func(*orchestrator.RoutingDecision) { calls.Add(1) })

	bus.Publish(&orchestrator.RoutingDecision{RequestID: "first"})
	waitFor(t, func() bool { return calls.Load() == 1 })

	sub.Unsubscribe()
	bus.Publish(&orchestrator.RoutingDecision{RequestID: "second"})
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(1), calls.Load())
}

func TestBus_CloseDrainsThenIgnores(t *testing.T) {
	bus := NewBus()

	var calls atomic.Int32
	bus.Subscribe(func(*orchestrator.RoutingDecision) { calls.Add(1) })

	bus.Publish(&orchestrator.RoutingDecision{RequestID: "before"})
	bus.Close()

	require.Equal(t, int32(1), calls.Load(), "Close must drain queued decisions")

	// Publishing after Close is a no-op, not a panic.
	bus.Publish(&orchestrator.RoutingDecision{RequestID: "after"})
	assert.Equal(t, int32(1), calls.Load())
}

func TestBus_PublishDuringCloseNeverPanics(t *testing.T) {
	for i := 0; i < 50; i++ {
		bus := NewBus()

		var wg sync.WaitGroup
		start := make(chan struct{})
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for j := 0; j < 20; j++ {
					bus.Publish(&orchestrator.RoutingDecision{RequestID: "race"})
				}
			}()
		}

		close(start)
		bus.Close()
		wg.Wait()
	}
}

func TestBus_NilDecisionIgnored(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	bus.Subscribe(func(*orchestrator.RoutingDecision) {
		t.Error("nil decision must not be delivered")
	})
	bus.Publish(nil)
	time.Sleep(20 * time.Millisecond)
}
