// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sink distributes routing decisions to observers. The orchestrator
// publishes every decision exactly once; the bus fans them out asynchronously
// so a slow observer never blocks the request path.
package sink

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/modelmux/modelmux/internal/orchestrator"
)

// Subscription is a handle for a registered decision observer.
type Subscription struct {
	ID          string
	Callback    func(*orchestrator.RoutingDecision)
	Unsubscribe func()
}

// Bus is a buffered, asynchronous decision distributor. It implements
// orchestrator.DecisionSink. When the queue is full the decision is dropped
// with a warning rather than blocking the publisher.
type Bus struct {
	subscribers  []*Subscription
	mu           sync.RWMutex
	queue        chan *orchestrator.RoutingDecision
	done         chan struct{}
	shutdownOnce sync.Once
	shutdown     bool
}

// NewBus creates a bus and starts its dispatch goroutine.
func NewBus() *Bus {
	b := &Bus{
		queue: make(chan *orchestrator.RoutingDecision, 1000),
		done:  make(chan struct{}),
	}
	go b.processQueue()
	return b
}

// Subscribe registers a callback invoked for every published decision.
func (b *Bus) Subscribe(callback func(*orchestrator.RoutingDecision)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		ID:       fmt.Sprintf("%d", time.Now().UnixNano()),
		Callback: callback,
	}
	sub.Unsubscribe = func() {
		b.unsubscribe(sub)
	}
	b.subscribers = append(b.subscribers, sub)
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subscribers {
		if s.ID == sub.ID {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			break
		}
	}
}

// Publish queues a decision for asynchronous delivery. Implements
// orchestrator.DecisionSink.
func (b *Bus) Publish(decision *orchestrator.RoutingDecision) {
	if decision == nil {
		return
	}

	// The read lock is held across the send so Close cannot close the
	// queue between the shutdown check and the enqueue.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.shutdown {
		return
	}

	select {
	case b.queue <- decision:
	default:
		log.Warnf("Decision queue full, dropping decision %s", decision.RequestID)
	}
}

func (b *Bus) processQueue() {
	for decision := range b.queue {
		b.dispatch(decision)
	}
	close(b.done)
}

func (b *Bus) dispatch(decision *orchestrator.RoutingDecision) {
	b.mu.RLock()
	subs := make([]*Subscription, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, sub := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("Panic in decision subscriber %s: %v", sub.ID, r)
				}
			}()
			sub.Callback(decision)
		}()
	}
}

// Close stops the bus after draining queued decisions. Publish calls after
// Close are ignored.
func (b *Bus) Close() {
	b.shutdownOnce.Do(func() {
		b.mu.Lock()
		b.shutdown = true
		close(b.queue)
		b.mu.Unlock()

		<-b.done
	})
}
